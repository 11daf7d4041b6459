package format

import (
	"strings"
	"testing"

	"kvpush/internal/model"
)

func TestEscapeEveryReservedCharacter(t *testing.T) {
	t.Parallel()
	for _, r := range reserved {
		got := EscapeMarkdownV2(string(r))
		if got != `\`+string(r) {
			t.Fatalf("Escape(%q) = %q", r, got)
		}
	}
	if got := EscapeMarkdownV2("Hello"); got != "Hello" {
		t.Fatalf("plain text changed: %q", got)
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"A.B!",
		reserved,
		`already \escaped\.`,
		"复仇者联盟 (2012) - 4K [HDR] #1 + {x} | y = z ~ `q` > p",
	}
	for _, in := range inputs {
		if out := UnescapeMarkdownV2(EscapeMarkdownV2(in)); out != in {
			t.Fatalf("round trip %q -> %q", in, out)
		}
	}
}

func TestEscapedOutputHasNoBareReserved(t *testing.T) {
	t.Parallel()
	out := EscapeMarkdownV2("a_b*c[d]e(f)g.h!")
	for i := 0; i < len(out); i++ {
		if strings.ContainsRune(reserved, rune(out[i])) && (i == 0 || out[i-1] != '\\') {
			t.Fatalf("bare %q at %d in %q", out[i], i, out)
		}
	}
}

func TestRichMessage(t *testing.T) {
	t.Parallel()
	f := New("https://site.test/", Labels{}, false)
	msg := f.Rich(model.Candidate{ID: "1", Title: "A.B!", Rating: "8.1"})
	if msg.ParseMode != model.ParseModeMarkdownV2 {
		t.Fatalf("ParseMode = %q", msg.ParseMode)
	}
	for _, want := range []string{`*A\.B\!*`, `评分：8\.1`, "https://site.test/player?id=1&title=A.B%21", "🎬 *新片速递*"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("Rich text missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()
	f := New("https://site.test", Labels{}, true)
	it := model.Candidate{ID: "9"}
	rich := f.Rich(it)
	if !strings.Contains(rich.Text, "*未知影片*") || !strings.Contains(rich.Text, "暂无评分") {
		t.Fatalf("placeholders missing:\n%s", rich.Text)
	}
	plain := f.Plain(it)
	if plain.ParseMode != "" || !plain.DisablePreview {
		t.Fatalf("plain = %+v", plain)
	}
	if !strings.HasSuffix(plain.Text, "https://site.test/player?id=9&title=") {
		t.Fatalf("plain link:\n%s", plain.Text)
	}
}

func TestPlainKeepsRawTitle(t *testing.T) {
	t.Parallel()
	f := New("https://site.test", Labels{Headline: "New"}, false)
	msg := f.Plain(model.Candidate{ID: "3", Title: "A_B (x)", Rating: "7"})
	if strings.Contains(msg.Text, `\`) {
		t.Fatalf("plain text must not be escaped: %q", msg.Text)
	}
	if !strings.HasPrefix(msg.Text, "🎬 New\n\nA_B (x)\n") {
		t.Fatalf("plain text = %q", msg.Text)
	}
}

func TestLinkTargetEscaping(t *testing.T) {
	t.Parallel()
	f := New("https://site.test", Labels{}, false)
	msg := f.Rich(model.Candidate{ID: "1", Title: "x)y"})
	if !strings.Contains(msg.Text, "title=x%29y)") {
		t.Fatalf("link target:\n%s", msg.Text)
	}
}
