package adslots

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"kvpush/internal/storage"
	logx "kvpush/pkg/logx"
)

func TestInspect(t *testing.T) {
	t.Parallel()
	in, err := Inspect(`<div><script async src="https://pagead2.googlesyndication.com/pagead/js/adsbygoogle.js"></script>
<ins class="adsbygoogle"></ins><script>(adsbygoogle = window.adsbygoogle || []).push({});</script>
<iframe src="https://ads.example.com/frame"></iframe><img src="/local.png"><img src="https://ads.example.com/p.gif"></div>`)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if in.Scripts != 2 || in.InlineScripts != 1 || in.Iframes != 1 || in.Images != 2 {
		t.Fatalf("counts = %+v", in)
	}
	want := []string{"pagead2.googlesyndication.com", "ads.example.com"}
	if !reflect.DeepEqual(in.ExternalSources, want) {
		t.Fatalf("sources = %v, want %v", in.ExternalSources, want)
	}
}

func TestRenderModes(t *testing.T) {
	t.Parallel()
	snippet := `<b>ad</b>`
	if got, _ := Render(snippet, ModeInline); got != snippet {
		t.Fatalf("inline = %q", got)
	}
	got, err := Render(snippet, ModeIframe)
	if err != nil || !strings.Contains(got, "<body><b>ad</b></body>") || !strings.HasPrefix(got, "<!doctype html>") {
		t.Fatalf("iframe = %q err=%v", got, err)
	}
	if _, err := ParseMode("popup"); err == nil {
		t.Fatal("unknown mode should fail")
	}
	if m, _ := ParseMode(""); m != ModeInline {
		t.Fatalf("default mode = %q", m)
	}
}

func TestStoreSourceRoundTrip(t *testing.T) {
	t.Parallel()
	svc := NewService(NewStoreSource(storage.NewMemory(), ""), logx.Nop())
	ctx := context.Background()

	got, err := svc.Get(ctx)
	if err != nil || got != (Slots{}) {
		t.Fatalf("empty Get = %+v, %v", got, err)
	}
	report, err := svc.Update(ctx, Slots{Banner: `<script src="https://a.test/x.js"></script>`, PlayerTop: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if report["banner"].Scripts != 1 || len(report) != 2 {
		t.Fatalf("report = %+v", report)
	}
	html, err := svc.Render(ctx, "player-top", ModeInline)
	if err != nil || html != "<p>hi</p>" {
		t.Fatalf("Render = %q, %v", html, err)
	}
	if _, err := svc.Render(ctx, "sidebar", ModeInline); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("unknown slot err = %v", err)
	}
}

func TestEnvSourceIsReadOnly(t *testing.T) {
	t.Parallel()
	env := map[string]string{"NEXT_PUBLIC_AD_BANNER": "<i>b</i>"}
	svc := NewService(NewEnvSource(func(k string) string { return env[k] }), logx.Nop())
	got, _ := svc.Get(context.Background())
	if got.Banner != "<i>b</i>" || got.PlayerTop != "" {
		t.Fatalf("Get = %+v", got)
	}
	if !svc.ReadOnly() {
		t.Fatal("env source should be read-only")
	}
	if _, err := svc.Update(context.Background(), Slots{}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Update err = %v", err)
	}
}
