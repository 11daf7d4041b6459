// Package format renders upstream items into Telegram messages.
package format

import (
	"net/url"
	"strings"

	"kvpush/internal/model"
)

// reserved lists every character MarkdownV2 requires escaping outside entities.
const reserved = "_*[]()~`>#+-=|{}.!"

var (
	escaper = func() *strings.Replacer {
		pairs := make([]string, 0, 2*(len(reserved)+1))
		pairs = append(pairs, `\`, `\\`)
		for _, r := range reserved {
			pairs = append(pairs, string(r), `\`+string(r))
		}
		return strings.NewReplacer(pairs...)
	}()
	unescaper = func() *strings.Replacer {
		pairs := make([]string, 0, 2*(len(reserved)+1))
		pairs = append(pairs, `\\`, `\`)
		for _, r := range reserved {
			pairs = append(pairs, `\`+string(r), string(r))
		}
		return strings.NewReplacer(pairs...)
	}()
	// Inside the (...) part of an inline link only ')' and '\' are special.
	linkEscaper = strings.NewReplacer(`\`, `\\`, `)`, `\)`)
)

// EscapeMarkdownV2 prefixes each reserved character (and the backslash
// itself) with a backslash.
func EscapeMarkdownV2(s string) string { return escaper.Replace(s) }

// UnescapeMarkdownV2 is the inverse of EscapeMarkdownV2.
func UnescapeMarkdownV2(s string) string { return unescaper.Replace(s) }

// Labels are the user-visible fixed strings of the template.
type Labels struct {
	Headline     string
	RatingLabel  string
	WatchLabel   string
	UnknownTitle string
	NoRating     string
}

// DefaultLabels are the site's own wording.
func DefaultLabels() Labels {
	return Labels{
		Headline:     "新片速递",
		RatingLabel:  "评分",
		WatchLabel:   "立即观看",
		UnknownTitle: "未知影片",
		NoRating:     "暂无评分",
	}
}

func (l Labels) withDefaults() Labels {
	d := DefaultLabels()
	if strings.TrimSpace(l.Headline) == "" {
		l.Headline = d.Headline
	}
	if strings.TrimSpace(l.RatingLabel) == "" {
		l.RatingLabel = d.RatingLabel
	}
	if strings.TrimSpace(l.WatchLabel) == "" {
		l.WatchLabel = d.WatchLabel
	}
	if strings.TrimSpace(l.UnknownTitle) == "" {
		l.UnknownTitle = d.UnknownTitle
	}
	if strings.TrimSpace(l.NoRating) == "" {
		l.NoRating = d.NoRating
	}
	return l
}

// Formatter builds the rich and plain variants of a notification.
type Formatter struct {
	siteURL        string
	labels         Labels
	disablePreview bool
}

func New(siteURL string, labels Labels, disablePreview bool) *Formatter {
	return &Formatter{
		siteURL:        strings.TrimRight(strings.TrimSpace(siteURL), "/"),
		labels:         labels.withDefaults(),
		disablePreview: disablePreview,
	}
}

// Link is the player deep link for an item. The title is query-encoded raw,
// before any markup escaping.
func (f *Formatter) Link(it model.Candidate) string {
	return f.siteURL + "/player?id=" + url.QueryEscape(it.ID) + "&title=" + url.QueryEscape(it.Title)
}

func (f *Formatter) title(it model.Candidate) string {
	if it.Title == "" {
		return f.labels.UnknownTitle
	}
	return it.Title
}

func (f *Formatter) rating(it model.Candidate) string {
	if it.Rating == "" {
		return f.labels.NoRating
	}
	return it.Rating
}

// Rich renders the MarkdownV2 variant.
func (f *Formatter) Rich(it model.Candidate) model.Message {
	var b strings.Builder
	b.WriteString("🎬 *")
	b.WriteString(EscapeMarkdownV2(f.labels.Headline))
	b.WriteString("*\n\n*")
	b.WriteString(EscapeMarkdownV2(f.title(it)))
	b.WriteString("*\n⭐️ ")
	b.WriteString(EscapeMarkdownV2(f.labels.RatingLabel))
	b.WriteString("：")
	b.WriteString(EscapeMarkdownV2(f.rating(it)))
	b.WriteString("\n\n👉 [")
	b.WriteString(EscapeMarkdownV2(f.labels.WatchLabel))
	b.WriteString("](")
	b.WriteString(linkEscaper.Replace(f.Link(it)))
	b.WriteString(")")
	return model.Message{Text: b.String(), ParseMode: model.ParseModeMarkdownV2, DisablePreview: f.disablePreview}
}

// Plain renders the fallback with no markup at all.
func (f *Formatter) Plain(it model.Candidate) model.Message {
	text := "🎬 " + f.labels.Headline + "\n\n" +
		f.title(it) + "\n" +
		"⭐️ " + f.labels.RatingLabel + "：" + f.rating(it) + "\n\n" +
		"👉 " + f.labels.WatchLabel + ": " + f.Link(it)
	return model.Message{Text: text, DisablePreview: f.disablePreview}
}
