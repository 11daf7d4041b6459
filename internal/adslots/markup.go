package adslots

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Inspection summarizes what a third-party snippet will load and run.
type Inspection struct {
	Scripts         int      `json:"scripts"`
	InlineScripts   int      `json:"inline_scripts"`
	Iframes         int      `json:"iframes"`
	Images          int      `json:"images"`
	ExternalSources []string `json:"external_sources,omitempty"`
}

// Inspect parses a snippet and lists its scripts, frames and remote hosts.
func Inspect(snippet string) (Inspection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return Inspection{}, err
	}
	var in Inspection
	seen := map[string]struct{}{}
	addSrc := func(src string) {
		u, err := url.Parse(strings.TrimSpace(src))
		if err != nil || u.Host == "" {
			return
		}
		if _, ok := seen[u.Host]; ok {
			return
		}
		seen[u.Host] = struct{}{}
		in.ExternalSources = append(in.ExternalSources, u.Host)
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		in.Scripts++
		if src, ok := s.Attr("src"); ok {
			addSrc(src)
		} else {
			in.InlineScripts++
		}
	})
	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		in.Iframes++
		if src, ok := s.Attr("src"); ok {
			addSrc(src)
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		in.Images++
		if src, ok := s.Attr("src"); ok {
			addSrc(src)
		}
	})
	return in, nil
}

// Mode is how a snippet is embedded into the page.
type Mode string

const (
	// ModeInline returns the snippet unchanged for direct insertion.
	ModeInline Mode = "inline"
	// ModeIframe wraps the snippet in a standalone document meant for a
	// sandboxed iframe (srcdoc or a dedicated URL).
	ModeIframe Mode = "iframe"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeInline:
		return ModeInline, nil
	case ModeIframe:
		return ModeIframe, nil
	default:
		return "", fmt.Errorf("unknown render mode %q", s)
	}
}

const iframeDoc = `<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<style>html,body{margin:0;padding:0;background:transparent;overflow:hidden}</style>
</head><body>%s</body></html>`

func Render(snippet string, mode Mode) (string, error) {
	switch mode {
	case ModeInline, "":
		return snippet, nil
	case ModeIframe:
		return fmt.Sprintf(iframeDoc, snippet), nil
	default:
		return "", fmt.Errorf("unknown render mode %q", mode)
	}
}
