// Package source reads the upstream "hot items" list.
//
// Fetch never returns an error: a failed or malformed read is logged and
// yields an empty list, which ends the run without touching state.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"kvpush/internal/model"
	logx "kvpush/pkg/logx"
)

const maxBody = 4 << 20

// Fetcher performs one GET against the recommend API.
type Fetcher struct {
	url       string
	limit     int
	userAgent string
	hc        *http.Client
	log       logx.Logger
}

type Options struct {
	URL       string
	Limit     int
	UserAgent string
	Timeout   time.Duration
	// Client overrides the default direct (proxy-less) client.
	Client *http.Client
}

func New(opt Options, log logx.Logger) *Fetcher {
	hc := opt.Client
	if hc == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		// The upstream is reached directly; proxy settings only apply to Telegram.
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = nil
		hc = &http.Client{Timeout: timeout, Transport: tr}
	}
	ua := opt.UserAgent
	if ua == "" {
		ua = "kvpush/1.0"
	}
	return &Fetcher{
		url:       opt.URL,
		limit:     opt.Limit,
		userAgent: ua,
		hc:        hc,
		log:       log.With(logx.String("comp", "source")),
	}
}

func (f *Fetcher) requestURL() string {
	if f.limit <= 0 {
		return f.url
	}
	u, err := url.Parse(f.url)
	if err != nil {
		return f.url
	}
	q := u.Query()
	if q.Get("limit") == "" {
		q.Set("limit", strconv.Itoa(f.limit))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Fetch returns the upstream items in upstream order, with empty and
// repeated ids removed.
func (f *Fetcher) Fetch(ctx context.Context) []model.Candidate {
	items, err := f.fetch(ctx)
	if err != nil {
		f.log.Warn("fetch hot items failed", logx.String("url", f.url), logx.Err(err))
		return nil
	}
	return items
}

func (f *Fetcher) fetch(ctx context.Context) ([]model.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, snippet(body, 100))
	}
	return decode(body)
}

// decode accepts {"subjects":[...]} or a bare [...].
func decode(body []byte) ([]model.Candidate, error) {
	body = bytes.TrimSpace(body)
	var list []model.Candidate
	switch {
	case len(body) > 0 && body[0] == '[':
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
	case len(body) > 0 && body[0] == '{':
		var env struct {
			Subjects *[]model.Candidate `json:"subjects"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Subjects == nil {
			return nil, fmt.Errorf("unexpected response shape: %s", snippet(body, 100))
		}
		list = *env.Subjects
	default:
		return nil, fmt.Errorf("unexpected response shape: %s", snippet(body, 100))
	}

	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, it := range list {
		if it.ID == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out, nil
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
