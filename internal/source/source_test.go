package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	logx "kvpush/pkg/logx"
)

func serve(t *testing.T, status int, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		ids    []string
	}{
		{name: "envelope", status: 200, body: `{"subjects":[{"id":"1","title":"A","rate":"8.1"},{"id":2,"title":"B","rate":7}]}`, ids: []string{"1", "2"}},
		{name: "bare list", status: 200, body: `[{"id":"3","title":"C"}]`, ids: []string{"3"}},
		{name: "empty id and dup dropped", status: 200, body: `[{"id":"","title":"X"},{"id":"4"},{"id":4}]`, ids: []string{"4"}},
		{name: "bad status", status: 502, body: `bad gateway`},
		{name: "wrong shape", status: 200, body: `{"items":[]}`},
		{name: "not json", status: 200, body: `<html>`},
		{name: "scalar", status: 200, body: `42`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, tt.status, tt.body, nil)
			f := New(Options{URL: srv.URL}, logx.Nop())
			got := f.Fetch(context.Background())
			if len(got) != len(tt.ids) {
				t.Fatalf("Fetch = %+v, want ids %v", got, tt.ids)
			}
			for i, id := range tt.ids {
				if got[i].ID != id {
					t.Fatalf("item %d id = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestFetchSendsHeadersAndLimit(t *testing.T) {
	t.Parallel()
	var ua, limit, typ string
	srv := serve(t, 200, `[]`, func(r *http.Request) {
		ua = r.Header.Get("User-Agent")
		limit = r.URL.Query().Get("limit")
		typ = r.URL.Query().Get("type")
	})
	f := New(Options{URL: srv.URL + "/api/douban/recommend?type=movie", Limit: 5, UserAgent: "KVideo-Worker-Bot/1.0"}, logx.Nop())
	if got := f.Fetch(context.Background()); len(got) != 0 {
		t.Fatalf("Fetch = %v", got)
	}
	if ua != "KVideo-Worker-Bot/1.0" || limit != "5" || typ != "movie" {
		t.Fatalf("ua=%q limit=%q type=%q", ua, limit, typ)
	}
}

func TestExplicitLimitWins(t *testing.T) {
	t.Parallel()
	f := New(Options{URL: "https://x.test/r?limit=10", Limit: 3}, logx.Nop())
	if got := f.requestURL(); got != "https://x.test/r?limit=10" {
		t.Fatalf("requestURL = %s", got)
	}
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()
	srv := serve(t, 200, `[]`, nil)
	srv.Close()
	f := New(Options{URL: srv.URL}, logx.Nop())
	if got := f.Fetch(context.Background()); got != nil {
		t.Fatalf("Fetch = %v, want nil", got)
	}
}

// Not parallel: t.Setenv.
func TestFetchIgnoresEnvProxy(t *testing.T) {
	var proxied atomic.Int32
	px := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		http.Error(w, "upstream must not be proxied", http.StatusBadGateway)
	}))
	t.Cleanup(px.Close)
	t.Setenv("HTTP_PROXY", px.URL)
	t.Setenv("HTTPS_PROXY", px.URL)
	t.Setenv("NO_PROXY", "")

	srv := serve(t, 200, `[{"id":"7","title":"Direct"}]`, nil)
	f := New(Options{URL: srv.URL}, logx.Nop())

	// ProxyFromEnvironment skips loopback hosts, so also check the transport itself.
	tr, ok := f.hc.Transport.(*http.Transport)
	if !ok || tr.Proxy != nil {
		t.Fatalf("fetch transport must not use a proxy: %#v", f.hc.Transport)
	}
	got := f.Fetch(context.Background())
	if len(got) != 1 || got[0].ID != "7" {
		t.Fatalf("Fetch = %+v", got)
	}
	if n := proxied.Load(); n != 0 {
		t.Fatalf("proxy received %d requests", n)
	}
}
