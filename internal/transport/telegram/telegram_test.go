package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"kvpush/internal/model"
	logx "kvpush/pkg/logx"
)

// fakeBotAPI records sendMessage calls and answers with reply(call).
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	reply func(params map[string]any) string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/bot123:abc/sendMessage" {
		http.NotFound(w, r)
		return
	}
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(f.reply(params)))
}

const okReply = `{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":-100,"type":"channel"}}}`

func newClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := New(Config{Token: "123:abc", ChatID: "@kvideo", APIURL: srv.URL + "/"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSendOK(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{reply: func(map[string]any) string { return okReply }}
	c := newClient(t, api)

	res := c.Send(context.Background(), model.Message{Text: "*hi*", ParseMode: model.ParseModeMarkdownV2})
	if !res.OK || res.MessageID != 42 {
		t.Fatalf("result = %+v", res)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d", len(api.calls))
	}
	got := api.calls[0]
	if got["chat_id"] != "@kvideo" || got["text"] != "*hi*" || got["parse_mode"] != "MarkdownV2" {
		t.Fatalf("params = %v", got)
	}
}

func TestSendParseRejected(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{reply: func(map[string]any) string {
		return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Character '.' is reserved"}`
	}}
	c := newClient(t, api)

	res := c.Send(context.Background(), model.Message{Text: "a.b", ParseMode: model.ParseModeMarkdownV2})
	if res.OK || !res.ParseRejected {
		t.Fatalf("result = %+v, want parse rejection", res)
	}
	if res.Reason == "" {
		t.Fatal("reason should carry the description")
	}
}

func TestSendOtherRejection(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{reply: func(map[string]any) string {
		return `{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member of the channel chat"}`
	}}
	c := newClient(t, api)

	res := c.Send(context.Background(), model.Message{Text: "x"})
	if res.OK || res.ParseRejected {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendNetworkFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Config{Token: "123:abc", ChatID: "-1001", APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := c.Send(context.Background(), model.Message{Text: "x", ParseMode: model.ParseModeMarkdownV2})
	if res.OK || res.ParseRejected || res.Reason == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendCancelledContext(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{reply: func(map[string]any) string { return okReply }}
	c := newClient(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := c.Send(ctx, model.Message{Text: "x"}); res.OK {
		t.Fatal("cancelled context should not send")
	}
	if len(api.calls) != 0 {
		t.Fatalf("calls = %d", len(api.calls))
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{ChatID: "@x"}, logx.Nop()); err == nil {
		t.Fatal("missing token should fail")
	}
	if _, err := New(Config{Token: "1:a"}, logx.Nop()); err == nil {
		t.Fatal("missing chat should fail")
	}
	if _, err := New(Config{Token: "1:a", ChatID: "@x", Proxy: "::bad"}, logx.Nop()); err == nil {
		t.Fatal("bad proxy should fail")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if r := classify(errors.New("telebot: Post \"x\": parse error in url")); r.ParseRejected {
		t.Fatal("transport errors are never parse rejections")
	}
	if r := classify(errors.New("telegram: Bad Request: can't parse entities (400)")); !r.ParseRejected {
		t.Fatal("API parse error should be flagged")
	}
}

func TestSendGoesThroughProxy(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{reply: func(map[string]any) string { return okReply }}
	var mu sync.Mutex
	var hosts []string
	px := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hosts = append(hosts, r.URL.Host)
		mu.Unlock()
		api.ServeHTTP(w, r)
	}))
	t.Cleanup(px.Close)

	c, err := New(Config{Token: "123:abc", ChatID: "@kvideo", APIURL: "http://api.telegram.invalid", Proxy: px.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := c.Send(context.Background(), model.Message{Text: "hi"})
	if !res.OK || res.MessageID != 42 {
		t.Fatalf("result = %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(hosts) != 1 || hosts[0] != "api.telegram.invalid" {
		t.Fatalf("proxy saw hosts %v, want the Bot API host", hosts)
	}
}
