// Package telegram delivers messages to a channel through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"kvpush/internal/model"
	logx "kvpush/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   string // "@channel" or numeric id
	ThreadID int
	APIURL   string
	// Proxy routes Bot API traffic through a forward proxy (http/https/socks5 URL).
	Proxy   string
	Timeout time.Duration
}

// chat is a recipient addressed by username or numeric id.
type chat string

func (c chat) Recipient() string { return string(c) }

// Client is a send-only Bot API client.
type Client struct {
	cfg Config
	bot *tele.Bot
	to  chat
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	hc, err := httpClient(cfg)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    strings.TrimRight(cfg.APIURL, "/"),
		Token:  cfg.Token,
		Client: hc,
		// Send-only: skip getMe at startup and never poll.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		bot: b,
		to:  chat(strings.TrimSpace(cfg.ChatID)),
		log: log.With(logx.String("comp", "telegram")),
	}, nil
}

func httpClient(cfg Config) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	if p := strings.TrimSpace(cfg.Proxy); p != "" {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid telegram proxy %q", p)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

// Send delivers msg. API rejections and network failures come back as a
// failed result, never as an error.
func (c *Client) Send(ctx context.Context, msg model.Message) model.DeliveryResult {
	if err := ctx.Err(); err != nil {
		return model.DeliveryResult{Reason: err.Error()}
	}
	opt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(msg.ParseMode),
		DisableWebPagePreview: msg.DisablePreview,
		ThreadID:              c.cfg.ThreadID,
	}
	m, err := c.bot.Send(c.to, msg.Text, opt)
	if err != nil {
		res := classify(err)
		c.log.Debug("send rejected",
			logx.String("parse_mode", msg.ParseMode),
			logx.Bool("parse_rejected", res.ParseRejected),
			logx.String("reason", res.Reason),
		)
		return res
	}
	res := model.DeliveryResult{OK: true}
	if m != nil {
		res.MessageID = m.ID
	}
	return res
}

// classify maps a telebot error to a result. Only API rejections (as
// opposed to transport failures) can be parse rejections.
func classify(err error) model.DeliveryResult {
	reason := err.Error()
	var apiErr *tele.Error
	api := errors.As(err, &apiErr) || strings.HasPrefix(reason, "telegram:")
	return model.DeliveryResult{
		Reason:        reason,
		ParseRejected: api && strings.Contains(strings.ToLower(reason), "parse"),
	}
}
