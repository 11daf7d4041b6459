// Package model holds the value types passed between the pipeline stages.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseModeMarkdownV2 is Telegram's MarkdownV2 parse mode. An empty mode is plain text.
const ParseModeMarkdownV2 = "MarkdownV2"

// Candidate is one entry of the upstream recommend list.
type Candidate struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Rating string `json:"rate"`
	Cover  string `json:"cover,omitempty"`
	URL    string `json:"url,omitempty"`
}

// UnmarshalJSON accepts id and rate as either JSON strings or numbers.
func (c *Candidate) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    json.RawMessage `json:"id"`
		Title string          `json:"title"`
		Rate  json.RawMessage `json:"rate"`
		Cover string          `json:"cover"`
		URL   string          `json:"url"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	id, err := Scalar(raw.ID)
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	rate, err := Scalar(raw.Rate)
	if err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	*c = Candidate{
		ID:     id,
		Title:  strings.TrimSpace(raw.Title),
		Rating: rate,
		Cover:  raw.Cover,
		URL:    raw.URL,
	}
	return nil
}

// Scalar renders a JSON string or number as text. null or absent gives "".
func Scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("want string or number, got %s", raw)
		}
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
}

// Message is a rendered notification ready for delivery.
type Message struct {
	Text           string
	ParseMode      string
	DisablePreview bool
}

// DeliveryResult is the outcome of one send attempt.
type DeliveryResult struct {
	OK bool
	// Reason is the transport's description on failure.
	Reason string
	// ParseRejected is set when the transport refused the markup.
	ParseRejected bool
	MessageID     int
}
