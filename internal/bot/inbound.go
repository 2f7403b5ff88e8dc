package bot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound is one normalized message from the chat provider.
type Inbound struct {
	MessageID string
	From      string
	Text      string
	ButtonID  string
	Timestamp time.Time
}

// Input returns the effective user input: a tapped button id wins over typed
// text.
func (m Inbound) Input() string {
	if m.ButtonID != "" {
		return m.ButtonID
	}
	return strings.TrimSpace(m.Text)
}

// envelope mirrors the provider's webhook payload.
type envelope struct {
	Messages []struct {
		ID   string `json:"id"`
		From string `json:"from"`
		Type string `json:"type"`
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
		Interactive struct {
			ButtonReply struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"button_reply"`
		} `json:"interactive"`
		Timestamp int64 `json:"timestamp"`
	} `json:"messages"`
}

// parseEnvelope extracts the messages from a webhook body.
func parseEnvelope(body []byte) ([]Inbound, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	out := make([]Inbound, 0, len(env.Messages))
	for _, m := range env.Messages {
		if m.From == "" {
			continue
		}
		in := Inbound{
			MessageID: m.ID,
			From:      m.From,
			Text:      m.Text.Body,
			ButtonID:  m.Interactive.ButtonReply.ID,
		}
		if m.Timestamp > 0 {
			in.Timestamp = time.Unix(m.Timestamp, 0).UTC()
		}
		out = append(out, in)
	}
	return out, nil
}
