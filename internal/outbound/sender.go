// Package outbound delivers replies to the chat provider. A send failure is
// surfaced to the caller so metered work is only charged once delivery
// succeeded.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrSendFailed indicates the provider did not accept the message.
var ErrSendFailed = errors.New("outbound: send failed")

// Button is an interactive reply option attached to a message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is an outbound chat message.
type Message struct {
	To      string   `json:"to"`
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Sender delivers messages to users.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts messages to the chat provider's send endpoint.
type HTTPSender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPSender creates a sender for the provider at baseURL.
func NewHTTPSender(baseURL, token string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("%w: empty recipient", ErrSendFailed)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// NullSender records messages in memory. Used in tests and dry runs.
type NullSender struct {
	mu   sync.Mutex
	sent []Message

	// FailNext makes the next Send return ErrSendFailed.
	FailNext bool
}

func NewNullSender() *NullSender { return &NullSender{} }

func (s *NullSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext {
		s.FailNext = false
		return ErrSendFailed
	}
	s.sent = append(s.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (s *NullSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// Last returns the most recent message, if any.
func (s *NullSender) Last() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return Message{}, false
	}
	return s.sent[len(s.sent)-1], true
}
