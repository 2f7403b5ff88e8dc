// Package ai wraps the question-generation service behind a retrying HTTP
// client. Failures degrade to a deterministic fallback instead of leaving the
// student without content.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRateLimited indicates the upstream rejected the request with 429.
	ErrRateLimited = errors.New("ai: rate limited")
	// ErrTimeout indicates the per-attempt deadline elapsed.
	ErrTimeout = errors.New("ai: request timed out")
	// ErrMalformed indicates the upstream returned an unusable payload.
	ErrMalformed = errors.New("ai: malformed response")
	// ErrUnavailable indicates the upstream failed after all retries.
	ErrUnavailable = errors.New("ai: service unavailable")
)

// Request describes the content to generate.
type Request struct {
	Topic      string
	Difficulty string
	Prompt     string
}

// Result is a generated question. Degraded marks fallback content.
type Result struct {
	Text     string
	Answer   string
	Degraded bool
}

// FallbackFunc supplies deterministic content once retries are exhausted.
type FallbackFunc func(Request) (*Result, bool)

// Options configures the client. Zero values get defaults.
type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	AttemptTimeout time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Fallback       FallbackFunc
	Logger         *log.Logger
}

// Client talks to a chat-completions style generation endpoint.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *log.Logger
}

// NewClient creates a generation client.
func NewClient(opts Options) *Client {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 20 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 8 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.AttemptTimeout},
		opts:       opts,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate produces a question for the request. Retryable failures (timeouts,
// 429, 5xx) are retried with capped exponential backoff and jitter; once
// retries are exhausted the configured fallback is served with Degraded set.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.Printf("[ai] retrying generate topic=%s attempt=%d delay=%s err=%v",
				req.Topic, attempt+1, delay, lastErr)
			select {
			case <-ctx.Done():
				return c.degrade(req, ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := c.attempt(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			return c.degrade(req, err)
		}
	}
	return c.degrade(req, fmt.Errorf("%w: %v", ErrUnavailable, lastErr))
}

func (c *Client) attempt(ctx context.Context, req Request) (*Result, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Generate one %s question on %s. Reply with the question on the first line and the answer on the second.",
			req.Difficulty, req.Topic)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a tutoring question generator."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.opts.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformed, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrMalformed)
	}

	return parseCompletion(parsed.Choices[0].Message.Content), nil
}

// parseCompletion splits "question\nanswer" completions; single-line content
// becomes a question with no recorded answer.
func parseCompletion(content string) *Result {
	lines := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	result := &Result{Text: strings.TrimSpace(lines[0])}
	if len(lines) == 2 {
		result.Answer = strings.TrimSpace(lines[1])
	}
	return result
}

func (c *Client) degrade(req Request, cause error) (*Result, error) {
	if c.opts.Fallback != nil {
		if result, ok := c.opts.Fallback(req); ok {
			c.logger.Printf("[ai] serving fallback topic=%s cause=%v", req.Topic, cause)
			result.Degraded = true
			return result, nil
		}
	}
	return nil, cause
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.opts.BaseDelay << uint(attempt)
	if delay > c.opts.MaxDelay || delay <= 0 {
		delay = c.opts.MaxDelay
	}
	// +/- 20% jitter
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	if rand.Intn(2) == 0 {
		return delay - jitter
	}
	return delay + jitter
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, ErrMalformed) {
		return false
	}
	return isTimeout(err) || strings.Contains(err.Error(), "connection refused")
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
