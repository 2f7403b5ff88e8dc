package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func completionBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Millisecond
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 5 * time.Millisecond
	}
	return NewClient(opts)
}

func TestGenerateParsesCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		fmt.Fprint(w, completionBody("Solve 2x = 8\n4"))
	}, Options{APIKey: "test-key", Model: "tutor-1"})

	result, err := c.Generate(context.Background(), Request{Topic: "Algebra", Difficulty: "easy"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Text != "Solve 2x = 8" || result.Answer != "4" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Degraded {
		t.Fatalf("successful generation must not be degraded")
	}
}

func TestGenerateRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, completionBody("What is 7*8?\n56"))
	}, Options{MaxRetries: 3})

	result, err := c.Generate(context.Background(), Request{Topic: "Algebra"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if result.Text != "What is 7*8?" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestGenerateRateLimitedExhaustsToFallback(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, Options{
		MaxRetries: 2,
		Fallback: func(req Request) (*Result, bool) {
			return &Result{Text: "fallback for " + req.Topic, Answer: "n/a"}, true
		},
	})

	result, err := c.Generate(context.Background(), Request{Topic: "Calculus"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if !result.Degraded || result.Text != "fallback for Calculus" {
		t.Fatalf("expected degraded fallback, got %+v", result)
	}
}

func TestGenerateNoFallbackReturnsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, Options{MaxRetries: 1})

	_, err := c.Generate(context.Background(), Request{Topic: "Algebra"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGenerateMalformedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"choices":[]}`)
	}, Options{MaxRetries: 3})

	_, err := c.Generate(context.Background(), Request{Topic: "Algebra"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("malformed responses must not be retried, got %d attempts", calls.Load())
	}
}

func TestGenerateAttemptTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, completionBody("late"))
	}, Options{AttemptTimeout: 20 * time.Millisecond, MaxRetries: 0})

	_, err := c.Generate(context.Background(), Request{Topic: "Algebra"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
