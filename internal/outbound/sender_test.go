package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSenderPostsMessage(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("unexpected auth %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok", time.Second)
	msg := Message{To: "263771234567", Text: "hello", Buttons: []Button{{ID: "menu", Title: "Menu"}}}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.To != msg.To || got.Text != msg.Text || len(got.Buttons) != 1 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestHTTPSenderNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid recipient", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "", time.Second)
	err := s.Send(context.Background(), Message{To: "u1", Text: "hi"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestHTTPSenderEmptyRecipient(t *testing.T) {
	s := NewHTTPSender("http://localhost:0", "", time.Second)
	if err := s.Send(context.Background(), Message{Text: "hi"}); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestNullSenderRecordsAndFails(t *testing.T) {
	s := NewNullSender()
	if err := s.Send(context.Background(), Message{To: "u1", Text: "one"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	s.FailNext = true
	if err := s.Send(context.Background(), Message{To: "u1", Text: "two"}); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if err := s.Send(context.Background(), Message{To: "u1", Text: "three"}); err != nil {
		t.Fatalf("Send after FailNext: %v", err)
	}
	sent := s.Sent()
	if len(sent) != 2 || sent[1].Text != "three" {
		t.Fatalf("unexpected sent log %+v", sent)
	}
	last, ok := s.Last()
	if !ok || last.Text != "three" {
		t.Fatalf("unexpected last %+v ok=%v", last, ok)
	}
}
