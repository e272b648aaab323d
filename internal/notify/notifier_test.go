package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPNotifier_Success(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(2*time.Second, 0)
	err := n.Notify(context.Background(), srv.URL, Event{
		JobID:     "j1",
		Kind:      "song_wish",
		Type:      "song_ready",
		ReplyText: "enjoy",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got.JobID != "j1" || got.Type != "song_ready" {
		t.Fatalf("unexpected event delivered: %+v", got)
	}
	if got.ID == "" {
		t.Fatalf("expected an event id to be assigned")
	}
}

func TestHTTPNotifier_RetryThenSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(2*time.Second, 5)
	start := time.Now()
	err := n.Notify(context.Background(), srv.URL, Event{JobID: "j2"})
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if atomic.LoadInt32(&hits) < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", hits)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Fatalf("expected backoff delay to elapse, too fast: %s", time.Since(start))
	}
}

func TestHTTPNotifier_ExhaustRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(500*time.Millisecond, 2)
	if err := n.Notify(context.Background(), srv.URL, Event{JobID: "j3"}); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestHTTPNotifier_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(5*time.Second, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := n.Notify(ctx, srv.URL, Event{JobID: "j4"}); err == nil {
		t.Fatalf("expected context timeout error")
	}
}
