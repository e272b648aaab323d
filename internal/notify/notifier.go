package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event is the user-facing notification emitted when a job reaches done.
type Event struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Type       string    `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	ReplyText  string    `json:"reply_text,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, url string, event Event) error
}

type httpNotifier struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

func NewHTTPNotifier(timeout time.Duration, maxRetries int) Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &httpNotifier{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: 500 * time.Millisecond,
	}
}

func (n *httpNotifier) Notify(ctx context.Context, url string, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	body, _ := json.Marshal(event)
	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		resp, err := n.client.Do(req)
		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			lastErr = errors.New(resp.Status)
		} else {
			lastErr = err
		}
		// exponential backoff with jitter
		backoff := n.baseBackoff * (1 << attempt)
		select {
		case <-time.After(backoff + time.Duration(int64(time.Millisecond)*int64(attempt*50))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
