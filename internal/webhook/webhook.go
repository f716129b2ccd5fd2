// Package webhook posts session event envelopes to per-session HTTP targets.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/session"
)

const (
	requestTimeout = 15 * time.Second
	maxAttempts    = 3
	retryInterval  = 2 * time.Second
)

// payload is the wire shape delivered to webhook targets.
type payload struct {
	SessionID string                `json:"sessionId"`
	DataType  session.EventCategory `json:"dataType"`
	Data      any                   `json:"data"`
	Timestamp time.Time             `json:"timestamp"`
}

// Sink delivers envelopes over HTTP. It implements session.WebhookSink.
type Sink struct {
	client   *http.Client
	attempts int
	interval time.Duration
}

// NewSink returns a sink with a bounded per-request timeout.
func NewSink() *Sink {
	return &Sink{
		client:   &http.Client{Timeout: requestTimeout},
		attempts: maxAttempts,
		interval: retryInterval,
	}
}

// Deliver posts one envelope to targetURL, retrying transient failures a
// fixed number of times. The caller treats delivery as fire-and-forget.
func (s *Sink) Deliver(targetURL, sessionID string, category session.EventCategory, data any) error {
	body, err := json.Marshal(payload{
		SessionID: sessionID,
		DataType:  category,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.interval)
		}
		lastErr = s.post(targetURL, body)
		if lastErr == nil {
			return nil
		}
		logger.Debugf("session %s: webhook attempt %d/%d to %s failed: %v",
			sessionID, attempt, s.attempts, targetURL, lastErr)
	}
	return fmt.Errorf("webhook delivery to %s: %w", targetURL, lastErr)
}

func (s *Sink) post(targetURL string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
