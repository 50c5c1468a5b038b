// Package webhook posts run events as JSON to an HTTP endpoint
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/barsim/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Notify(ctx context.Context, ev notifier.Event) error {
	return w.post(ctx, payload(ev))
}

func (w *Webhook) NotifyBatch(ctx context.Context, evs []notifier.Event) error {
	if len(evs) == 0 {
		return nil
	}

	payloads := make([]map[string]any, len(evs))
	for i, ev := range evs {
		payloads[i] = payload(ev)
	}

	return w.post(ctx, map[string]any{
		"type":  "batch",
		"count": len(evs),
		"runs":  payloads,
	})
}

func payload(ev notifier.Event) map[string]any {
	p := map[string]any{
		"type":     "run",
		"run_id":   ev.RunID,
		"strategy": ev.Strategy,
		"symbol":   ev.Symbol,
		"interval": ev.Interval,
		"status":   ev.Status,
		"at":       ev.At.Format(time.RFC3339),
	}
	if ev.Report != nil {
		p["report"] = ev.Report
	}
	if ev.Failed() {
		p["code"] = ev.Code
		p["error"] = ev.Error
	}
	return p
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}
