package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers operational alerts to a human.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Webhook posts messages to a Discord-compatible webhook.
type Webhook struct {
	url      string
	username string
	http     *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:      url,
		username: "banano-forager",
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{
		"username": w.username,
		"content":  message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Nop drops every message.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// New returns a Webhook for url, or Nop when url is empty.
func New(url string) Notifier {
	if url == "" {
		return Nop{}
	}
	return NewWebhook(url)
}
