// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package slacknotifier is a small client for Slack Incoming Webhooks.
//
// It sends plain text messages and colour-coded attachments. A notifier with
// an empty webhook URL is disabled and every send is a no-op, so callers do
// not need to check IsEnabled before sending.
//
//	n := slacknotifier.New(webhookURL, slacknotifier.WithFooter("Tachometer Monitor"))
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	if err := n.SendAlert(ctx, "warning", "Archive offline", "spooling sessions"); err != nil {
//	    logger.Error().Err(err).Msg("Failed to send alert")
//	}
package slacknotifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// DefaultFooter is attached to every alert unless overridden.
const DefaultFooter = "Tachometer Monitor"

const defaultHTTPTimeout = 10 * time.Second

// Notifier sends notifications to Slack via webhook
type Notifier struct {
	mu         sync.RWMutex
	webhookURL string
	client     *http.Client
	footer     string
	now        func() time.Time
}

// Message represents a Slack webhook message payload
type Message struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack attachment
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithFooter sets the attachment footer.
func WithFooter(footer string) Option {
	return func(n *Notifier) {
		n.footer = footer
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		n.client = c
	}
}

// New creates a new Slack notifier
func New(webhookURL string, opts ...Option) *Notifier {
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultHTTPTimeout},
		footer:     DefaultFooter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsEnabled returns whether Slack notifications are enabled
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.webhookURL != ""
}

// UpdateWebhookURL swaps the webhook. An empty URL disables the notifier.
func (n *Notifier) UpdateWebhookURL(webhookURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhookURL = webhookURL
}

// SendMessage sends a simple text message to Slack
func (n *Notifier) SendMessage(ctx context.Context, message string) error {
	return n.send(ctx, Message{Text: message})
}

// SendAlert sends a colour-coded attachment. severity is one of
// danger/error, warning/warn, good/success; anything else renders grey.
func (n *Notifier) SendAlert(ctx context.Context, severity, title, message string) error {
	return n.send(ctx, Message{
		Attachments: []Attachment{{
			Color:  severityToColor(severity),
			Title:  title,
			Text:   message,
			Footer: n.footer,
			Ts:     n.now().Unix(),
		}},
	})
}

func (n *Notifier) send(ctx context.Context, payload Message) error {
	n.mu.RLock()
	url := n.webhookURL
	n.mu.RUnlock()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
