// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package notifications sends operator alerts for monitor events.
//
// Alerts are delivered through a Slack Incoming Webhook. The webhook URL comes
// from the notifications.slack_webhook_url config key or SLACK_WEBHOOK_URL.
// With no URL configured every method is a no-op.
//
// Events:
//   - session recorded (good)
//   - archive unreachable, sessions spooling locally (danger)
//   - archive reachable again, spool replayed (good)
//   - device discovery failure (warning)
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/soothill/tachometer-monitor/pkg/slacknotifier"
	"github.com/soothill/tachometer-monitor/session"
)

// Sender delivers a formatted alert.
type Sender interface {
	SendAlert(ctx context.Context, severity, title, message string) error
	IsEnabled() bool
}

// Notifier formats monitor events as alerts.
type Notifier struct {
	sender     Sender
	webhook    *slacknotifier.Notifier
	notifyRuns bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSessionAlerts enables an alert for every recorded session. Off by
// default since sessions can be frequent.
func WithSessionAlerts(enabled bool) Option {
	return func(n *Notifier) {
		n.notifyRuns = enabled
	}
}

// New creates a Notifier posting to webhookURL.
func New(webhookURL string, opts ...Option) *Notifier {
	webhook := slacknotifier.New(webhookURL)
	n := &Notifier{sender: webhook, webhook: webhook}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewWithSender creates a Notifier over an arbitrary Sender.
func NewWithSender(s Sender, opts ...Option) *Notifier {
	n := &Notifier{sender: s}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsEnabled returns whether alerts are delivered.
func (n *Notifier) IsEnabled() bool {
	return n.sender.IsEnabled()
}

// UpdateWebhookURL swaps the webhook on reload. It has no effect on a
// Notifier built with NewWithSender.
func (n *Notifier) UpdateWebhookURL(url string) {
	if n.webhook != nil {
		n.webhook.UpdateWebhookURL(url)
	}
}

// SendArchiveFailure reports that the archive is unreachable.
func (n *Notifier) SendArchiveFailure(ctx context.Context, err error) error {
	return n.sender.SendAlert(ctx, "danger", "InfluxDB Archive Unreachable",
		fmt.Sprintf("Failed to archive session: %v\nSessions will be spooled locally until the archive recovers.", err))
}

// SendArchiveRecovery reports that the archive is reachable again.
func (n *Notifier) SendArchiveRecovery(ctx context.Context) error {
	return n.sender.SendAlert(ctx, "good", "InfluxDB Archive Restored",
		"Connection to InfluxDB has been restored. Spooled sessions have been replayed.")
}

// SendDiscoveryFailure reports an mDNS browse error.
func (n *Notifier) SendDiscoveryFailure(ctx context.Context, err error) error {
	return n.sender.SendAlert(ctx, "warning", "Device Discovery Failed",
		fmt.Sprintf("mDNS discovery of tachometers failed: %v", err))
}

// NotifySessionRecorded announces a closed session when session alerts
// are enabled.
func (n *Notifier) NotifySessionRecorded(ctx context.Context, deviceID string, s session.Session) error {
	if !n.notifyRuns {
		return nil
	}
	started := time.UnixMilli(s.StartTime).UTC().Format(time.RFC3339)
	return n.sender.SendAlert(ctx, "good", "Session Recorded: "+deviceID,
		fmt.Sprintf("Started %s, ran %ds\nAvg %d RPM, max %d RPM, min %d RPM over %d readings",
			started, s.Duration, s.AvgRPM, s.MaxRPM, s.MinRPM, len(s.Data)))
}
