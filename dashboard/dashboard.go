// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package dashboard coordinates a monitoring session for one tachometer.
//
// The Dashboard owns the view navigator, the selected device, the live
// stream subscription, the session recorder and the transient error message.
// HTTP handlers and the stream goroutine share its state under one mutex.
// Power toggles are serialized by a second, single-permit mutex; a toggle
// requested while another is running is rejected rather than queued.
//
// Lock ordering: the stream is never started or cancelled while the state
// mutex is held, because Subscription.Cancel waits for the delivering
// goroutine, which itself takes the state mutex.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soothill/tachometer-monitor/device"
	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
	"github.com/soothill/tachometer-monitor/session"
	"github.com/soothill/tachometer-monitor/storage"
	"github.com/soothill/tachometer-monitor/telemetry"
	"github.com/soothill/tachometer-monitor/view"
)

const (
	// ToggleFailedMessage is shown after a rejected power toggle.
	ToggleFailedMessage = "Failed to toggle device power. Please try again."

	// DefaultErrorTTL is how long the toggle failure message stays visible.
	DefaultErrorTTL = 5 * time.Second

	sideEffectTimeout = 10 * time.Second
)

// Status is the connection state of the live stream.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Summarizer produces the insight text for a set of readings.
type Summarizer interface {
	Summarize(ctx context.Context, readings []telemetry.Reading) string
}

// Archiver receives every recorded session.
type Archiver interface {
	Archive(ctx context.Context, deviceID string, s session.Session) error
}

// SessionNotifier announces recorded sessions.
type SessionNotifier interface {
	NotifySessionRecorded(ctx context.Context, deviceID string, s session.Session) error
}

// BatchListener observes every batch delivered for the selected device. It
// runs on the stream goroutine and must not call back into the Dashboard.
type BatchListener func(deviceID string, batch []telemetry.Reading)

// Deps are the collaborators of a Dashboard. Archive and Notifier are
// optional.
type Deps struct {
	Controller device.Controller
	Streamer   *telemetry.Streamer
	Store      *storage.SessionStore
	Insights   Summarizer
	Archive    Archiver
	Notifier   SessionNotifier
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithErrorTTL sets how long the toggle failure message stays visible.
func WithErrorTTL(ttl time.Duration) Option {
	return func(d *Dashboard) {
		if ttl > 0 {
			d.errorTTL = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) {
		if now != nil {
			d.now = now
		}
	}
}

// Snapshot is the live state shown on the dashboard. RPM aggregates are zero
// while the device is off or the buffer is empty.
type Snapshot struct {
	View         view.View           `json:"view"`
	DeviceID     string              `json:"deviceId"`
	Status       Status              `json:"status"`
	IsOn         bool                `json:"isOn"`
	Toggling     bool                `json:"toggling"`
	CurrentRPM   int                 `json:"currentRpm"`
	AvgRPM       int                 `json:"avgRpm"`
	MaxRPM       int                 `json:"maxRpm"`
	SessionStart int64               `json:"sessionStart,omitempty"`
	Readings     []telemetry.Reading `json:"readings"`
	Error        string              `json:"error,omitempty"`
}

// Dashboard is the monitoring controller.
type Dashboard struct {
	controller device.Controller
	streamer   *telemetry.Streamer
	store      *storage.SessionStore
	insights   Summarizer
	archive    Archiver
	notifier   SessionNotifier
	nav        *view.Navigator
	errorTTL   time.Duration
	now        func() time.Time

	toggleMu sync.Mutex
	toggling atomic.Bool

	mu        sync.Mutex
	deviceID  string
	isOn      bool
	status    Status
	recorder  *session.Recorder
	sub       *telemetry.Subscription
	streamGen uint64
	errMsg    string
	errUntil  time.Time
	listeners map[int]BatchListener
	nextID    int
}

// New creates a Dashboard on the Splash view.
func New(deps Deps, opts ...Option) *Dashboard {
	d := &Dashboard{
		controller: deps.Controller,
		streamer:   deps.Streamer,
		store:      deps.Store,
		insights:   deps.Insights,
		archive:    deps.Archive,
		notifier:   deps.Notifier,
		nav:        view.NewNavigator(),
		errorTTL:   DefaultErrorTTL,
		now:        time.Now,
		status:     StatusDisconnected,
		listeners:  make(map[int]BatchListener),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.recorder = session.NewRecorder(d.now)
	return d
}

// View returns the current view.
func (d *Dashboard) View() view.View {
	return d.nav.Current()
}

// Navigate applies a navigation-only action (enter, start, back). Opening
// and leaving the dashboard go through SelectDevice and ChangeDevice.
func (d *Dashboard) Navigate(a view.Action) (view.View, error) {
	if a == view.Open || a == view.ChangeDevice {
		return d.nav.Current(), fmt.Errorf("%w: %q requires a device operation", view.ErrInvalidTransition, a)
	}
	return d.nav.Apply(a)
}

// SelectDevice checks that id exists and opens its dashboard with fresh
// live state.
func (d *Dashboard) SelectDevice(ctx context.Context, id string) error {
	if current := d.nav.Current(); current != view.Selector {
		return fmt.Errorf("%w: cannot select a device from %s", view.ErrInvalidTransition, current)
	}
	if id == "" {
		return apperrors.ErrDeviceNotFound
	}

	exists, err := d.controller.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", apperrors.ErrDeviceNotFound, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.nav.Apply(view.Open); err != nil {
		return err
	}
	d.deviceID = id
	d.isOn = false
	d.status = StatusDisconnected
	d.recorder.Reset()
	d.clearErrorLocked()

	logger.Info().Str("device_id", id).Msg("Device selected")
	return nil
}

// TogglePower switches the selected device on or off. It returns
// ErrToggleInFlight while another toggle runs. A rejected request sets the
// transient error message and leaves the state unchanged.
func (d *Dashboard) TogglePower(ctx context.Context, on bool) error {
	if !d.toggleMu.TryLock() {
		metrics.PowerToggles.WithLabelValues("rejected").Inc()
		return apperrors.ErrToggleInFlight
	}
	defer d.toggleMu.Unlock()

	d.toggling.Store(true)
	defer d.toggling.Store(false)

	return d.setPower(ctx, on)
}

// setPower runs one toggle. Caller holds toggleMu.
func (d *Dashboard) setPower(ctx context.Context, on bool) error {
	d.mu.Lock()
	id := d.deviceID
	current := d.isOn
	d.clearErrorLocked()
	d.mu.Unlock()

	if id == "" {
		return apperrors.ErrNoDeviceSelected
	}
	if current == on {
		return nil
	}

	if err := d.controller.SetPower(ctx, id, on); err != nil {
		metrics.PowerToggles.WithLabelValues("failure").Inc()
		logger.Error().Err(err).Str("device_id", id).Bool("on", on).Msg("Failed to set device power state")

		d.mu.Lock()
		d.errMsg = ToggleFailedMessage
		d.errUntil = d.now().Add(d.errorTTL)
		d.mu.Unlock()
		return err
	}
	metrics.PowerToggles.WithLabelValues("success").Inc()

	if on {
		d.powerOn(id)
		return nil
	}

	if s, ok := d.powerOff(); ok {
		d.recordSession(ctx, id, s)
	}
	return nil
}

func (d *Dashboard) powerOn(id string) {
	d.mu.Lock()
	d.isOn = true
	d.status = StatusConnecting
	d.recorder.PowerOn()
	d.streamGen++
	gen := d.streamGen
	d.mu.Unlock()

	sub := d.streamer.Start(id, func(batch []telemetry.Reading) {
		d.onBatch(gen, batch)
	})

	d.mu.Lock()
	if d.streamGen == gen {
		d.sub = sub
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	// Superseded while starting
	sub.Cancel()
}

// powerOff stops the stream and closes the recorder.
func (d *Dashboard) powerOff() (session.Session, bool) {
	d.mu.Lock()
	sub := d.detachStreamLocked()
	d.isOn = false
	d.status = StatusDisconnected
	d.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recorder.PowerOff()
}

// detachStreamLocked invalidates the current stream and returns its
// subscription for cancellation outside the lock. Caller holds mu.
func (d *Dashboard) detachStreamLocked() *telemetry.Subscription {
	sub := d.sub
	d.sub = nil
	d.streamGen++
	return sub
}

func (d *Dashboard) onBatch(gen uint64, batch []telemetry.Reading) {
	d.mu.Lock()
	if gen != d.streamGen || !d.isOn {
		d.mu.Unlock()
		return
	}
	if d.status != StatusConnected {
		d.status = StatusConnected
	}
	d.recorder.Append(batch)
	if len(batch) > 0 {
		metrics.CurrentRPM.WithLabelValues(d.deviceID).Set(float64(batch[len(batch)-1].RPM))
	}
	id := d.deviceID
	listeners := make([]BatchListener, 0, len(d.listeners))
	for _, l := range d.listeners {
		listeners = append(listeners, l)
	}
	d.mu.Unlock()

	for _, l := range listeners {
		l(id, batch)
	}
}

// recordSession persists, archives and announces a closed session. Archive
// and notification failures are logged only.
func (d *Dashboard) recordSession(ctx context.Context, deviceID string, s session.Session) {
	d.store.Add(ctx, s)

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if d.archive != nil {
		if err := d.archive.Archive(sideCtx, deviceID, s); err != nil {
			logger.Error().Err(err).Str("session_id", s.ID).Msg("Failed to archive session")
		}
	}
	if d.notifier != nil {
		if err := d.notifier.NotifySessionRecorded(sideCtx, deviceID, s); err != nil {
			logger.Error().Err(err).Str("session_id", s.ID).Msg("Failed to send session notification")
		}
	}
}

// ChangeDevice powers the device off if needed, clears the selection and
// returns to the selector. It waits for an in-flight toggle instead of
// rejecting. If the device refuses to power off, the stream is still torn
// down and the open session is dropped.
func (d *Dashboard) ChangeDevice(ctx context.Context) error {
	if current := d.nav.Current(); current != view.Dashboard {
		return fmt.Errorf("%w: cannot change device from %s", view.ErrInvalidTransition, current)
	}

	d.toggleMu.Lock()
	defer d.toggleMu.Unlock()

	d.mu.Lock()
	on := d.isOn
	d.mu.Unlock()

	if on {
		if err := d.setPower(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("Power off failed while changing device, dropping open session")
		}
	}

	d.mu.Lock()
	sub := d.detachStreamLocked()
	d.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deviceID != "" {
		metrics.CurrentRPM.DeleteLabelValues(d.deviceID)
	}
	d.deviceID = ""
	d.isOn = false
	d.status = StatusDisconnected
	d.recorder = session.NewRecorder(d.now)
	d.clearErrorLocked()

	_, err := d.nav.Apply(view.ChangeDevice)
	return err
}

// Live returns the current dashboard state.
func (d *Dashboard) Live() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		View:         d.nav.Current(),
		DeviceID:     d.deviceID,
		Status:       d.status,
		IsOn:         d.isOn,
		Toggling:     d.toggling.Load(),
		SessionStart: d.recorder.StartTime(),
		Readings:     d.recorder.Buffer(),
		Error:        d.errorLocked(),
	}

	if d.isOn && len(snap.Readings) > 0 {
		stats := session.ComputeStats(snap.Readings)
		snap.CurrentRPM = snap.Readings[len(snap.Readings)-1].RPM
		snap.AvgRPM = stats.Avg
		snap.MaxRPM = stats.Max
	}
	return snap
}

// Insights summarizes the current buffer.
func (d *Dashboard) Insights(ctx context.Context) string {
	d.mu.Lock()
	readings := d.recorder.Buffer()
	d.mu.Unlock()

	return d.insights.Summarize(ctx, readings)
}

// Sessions returns the recorded sessions, most recent first.
func (d *Dashboard) Sessions() []session.Session {
	return d.store.Sessions()
}

// Compare returns time-aligned series for the sessions named by ids.
func (d *Dashboard) Compare(ids []string) ([]session.Series, error) {
	return session.Compare(d.store.Sessions(), ids)
}

// Watch registers l for every delivered batch and returns a function that
// unregisters it.
func (d *Dashboard) Watch(l BatchListener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.listeners, id)
		})
	}
}

// Shutdown powers the device off so the open session is recorded, then
// stops any remaining stream.
func (d *Dashboard) Shutdown(ctx context.Context) {
	d.toggleMu.Lock()
	defer d.toggleMu.Unlock()

	d.mu.Lock()
	on := d.isOn
	d.mu.Unlock()

	if on {
		if err := d.setPower(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("Failed to power off device during shutdown")
		}
	}

	d.mu.Lock()
	sub := d.detachStreamLocked()
	d.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// errorLocked returns the transient message while it is still visible.
// Caller holds mu.
func (d *Dashboard) errorLocked() string {
	if d.errMsg == "" {
		return ""
	}
	if !d.now().Before(d.errUntil) {
		d.clearErrorLocked()
		return ""
	}
	return d.errMsg
}

func (d *Dashboard) clearErrorLocked() {
	d.errMsg = ""
	d.errUntil = time.Time{}
}
