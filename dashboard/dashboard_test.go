// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/session"
	"github.com/soothill/tachometer-monitor/storage"
	"github.com/soothill/tachometer-monitor/telemetry"
	"github.com/soothill/tachometer-monitor/view"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeController struct {
	mu       sync.Mutex
	missing  map[string]bool
	powerErr error
	block    chan struct{}
	entered  chan struct{}
	calls    []bool
}

func (f *fakeController) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[id], nil
}

func (f *fakeController) SetPower(_ context.Context, _ string, on bool) error {
	f.mu.Lock()
	block, entered, err := f.block, f.entered, f.powerErr
	f.calls = append(f.calls, on)
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return apperrors.NewDeviceError("set power", "", err)
	}
	return nil
}

func (f *fakeController) setPowerErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powerErr = err
}

type stubSummarizer struct {
	mu  sync.Mutex
	got []telemetry.Reading
}

func (s *stubSummarizer) Summarize(_ context.Context, readings []telemetry.Reading) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = readings
	return "summary"
}

type recordingSink struct {
	mu       sync.Mutex
	archived []string
	notified []string
	err      error
}

func (r *recordingSink) Archive(_ context.Context, _ string, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, s.ID)
	return r.err
}

func (r *recordingSink) NotifySessionRecorded(_ context.Context, _ string, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, s.ID)
	return r.err
}

type fixture struct {
	d     *Dashboard
	ctrl  *fakeController
	clock *fakeClock
	sink  *recordingSink
	sum   *stubSummarizer
	store *storage.SessionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	store := storage.NewSessionStore(kv)
	store.Load(context.Background())

	streamer := telemetry.NewStreamer(nil, time.Hour)
	t.Cleanup(streamer.Stop)

	f := &fixture{
		ctrl:  &fakeController{missing: map[string]bool{"GHOST": true}},
		clock: &fakeClock{t: time.UnixMilli(1_700_000_000_000)},
		sink:  &recordingSink{},
		sum:   &stubSummarizer{},
		store: store,
	}
	f.d = New(Deps{
		Controller: f.ctrl,
		Streamer:   streamer,
		Store:      store,
		Insights:   f.sum,
		Archive:    f.sink,
		Notifier:   f.sink,
	}, WithClock(f.clock.now))
	return f
}

// openDashboard navigates to the selector and selects id.
func (f *fixture) openDashboard(t *testing.T, id string) {
	t.Helper()
	_, err := f.d.Navigate(view.Enter)
	require.NoError(t, err)
	_, err = f.d.Navigate(view.GetStarted)
	require.NoError(t, err)
	require.NoError(t, f.d.SelectDevice(context.Background(), id))
}

func TestNavigate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, view.Splash, f.d.View())

	got, err := f.d.Navigate(view.Enter)
	require.NoError(t, err)
	assert.Equal(t, view.Landing, got)

	_, err = f.d.Navigate(view.GetStarted)
	require.NoError(t, err)

	_, err = f.d.Navigate(view.Open)
	assert.ErrorIs(t, err, view.ErrInvalidTransition)

	got, err = f.d.Navigate(view.Back)
	require.NoError(t, err)
	assert.Equal(t, view.Landing, got)
}

func TestSelectDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.d.SelectDevice(ctx, "TACH-001"), view.ErrInvalidTransition)

	_, _ = f.d.Navigate(view.Enter)
	_, _ = f.d.Navigate(view.GetStarted)

	assert.ErrorIs(t, f.d.SelectDevice(ctx, ""), apperrors.ErrDeviceNotFound)
	assert.ErrorIs(t, f.d.SelectDevice(ctx, "GHOST"), apperrors.ErrDeviceNotFound)
	assert.Equal(t, view.Selector, f.d.View())

	require.NoError(t, f.d.SelectDevice(ctx, "TACH-001"))
	snap := f.d.Live()
	assert.Equal(t, view.Dashboard, snap.View)
	assert.Equal(t, "TACH-001", snap.DeviceID)
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.False(t, snap.IsOn)
	assert.Empty(t, snap.Readings)
}

func TestTogglePower_NoDeviceSelected(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.d.TogglePower(context.Background(), true), apperrors.ErrNoDeviceSelected)
}

func TestTogglePower_OnConnectsAndFillsBuffer(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")

	require.NoError(t, f.d.TogglePower(context.Background(), true))

	snap := f.d.Live()
	assert.True(t, snap.IsOn)
	assert.Equal(t, StatusConnected, snap.Status, "backlog arrives synchronously")
	require.Len(t, snap.Readings, session.BufferCapacity)

	stats := session.ComputeStats(snap.Readings)
	assert.Equal(t, snap.Readings[len(snap.Readings)-1].RPM, snap.CurrentRPM)
	assert.Equal(t, stats.Avg, snap.AvgRPM)
	assert.Equal(t, stats.Max, snap.MaxRPM)
	assert.Equal(t, f.clock.now().UnixMilli(), snap.SessionStart)

	// Toggling to the current state is a no-op
	require.NoError(t, f.d.TogglePower(context.Background(), true))
	assert.Len(t, f.ctrl.calls, 1)
}

func TestTogglePower_OffRecordsSession(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	ctx := context.Background()

	require.NoError(t, f.d.TogglePower(ctx, true))
	buffered := f.d.Live().Readings
	f.clock.advance(6 * time.Second)
	require.NoError(t, f.d.TogglePower(ctx, false))

	snap := f.d.Live()
	assert.False(t, snap.IsOn)
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.Zero(t, snap.CurrentRPM)
	assert.Zero(t, snap.AvgRPM)
	assert.Zero(t, snap.MaxRPM)
	assert.Empty(t, snap.Readings)

	sessions := f.d.Sessions()
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, session.IDFor(1_700_000_000_000), s.ID)
	assert.Equal(t, int64(6), s.Duration)
	assert.Equal(t, buffered, s.Data)

	stats := session.ComputeStats(buffered)
	assert.Equal(t, stats.Avg, s.AvgRPM)
	assert.Equal(t, stats.Min, s.MinRPM)
	assert.Equal(t, stats.Max, s.MaxRPM)

	assert.Equal(t, []string{s.ID}, f.sink.archived)
	assert.Equal(t, []string{s.ID}, f.sink.notified)
}

func TestTogglePower_SideEffectFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("influx down")
	f.openDashboard(t, "TACH-001")

	require.NoError(t, f.d.TogglePower(context.Background(), true))
	require.NoError(t, f.d.TogglePower(context.Background(), false))
	assert.Len(t, f.d.Sessions(), 1)
}

func TestTogglePower_FailureShowsTransientError(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	f.ctrl.setPowerErr(errors.New("rejected"))

	err := f.d.TogglePower(context.Background(), true)
	require.Error(t, err)
	assert.True(t, apperrors.IsDeviceError(err))

	snap := f.d.Live()
	assert.False(t, snap.IsOn, "state unchanged after failure")
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.Equal(t, "Failed to toggle device power. Please try again.", snap.Error)

	f.clock.advance(4 * time.Second)
	assert.Equal(t, ToggleFailedMessage, f.d.Live().Error)

	f.clock.advance(time.Second)
	assert.Empty(t, f.d.Live().Error)
}

func TestTogglePower_FailureWhileOnKeepsStreaming(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	require.NoError(t, f.d.TogglePower(context.Background(), true))

	f.ctrl.setPowerErr(errors.New("rejected"))
	require.Error(t, f.d.TogglePower(context.Background(), false))

	snap := f.d.Live()
	assert.True(t, snap.IsOn)
	assert.Equal(t, StatusConnected, snap.Status)
	assert.Len(t, snap.Readings, session.BufferCapacity)
	assert.Empty(t, f.d.Sessions())
}

func TestTogglePower_RejectsConcurrentToggle(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")

	f.ctrl.mu.Lock()
	f.ctrl.block = make(chan struct{})
	f.ctrl.entered = make(chan struct{}, 1)
	f.ctrl.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.d.TogglePower(context.Background(), true) }()

	<-f.ctrl.entered
	assert.True(t, f.d.Live().Toggling)
	assert.ErrorIs(t, f.d.TogglePower(context.Background(), false), apperrors.ErrToggleInFlight)

	close(f.ctrl.block)
	require.NoError(t, <-done)
	assert.False(t, f.d.Live().Toggling)
	assert.True(t, f.d.Live().IsOn)
}

func TestChangeDevice_PowersOffAndReturnsToSelector(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	require.NoError(t, f.d.TogglePower(context.Background(), true))

	require.NoError(t, f.d.ChangeDevice(context.Background()))

	snap := f.d.Live()
	assert.Equal(t, view.Selector, snap.View)
	assert.Empty(t, snap.DeviceID)
	assert.False(t, snap.IsOn)
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.Len(t, f.d.Sessions(), 1, "powering off records the session")
}

func TestChangeDevice_PowerOffFailureStillTearsDown(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	require.NoError(t, f.d.TogglePower(context.Background(), true))
	f.ctrl.setPowerErr(errors.New("rejected"))

	require.NoError(t, f.d.ChangeDevice(context.Background()))

	snap := f.d.Live()
	assert.Equal(t, view.Selector, snap.View)
	assert.False(t, snap.IsOn)
	assert.Empty(t, snap.Readings)
	assert.Empty(t, snap.Error)
	assert.Empty(t, f.d.Sessions())
}

func TestChangeDevice_InvalidFromSelector(t *testing.T) {
	f := newFixture(t)
	_, _ = f.d.Navigate(view.Enter)
	_, _ = f.d.Navigate(view.GetStarted)
	assert.ErrorIs(t, f.d.ChangeDevice(context.Background()), view.ErrInvalidTransition)
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")

	var mu sync.Mutex
	var batches [][]telemetry.Reading
	var devices []string
	unregister := f.d.Watch(func(deviceID string, batch []telemetry.Reading) {
		mu.Lock()
		defer mu.Unlock()
		devices = append(devices, deviceID)
		batches = append(batches, batch)
	})

	require.NoError(t, f.d.TogglePower(context.Background(), true))
	mu.Lock()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], telemetry.BacklogSize)
	assert.Equal(t, "TACH-001", devices[0])
	mu.Unlock()

	unregister()
	unregister()
	require.NoError(t, f.d.TogglePower(context.Background(), false))
	require.NoError(t, f.d.TogglePower(context.Background(), true))

	mu.Lock()
	assert.Len(t, batches, 1, "no delivery after unregister")
	mu.Unlock()
}

func TestInsights_UsesCurrentBuffer(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")

	assert.Equal(t, "summary", f.d.Insights(context.Background()))
	assert.Empty(t, f.sum.got)

	require.NoError(t, f.d.TogglePower(context.Background(), true))
	f.d.Insights(context.Background())
	assert.Len(t, f.sum.got, session.BufferCapacity)
}

func TestCompare(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, f.d.TogglePower(ctx, true))
		f.clock.advance(3 * time.Second)
		require.NoError(t, f.d.TogglePower(ctx, false))
		f.clock.advance(time.Minute)
	}

	sessions := f.d.Sessions()
	require.Len(t, sessions, 2)
	assert.Greater(t, sessions[0].StartTime, sessions[1].StartTime)

	_, err := f.d.Compare([]string{sessions[0].ID})
	assert.ErrorIs(t, err, session.ErrNotEnoughSessions)

	series, err := f.d.Compare([]string{sessions[0].ID, sessions[1].ID})
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestShutdown_RecordsOpenSession(t *testing.T) {
	f := newFixture(t)
	f.openDashboard(t, "TACH-001")
	require.NoError(t, f.d.TogglePower(context.Background(), true))

	f.d.Shutdown(context.Background())

	assert.False(t, f.d.Live().IsOn)
	assert.Len(t, f.d.Sessions(), 1)

	// Idempotent
	f.d.Shutdown(context.Background())
	assert.Len(t, f.d.Sessions(), 1)
}
