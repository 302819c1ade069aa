// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
)

const (
	// BacklogSize is the number of readings replayed when a stream starts
	// (the last 60 seconds at 4 readings per second).
	BacklogSize = 240
	// BacklogSpacing is the time between replayed readings.
	BacklogSpacing = 250 * time.Millisecond
	// DefaultInterval is the cadence of live readings.
	DefaultInterval = 500 * time.Millisecond
)

// BatchFunc receives readings in chronological order.
type BatchFunc func(batch []Reading)

// Streamer emits a replayed backlog followed by live readings. At most one
// subscription is alive per Streamer, modeling a single device connection.
type Streamer struct {
	generator *Generator
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	active *Subscription
}

// NewStreamer creates a streamer. A nil generator uses the default noise
// source; a non-positive interval uses DefaultInterval.
func NewStreamer(generator *Generator, interval time.Duration) *Streamer {
	if generator == nil {
		generator = defaultGenerator
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Streamer{
		generator: generator,
		interval:  interval,
		now:       time.Now,
	}
}

// Subscription is a cancellable live feed for one device.
type Subscription struct {
	deviceID string
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Start cancels any active subscription, delivers the backlog synchronously
// and then one reading per interval until the subscription is cancelled.
func (s *Streamer) Start(deviceID string, onBatch BatchFunc) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Cancel()
		s.active = nil
	}

	logger.Info().Str("device_id", deviceID).Msg("Starting data stream")

	now := s.now()
	backlog := make([]Reading, 0, BacklogSize)
	for i := BacklogSize; i > 0; i-- {
		ts := now.Add(-time.Duration(i) * BacklogSpacing)
		backlog = append(backlog, s.generator.Generate(ts.UnixMilli()))
	}
	metrics.ReadingsGenerated.Add(float64(len(backlog)))
	onBatch(backlog)

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		deviceID: deviceID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.active = sub
	metrics.ActiveSubscriptions.Inc()

	go s.run(ctx, sub, onBatch)
	return sub
}

// run emits live readings until ctx is cancelled.
func (s *Streamer) run(ctx context.Context, sub *Subscription, onBatch BatchFunc) {
	defer close(sub.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick and a cancel can be ready together
			if ctx.Err() != nil {
				return
			}
			reading := s.generator.Generate(s.now().UnixMilli())
			metrics.ReadingsGenerated.Inc()
			onBatch([]Reading{reading})
		}
	}
}

// Stop cancels the active subscription, if any.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Cancel()
		s.active = nil
	}
}

// Cancel stops the feed and waits for the delivering goroutine to exit, so no
// batch is delivered after it returns. Safe to call more than once; must not
// be called from inside the batch callback.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
		metrics.ActiveSubscriptions.Dec()
		logger.Info().Str("device_id", sub.deviceID).Msg("Stopped data stream")
	})
}

// Done is closed once the subscription has stopped delivering.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// DeviceID returns the device the subscription streams for.
func (sub *Subscription) DeviceID() string {
	return sub.deviceID
}
