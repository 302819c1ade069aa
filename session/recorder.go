// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package session

import (
	"math"
	"time"

	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
	"github.com/soothill/tachometer-monitor/telemetry"
)

// minReadings is the smallest buffer that produces a session.
const minReadings = 2

// State is the recorder state.
type State int

const (
	// Idle means no session is open.
	Idle State = iota
	// Recording means a session is open since StartTime.
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Recorder tracks power transitions and summarizes the rolling buffer into a
// Session on power-off. It is not safe for concurrent use; the owner
// serializes access.
type Recorder struct {
	now       func() time.Time
	state     State
	startTime int64
	buffer    []telemetry.Reading
}

// NewRecorder creates an idle recorder. A nil clock uses time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now, state: Idle}
}

// State returns the current state.
func (r *Recorder) State() State {
	return r.state
}

// StartTime returns the start of the open session in ms, or 0 when idle.
func (r *Recorder) StartTime() int64 {
	if r.state != Recording {
		return 0
	}
	return r.startTime
}

// PowerOn opens a session starting now and clears the buffer. Calling it
// while recording restarts the session.
func (r *Recorder) PowerOn() {
	r.state = Recording
	r.startTime = r.now().UnixMilli()
	r.buffer = nil
	metrics.BufferSize.Set(0)

	logger.Debug().Int64("start_time", r.startTime).Msg("Session opened")
}

// Append adds a batch to the rolling buffer.
func (r *Recorder) Append(batch []telemetry.Reading) {
	r.buffer = AppendWindow(r.buffer, batch)
	metrics.BufferSize.Set(float64(len(r.buffer)))
}

// Buffer returns a copy of the rolling buffer.
func (r *Recorder) Buffer() []telemetry.Reading {
	out := make([]telemetry.Reading, len(r.buffer))
	copy(out, r.buffer)
	return out
}

// Reset empties the buffer without changing state.
func (r *Recorder) Reset() {
	r.buffer = nil
	metrics.BufferSize.Set(0)
}

// PowerOff closes the open session. It returns the summarized session and
// true when at least two readings were buffered; otherwise nothing is
// recorded. The buffer is cleared either way.
func (r *Recorder) PowerOff() (Session, bool) {
	defer r.Reset()

	if r.state != Recording {
		return Session{}, false
	}
	r.state = Idle

	if len(r.buffer) < minReadings {
		metrics.SessionsDiscarded.Inc()
		logger.Info().Int("readings", len(r.buffer)).Msg("Session discarded, not enough readings")
		return Session{}, false
	}

	end := r.now().UnixMilli()
	stats := ComputeStats(r.buffer)
	s := Session{
		ID:        IDFor(r.startTime),
		StartTime: r.startTime,
		Duration:  int64(math.Round(float64(end-r.startTime) / 1000)),
		AvgRPM:    stats.Avg,
		MaxRPM:    stats.Max,
		MinRPM:    stats.Min,
		Data:      r.Buffer(),
	}

	metrics.SessionsRecorded.Inc()
	metrics.SessionDuration.Observe(float64(s.Duration))
	logger.Info().
		Str("session_id", s.ID).
		Int64("duration_s", s.Duration).
		Int("avg_rpm", s.AvgRPM).
		Int("max_rpm", s.MaxRPM).
		Int("min_rpm", s.MinRPM).
		Int("readings", len(s.Data)).
		Msg("Session recorded")

	return s, true
}
