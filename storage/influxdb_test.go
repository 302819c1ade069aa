// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	calls  int
	points []*write.Point
}

func (f *fakeWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func newTestArchive(w pointWriter) *InfluxArchive {
	return &InfluxArchive{
		writer:  w,
		breaker: newBreaker("test", breakerFailureThreshold, time.Hour),
		org:     "org",
		bucket:  "bucket",
	}
}

func TestNewInfluxArchive_Unreachable(t *testing.T) {
	archive, err := NewInfluxArchive("http://127.0.0.1:1", "token", "org", "bucket")
	assert.Error(t, err)
	assert.Nil(t, archive)
}

func TestSessionPoints(t *testing.T) {
	s := testSession(1000)
	points := sessionPoints("TACH-001", s)

	require.Len(t, points, 1+len(s.Data))

	summary := points[0]
	assert.Equal(t, sessionMeasurement, summary.Name())
	assert.Equal(t, time.UnixMilli(1000), summary.Time())
	require.Len(t, summary.TagList(), 2)
	assert.Equal(t, "device_id", summary.TagList()[0].Key)
	assert.Equal(t, "TACH-001", summary.TagList()[0].Value)
	assert.Equal(t, "session_id", summary.TagList()[1].Key)
	assert.Equal(t, "session-1000", summary.TagList()[1].Value)

	for i, r := range s.Data {
		p := points[i+1]
		assert.Equal(t, rpmMeasurement, p.Name())
		assert.Equal(t, time.UnixMilli(r.Timestamp), p.Time())
		require.Len(t, p.FieldList(), 1)
		assert.Equal(t, "rpm", p.FieldList()[0].Key)
		assert.EqualValues(t, r.RPM, p.FieldList()[0].Value)
	}
}

func TestArchive_WritesPoints(t *testing.T) {
	w := &fakeWriter{}
	archive := newTestArchive(w)
	before := testutil.ToFloat64(metrics.ArchiveWrites)

	require.NoError(t, archive.Archive(context.Background(), "TACH-001", testSession(1000)))

	assert.Len(t, w.points, 3)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ArchiveWrites))
}

func TestArchive_Validation(t *testing.T) {
	archive := newTestArchive(&fakeWriter{})

	assert.Error(t, archive.Archive(context.Background(), "", testSession(1000)))

	s := testSession(1000)
	s.ID = ""
	assert.Error(t, archive.Archive(context.Background(), "TACH-001", s))
}

func TestArchive_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("connection refused")}
	archive := newTestArchive(w)
	ctx := context.Background()

	for i := 0; i < breakerFailureThreshold; i++ {
		err := archive.Archive(ctx, "TACH-001", testSession(1000))
		require.Error(t, err)
		assert.True(t, apperrors.IsStorageError(err))
		assert.False(t, errors.Is(err, apperrors.ErrCircuitBreakerOpen))
	}

	err := archive.Archive(ctx, "TACH-001", testSession(1000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrCircuitBreakerOpen))
	assert.Equal(t, breakerFailureThreshold, w.calls, "open breaker must not reach the writer")
}

func TestExecute_ResetsAfterTimeout(t *testing.T) {
	cb := newBreaker("reset", 1, 20*time.Millisecond)
	fail := errors.New("boom")

	assert.Equal(t, fail, execute(cb, func() error { return fail }))
	assert.Equal(t, apperrors.ErrCircuitBreakerOpen, execute(cb, func() error { return nil }))

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, execute(cb, func() error { return nil }))
}
