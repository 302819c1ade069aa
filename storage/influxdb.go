// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
	"github.com/soothill/tachometer-monitor/session"
	"github.com/soothill/tachometer-monitor/telemetry"
)

const (
	sessionMeasurement = "tachometer_session"
	rpmMeasurement     = "tachometer_rpm"
	influxTimeout      = 5 * time.Second
)

// pointWriter is the subset of the blocking write API the archive needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxArchive writes closed sessions to InfluxDB.
type InfluxArchive struct {
	client  influxdb2.Client
	writer  pointWriter
	breaker *gobreaker.CircuitBreaker
	org     string
	bucket  string
}

// NewInfluxArchive connects to InfluxDB and verifies its health.
func NewInfluxArchive(url, token, org, bucket string) (*InfluxArchive, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), influxTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	return &InfluxArchive{
		client:  client,
		writer:  client.WriteAPIBlocking(org, bucket),
		breaker: newBreaker("influxdb", breakerFailureThreshold, breakerResetTimeout),
		org:     org,
		bucket:  bucket,
	}, nil
}

// Archive writes one summary point and one point per reading for s.
func (a *InfluxArchive) Archive(ctx context.Context, deviceID string, s session.Session) error {
	if deviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if s.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	points := sessionPoints(deviceID, s)
	err := execute(a.breaker, func() error {
		return a.writer.WritePoint(ctx, points...)
	})
	if err != nil {
		metrics.ArchiveWriteErrors.Inc()
		return apperrors.NewStorageError("archive", s.ID, err)
	}

	metrics.ArchiveWrites.Inc()
	logger.Debug().
		Str("session_id", s.ID).
		Str("device_id", deviceID).
		Int("points", len(points)).
		Msg("Archived session")
	return nil
}

// Health reports whether InfluxDB is reachable.
func (a *InfluxArchive) Health(ctx context.Context) error {
	health, err := a.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("InfluxDB unhealthy: %s", health.Status)
	}
	return nil
}

// QuerySessionReadings returns the archived readings of one session in
// timestamp order.
func (a *InfluxArchive) QuerySessionReadings(ctx context.Context, sessionID string) ([]telemetry.Reading, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: 0)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.session_id == "%s")
			|> filter(fn: (r) => r._field == "rpm")
			|> sort(columns: ["_time"])
	`, a.bucket, rpmMeasurement, sessionID)

	result, err := a.client.QueryAPI(a.org).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var readings []telemetry.Reading
	for result.Next() {
		record := result.Record()
		r := telemetry.Reading{Timestamp: record.Time().UnixMilli()}
		switch v := record.Value().(type) {
		case int64:
			r.RPM = int(v)
		case float64:
			r.RPM = int(v)
		}
		readings = append(readings, r)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}
	return readings, nil
}

// Close closes the client.
func (a *InfluxArchive) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	a.client.Close()
}

// sessionPoints builds the summary point followed by the per-reading points.
func sessionPoints(deviceID string, s session.Session) []*write.Point {
	points := make([]*write.Point, 0, len(s.Data)+1)

	points = append(points, influxdb2.NewPoint(
		sessionMeasurement,
		map[string]string{
			"device_id":  deviceID,
			"session_id": s.ID,
		},
		map[string]interface{}{
			"duration_s": s.Duration,
			"avg_rpm":    s.AvgRPM,
			"max_rpm":    s.MaxRPM,
			"min_rpm":    s.MinRPM,
			"readings":   len(s.Data),
		},
		time.UnixMilli(s.StartTime),
	))

	for _, r := range s.Data {
		points = append(points, influxdb2.NewPoint(
			rpmMeasurement,
			map[string]string{
				"device_id":  deviceID,
				"session_id": s.ID,
			},
			map[string]interface{}{
				"rpm": r.RPM,
			},
			time.UnixMilli(r.Timestamp),
		))
	}

	return points
}
