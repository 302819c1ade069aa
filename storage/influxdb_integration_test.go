// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/soothill/tachometer-monitor/session"
	"github.com/soothill/tachometer-monitor/telemetry"
)

func startInflux(t *testing.T) *InfluxArchive {
	t.Helper()
	ctx := context.Background()

	influxContainer, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("test-org", "test-bucket", "test-user", "test-password"),
		influxdb.WithV2AdminToken("test-token"),
	)
	if err != nil {
		t.Fatalf("Failed to start InfluxDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(influxContainer); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	url, err := influxContainer.ConnectionUrl(ctx)
	if err != nil {
		t.Fatalf("Failed to get InfluxDB URL: %v", err)
	}

	archive, err := NewInfluxArchive(url, "test-token", "test-org", "test-bucket")
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	t.Cleanup(archive.Close)
	return archive
}

func TestIntegration_ArchiveAndQuery(t *testing.T) {
	ctx := context.Background()
	archive := startInflux(t)

	readings := make([]telemetry.Reading, 0, 10)
	for i := 0; i < 10; i++ {
		readings = append(readings, telemetry.Generate(int64(1_700_000_000_000+i*500)))
	}
	stats := session.ComputeStats(readings)
	s := session.Session{
		ID:        session.IDFor(readings[0].Timestamp),
		StartTime: readings[0].Timestamp,
		Duration:  5,
		AvgRPM:    stats.Avg,
		MaxRPM:    stats.Max,
		MinRPM:    stats.Min,
		Data:      readings,
	}

	if err := archive.Archive(ctx, "TACH-001", s); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	got, err := archive.QuerySessionReadings(ctx, s.ID)
	if err != nil {
		t.Fatalf("QuerySessionReadings() error = %v", err)
	}
	if len(got) != len(readings) {
		t.Fatalf("QuerySessionReadings() returned %d readings, want %d", len(got), len(readings))
	}
	for i := range readings {
		if got[i] != readings[i] {
			t.Errorf("reading %d = %+v, want %+v", i, got[i], readings[i])
		}
	}

	if err := archive.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestIntegration_QueryValidation(t *testing.T) {
	archive := startInflux(t)

	if _, err := archive.QuerySessionReadings(context.Background(), ""); err == nil {
		t.Error("QuerySessionReadings() should fail with empty session ID")
	}
}
