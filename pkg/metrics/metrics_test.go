// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	counters := map[string]prometheus.Counter{
		"ReadingsGenerated":  ReadingsGenerated,
		"SessionsRecorded":   SessionsRecorded,
		"SessionsDiscarded":  SessionsDiscarded,
		"StoreWriteErrors":   StoreWriteErrors,
		"StoreCorruptions":   StoreCorruptions,
		"ArchiveWrites":      ArchiveWrites,
		"ArchiveWriteErrors": ArchiveWriteErrors,
	}

	for name, counter := range counters {
		t.Run(name, func(t *testing.T) {
			initial := testutil.ToFloat64(counter)
			counter.Inc()
			final := testutil.ToFloat64(counter)
			if final != initial+1 {
				t.Errorf("%s should have increased by 1, got %v -> %v", name, initial, final)
			}
		})
	}
}

func TestActiveSubscriptionsGauge(t *testing.T) {
	ActiveSubscriptions.Set(0)
	ActiveSubscriptions.Inc()

	if value := testutil.ToFloat64(ActiveSubscriptions); value != 1 {
		t.Errorf("ActiveSubscriptions = %v, want 1", value)
	}
	ActiveSubscriptions.Dec()
}

func TestCurrentRPMGaugeVec(t *testing.T) {
	CurrentRPM.WithLabelValues("TACH-001").Set(612)

	metric, err := CurrentRPM.GetMetricWithLabelValues("TACH-001")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if value := testutil.ToFloat64(metric); value != 612 {
		t.Errorf("CurrentRPM = %v, want 612", value)
	}
}

func TestPowerTogglesCounterVec(t *testing.T) {
	before := testutil.ToFloat64(PowerToggles.WithLabelValues("failed"))
	PowerToggles.WithLabelValues("failed").Inc()
	after := testutil.ToFloat64(PowerToggles.WithLabelValues("failed"))

	if after != before+1 {
		t.Errorf("PowerToggles{result=failed} = %v, want %v", after, before+1)
	}
}

func TestHistograms(t *testing.T) {
	SessionDuration.Observe(6)
	InsightDuration.Observe(0.8)

	if testutil.CollectAndCount(SessionDuration) == 0 {
		t.Error("SessionDuration histogram should be collected")
	}
	if testutil.CollectAndCount(InsightDuration) == 0 {
		t.Error("InsightDuration histogram should be collected")
	}
}
