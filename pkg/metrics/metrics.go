// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the tachometer monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsGenerated tracks the total number of synthetic readings emitted by the stream
	ReadingsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_readings_generated_total",
		Help: "Total number of synthetic RPM readings emitted by the data stream",
	})

	// ActiveSubscriptions tracks the number of live data streams
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tachometer_active_subscriptions",
		Help: "Number of active telemetry subscriptions",
	})

	// CurrentRPM tracks the most recent RPM per device
	CurrentRPM = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tachometer_current_rpm",
		Help: "Most recent RPM reading",
	}, []string{"device_id"})

	// BufferSize tracks the number of readings in the rolling buffer
	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tachometer_buffer_readings",
		Help: "Number of readings held in the rolling buffer",
	})

	// SessionsRecorded tracks the number of sessions closed and stored
	SessionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_sessions_recorded_total",
		Help: "Total number of sessions recorded",
	})

	// SessionsDiscarded tracks power-off transitions that had too few readings
	SessionsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_sessions_discarded_total",
		Help: "Total number of sessions discarded for having fewer than two readings",
	})

	// SessionDuration tracks recorded session lengths
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tachometer_session_duration_seconds",
		Help:    "Duration of recorded sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// PowerToggles tracks power toggle attempts by result
	PowerToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tachometer_power_toggles_total",
		Help: "Total number of power toggle attempts",
	}, []string{"result"})

	// StoreWriteErrors tracks failed session store writes
	StoreWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_store_write_errors_total",
		Help: "Total number of failed session store writes",
	})

	// StoreCorruptions tracks discarded unreadable store contents
	StoreCorruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_store_corruptions_total",
		Help: "Total number of times stored session data was unreadable and discarded",
	})

	// ArchiveWrites tracks sessions written to InfluxDB
	ArchiveWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_archive_writes_total",
		Help: "Total number of sessions archived to InfluxDB",
	})

	// ArchiveWriteErrors tracks failed InfluxDB archive writes
	ArchiveWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tachometer_archive_write_errors_total",
		Help: "Total number of failed InfluxDB archive writes",
	})

	// InsightRequests tracks insight requests by outcome
	InsightRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tachometer_insight_requests_total",
		Help: "Total number of insight requests",
	}, []string{"outcome"})

	// InsightDuration tracks how long the text-generation service takes
	InsightDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tachometer_insight_duration_seconds",
		Help:    "Duration of text-generation calls in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// LiveClients tracks connected WebSocket listeners
	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tachometer_live_clients",
		Help: "Number of connected live-stream WebSocket clients",
	})

	// DevicesDiscovered tracks the number of tachometer devices found via mDNS
	DevicesDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tachometer_devices_discovered",
		Help: "Number of tachometer devices discovered via mDNS",
	})
)
