// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package session turns a stream of readings into recorded sessions.
//
// A session spans one power-on to power-off interval. While the device is on,
// readings accumulate in a fixed-size rolling buffer; on power-off the buffer
// is summarized into an immutable Session carrying average, minimum and
// maximum RPM plus a copy of the buffered readings.
package session

import (
	"fmt"
	"math"
	"sort"

	"github.com/soothill/tachometer-monitor/telemetry"
)

// Session is a closed, immutable record of one power-on-to-power-off interval.
type Session struct {
	ID        string              `json:"id"`
	StartTime int64               `json:"startTime"` // ms since epoch
	Duration  int64               `json:"duration"`  // seconds
	AvgRPM    int                 `json:"avgRpm"`
	MaxRPM    int                 `json:"maxRpm"`
	MinRPM    int                 `json:"minRpm"`
	Data      []telemetry.Reading `json:"data"`
}

// Stats are aggregates over a sequence of readings.
type Stats struct {
	Count int
	Avg   int
	Max   int
	Min   int
}

// ComputeStats returns the rounded mean, maximum and minimum RPM. An empty
// sequence yields zero Stats.
func ComputeStats(readings []telemetry.Reading) Stats {
	if len(readings) == 0 {
		return Stats{}
	}

	sum := 0
	maxRPM := readings[0].RPM
	minRPM := readings[0].RPM
	for _, r := range readings {
		sum += r.RPM
		if r.RPM > maxRPM {
			maxRPM = r.RPM
		}
		if r.RPM < minRPM {
			minRPM = r.RPM
		}
	}

	return Stats{
		Count: len(readings),
		Avg:   int(math.Round(float64(sum) / float64(len(readings)))),
		Max:   maxRPM,
		Min:   minRPM,
	}
}

// IDFor derives the session id from its start time.
func IDFor(startTime int64) string {
	return fmt.Sprintf("session-%d", startTime)
}

// SortByStartDesc orders sessions most recent first.
func SortByStartDesc(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime > sessions[j].StartTime
	})
}
