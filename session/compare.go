// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package session

import "errors"

// ErrNotEnoughSessions is returned when fewer than two sessions match a comparison.
var ErrNotEnoughSessions = errors.New("at least two sessions are required for comparison")

// Point is one reading positioned relative to its session start.
type Point struct {
	TimeElapsed float64 `json:"timeElapsed"` // seconds since session start
	RPM         int     `json:"rpm"`
}

// Series is one session's readings aligned on elapsed time.
type Series struct {
	SessionID string  `json:"sessionId"`
	StartTime int64   `json:"startTime"`
	Points    []Point `json:"points"`
}

// Compare aligns the sessions whose ids are listed so they can be overlaid.
// Sessions keep their order in the input slice; unknown ids are ignored.
func Compare(sessions []Session, ids []string) ([]Series, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var series []Series
	for _, s := range sessions {
		if !wanted[s.ID] {
			continue
		}
		points := make([]Point, 0, len(s.Data))
		for _, r := range s.Data {
			points = append(points, Point{
				TimeElapsed: float64(r.Timestamp-s.StartTime) / 1000,
				RPM:         r.RPM,
			})
		}
		series = append(series, Series{SessionID: s.ID, StartTime: s.StartTime, Points: points})
	}

	if len(series) < 2 {
		return nil, ErrNotEnoughSessions
	}
	return series, nil
}
