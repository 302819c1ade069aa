// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package session

import "github.com/soothill/tachometer-monitor/telemetry"

// BufferCapacity is the size of the rolling window of recent readings.
const BufferCapacity = 60

// AppendWindow returns buf followed by batch, truncated to the most recent
// BufferCapacity readings. The result never shares memory with buf or batch.
func AppendWindow(buf, batch []telemetry.Reading) []telemetry.Reading {
	total := len(buf) + len(batch)
	keep := total
	if keep > BufferCapacity {
		keep = BufferCapacity
	}

	out := make([]telemetry.Reading, 0, keep)
	skip := total - keep
	if skip < len(buf) {
		out = append(out, buf[skip:]...)
		skip = 0
	} else {
		skip -= len(buf)
	}
	out = append(out, batch[skip:]...)
	return out
}
