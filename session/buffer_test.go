// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package session

import (
	"testing"

	"github.com/soothill/tachometer-monitor/telemetry"
)

func readingsFrom(start int64, n int) []telemetry.Reading {
	out := make([]telemetry.Reading, n)
	for i := range out {
		out[i] = telemetry.Reading{Timestamp: start + int64(i)*250, RPM: 400 + i}
	}
	return out
}

func TestAppendWindow(t *testing.T) {
	tests := []struct {
		name      string
		bufLen    int
		batchLen  int
		wantLen   int
		wantFirst int64
	}{
		{"empty plus empty", 0, 0, 0, 0},
		{"empty plus backlog", 0, 240, 60, 180 * 250},
		{"partial plus one", 10, 1, 11, 0},
		{"full plus one evicts oldest", 60, 1, 60, 250},
		{"exact capacity", 30, 30, 60, 0},
		{"batch larger than capacity", 5, 100, 60, 45 * 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := readingsFrom(0, tt.bufLen+tt.batchLen)
			buf := all[:tt.bufLen]
			batch := all[tt.bufLen:]

			got := AppendWindow(buf, batch)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen == 0 {
				return
			}
			if got[0].Timestamp != tt.wantFirst {
				t.Errorf("first timestamp = %d, want %d", got[0].Timestamp, tt.wantFirst)
			}
			if last := all[len(all)-1]; got[len(got)-1] != last {
				t.Errorf("last reading = %+v, want %+v", got[len(got)-1], last)
			}
		})
	}
}

func TestAppendWindow_DoesNotAlias(t *testing.T) {
	buf := readingsFrom(0, 3)
	batch := readingsFrom(1000, 2)

	got := AppendWindow(buf, batch)
	got[0].RPM = -1

	if buf[0].RPM == -1 {
		t.Error("AppendWindow result shares memory with buf")
	}
}

func FuzzAppendWindow(f *testing.F) {
	f.Add(0, 0)
	f.Add(59, 1)
	f.Add(60, 240)
	f.Add(1, 500)

	f.Fuzz(func(t *testing.T, bufLen, batchLen int) {
		if bufLen < 0 || batchLen < 0 || bufLen > BufferCapacity || batchLen > 5000 {
			t.Skip()
		}
		all := readingsFrom(0, bufLen+batchLen)
		got := AppendWindow(all[:bufLen], all[bufLen:])

		if len(got) > BufferCapacity {
			t.Fatalf("len = %d exceeds capacity", len(got))
		}
		// The window always holds the latest readings in order
		tail := all[len(all)-len(got):]
		for i := range got {
			if got[i] != tail[i] {
				t.Fatalf("got[%d] = %+v, want %+v", i, got[i], tail[i])
			}
		}
	})
}
