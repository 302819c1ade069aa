// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" Warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"panic":   zerolog.PanicLevel,
		"verbose": zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestInitializeWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter("debug", &buf)

	Debug().Str("device_id", "TACH-001").Int("rpm", 612).Msg("Reading delivered")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "TACH-001", entry["device_id"])
	assert.EqualValues(t, 612, entry["rpm"])
	assert.Contains(t, entry["caller"], "logger_test.go")

	ts, ok := entry["time"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestSetLevel_KeepsWriterAndFields(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter("info", &buf)

	Debug().Msg("hidden")
	SetLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, Level())
	Debug().Str("session_id", "session-1").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, `"caller"`, "caller field survives a level change")

	SetLevel("error")
	Warn().Msg("after reload")
	assert.NotContains(t, buf.String(), "after reload")
}

func TestSetLevel_ConcurrentWithLogging(t *testing.T) {
	buf := &syncBuffer{}
	InitializeWithWriter("info", buf)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					Info().Msg("streaming")
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			SetLevel("debug")
		} else {
			SetLevel("info")
		}
	}
	close(stop)
	wg.Wait()

	assert.Contains(t, buf.String(), "streaming")
}

func TestSetOutputAndWith(t *testing.T) {
	InitializeWithWriter("info", io.Discard)

	var buf bytes.Buffer
	SetOutput(&buf)
	child := With().Str("device_id", "TACH-002").Logger()
	child.Info().Msg("device selected")

	out := buf.String()
	assert.True(t, strings.Contains(out, "device selected") && strings.Contains(out, "TACH-002"), out)
}
