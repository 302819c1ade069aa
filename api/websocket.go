// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soothill/tachometer-monitor/dashboard"
	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
	"github.com/soothill/tachometer-monitor/telemetry"
)

const (
	clientQueueSize = 16
	writeTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// liveMessage is one frame on the live socket. The first frame carries the
// current snapshot, later frames carry delivered batches.
type liveMessage struct {
	Type     string              `json:"type"`
	DeviceID string              `json:"deviceId,omitempty"`
	Readings []telemetry.Reading `json:"readings,omitempty"`
	Snapshot *dashboard.Snapshot `json:"snapshot,omitempty"`
}

// liveClient queues frames for one socket. Frames are dropped when the
// queue is full so a slow reader never stalls the stream goroutine.
type liveClient struct {
	id     string
	mu     sync.Mutex
	closed bool
	queue  chan []byte
}

func (c *liveClient) send(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- msg:
	default:
		logger.Debug().Str("client_id", c.id).Msg("Live client queue full, dropping batch")
	}
}

func (c *liveClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	client := &liveClient{
		id:    uuid.New().String(),
		queue: make(chan []byte, clientQueueSize),
	}
	metrics.LiveClients.Inc()
	defer metrics.LiveClients.Dec()
	logger.Info().Str("client_id", client.id).Str("remote_addr", r.RemoteAddr).Msg("Live client connected")

	snap := s.dash.Live()
	if initial, err := json.Marshal(liveMessage{Type: "snapshot", DeviceID: snap.DeviceID, Snapshot: &snap}); err == nil {
		client.send(initial)
	}

	unwatch := s.dash.Watch(func(deviceID string, batch []telemetry.Reading) {
		msg, err := json.Marshal(liveMessage{Type: "batch", DeviceID: deviceID, Readings: batch})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to encode live batch")
			return
		}
		client.send(msg)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.queue {
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug().Err(err).Str("client_id", client.id).Msg("Live client write failed")
				// unblocks the read loop below
				conn.Close()
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	unwatch()
	client.close()
	<-done
	logger.Info().Str("client_id", client.id).Msg("Live client disconnected")
}
