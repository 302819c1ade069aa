// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package api exposes the monitoring dashboard over HTTP.
package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soothill/tachometer-monitor/dashboard"
	"github.com/soothill/tachometer-monitor/telemetry"
	"golang.org/x/time/rate"
)

// DeviceLister reports devices found at runtime.
type DeviceLister interface {
	DeviceIDs() []string
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ArchiveReader returns the readings archived for a session.
type ArchiveReader interface {
	QuerySessionReadings(ctx context.Context, sessionID string) ([]telemetry.Reading, error)
}

// Server holds the handlers' collaborators.
type Server struct {
	dash          *dashboard.Dashboard
	static        []string
	discovered    DeviceLister
	archive       HealthChecker
	reader        ArchiveReader
	healthLimiter *rate.Limiter
	readyLimiter  *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithDiscovery adds discovered devices to the device list.
func WithDiscovery(l DeviceLister) Option {
	return func(s *Server) {
		s.discovered = l
	}
}

// WithReadiness makes /ready depend on c.
func WithReadiness(c HealthChecker) Option {
	return func(s *Server) {
		s.archive = c
	}
}

// WithArchiveReader serves archived session readings.
func WithArchiveReader(r ArchiveReader) Option {
	return func(s *Server) {
		s.reader = r
	}
}

// NewServer creates a Server for d. staticDevices are always listed.
func NewServer(d *dashboard.Dashboard, staticDevices []string, opts ...Option) *Server {
	s := &Server{
		dash:          d,
		static:        staticDevices,
		healthLimiter: rate.NewLimiter(10, 20),
		readyLimiter:  rate.NewLimiter(10, 20),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", rateLimitMiddleware(s.healthLimiter, s.handleHealth)).Methods("GET")
	r.HandleFunc("/ready", rateLimitMiddleware(s.readyLimiter, s.handleReady)).Methods("GET")

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/view", s.handleGetView).Methods("GET")
	a.HandleFunc("/view/{action}", s.handleNavigate).Methods("POST")
	a.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	a.HandleFunc("/devices/{id}/select", s.handleSelectDevice).Methods("POST")
	a.HandleFunc("/device/change", s.handleChangeDevice).Methods("POST")
	a.HandleFunc("/device/power", s.handlePower).Methods("POST")
	a.HandleFunc("/live", s.handleLive).Methods("GET")
	a.HandleFunc("/live/ws", s.handleLiveWS).Methods("GET")
	a.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	a.HandleFunc("/sessions/compare", s.handleCompare).Methods("POST")
	a.HandleFunc("/sessions/{id}/archive", s.handleArchivedReadings).Methods("GET")
	a.HandleFunc("/insights", s.handleInsights).Methods("POST")

	return r
}

// devices merges the static list with discovered ids, sorted and unique.
func (s *Server) devices() []string {
	seen := make(map[string]struct{}, len(s.static))
	ids := make([]string, 0, len(s.static))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range s.static {
		add(id)
	}
	if s.discovered != nil {
		for _, id := range s.discovered.DeviceIDs() {
			add(id)
		}
	}
	sort.Strings(ids)
	return ids
}
