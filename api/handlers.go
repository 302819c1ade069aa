// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"
	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/session"
	"github.com/soothill/tachometer-monitor/view"
)

const (
	readinessCheckTimeout = 2 * time.Second
	maxBodyBytes          = 1 << 16
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type viewResponse struct {
	View view.View `json:"view"`
}

type powerRequest struct {
	On *bool `json:"on"`
}

type compareRequest struct {
	IDs []string `json:"ids"`
}

type insightResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrNoDeviceSelected):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrToggleInFlight), errors.Is(err, view.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotEnoughSessions):
		return http.StatusUnprocessableEntity
	case apperrors.IsDeviceError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).
		Str("request_id", w.Header().Get(RequestIDHeader)).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		logger.Error().Err(err).Msg("Failed to write health check response")
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
		defer cancel()

		if err := s.archive.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("Readiness check failed: archive unhealthy")
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("NOT READY: archive unhealthy")); writeErr != nil {
				logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
			}
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("READY")); err != nil {
		logger.Error().Err(err).Msg("Failed to write readiness check response")
	}
}

func (s *Server) handleGetView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewResponse{View: s.dash.View()})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	action := view.Action(mux.Vars(r)["action"])
	v, err := s.dash.Navigate(action)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{View: v})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"devices": s.devices()})
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.dash.SelectDevice(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dash.Live())
}

func (s *Server) handleChangeDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.ChangeDevice(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{View: s.dash.View()})
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if err := decodeBody(w, r, &req); err != nil || req.On == nil {
		writeError(w, http.StatusBadRequest, `body must be {"on": true|false}`)
		return
	}
	if err := s.dash.TogglePower(r.Context(), *req.On); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dash.Live())
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Live())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Sessions())
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, `body must be {"ids": [...]}`)
		return
	}
	series, err := s.dash.Compare(req.IDs)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, insightResponse{Text: s.dash.Insights(r.Context())})
}

func (s *Server) handleArchivedReadings(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if !sessionIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	readings, err := s.reader.QuerySessionReadings(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "session not archived")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}
