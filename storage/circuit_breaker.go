// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
)

const (
	breakerFailureThreshold = 3
	breakerResetTimeout     = 30 * time.Second
	breakerHalfOpenRequests = 1
)

// newBreaker returns a breaker that opens after consecutive failures and
// probes again after resetTimeout.
func newBreaker(name string, failureThreshold uint32, resetTimeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// execute runs f through cb and maps the breaker's rejection errors onto
// ErrCircuitBreakerOpen.
func execute(cb *gobreaker.CircuitBreaker, f func() error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.ErrCircuitBreakerOpen
	}
	return err
}
