// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package telemetry produces synthetic tachometer readings and streams them
// to subscribers.
package telemetry

import (
	"math"
	"math/rand"
)

const (
	simulatedBaseRPM      = 450.0
	simulatedRevAmplitude = 300.0  // Slow rev cycle
	simulatedRevDivisor   = 5000.0 // period ≈ 31.4s
	simulatedVibAmplitude = 150.0  // Faster vibration
	simulatedVibDivisor   = 1800.0 // period ≈ 11.3s
	simulatedNoiseRange   = 50.0   // Uniform noise in [0, 50)
)

// Reading is one timestamped RPM sample.
type Reading struct {
	Timestamp int64 `json:"timestamp"` // ms since epoch
	RPM       int   `json:"rpm"`
}

// Generator synthesizes RPM readings from wall-clock time.
type Generator struct {
	noise func() float64
}

// NewGenerator creates a generator. noise must return values in [0, 1);
// nil selects math/rand.
func NewGenerator(noise func() float64) *Generator {
	if noise == nil {
		noise = rand.Float64
	}
	return &Generator{noise: noise}
}

// Generate returns the reading for timeMs.
func (g *Generator) Generate(timeMs int64) Reading {
	t := float64(timeMs)
	rpm := simulatedBaseRPM +
		simulatedRevAmplitude*math.Sin(t/simulatedRevDivisor) +
		simulatedVibAmplitude*math.Sin(t/simulatedVibDivisor) +
		simulatedNoiseRange*g.noise()

	return Reading{
		Timestamp: timeMs,
		RPM:       int(math.Max(0, math.Round(rpm))),
	}
}

var defaultGenerator = NewGenerator(nil)

// Generate returns a reading for timeMs using the default noise source.
func Generate(timeMs int64) Reading {
	return defaultGenerator.Generate(timeMs)
}
