// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package insight asks a text-generation service for a short performance
// analysis of recent tachometer readings.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
	"github.com/soothill/tachometer-monitor/telemetry"
)

const (
	// MinReadings is the smallest buffer that is worth analyzing.
	MinReadings = 10

	// MaxReadings caps how many of the most recent readings are sent.
	MaxReadings = 100

	// NotEnoughDataMessage is returned without a request for short buffers.
	NotEnoughDataMessage = "Not enough data for analysis. Please wait for at least 10 data points."

	// FailureMessage replaces the analysis when generation fails.
	FailureMessage = "Sorry, an error occurred while analyzing the data. Please try again."
)

const promptTemplate = `
    Analyze the following tachometer data which represents engine RPM over time.
    Provide a brief, professional performance analysis in 2-3 sentences.
    Comment on engine stability, mention any sudden spikes or drops, and identify the peak RPM.
    The data is an array of objects with 'rpm' and 'timestamp' properties.
    Here is the data (last 100 points):
    %s
  `

// TextGenerator turns a prompt into free text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Requester summarizes readings through a TextGenerator. It never retries.
type Requester struct {
	generator TextGenerator
}

// NewRequester creates a requester.
func NewRequester(generator TextGenerator) *Requester {
	return &Requester{generator: generator}
}

// Summarize returns the generated analysis, NotEnoughDataMessage for fewer
// than MinReadings readings, or FailureMessage on any error.
func (r *Requester) Summarize(ctx context.Context, readings []telemetry.Reading) string {
	if len(readings) < MinReadings {
		metrics.InsightRequests.WithLabelValues("insufficient").Inc()
		return NotEnoughDataMessage
	}

	start := time.Now()
	text, err := r.generate(ctx, readings)
	metrics.InsightDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.InsightRequests.WithLabelValues("error").Inc()
		logger.Error().Err(err).Int("readings", len(readings)).Msg("Error generating insights")
		return FailureMessage
	}

	metrics.InsightRequests.WithLabelValues("success").Inc()
	logger.Debug().Int("readings", len(readings)).Int("chars", len(text)).Msg("Generated insights")
	return text
}

func (r *Requester) generate(ctx context.Context, readings []telemetry.Reading) (string, error) {
	if r.generator == nil {
		return "", apperrors.NewInsightError("generate", fmt.Errorf("no text generator configured"))
	}

	prompt, err := BuildPrompt(readings)
	if err != nil {
		return "", apperrors.NewInsightError("build prompt", err)
	}

	return r.generator.GenerateText(ctx, prompt)
}

// BuildPrompt embeds the last MaxReadings readings as JSON in the analysis
// prompt.
func BuildPrompt(readings []telemetry.Reading) (string, error) {
	if len(readings) > MaxReadings {
		readings = readings[len(readings)-MaxReadings:]
	}

	data, err := json.Marshal(readings)
	if err != nil {
		return "", fmt.Errorf("failed to encode readings: %w", err)
	}

	return fmt.Sprintf(promptTemplate, data), nil
}
