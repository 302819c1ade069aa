// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package insight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
)

type generateBody struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func TestGeminiClient_GenerateText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Stable "},{"text":"engine. "}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	client := NewGeminiClient("secret", WithBaseURL(server.URL), WithModel("test-model"))
	text, err := client.GenerateText(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "Stable engine.", text)
	assert.Equal(t, "/v1beta/models/test-model:generateContent", gotPath)
	assert.Equal(t, "secret", gotKey)
	require.Len(t, gotBody.Contents, 1)
	require.Len(t, gotBody.Contents[0].Parts, 1)
	assert.Equal(t, "hello", gotBody.Contents[0].Parts[0].Text)
}

func TestGeminiClient_UpdateSwitchesKey(t *testing.T) {
	var lastKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastKey.Store(r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client := NewGeminiClient("old-key", WithBaseURL(server.URL))
	_, err := client.GenerateText(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, "old-key", lastKey.Load())

	client.Update("new-key", "")
	_, err = client.GenerateText(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "new-key", lastKey.Load())
}

func TestGeminiClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	_, err := NewGeminiClient("bad", WithBaseURL(server.URL)).GenerateText(context.Background(), "hello")

	require.Error(t, err)
	assert.True(t, apperrors.IsInsightError(err))
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGeminiClient_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := NewGeminiClient("key", WithBaseURL(server.URL)).GenerateText(context.Background(), "hello")
	assert.Error(t, err)
}

func TestGeminiClient_NoAPIKey(t *testing.T) {
	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called.Store(true)
	}))
	defer server.Close()

	client := NewGeminiClient("", WithBaseURL(server.URL))
	assert.False(t, client.IsEnabled())

	_, err := client.GenerateText(context.Background(), "hello")
	assert.Error(t, err)
	assert.False(t, called.Load())

	client.Update("key", "")
	assert.True(t, client.IsEnabled())
}

func TestGeminiClient_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client := NewGeminiClient("key", WithBaseURL(server.URL), WithRateLimit(0.001, 1))

	_, err := client.GenerateText(context.Background(), "first")
	require.NoError(t, err)

	_, err = client.GenerateText(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequester_WithGeminiClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewRequester(NewGeminiClient("key", WithBaseURL(server.URL)))
	assert.Equal(t, FailureMessage, r.Summarize(context.Background(), readings(30)))
}
