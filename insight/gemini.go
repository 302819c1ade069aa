// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package insight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
)

const (
	// DefaultModel is the Gemini model used for analysis.
	DefaultModel = "gemini-2.5-flash"

	// DefaultBaseURL is the Gemini API root. The SDK appends the API version.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/"

	defaultRequestTimeout = 30 * time.Second
)

// GeminiClient generates text through the Gemini API.
type GeminiClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	apiKey string
	model  string
	client *genai.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API root.
func WithBaseURL(url string) GeminiOption {
	return func(g *GeminiClient) {
		if url != "" {
			g.baseURL = strings.TrimRight(url, "/") + "/"
		}
	}
}

// WithModel selects the model.
func WithModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		if model != "" {
			g.model = model
		}
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) GeminiOption {
	return func(g *GeminiClient) {
		if timeout > 0 {
			g.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit limits outgoing calls to r per second with the given burst.
func WithRateLimit(r float64, burst int) GeminiOption {
	return func(g *GeminiClient) {
		if r > 0 && burst > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// NewGeminiClient creates a client for apiKey. The SDK client is built on
// first use so a missing key is not a startup error.
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	g := &GeminiClient{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 3),
		apiKey:     apiKey,
		model:      DefaultModel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Update swaps the credentials and model at runtime.
func (g *GeminiClient) Update(apiKey, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if apiKey != g.apiKey {
		g.apiKey = apiKey
		g.client = nil
	}
	if model != "" {
		g.model = model
	}
}

// IsEnabled reports whether an API key is configured.
func (g *GeminiClient) IsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apiKey != ""
}

// session returns the SDK client for the current key, creating it if needed.
func (g *GeminiClient) session(ctx context.Context) (*genai.Client, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.apiKey == "" {
		return nil, "", fmt.Errorf("API key not configured")
	}
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      g.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  g.httpClient,
			HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
		})
		if err != nil {
			return nil, "", err
		}
		g.client = client
		logger.Debug().Str("model", g.model).Str("base_url", g.baseURL).Msg("Gemini client created")
	}
	return g.client, g.model, nil
}

// GenerateText sends prompt and returns the text of the first candidate.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	client, model, err := g.session(ctx)
	if err != nil {
		return "", apperrors.NewInsightError("generate", err)
	}
	if !g.limiter.Allow() {
		return "", apperrors.NewInsightError("generate", apperrors.ErrRateLimited)
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", apperrors.NewInsightError("generate", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", apperrors.NewInsightError("generate", fmt.Errorf("empty response from %s", model))
	}
	return text, nil
}
