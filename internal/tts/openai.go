package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sonara/internal/reliability"
)

const (
	defaultBaseURL = "https://api.openai.com"
	speechPath     = "/v1/audio/speech"
	defaultModel   = "gpt-4o-mini-tts"

	defaultMaxAttempts    = 3
	defaultBaseBackoff    = 2 * time.Second
	defaultAttemptTimeout = 2 * time.Minute
	backoffCap            = time.Minute
)

// OpenAIConfig configures the OpenAI speech client. Zero values select
// the production defaults.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxAttempts    int
	BaseBackoff    time.Duration
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
}

// OpenAIClient implements Client against POST /v1/audio/speech.
type OpenAIClient struct {
	cfg OpenAIConfig
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &OpenAIClient{cfg: cfg}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Instructions   string `json:"instructions,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Synthesize performs one chunk call with up to MaxAttempts attempts.
// Rate limits and server errors back off exponentially and retry; other
// client errors and per-attempt timeouts surface immediately.
func (c *OpenAIClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		audio, err := c.attempt(ctx, req)
		if err == nil {
			return audio, nil
		}
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !reliability.IsRetryableHTTPStatus(httpErr.Status) {
			return nil, err
		}
		lastErr = err
		if attempt < c.cfg.MaxAttempts-1 {
			delay := reliability.ExponentialBackoff(attempt, c.cfg.BaseBackoff, backoffCap)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("tts: request failed after retries")
	}
	return nil, lastErr
}

func (c *OpenAIClient) attempt(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          c.cfg.Model,
		Input:          req.Input,
		Voice:          req.Voice,
		Instructions:   req.Instructions,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+speechPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("%w (%s per chunk); article may be too long", ErrTimeout, c.cfg.AttemptTimeout)
		}
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("%w (%s per chunk); article may be too long", ErrTimeout, c.cfg.AttemptTimeout)
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Message: apiErrorMessage(payload, resp)}
	}
	return payload, nil
}

// apiErrorMessage best-effort parses {"error":{"message":...}} bodies.
func apiErrorMessage(body []byte, resp *http.Response) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if msg := strings.TrimSpace(parsed.Error.Message); msg != "" {
			return msg
		}
	}
	status := strings.TrimSpace(resp.Status)
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}
	return status
}
