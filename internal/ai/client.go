package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tradeguard/internal/config"
	"tradeguard/internal/logger"
)

const apiVersion = "2023-06-01"

// RateLimitedError reports exhausted rate-limit retries.
type RateLimitedError struct {
	Attempts int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("model still rate limited after %d retries", e.Attempts)
}

// APIError is a non-retryable failure reported by the model endpoint.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model api error %d (%s): %s", e.Status, e.Type, e.Message)
}

// Completer is the narrow surface the reasoning loop needs; *Client is the
// production implementation.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Client talks to the messages API over plain HTTP. Rate limits are retried
// with a linearly growing pause; everything else fails through to the caller.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	maxTokens  int
	retryMax   int
	retryBase  time.Duration
	httpClient *http.Client

	// sleep is swappable so tests do not wait out the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.EngineConfig) *Client {
	return &Client{
		apiURL:    cfg.APIURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retryMax:  cfg.RetryMax,
		retryBase: time.Duration(cfg.RetryBaseSeconds) * time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete runs one model call. Model and max_tokens fall back to the client
// defaults when the request leaves them empty.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		resp, retryable, err := c.post(ctx, payload)
		if err == nil {
			return resp, nil
		}
		if !retryable || attempt >= c.retryMax {
			if retryable {
				return nil, &RateLimitedError{Attempts: attempt}
			}
			return nil, err
		}
		pause := c.retryBase * time.Duration(attempt+1)
		logger.Warnf("ai: rate limited, retry %d/%d in %s", attempt+1, c.retryMax, pause)
		if serr := c.sleep(ctx, pause); serr != nil {
			return nil, serr
		}
	}
}

func (c *Client) post(ctx context.Context, payload []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("model request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, false, fmt.Errorf("read model response: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var out Response
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, false, fmt.Errorf("decode model response: %w", err)
		}
		return &out, false, nil
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode == 529:
		return nil, true, fmt.Errorf("model rate limited: http %d", httpResp.StatusCode)
	default:
		var apiErr struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, false, &APIError{
			Status:  httpResp.StatusCode,
			Type:    apiErr.Error.Type,
			Message: apiErr.Error.Message,
		}
	}
}
