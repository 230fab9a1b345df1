// Package openai implements core.EmbeddingProvider against OpenAI's
// embeddings endpoint, in the same request-shape-plus-retry style as
// the teacher's internal/providers/openai chat client.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/core"
)

// Client calls OpenAI's /v1/embeddings endpoint.
type Client struct {
	apiKey     string
	httpClient *http.Client
	model      string
	baseURL    string
}

// New builds a Client from a model config entry and shared http.Client.
func New(mc config.ModelConfig, hc *http.Client) *Client {
	base := mc.URL
	if base == "" {
		base = "https://api.openai.com/v1/embeddings"
	}
	return &Client{
		apiKey:     mc.APIKey,
		httpClient: hc,
		model:      mc.Model,
		baseURL:    base,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed satisfies core.EmbeddingProvider.
func (c *Client) Embed(ctx context.Context, texts []string) ([]core.Vector, error) {
	payload := embedRequest{Model: c.model, Input: texts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings marshal payload: %w", err)
	}

	var er embedResponse
	err = withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			return &httpStatusError{status: resp.StatusCode, body: string(b)}
		}
		return json.NewDecoder(resp.Body).Decode(&er)
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.Vector, len(er.Data))
	for i, d := range er.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// withRetry performs exponential backoff retries on transient errors,
// the same policy as internal/providers/openai's chat client.
func withRetry(ctx context.Context, fn func() error) error {
	const (
		maxAttempts = 5
		baseDelay   = 200 * time.Millisecond
		maxDelay    = 3 * time.Second
	)
	var attempt int
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		attempt++
		if attempt >= maxAttempts {
			return err
		}
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + time.Duration(float64(delay)*0.1)):
		}
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("openai embeddings http %d: %s", e.status, e.body)
}

func isTransient(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		return he.status == 429 || he.status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
