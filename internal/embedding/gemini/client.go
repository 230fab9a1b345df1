// Package gemini implements core.EmbeddingProvider against Gemini's
// batchEmbedContents endpoint, following the teacher's
// internal/providers/gemini chat client's request-shape-plus-retry
// style.
package gemini

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
	"strings"
	"time"

	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/core"
)

// Client calls Gemini's batchEmbedContents endpoint.
type Client struct {
	apiKey     string
	httpClient *http.Client
	model      string
}

// New builds a Client from a model config entry and shared http.Client.
func New(mc config.ModelConfig, hc *http.Client) *Client {
	return &Client{apiKey: mc.APIKey, httpClient: hc, model: mc.Model}
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embedContentRequest struct {
	Model   string         `json:"model"`
	Content map[string]any `json:"content"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed satisfies core.EmbeddingProvider.
func (c *Client) Embed(ctx context.Context, texts []string) ([]core.Vector, error) {
	modelPath := "models/" + c.model
	reqs := make([]embedContentRequest, len(texts))
	for i, t := range texts {
		reqs[i] = embedContentRequest{
			Model: modelPath,
			Content: map[string]any{
				"parts": []any{map[string]any{"text": t}},
			},
		}
	}
	payload := batchEmbedRequest{Requests: reqs}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings marshal payload: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/%s:batchEmbedContents?key=%s", modelPath, c.apiKey)

	var br batchEmbedResponse
	err = withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("gemini embeddings http %d: %s", resp.StatusCode, string(b))
		}
		return json.NewDecoder(resp.Body).Decode(&br)
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.Vector, len(br.Embeddings))
	for i, e := range br.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

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

// isTransient sniffs Gemini's plain fmt.Errorf-formatted HTTP errors for
// retryable status codes, mirroring the teacher's gemini chat client.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	if strings.Contains(es, "http 429:") || strings.Contains(es, "http 5") {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
