// Package embedding selects a core.EmbeddingProvider implementation by
// provider name, mirroring internal/providers/factory.go's
// switch-on-provider-name shape.
package embedding

import (
	"net/http"

	moderr "github.com/lizzyg/toolrouter/errors"
	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/core"
	"github.com/lizzyg/toolrouter/internal/embedding/gemini"
	"github.com/lizzyg/toolrouter/internal/embedding/openai"
)

// New builds the embedding provider named by mc.Provider.
func New(mc config.ModelConfig, hc *http.Client) (core.EmbeddingProvider, error) {
	switch mc.Provider {
	case "openai":
		return openai.New(mc, hc), nil
	case "gemini":
		return gemini.New(mc, hc), nil
	default:
		return nil, moderr.ErrUnknownProvider
	}
}
