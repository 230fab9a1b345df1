package providers

import (
	"log/slog"
	"net/http"

	moderr "github.com/lizzyg/toolrouter/errors"
	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/chatproto"
	"github.com/lizzyg/toolrouter/internal/providers/gemini"
	"github.com/lizzyg/toolrouter/internal/providers/openai"
)

func NewProviderClient(mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (chatproto.RawClient, error) {
    switch mc.Provider {
	case "openai":
		return openai.New(mc, hc, logger), nil
	case "gemini":
		return gemini.New(mc, hc, logger), nil
	default:
        return nil, moderr.ErrUnknownProvider
	}
}
