//go:build integration
// +build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/lizzyg/toolrouter/internal/agent"
	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/core"
	"github.com/lizzyg/toolrouter/internal/providers/openai"
	"github.com/lizzyg/toolrouter/internal/testutil"
)

func TestAgentExecutorRunsWeatherToolEndToEnd(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set; skipping integration test")
	}

	client := openai.New(config.ModelConfig{Provider: "openai", Model: "gpt-4o", APIKey: apiKey}, &http.Client{Timeout: 30 * time.Second}, nil)
	ex := agent.New(client, "gpt-4o", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := ex.Run(ctx, []core.Message{
		{Role: core.RoleUser, Content: "What is the weather in Portland, Oregon? Use the weather tool."},
	}, []core.ToolDescriptor{testutil.GetWeatherInLocationTool()}, 4)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalText == "" {
		t.Fatal("expected a final text answer")
	}
}
