// Package config loads the router's configuration, mirroring the
// teacher's internal/config/loader.go: koanf file+env layering behind
// a sync.Once singleton, with ${VAR} environment substitution. It adds
// one thing the teacher did not need — a live file watch, because
// SPEC_FULL's router is a long-running process whose keyword_nudge
// table operators may want to edit without a restart.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	moderr "github.com/lizzyg/toolrouter/errors"
)

// ModelConfig names a single backing chat or embedding model. Reused
// verbatim in shape from the teacher's config.ModelConfig, since
// internal/agent (the reference AgentExecutor) and internal/embedding
// (the reference EmbeddingProvider implementations) select their
// backing HTTP client by provider exactly the way the teacher's
// router did for chat models.
type ModelConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	URL      string `koanf:"url"`
}

// CatalogEntry is one statically-configured server entry (spec.md §3
// "Server entry"). TransportKind is "http" or "stdio".
type CatalogEntry struct {
	Handle        string   `koanf:"handle"`
	DisplayName   string   `koanf:"display_name"`
	Category      string   `koanf:"category"`
	Description   string   `koanf:"description"`
	Keywords      []string `koanf:"keywords"`
	TransportKind string   `koanf:"transport_kind"`
	URL           string   `koanf:"url"`
	Program       string   `koanf:"program"`
	Args          []string `koanf:"args"`
}

// KeywordNudge maps a category's trigger keywords to the discovery
// queries synthesized on the agent's behalf (spec.md §4.6.1 step 2).
type KeywordNudge struct {
	Keywords         []string `koanf:"keywords"`
	DiscoveryQueries []string `koanf:"discovery_queries"`
}

// RouterConfig is the root config structure (spec.md §6's option table).
type RouterConfig struct {
	ExecutionModel        string                  `koanf:"execution_model"`
	EmbeddingModel        string                  `koanf:"embedding_model"`
	SimilarityThreshold   float64                 `koanf:"similarity_threshold"`
	RelativeScoreCutoff   float64                 `koanf:"relative_score_cutoff"`
	SearchTopK            int                     `koanf:"search_top_k"`
	DiscoverBindingK      int                     `koanf:"discover_binding_k"`
	MaxCacheSize          int                     `koanf:"max_cache_size"`
	PreloadCount          int                     `koanf:"preload_count"`
	MaxHistoryTurns       int                     `koanf:"max_history_turns"`
	MaxSteps              int                     `koanf:"max_steps"`
	HealthCooldownSeconds int                     `koanf:"health_cooldown_seconds"`
	DataDir               string                  `koanf:"data_dir"`
	KeywordNudge          map[string]KeywordNudge `koanf:"keyword_nudge"`
	Debug                 bool                    `koanf:"debug"`
	Models                map[string]ModelConfig  `koanf:"models"`
	Catalog               []CatalogEntry          `koanf:"catalog"`
}

func (c *RouterConfig) applyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.35
	}
	if c.RelativeScoreCutoff == 0 {
		c.RelativeScoreCutoff = 0.7
	}
	if c.DiscoverBindingK == 0 {
		c.DiscoverBindingK = 1
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 8
	}
	if c.HealthCooldownSeconds == 0 {
		c.HealthCooldownSeconds = 300
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.MaxHistoryTurns == 0 {
		c.MaxHistoryTurns = 20
	}
}

// Validate enforces the ConfigError cases spec.md §7 names (e.g. C = 0
// with preload > 0).
func (c *RouterConfig) Validate() error {
	if c.MaxCacheSize <= 0 {
		return moderr.New(moderr.KindConfig, false, fmt.Errorf("max_cache_size must be >= 1, got %d", c.MaxCacheSize))
	}
	if c.PreloadCount > c.MaxCacheSize {
		return moderr.New(moderr.KindConfig, false, fmt.Errorf("preload_count (%d) exceeds max_cache_size (%d)", c.PreloadCount, c.MaxCacheSize))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return moderr.New(moderr.KindConfig, false, fmt.Errorf("similarity_threshold must be in [0,1], got %f", c.SimilarityThreshold))
	}
	return nil
}

// HealthCooldown returns the configured cooldown as a time.Duration.
func (c *RouterConfig) HealthCooldown() time.Duration {
	return time.Duration(c.HealthCooldownSeconds) * time.Second
}

var (
	loadOnce sync.Once
	loaded   *RouterConfig
	loadErr  error
	watchMu  sync.Mutex
)

// Load loads configuration from path or default locations. Safe for
// repeated calls.
//
// Priority:
//  1. ROUTER_CONFIG_PATH if set
//  2. ./config.yaml
func Load() (*RouterConfig, error) {
	loadOnce.Do(func() {
		loaded, loadErr = loadOnceFrom(configPath())
		if loadErr == nil {
			watchForChanges(configPath())
		}
	})
	return loaded, loadErr
}

func configPath() string {
	path := os.Getenv("ROUTER_CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return path
}

func loadOnceFrom(path string) (*RouterConfig, error) {
	k := koanf.New(".")

	if err := k.Load(kfile.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}

	// Environment overrides: ROUTER__DATA_DIR=..., ROUTER__MODELS__gpt4o__api_key=...
	// Double underscore splits levels.
	if err := k.Load(kenv.Provider("ROUTER__", "__", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, err
	}

	var cfg RouterConfig
	if err := k.Unmarshal("router", &cfg); err != nil {
		return nil, err
	}

	resolveEnvVars(&cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// watchForChanges hot-reloads the keyword_nudge table when the config
// file changes on disk, via koanf's fsnotify-backed file watch. Only
// keyword_nudge is refreshed in place — every other field of
// RouterConfig is read once at startup and handed to components by
// value, consistent with spec.md's redesign note (§9) against
// process-wide mutable singletons: there is no global config object to
// invalidate, only this one live table.
func watchForChanges(path string) {
	provider := kfile.Provider(path)
	_ = provider.Watch(func(event interface{}, err error) {
		if err != nil {
			slog.Default().Warn("config watch error", "error", err)
			return
		}
		watchMu.Lock()
		defer watchMu.Unlock()
		fresh, reloadErr := loadOnceFrom(path)
		if reloadErr != nil {
			slog.Default().Warn("config reload failed, keeping previous keyword_nudge", "error", reloadErr)
			return
		}
		if loaded != nil {
			loaded.KeywordNudge = fresh.KeywordNudge
			slog.Default().Info("keyword_nudge table reloaded", "categories", len(fresh.KeywordNudge))
		}
	})
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveEnvVars resolves ${VAR} patterns in each model's api_key; no
// other field is substituted.
func resolveEnvVars(cfg *RouterConfig) {
	for key, model := range cfg.Models {
		model.APIKey = resolveEnvString(model.APIKey)
		cfg.Models[key] = model
	}
}

func resolveEnvString(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match
	})
}
