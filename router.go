// Package toolrouter implements the Smart Router: the component that
// keeps a bounded cache of live MCP server bindings warm, decides when
// to search the catalog for more of them, and drives an agent executor
// through a single conversational turn. It follows the teacher's
// router.go shape closely — an unexported router struct behind a
// functional-options constructor, returning the public Client
// interface — generalized from a chat-completion tool loop into the
// self-improving tool router spec.md describes.
package toolrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	moderr "github.com/lizzyg/toolrouter/errors"
	"github.com/lizzyg/toolrouter/internal/agent"
	"github.com/lizzyg/toolrouter/internal/cache"
	"github.com/lizzyg/toolrouter/internal/catalog"
	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/core"
	"github.com/lizzyg/toolrouter/internal/discovery"
	"github.com/lizzyg/toolrouter/internal/embedding"
	"github.com/lizzyg/toolrouter/internal/health"
	"github.com/lizzyg/toolrouter/internal/history"
	"github.com/lizzyg/toolrouter/internal/metrics"
	provfactory "github.com/lizzyg/toolrouter/internal/providers"
	mcphttp "github.com/lizzyg/toolrouter/internal/transport/http"
	"github.com/lizzyg/toolrouter/internal/transport/stdio"
)

const discoverToolName = "discover_tools"

type router struct {
	cfg          config.RouterConfig
	registry     *catalog.Registry
	cache        *cache.Cache
	health       *health.Tracker
	metricsStore *metrics.Store
	metricsPath  string
	executor     core.AgentExecutor
	discoveryEng discovery.Engine
	logger       *slog.Logger
	httpClient   *http.Client

	embedder core.EmbeddingProvider

	// nudgedCategories remembers which keyword_nudge categories this
	// process has already fired a discovery search for, so a long-lived
	// conversation does not re-run the same nudge search on every turn.
	nudgeMu          sync.Mutex
	nudgedCategories map[string]bool
}

// Option allows functional configuration, mirroring the teacher's
// Option pattern in router.go.
type Option func(*router)

// WithLogger sets a custom slog logger.
func WithLogger(l *slog.Logger) Option { return func(r *router) { r.logger = l } }

// WithHTTPClient sets a custom http.Client used for embedding calls,
// chat calls, and HTTP transport opens.
func WithHTTPClient(c *http.Client) Option { return func(r *router) { r.httpClient = c } }

// WithAgentExecutor overrides the reference internal/agent.Executor,
// e.g. to plug in a test double.
func WithAgentExecutor(e core.AgentExecutor) Option {
	return func(r *router) { r.executor = e }
}

// WithEmbeddingProvider overrides the embedding provider NewRouter
// would otherwise build from cfg.EmbeddingModel, e.g. to plug in a test
// double that does not make network calls.
func WithEmbeddingProvider(p core.EmbeddingProvider) Option {
	return func(r *router) { r.embedder = p }
}

// NewFromFile loads configuration via internal/config.Load and returns
// a ready-to-Initialize Client.
func NewFromFile() (Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewRouter(*cfg)
}

// NewRouter builds a Smart Router from cfg and options. Returns a
// *RouterError(KindConfig) if cfg is invalid or names an unknown
// model/provider. The returned Client is not usable until Initialize
// succeeds.
func NewRouter(cfg config.RouterConfig, opts ...Option) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &router{
		cfg:              cfg,
		logger:           slog.Default(),
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		nudgedCategories: make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}

	if r.embedder == nil {
		embedMC, ok := cfg.Models[cfg.EmbeddingModel]
		if !ok {
			return nil, moderr.New(moderr.KindConfig, false, fmt.Errorf("embedding_model %q not found in models", cfg.EmbeddingModel))
		}
		embedder, err := embedding.New(embedMC, r.httpClient)
		if err != nil {
			return nil, moderr.New(moderr.KindConfig, false, err)
		}
		r.embedder = embedder
	}

	entries := make([]core.ServerEntry, len(cfg.Catalog))
	for i, c := range cfg.Catalog {
		entries[i] = core.ServerEntry{
			Handle:      c.Handle,
			DisplayName: c.DisplayName,
			Category:    c.Category,
			Description: c.Description,
			Keywords:    c.Keywords,
			TransportSpec: core.TransportSpec{
				Kind:    c.TransportKind,
				URL:     c.URL,
				Program: c.Program,
				Args:    c.Args,
			},
		}
	}
	r.registry = catalog.New(entries, r.embedder, cfg.SimilarityThreshold, cfg.RelativeScoreCutoff, cfg.SearchTopK, r.logger)
	r.cache = cache.New(cfg.MaxCacheSize, r.logger)
	r.health = health.New(cfg.HealthCooldown())

	r.metricsPath = filepath.Join(cfg.DataDir, "usage.jsonl")
	store, err := metrics.Open(r.metricsPath, r.logger)
	if err != nil {
		return nil, moderr.New(moderr.KindMetricsWrite, true, err)
	}
	r.metricsStore = store

	transports := map[string]core.Transport{
		"http":  mcphttp.New(r.httpClient),
		"stdio": stdio.New(),
	}
	r.discoveryEng = discovery.New(r.registry, r.cache, r.health, transports, r.logger)

	if r.executor == nil {
		execMC, ok := cfg.Models[cfg.ExecutionModel]
		if !ok {
			return nil, moderr.New(moderr.KindConfig, false, fmt.Errorf("execution_model %q not found in models", cfg.ExecutionModel))
		}
		chatClient, err := provfactory.NewProviderClient(execMC, r.httpClient, r.logger)
		if err != nil {
			return nil, moderr.New(moderr.KindConfig, false, err)
		}
		r.executor = agent.New(chatClient, execMC.Model, r.logger)
	}

	return r, nil
}

// Initialize embeds the static catalog and preloads the cache with the
// top PreloadCount handles by historical success (spec.md §4.2/§4.4).
// An embedding provider failure is fatal and returned as-is
// (KindEmbeddingProvider, not recoverable); a preload open failure is
// logged and skipped, not marked unhealthy — the Open Question #3
// decision that preload and live discovery degrade differently, since
// a server absent at boot may simply not be running yet.
func (r *router) Initialize(ctx context.Context) error {
	if err := r.registry.Initialize(ctx); err != nil {
		return err
	}

	if r.cfg.PreloadCount <= 0 {
		return nil
	}

	events, err := metrics.Load(r.metricsPath, r.logger)
	if err != nil {
		r.logger.Warn("failed to load usage log for preload ranking", "error", err)
		events = nil
	}

	entriesByHandle := make(map[string]core.ServerEntry, len(r.registry.Entries()))
	for _, e := range r.registry.Entries() {
		entriesByHandle[e.Handle] = e
	}

	top := metrics.RankTop(events, r.cfg.PreloadCount, r.registry.Handles())
	transports := map[string]core.Transport{
		"http":  mcphttp.New(r.httpClient),
		"stdio": stdio.New(),
	}
	for _, handle := range top {
		entry, ok := entriesByHandle[handle]
		if !ok {
			continue
		}
		transport, ok := transports[entry.TransportSpec.Kind]
		if !ok {
			r.logger.Warn("preload: no transport registered for kind", "handle", handle, "kind", entry.TransportSpec.Kind)
			continue
		}
		binding, err := transport.Open(ctx, entry.TransportSpec)
		if err != nil {
			r.logger.Warn("preload: failed to open server, skipping", "handle", handle, "error", err)
			continue
		}
		binding.Handle = handle
		discovery.QualifyTools(binding)
		r.cache.Insert(handle, binding)
	}
	return nil
}

// NewSession satisfies Client.
func (r *router) NewSession() *Session {
	return history.New(r.cfg.MaxHistoryTurns)
}

// HandleTurn runs handle_turn (spec.md §4.6.1): append the user
// message, apply the eager keyword nudge, assemble the current
// toolset, drive the agent executor, then record success/failure
// metrics and update health before appending the assistant's reply.
//
// A failed turn must leave no trace: history is checkpointed before
// the user message is appended and rolled back on failure (P5), and
// any handle discover_tools bound into the cache during this turn gets
// evicted and marked unhealthy rather than the whole cache (P4) — step
// 6's selective-eviction rationale is what makes a single flaky server
// mid-turn non-catastrophic for the rest of the toolset.
func (r *router) HandleTurn(ctx context.Context, session *Session, userText string) (string, error) {
	pre := session.Checkpoint()
	preHandles := make(map[string]bool)
	for _, h := range r.cache.Handles() {
		preHandles[h] = true
	}

	session.Append(core.Message{Role: core.RoleUser, Content: userText})

	r.maybeNudge(ctx, userText)

	tools := r.assembleTools()
	result, err := r.executor.Run(ctx, session.Messages(), tools, r.cfg.MaxSteps)
	if err != nil {
		session.Rollback(pre)
		r.failNewHandles(preHandles)
		return "", wrapExecutorError(err)
	}

	now := time.Now().Unix()
	for _, handle := range result.TouchedHandles {
		r.cache.Touch(handle)
		r.metricsStore.Log(now, handle, metrics.OutcomeSuccess)
		r.health.MarkOK(handle)
	}

	session.Append(core.Message{Role: core.RoleAssistant, Content: result.FinalText})
	session.Trim()
	return result.FinalText, nil
}

// failNewHandles evicts and marks unhealthy every cache handle that
// was not present in preHandles — i.e. every binding discover_tools
// bound in during the turn that just failed — and logs a failure event
// for each (spec.md §4.6.1 step 6).
func (r *router) failNewHandles(preHandles map[string]bool) {
	now := time.Now().Unix()
	for _, handle := range r.cache.Handles() {
		if preHandles[handle] {
			continue
		}
		binding, ok := r.cache.Evict(handle)
		if ok && binding != nil && binding.Connection != nil {
			if err := binding.Connection.Close(); err != nil {
				r.logger.Warn("failed to close evicted binding connection", "handle", handle, "error", err)
			}
		}
		r.health.MarkFail(handle)
		r.metricsStore.Log(now, handle, metrics.OutcomeFailure)
	}
}

// wrapExecutorError propagates the inner *RouterError's Recoverable
// flag instead of hardcoding one, so callers can tell a transient
// model/tool failure (recoverable) from a step-budget or contract
// violation (not) per spec.md §7.
func wrapExecutorError(err error) error {
	var rerr *moderr.RouterError
	if errors.As(err, &rerr) {
		return moderr.New(moderr.KindAgentExecutor, rerr.Recoverable, err)
	}
	return moderr.New(moderr.KindAgentExecutor, false, err)
}

// maybeNudge fires a discovery search for every keyword_nudge category
// whose trigger keywords appear in userText and that has not already
// been searched this process (spec.md §4.6.1 step 2). Nudge failures
// are absorbed by discovery.Engine.Search itself.
func (r *router) maybeNudge(ctx context.Context, userText string) {
	lower := strings.ToLower(userText)

	r.nudgeMu.Lock()
	var toFire []config.KeywordNudge
	for category, nudge := range r.cfg.KeywordNudge {
		if r.nudgedCategories[category] {
			continue
		}
		for _, kw := range nudge.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				r.nudgedCategories[category] = true
				toFire = append(toFire, nudge)
				break
			}
		}
	}
	r.nudgeMu.Unlock()

	for _, nudge := range toFire {
		if _, err := r.discoveryEng.Search(ctx, nudge.DiscoveryQueries, r.cfg.DiscoverBindingK); err != nil {
			r.logger.Warn("keyword nudge search failed", "error", err)
		}
	}
}

// assembleTools gathers every tool on a currently cached binding plus
// the discover_tools meta-tool, in cache MRU order. It reads via Peek,
// not Get: listing a binding's tools for this turn is not itself a
// touch, and touching every cached handle on every turn would invert
// the LRU order regardless of what the agent actually invoked (P2).
func (r *router) assembleTools() []core.ToolDescriptor {
	var tools []core.ToolDescriptor
	for _, handle := range r.cache.Handles() {
		binding, ok := r.cache.Peek(handle)
		if !ok {
			continue
		}
		tools = append(tools, binding.Tools...)
	}
	tools = append(tools, r.discoverToolsDescriptor())
	return tools
}

// discoverToolsDescriptor builds the discover_tools meta-tool the
// agent executor can call to search the catalog and bind new servers
// mid-turn (spec.md §4.6.1).
func (r *router) discoverToolsDescriptor() core.ToolDescriptor {
	var schema map[string]any
	if err := json.Unmarshal([]byte(catalog.DiscoverToolsSchema()), &schema); err != nil {
		r.logger.Error("failed to parse discover_tools schema", "error", err)
		schema = map[string]any{"type": "object"}
	}
	return core.ToolDescriptor{
		Name:        discoverToolName,
		Description: "Search for additional tool servers by natural-language capability description and bind the best matches into the active toolset.",
		Schema:      schema,
		Invoke: func(ctx context.Context, args []byte) (any, error) {
			var a catalog.DiscoverToolsArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, err
				}
			}
			hits, err := r.discoveryEng.Search(ctx, a.Queries, r.cfg.DiscoverBindingK)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, len(hits))
			for i, h := range hits {
				out[i] = map[string]any{
					"handle":       h.Handle,
					"display_name": h.DisplayName,
					"description":  h.Description,
					"score":        h.Score,
				}
			}
			return map[string]any{"discovered": out}, nil
		},
	}
}

// CacheContents satisfies Client.
func (r *router) CacheContents() []string {
	return r.cache.Handles()
}

// HealthSnapshot satisfies Client.
func (r *router) HealthSnapshot() map[string]HealthRecord {
	return r.health.Snapshot()
}

// Shutdown satisfies Client.
func (r *router) Shutdown() error {
	r.cache.ReleaseAll()
	return r.metricsStore.Close()
}
