package toolrouter

import (
	"context"
	"errors"
	"testing"

	moderr "github.com/lizzyg/toolrouter/errors"
	"github.com/lizzyg/toolrouter/internal/config"
	"github.com/lizzyg/toolrouter/internal/core"
	"github.com/lizzyg/toolrouter/internal/metrics"
)

// fakeEmbedder returns a constant vector for every text, enough for
// Registry.Initialize to succeed without a network call.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([]core.Vector, error) {
	out := make([]core.Vector, len(texts))
	for i := range texts {
		out[i] = core.Vector{1, 0}
	}
	return out, nil
}

// fakeExecutor is a scripted core.AgentExecutor: each call to Run pops
// the next queued result or error. onRun, if set, runs before the
// queued outcome is returned — tests use it to simulate discover_tools
// binding a new handle into the cache mid-turn, the way the real
// executor's tool loop would have before ultimately failing.
type fakeExecutor struct {
	results []core.AgentResult
	errs    []error
	calls   int
	lastN   int // len(tools) seen on the last call
	onRun   func()
}

func (f *fakeExecutor) Run(ctx context.Context, messages []core.Message, tools []core.ToolDescriptor, maxSteps int) (core.AgentResult, error) {
	f.calls++
	f.lastN = len(tools)
	if f.onRun != nil {
		f.onRun()
	}
	var res core.AgentResult
	var err error
	if len(f.results) > 0 {
		res, f.results = f.results[0], f.results[1:]
	}
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	return res, err
}

// fakeConn is a no-op core.Closer that records whether it was closed.
type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func testConfig() config.RouterConfig {
	return config.RouterConfig{
		ExecutionModel:      "gpt4o",
		EmbeddingModel:      "embed",
		SimilarityThreshold: 0.1,
		RelativeScoreCutoff: 0.01,
		SearchTopK:          5,
		DiscoverBindingK:    1,
		MaxCacheSize:        4,
		PreloadCount:        0,
		MaxHistoryTurns:     20,
		MaxSteps:            8,
		Models: map[string]config.ModelConfig{
			"gpt4o": {Provider: "openai", Model: "gpt-4o"},
			"embed": {Provider: "openai", Model: "text-embedding-3-small"},
		},
	}
}

func newTestRouterClient(t *testing.T, exec *fakeExecutor) *router {
	t.Helper()
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	c, err := NewRouter(cfg, WithAgentExecutor(exec), WithEmbeddingProvider(fakeEmbedder{}))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	r := c.(*router)
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r
}

func TestHandleTurnReturnsFinalTextAndAppendsHistory(t *testing.T) {
	exec := &fakeExecutor{results: []core.AgentResult{{FinalText: "hello there"}}}
	r := newTestRouterClient(t, exec)
	session := r.NewSession()

	out, err := r.HandleTurn(context.Background(), session, "hi")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", out)
	}
	msgs := session.Messages()
	if len(msgs) != 2 || msgs[0].Role != core.RoleUser || msgs[1].Role != core.RoleAssistant {
		t.Fatalf("expected [user, assistant], got %+v", msgs)
	}
}

func TestHandleTurnWrapsExecutorErrorAsAgentExecutorKind(t *testing.T) {
	exec := &fakeExecutor{errs: []error{errors.New("model unavailable")}}
	r := newTestRouterClient(t, exec)
	session := r.NewSession()

	_, err := r.HandleTurn(context.Background(), session, "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var rerr *moderr.RouterError
	if !errors.As(err, &rerr) || rerr.Kind != moderr.KindAgentExecutor {
		t.Fatalf("expected KindAgentExecutor, got %v", err)
	}
}

func TestHandleTurnPropagatesRecoverableFromInnerError(t *testing.T) {
	inner := moderr.New(moderr.KindAgentExecutor, true, errors.New("model call timed out"))
	exec := &fakeExecutor{errs: []error{inner}}
	r := newTestRouterClient(t, exec)
	session := r.NewSession()

	_, err := r.HandleTurn(context.Background(), session, "hi")
	var rerr *moderr.RouterError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RouterError, got %v", err)
	}
	if !rerr.Recoverable {
		t.Fatalf("expected Recoverable to propagate as true, got false")
	}
}

func TestHandleTurnRollsBackHistoryAndEvictsNewHandlesOnFailure(t *testing.T) {
	conn := &fakeConn{}
	binding := &core.Binding{Handle: "broken-srv", Connection: conn, Tools: []core.ToolDescriptor{{Name: "broken-srv.ping"}}}

	exec := &fakeExecutor{errs: []error{errors.New("model unavailable")}}
	r := newTestRouterClient(t, exec)
	exec.onRun = func() {
		// Simulate discover_tools binding a new server mid-turn,
		// just before the overall turn goes on to fail.
		r.cache.Insert("broken-srv", binding)
	}

	session := r.NewSession()
	session.Append(core.Message{Role: core.RoleSystem, Content: "you are a helpful assistant"})
	preLen := session.Len()

	_, err := r.HandleTurn(context.Background(), session, "hi")
	if err == nil {
		t.Fatal("expected error")
	}

	if got := session.Len(); got != preLen {
		t.Fatalf("expected history rolled back to %d messages, got %d", preLen, got)
	}

	for _, h := range r.CacheContents() {
		if h == "broken-srv" {
			t.Fatal("expected broken-srv evicted from cache after failure")
		}
	}
	if !conn.closed {
		t.Fatal("expected evicted binding's connection to be closed")
	}

	snap := r.HealthSnapshot()
	if _, ok := snap["broken-srv"]; !ok {
		t.Fatal("expected broken-srv marked unhealthy after failure")
	}

	if err := r.metricsStore.Close(); err != nil {
		t.Fatalf("close metrics: %v", err)
	}
	events, err := metrics.Load(r.metricsPath, nil)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Handle == "broken-srv" && e.Outcome == metrics.OutcomeFailure {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a failure event logged for broken-srv, got %+v", events)
	}
}

func TestHandleTurnFailureDoesNotEvictPreExistingHandles(t *testing.T) {
	conn := &fakeConn{}
	binding := &core.Binding{Handle: "stable-srv", Connection: conn, Tools: []core.ToolDescriptor{{Name: "stable-srv.ping"}}}

	exec := &fakeExecutor{errs: []error{errors.New("model unavailable")}}
	r := newTestRouterClient(t, exec)
	r.cache.Insert("stable-srv", binding)

	session := r.NewSession()
	if _, err := r.HandleTurn(context.Background(), session, "hi"); err == nil {
		t.Fatal("expected error")
	}

	stillPresent := false
	for _, h := range r.CacheContents() {
		if h == "stable-srv" {
			stillPresent = true
		}
	}
	if !stillPresent {
		t.Fatal("expected pre-existing handle to survive a failed turn")
	}
	if conn.closed {
		t.Fatal("expected pre-existing handle's connection to stay open")
	}
}

func TestHandleTurnLogsSuccessMetricsForTouchedHandles(t *testing.T) {
	exec := &fakeExecutor{results: []core.AgentResult{{FinalText: "done", TouchedHandles: []string{"weather"}}}}
	r := newTestRouterClient(t, exec)
	session := r.NewSession()

	if _, err := r.HandleTurn(context.Background(), session, "what's the weather"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if err := r.metricsStore.Close(); err != nil {
		t.Fatalf("close metrics: %v", err)
	}
	events, err := metrics.Load(r.metricsPath, nil)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 || events[0].Handle != "weather" {
		t.Fatalf("expected one success event for weather, got %+v", events)
	}
}

func TestAssembleToolsAlwaysIncludesDiscoverTools(t *testing.T) {
	exec := &fakeExecutor{results: []core.AgentResult{{FinalText: "ok"}}}
	r := newTestRouterClient(t, exec)

	tools := r.assembleTools()
	found := false
	for _, tl := range tools {
		if tl.Name == discoverToolName {
			found = true
		}
	}
	if !found {
		t.Fatal("expected discover_tools to always be present")
	}
}

func TestAssembleToolsDoesNotDisturbCacheMRUOrder(t *testing.T) {
	exec := &fakeExecutor{results: []core.AgentResult{{FinalText: "ok"}}}
	r := newTestRouterClient(t, exec)
	r.cache.Insert("a", &core.Binding{Handle: "a", Connection: &fakeConn{}})
	r.cache.Insert("b", &core.Binding{Handle: "b", Connection: &fakeConn{}})

	before := r.cache.Handles()
	_ = r.assembleTools()
	_ = r.assembleTools()
	after := r.cache.Handles()

	if len(before) != len(after) {
		t.Fatalf("expected same handle count, got %v vs %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("expected assembleTools to leave MRU order untouched, got %v then %v", before, after)
		}
	}
}

func TestHandleTurnTouchesOnlyActuallyTouchedHandles(t *testing.T) {
	exec := &fakeExecutor{results: []core.AgentResult{{FinalText: "ok", TouchedHandles: []string{"b"}}}}
	r := newTestRouterClient(t, exec)
	r.cache.Insert("b", &core.Binding{Handle: "b", Connection: &fakeConn{}})
	r.cache.Insert("a", &core.Binding{Handle: "a", Connection: &fakeConn{}})

	session := r.NewSession()
	if _, err := r.HandleTurn(context.Background(), session, "hi"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	// b was touched, so it must now be MRU (first in Handles()).
	handles := r.cache.Handles()
	if len(handles) == 0 || handles[0] != "b" {
		t.Fatalf("expected touched handle b to be most-recently-used, got %v", handles)
	}
}

func TestCacheContentsEmptyWithoutPreload(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRouterClient(t, exec)
	if got := r.CacheContents(); len(got) != 0 {
		t.Fatalf("expected empty cache, got %v", got)
	}
}

func TestShutdownClosesMetricsStore(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRouterClient(t, exec)
	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewRouterRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCacheSize = 0
	if _, err := NewRouter(cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestNewRouterRejectsUnknownExecutionModel(t *testing.T) {
	cfg := testConfig()
	cfg.ExecutionModel = "does-not-exist"
	if _, err := NewRouter(cfg, WithEmbeddingProvider(fakeEmbedder{})); err == nil {
		t.Fatal("expected error for unknown execution_model")
	}
}
