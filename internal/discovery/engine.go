package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lizzyg/toolrouter/internal/cache"
	"github.com/lizzyg/toolrouter/internal/catalog"
	"github.com/lizzyg/toolrouter/internal/core"
	"github.com/lizzyg/toolrouter/internal/health"
)

// Adapter implements Engine over the three collaborators discover_tools
// actually needs, so it never sees the router's full surface.
type Adapter struct {
	registry   *catalog.Registry
	cache      *cache.Cache
	health     *health.Tracker
	transports map[string]core.Transport
	logger     *slog.Logger
}

// New builds an Adapter. transports maps a core.TransportSpec.Kind
// ("http", "stdio") to the Transport that handles it.
func New(registry *catalog.Registry, c *cache.Cache, h *health.Tracker, transports map[string]core.Transport, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{registry: registry, cache: c, health: h, transports: transports, logger: logger}
}

// Search finds up to k matching, healthy, not-already-cached servers
// for queries, opens each one via its transport, caches the resulting
// Binding, and returns a Hit for every one that opened successfully.
// Opens that fail are logged and marked unhealthy, not surfaced as an
// error — spec.md treats a partial discovery result as still useful.
func (a *Adapter) Search(ctx context.Context, queries []string, k int) ([]Hit, error) {
	excluded := make(map[string]bool)
	for _, h := range a.cache.Handles() {
		excluded[h] = true
	}

	results, err := a.registry.Search(ctx, queries, excluded, a.health.IsHealthy)
	if err != nil {
		a.logger.Warn("discovery search failed", "error", err)
		return nil, nil
	}

	hits := make([]Hit, 0, k)
	for _, r := range results {
		if len(hits) >= k {
			break
		}
		transport, ok := a.transports[r.Entry.TransportSpec.Kind]
		if !ok {
			a.logger.Warn("discovery: no transport registered for kind", "handle", r.Entry.Handle, "kind", r.Entry.TransportSpec.Kind)
			continue
		}
		binding, err := transport.Open(ctx, r.Entry.TransportSpec)
		if err != nil {
			a.logger.Warn("discovery: failed to open server", "handle", r.Entry.Handle, "error", err)
			a.health.MarkFail(r.Entry.Handle)
			continue
		}
		binding.Handle = r.Entry.Handle
		QualifyTools(binding)
		a.cache.Insert(r.Entry.Handle, binding)
		a.health.MarkOK(r.Entry.Handle)
		hits = append(hits, Hit{
			Handle:      r.Entry.Handle,
			DisplayName: r.Entry.DisplayName,
			Description: r.Entry.Description,
			Score:       r.Score,
		})
	}
	return hits, nil
}

// QualifyTools prefixes each tool's name with its owning handle
// ("handle.tool"), the naming convention internal/agent's reference
// executor relies on to recover TouchedHandles from tool calls without
// a back-reference to the cache. Exported so the router can apply the
// same convention to bindings it opens directly during cache preload.
func QualifyTools(b *core.Binding) {
	for i, t := range b.Tools {
		if t.Name == "" {
			continue
		}
		b.Tools[i].Name = fmt.Sprintf("%s.%s", b.Handle, t.Name)
	}
}
