// Package discovery defines the narrow port the discover_tools
// meta-tool is built against, so it depends on the three collaborators
// it actually needs (catalog search, cache insertion, health marking)
// rather than the router's whole surface (spec.md §9's redesign note).
package discovery

import "context"

// Hit describes one discovered, newly-bound server: its handle, name,
// description and match score. It carries no ToolDescriptors; the bound
// server's tools are inserted into the cache and are not added to the
// toolset of the turn already in progress, only offered from the cache
// on later turns.
type Hit struct {
	Handle      string
	DisplayName string
	Description string
	Score       float64
}

// Engine is implemented by Adapter and used by the router's
// discover_tools meta-tool.
// Search finds and opens up to k matching, healthy, not-yet-cached
// servers for the given natural-language queries, returning what was
// successfully bound. Failed opens are marked unhealthy internally and
// simply omitted from the result, never surfaced as an error — a
// partial discovery result is still useful to the agent.
type Engine interface {
	Search(ctx context.Context, queries []string, k int) ([]Hit, error)
}
