// Package catalog implements the Catalog Registry: the static list of
// known MCP servers, their embeddings, and semantic search over them
// (spec.md §4.1). Entries are embedded once at Initialize and never
// mutated afterward — Search only reads.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/mitchellh/copystructure"

	moderr "github.com/lizzyg/toolrouter/errors"
	"github.com/lizzyg/toolrouter/internal/core"
)

// Registry holds the static server catalog plus its embeddings.
type Registry struct {
	entries             []core.EmbeddedEntry
	provider            core.EmbeddingProvider
	logger              *slog.Logger
	similarityThreshold float64
	relativeCutoff      float64
	topK                int
}

// New builds a Registry from the given static entries. Initialize must
// be called once before Search is used.
func New(entries []core.ServerEntry, provider core.EmbeddingProvider, similarityThreshold, relativeCutoff float64, topK int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	embedded := make([]core.EmbeddedEntry, len(entries))
	for i, e := range entries {
		embedded[i] = core.EmbeddedEntry{ServerEntry: e}
	}
	return &Registry{
		entries:             embedded,
		provider:            provider,
		logger:              logger,
		similarityThreshold: similarityThreshold,
		relativeCutoff:      relativeCutoff,
		topK:                topK,
	}
}

// Initialize batch-embeds every entry's EmbeddingText through the
// configured EmbeddingProvider. A provider failure here is fatal at
// startup (spec.md §7: KindEmbeddingProvider, not recoverable).
func (r *Registry) Initialize(ctx context.Context) error {
	if len(r.entries) == 0 {
		return nil
	}
	texts := make([]string, len(r.entries))
	for i, e := range r.entries {
		texts[i] = e.EmbeddingText()
	}
	vectors, err := r.provider.Embed(ctx, texts)
	if err != nil {
		return moderr.New(moderr.KindEmbeddingProvider, false, fmt.Errorf("embed catalog: %w", err))
	}
	if len(vectors) != len(r.entries) {
		return moderr.New(moderr.KindEmbeddingProvider, false,
			fmt.Errorf("embedding provider returned %d vectors for %d entries", len(vectors), len(r.entries)))
	}
	for i, v := range vectors {
		r.entries[i].Vector = v
	}
	r.logger.Info("catalog initialized", "entries", len(r.entries))
	return nil
}

// Entries returns every catalog entry in static, insertion order.
func (r *Registry) Entries() []core.ServerEntry {
	out := make([]core.ServerEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.ServerEntry
	}
	return out
}

// Handles returns every catalog handle in static, insertion order —
// used by internal/metrics.RankTop for preload tie-breaking.
func (r *Registry) Handles() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Handle
	}
	return out
}

// SearchResult is one ranked catalog hit.
type SearchResult struct {
	Entry core.ServerEntry
	Score float64
}

// Search embeds each query, scores every unexcluded, healthy entry by
// its best (max) cosine similarity across the queries, and returns the
// entries clearing both the absolute similarity threshold and the
// relative cutoff against the top score, sorted by descending score
// (stable on catalog insertion order for ties), truncated to topK.
func (r *Registry) Search(ctx context.Context, queries []string, excluded map[string]bool, healthy func(handle string) bool) ([]SearchResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	queryVectors, err := r.provider.Embed(ctx, queries)
	if err != nil {
		return nil, moderr.New(moderr.KindEmbeddingProvider, false, fmt.Errorf("embed queries: %w", err))
	}

	type scored struct {
		idx   int
		entry core.ServerEntry
		score float64
	}
	var candidates []scored
	for i, e := range r.entries {
		if excluded != nil && excluded[e.Handle] {
			continue
		}
		if healthy != nil && !healthy(e.Handle) {
			continue
		}
		best := -1.0
		for _, qv := range queryVectors {
			s := cosineSimilarity(e.Vector, qv)
			if s > best {
				best = s
			}
		}
		if best < r.similarityThreshold {
			continue
		}
		candidates = append(candidates, scored{idx: i, entry: e.ServerEntry, score: best})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].idx < candidates[j].idx
	})

	topScore := candidates[0].score
	cutoff := topScore * r.relativeCutoff

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.score < cutoff {
			continue
		}
		entryCopy, err := deepCopyEntry(c.entry)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Entry: entryCopy, Score: c.score})
		if r.topK > 0 && len(results) >= r.topK {
			break
		}
	}
	return results, nil
}

// deepCopyEntry defensively copies a ServerEntry so a caller mutating
// the returned result (e.g. to attach a live connection) cannot corrupt
// the registry's own copy. Grounded on the teacher's use of
// copystructure nowhere directly, but matching its general caution
// around shared mutable state in router.go; copystructure is used here
// instead of a hand-rolled deep copy because ServerEntry carries
// nested slices (Keywords, TransportSpec.Args) that a shallow copy
// would still share.
func deepCopyEntry(e core.ServerEntry) (core.ServerEntry, error) {
	copied, err := copystructure.Copy(e)
	if err != nil {
		return core.ServerEntry{}, fmt.Errorf("copy catalog entry: %w", err)
	}
	out, ok := copied.(core.ServerEntry)
	if !ok {
		return core.ServerEntry{}, fmt.Errorf("copy catalog entry: unexpected type %T", copied)
	}
	return out, nil
}

func cosineSimilarity(a, b core.Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
