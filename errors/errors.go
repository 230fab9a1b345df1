// Package errors defines the router's error taxonomy.
//
// The router surfaces exactly one error kind to handle_turn callers
// (KindAgentExecutor); every other kind is absorbed or logged inside
// the router and never escapes it. See RouterError.Recoverable for how
// callers should decide whether to retry.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the taxonomy a RouterError belongs to.
type Kind string

const (
	// KindEmbeddingProvider is raised by the embedding provider. Fatal at
	// startup (Registry.Initialize); caught and logged inside discover_tools,
	// which returns an empty result list to the agent instead.
	KindEmbeddingProvider Kind = "embedding_provider"
	// KindTransportOpen is raised when a server binding could not be opened.
	KindTransportOpen Kind = "transport_open"
	// KindAgentExecutor is raised when the agent executor fails, times out,
	// or exceeds its step budget. The only kind surfaced to handle_turn callers.
	KindAgentExecutor Kind = "agent_executor"
	// KindCacheFull is never actually surfaced; LRU eviction is always
	// possible once capacity is at least 1. Kept for completeness of the
	// taxonomy; a zero capacity is rejected as KindConfig instead.
	KindCacheFull Kind = "cache_full"
	// KindMetricsWrite is raised when appending to the usage metrics file
	// fails. Logged; never fails a turn.
	KindMetricsWrite Kind = "metrics_write"
	// KindConfig is raised for invalid startup configuration.
	KindConfig Kind = "config"
)

// Sentinel errors, one per kind, so callers can errors.Is against a
// stable value in addition to inspecting RouterError.Kind.
var (
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrTransportOpen     = errors.New("transport open error")
	ErrAgentExecutor     = errors.New("agent executor error")
	ErrCacheFull         = errors.New("cache full")
	ErrMetricsWrite      = errors.New("metrics write error")
	ErrConfig            = errors.New("invalid router configuration")

	// Carried over from the teacher's chat-routing taxonomy.
	// ErrMaxToolTurns is returned by internal/agent's reference executor
	// and ErrUnknownProvider by the internal/embedding and
	// internal/providers factories; ErrUnknownTool and ErrNoMatchingModel
	// are not returned anywhere in this module.
	ErrUnknownTool     = errors.New("unknown tool requested")
	ErrNoMatchingModel = errors.New("no matching model found")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMaxToolTurns    = errors.New("max tool turns exceeded")
)

var sentinelByKind = map[Kind]error{
	KindEmbeddingProvider: ErrEmbeddingProvider,
	KindTransportOpen:     ErrTransportOpen,
	KindAgentExecutor:     ErrAgentExecutor,
	KindCacheFull:         ErrCacheFull,
	KindMetricsWrite:      ErrMetricsWrite,
	KindConfig:            ErrConfig,
}

// RouterError wraps an underlying error with a stable Kind and a
// Recoverable flag, the same wrap-with-typed-fields shape as the
// teacher's retry.HTTPStatusError.
type RouterError struct {
	Kind        Kind
	Recoverable bool
	Err         error
}

func (e *RouterError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, errors.ErrAgentExecutor) succeed against a
// *RouterError of the matching kind even when Err is a different
// underlying cause.
func (e *RouterError) Is(target error) bool {
	sentinel, ok := sentinelByKind[e.Kind]
	return ok && sentinel == target
}

// New builds a RouterError of the given kind wrapping cause.
func New(kind Kind, recoverable bool, cause error) *RouterError {
	return &RouterError{Kind: kind, Recoverable: recoverable, Err: cause}
}
