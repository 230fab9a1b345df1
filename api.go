package toolrouter

import (
	"context"

	"github.com/lizzyg/toolrouter/internal/health"
	"github.com/lizzyg/toolrouter/internal/history"
)

// Session is a per-conversation message log. Callers get one from
// Client.NewSession and pass it to every HandleTurn call for that
// conversation; it is not safe to share across concurrent conversations.
type Session = history.History

// HealthRecord mirrors internal/health.Record for callers that want to
// inspect cooldown state without importing an internal package.
type HealthRecord = health.Record

// Client is the only type applications use: the Smart Router's public
// surface. The only error kind HandleTurn returns to a caller is
// errors.KindAgentExecutor; every other failure kind is absorbed,
// logged, or turned into a degraded (but still useful) result inside
// the router itself.
type Client interface {
	// Initialize embeds the static catalog and preloads the cache from
	// the usage log. Must be called once before HandleTurn.
	Initialize(ctx context.Context) error

	// NewSession allocates an empty conversation history sized per the
	// router's configured max_history_turns.
	NewSession() *Session

	// HandleTurn runs one user turn to completion: it assembles the
	// current toolset (cached bindings plus discover_tools), applies
	// the eager keyword nudge, drives the agent executor, and performs
	// the post-turn cache/health/metrics bookkeeping.
	HandleTurn(ctx context.Context, session *Session, userText string) (string, error)

	// CacheContents returns the currently cached server handles,
	// most-recently-used first.
	CacheContents() []string

	// HealthSnapshot returns a copy of every tracked health record, for
	// observability.
	HealthSnapshot() map[string]HealthRecord

	// Shutdown releases every cached binding's connection and flushes
	// the usage metrics log. Call once, when the process is exiting.
	Shutdown() error
}
