// Package core holds the value types and ports shared by the router
// and its collaborators: the catalog, the cache, health, metrics,
// history, and the external embedding provider / agent executor /
// transport the router consumes. It is the domain analog of the
// teacher's internal/core (RawClient/CallParams/RawResponse) package —
// types everyone shares, owned by no one component.
package core

import "context"

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation history.
type Message struct {
	Role    Role
	Content string
}

// TransportSpec is an opaque blob consumed only by the transport
// layer: either an HTTP/SSE URL or a stdio program + args. The router
// never inspects it beyond handing it to Transport.Open.
type TransportSpec struct {
	Kind    string // "http" or "stdio"
	URL     string
	Program string
	Args    []string
}

// ServerEntry is a static catalog record. Immutable after construction;
// handle is unique within the registry.
type ServerEntry struct {
	Handle        string
	DisplayName   string
	Category      string
	Description   string
	Keywords      []string
	TransportSpec TransportSpec
}

// EmbeddingText is the exact concatenation Registry.Initialize embeds,
// per spec: name + ". " + description + " keywords: " + joined keywords.
func (e ServerEntry) EmbeddingText() string {
	text := e.DisplayName + ". " + e.Description + " keywords: "
	for i, k := range e.Keywords {
		if i > 0 {
			text += " "
		}
		text += k
	}
	return text
}

// Vector is a fixed-dimension embedding.
type Vector []float32

// EmbeddedEntry augments a ServerEntry with its embedding vector.
// Computed once at registry initialization and never mutated.
type EmbeddedEntry struct {
	ServerEntry
	Vector Vector
}

// ToolDescriptor is a single callable tool exposed to the agent
// executor, always attached to a Binding (or, for discover_tools, to
// the router itself).
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Invoke      func(ctx context.Context, args []byte) (any, error)
}

// Closer releases whatever resource an active binding's connection
// holds. Transport connections satisfy it trivially via io.Closer;
// it is spelled out here so the cache package does not need to import
// a transport package to release one.
type Closer interface {
	Close() error
}

// Binding is a live connection to a server plus the tools it exposes —
// the runtime-only counterpart of a ServerEntry.
type Binding struct {
	Handle     string
	Connection Closer
	Tools      []ToolDescriptor
}

// EmbeddingProvider is the external collaborator used for semantic
// search. Errors are retried zero times by the router; callers that
// want retries wrap their own provider implementation (see
// internal/transport/http's use of internal/providers/retry, which
// retries transport opens instead, a different call site).
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// Transport turns a TransportSpec into a live Binding.
type Transport interface {
	Open(ctx context.Context, spec TransportSpec) (*Binding, error)
}

// AgentResult is what AgentExecutor.Run returns on success.
type AgentResult struct {
	FinalText string
	// TouchedHandles are the server handles whose tools were actually
	// invoked during the run, grouped back from individual tool calls.
	// See DESIGN.md's Open Question decision #1 for what "touched" means.
	TouchedHandles []string
}

// AgentExecutor is the ReAct-style LLM runtime the router drives. It
// is external per spec.md §1; the router only calls Run.
type AgentExecutor interface {
	Run(ctx context.Context, messages []Message, tools []ToolDescriptor, maxSteps int) (AgentResult, error)
}
