// Package history implements the Conversation History component
// (spec.md §4.5): an append-only message log per session with
// length-based checkpoint/rollback markers, kept deliberately opaque
// per spec.md §9's redesign note.
package history

import (
	"sync"

	"github.com/lizzyg/toolrouter/internal/core"
)

// Marker is an opaque checkpoint into a History. Its only legal use is
// as an argument to Rollback on the History that produced it.
type Marker int

// History is a per-session message log. Not safe to share across
// sessions; callers own one History per conversation.
type History struct {
	mu       sync.Mutex
	messages []core.Message
	maxTurns int
}

// New builds an empty History. maxTurns bounds how many user-initiated
// turns Trim retains; 0 means unbounded.
func New(maxTurns int) *History {
	return &History{maxTurns: maxTurns}
}

// Append adds msg to the end of the history.
func (h *History) Append(msg core.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// Messages returns a copy of the current message log, safe for the
// caller to hand to an AgentExecutor without further locking.
func (h *History) Messages() []core.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Checkpoint returns a Marker for the current length of the history.
func (h *History) Checkpoint() Marker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Marker(len(h.messages))
}

// Rollback truncates the history back to the state captured by m,
// discarding everything appended since. Rolling back to a marker
// larger than the current length is a no-op.
func (h *History) Rollback(m Marker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(m) < len(h.messages) {
		h.messages = h.messages[:m]
	}
}

// Trim keeps only the tail of the history needed to retain maxTurns
// user-initiated turns, preserving a leading system message if present.
// A no-op when maxTurns <= 0.
func (h *History) Trim() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxTurns <= 0 || len(h.messages) == 0 {
		return
	}

	var system *core.Message
	rest := h.messages
	if h.messages[0].Role == core.RoleSystem {
		m := h.messages[0]
		system = &m
		rest = h.messages[1:]
	}

	turns := 0
	cut := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Role == core.RoleUser {
			turns++
			if turns > h.maxTurns {
				break
			}
			cut = i
		}
	}
	rest = rest[cut:]

	if system != nil {
		h.messages = append([]core.Message{*system}, rest...)
	} else {
		h.messages = rest
	}
}

// Len returns the number of messages currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
