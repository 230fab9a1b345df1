// Package health implements the Health Tracker: a fixed-cooldown record
// of which server handles have recently failed to open, or were bound
// during a turn that then failed (spec.md §4.3).
// It deliberately does not do exponential backoff or circuit-breaker
// state machines — just a single cooldown window per handle, per
// spec.md §9's redesign note against over-engineering this component.
package health

import (
	"sync"
	"time"
)

// Record tracks one handle's recent open failures.
type Record struct {
	ConsecutiveFailures int
	LastFailureTime     time.Time
	CooldownUntil       time.Time
}

// Tracker guards a map of handle -> Record behind a single mutex,
// mirroring the teacher's router.mu single-lock-around-shared-state
// style.
type Tracker struct {
	mu       sync.Mutex
	records  map[string]Record
	cooldown time.Duration
	now      func() time.Time
}

// New builds a Tracker with the given cooldown window.
func New(cooldown time.Duration) *Tracker {
	return &Tracker{
		records:  make(map[string]Record),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// IsHealthy reports whether handle is currently usable: it is healthy
// if it has no record, or its cooldown window has elapsed.
func (t *Tracker) IsHealthy(handle string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[handle]
	if !ok {
		return true
	}
	return !t.now().Before(rec.CooldownUntil)
}

// MarkOK clears any failure record for handle.
func (t *Tracker) MarkOK(handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, handle)
}

// MarkFail records a failure for handle and starts (or restarts) its
// cooldown window.
func (t *Tracker) MarkFail(handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.records[handle]
	rec.ConsecutiveFailures++
	rec.LastFailureTime = t.now()
	rec.CooldownUntil = rec.LastFailureTime.Add(t.cooldown)
	t.records[handle] = rec
}

// FilterHealthy returns the subset of handles that are currently
// healthy, preserving input order.
func (t *Tracker) FilterHealthy(handles []string) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		if t.IsHealthy(h) {
			out = append(out, h)
		}
	}
	return out
}

// Snapshot returns a copy of every tracked record, keyed by handle, for
// observability (cmd/toolrouterd's GET /health).
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Record, len(t.records))
	for k, v := range t.records {
		out[k] = v
	}
	return out
}
