// Package metrics implements the Usage Metrics append-only JSONL log
// (spec.md §4.4/§6): one line per handle touched in a successful turn,
// or per handle newly bound in a failed turn, used to rank handles for
// cache preload on the next startup.
package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/buger/jsonparser"
)

// Outcome is whether the turn that used a handle succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one usage record, one JSON object per line on disk.
type Event struct {
	TS      int64   `json:"ts"`
	Handle  string  `json:"handle"`
	Outcome Outcome `json:"outcome"`
}

// Store appends Events to a JSONL file and can reconstitute a
// success-ranked handle ordering from it at startup.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
}

// Open opens (creating if necessary) the JSONL file at path for
// appending.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metrics: create data dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metrics: open %s: %w", path, err)
	}
	return &Store{path: path, file: f, logger: logger}, nil
}

// Log appends one usage event. Write failures are logged and
// swallowed (spec.md §7: KindMetricsWrite never fails a turn).
func (s *Store) Log(ts int64, handle string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(Event{TS: ts, Handle: handle, Outcome: outcome})
	if err != nil {
		s.logger.Warn("metrics: failed to marshal event", "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		s.logger.Warn("metrics: failed to append event", "error", err, "handle", handle)
	}
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Load reads every well-formed line from path and returns the decoded
// events. Malformed lines are skipped; a single aggregate warning is
// emitted at the end naming how many lines were skipped, rather than
// one log line per bad record, so a truncated file does not flood the
// log on restart.
func Load(path string, logger *slog.Logger) ([]Event, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metrics: read %s: %w", path, err)
	}

	var events []Event
	skipped := 0
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		ts, tsErr := jsonparser.GetInt(line, "ts")
		handle, handleErr := jsonparser.GetString(line, "handle")
		outcome, outcomeErr := jsonparser.GetString(line, "outcome")
		if tsErr != nil || handleErr != nil || outcomeErr != nil {
			skipped++
			continue
		}
		events = append(events, Event{TS: ts, Handle: handle, Outcome: Outcome(outcome)})
	}
	if skipped > 0 {
		logger.Warn("metrics: skipped malformed usage log lines", "skipped", skipped, "path", path)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// handleStats accumulates per-handle ranking signals from a slice of
// Events.
type handleStats struct {
	successCount  int
	lastSuccessTS int64
}

// RankTop returns the top n handles by: success count descending, then
// most-recent success descending, then catalog insertion order
// ascending for ties (spec.md §4.4's preload ranking). catalogOrder
// gives each known handle's position in the static catalog; handles
// absent from it sort last.
func RankTop(events []Event, n int, catalogOrder []string) []string {
	position := make(map[string]int, len(catalogOrder))
	for i, h := range catalogOrder {
		position[h] = i
	}

	stats := make(map[string]*handleStats)
	order := make([]string, 0)
	for _, e := range events {
		if e.Outcome != OutcomeSuccess {
			continue
		}
		st, ok := stats[e.Handle]
		if !ok {
			st = &handleStats{}
			stats[e.Handle] = st
			order = append(order, e.Handle)
		}
		st.successCount++
		if e.TS > st.lastSuccessTS {
			st.lastSuccessTS = e.TS
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := stats[order[i]], stats[order[j]]
		if a.successCount != b.successCount {
			return a.successCount > b.successCount
		}
		if a.lastSuccessTS != b.lastSuccessTS {
			return a.lastSuccessTS > b.lastSuccessTS
		}
		pi, iok := position[order[i]]
		pj, jok := position[order[j]]
		if iok != jok {
			return iok // known handles sort before unknown ones
		}
		return pi < pj
	})

	if n >= 0 && len(order) > n {
		order = order[:n]
	}
	return order
}
