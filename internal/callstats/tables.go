// Package callstats keeps the run-lifetime operation tables: how many
// candidates invoked each operation and how often each operation was the
// entry point of an uncaught exception. Other search heuristics read them
// concurrently with the generation pass that writes them.
package callstats

import (
	"sort"
	"sync"

	"goalforge/internal/model"
)

type Tables struct {
	mu       sync.RWMutex
	calls    map[string]int
	triggers map[string]int
}

func New() *Tables {
	return &Tables{
		calls:    make(map[string]int),
		triggers: make(map[string]int),
	}
}

// Restore rebuilds tables from a persisted snapshot.
func Restore(snapshot model.CallTables) *Tables {
	t := New()
	for sig, n := range snapshot.Calls {
		t.calls[sig] = n
	}
	for sig, n := range snapshot.Triggers {
		t.triggers[sig] = n
	}
	return t
}

// RecordCalls counts each distinct signature once.
func (t *Tables) RecordCalls(signatures []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(signatures))
	for _, sig := range signatures {
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		t.calls[sig]++
	}
}

func (t *Tables) RecordExceptionTrigger(signature string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.triggers[signature]++
}

func (t *Tables) CallCount(signature string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.calls[signature]
}

func (t *Tables) ExceptionTriggerCount(signature string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.triggers[signature]
}

// TriggerRatio is the share of invoking candidates in which the operation was
// the exception entry point. ok is false when the operation was never called.
func (t *Tables) TriggerRatio(signature string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	calls := t.calls[signature]
	if calls == 0 {
		return 0, false
	}
	return float64(t.triggers[signature]) / float64(calls), true
}

// Snapshot copies the tables for persistence.
func (t *Tables) Snapshot() model.CallTables {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := model.CallTables{
		Calls:    make(map[string]int, len(t.calls)),
		Triggers: make(map[string]int, len(t.triggers)),
	}
	for sig, n := range t.calls {
		out.Calls[sig] = n
	}
	for sig, n := range t.triggers {
		out.Triggers[sig] = n
	}
	return out
}

// Signatures lists every operation seen in either table, sorted.
func (t *Tables) Signatures() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := make(map[string]struct{}, len(t.calls)+len(t.triggers))
	for sig := range t.calls {
		set[sig] = struct{}{}
	}
	for sig := range t.triggers {
		set[sig] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sig := range set {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}
