package callstats

import (
	"sync"
	"testing"

	"goalforge/internal/model"
)

func TestRecordCallsDeduplicatesPerCandidate(t *testing.T) {
	tables := New()
	tables.RecordCalls([]string{"Stack.push", "Stack.push", "Stack.pop"})
	tables.RecordCalls([]string{"Stack.push"})

	if got := tables.CallCount("Stack.push"); got != 2 {
		t.Fatalf("unexpected push count: got=%d want=2", got)
	}
	if got := tables.CallCount("Stack.pop"); got != 1 {
		t.Fatalf("unexpected pop count: got=%d want=1", got)
	}
}

func TestTriggerRatio(t *testing.T) {
	tables := New()
	if _, ok := tables.TriggerRatio("Stack.pop"); ok {
		t.Fatal("expected no ratio for an operation that was never called")
	}
	tables.RecordCalls([]string{"Stack.pop"})
	tables.RecordCalls([]string{"Stack.pop"})
	tables.RecordExceptionTrigger("Stack.pop")

	ratio, ok := tables.TriggerRatio("Stack.pop")
	if !ok || ratio != 0.5 {
		t.Fatalf("unexpected ratio: got=%f ok=%t", ratio, ok)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tables := New()
	tables.RecordCalls([]string{"A.a", "B.b"})
	tables.RecordExceptionTrigger("B.b")

	restored := Restore(tables.Snapshot())
	if restored.CallCount("A.a") != 1 || restored.ExceptionTriggerCount("B.b") != 1 {
		t.Fatalf("unexpected restored tables: %+v", restored.Snapshot())
	}
	snapshot := tables.Snapshot()
	snapshot.Calls["A.a"] = 99
	if tables.CallCount("A.a") != 1 {
		t.Fatal("expected snapshot to be isolated from the live tables")
	}
	if got := Restore(model.CallTables{}).Signatures(); len(got) != 0 {
		t.Fatalf("expected empty signatures, got %v", got)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	tables := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tables.RecordCalls([]string{"A.a"})
				_ = tables.CallCount("A.a")
			}
		}()
	}
	wg.Wait()
	if got := tables.CallCount("A.a"); got != 800 {
		t.Fatalf("unexpected count: got=%d want=800", got)
	}
}
