package storage

import (
	"context"
	"errors"
	"sync"

	"goalforge/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	tables      map[string]model.CallTables
	handled     map[string][]model.HandledGoalRecord
	diagnostics map[string][]model.GenerationDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.tables = make(map[string]model.CallTables)
	s.handled = make(map[string][]model.HandledGoalRecord)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) SaveCallTables(_ context.Context, runID string, tables model.CallTables) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.tables[runID] = copyTables(tables)
	return nil
}

func (s *MemoryStore) GetCallTables(_ context.Context, runID string) (model.CallTables, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables, ok := s.tables[runID]
	if !ok {
		return model.CallTables{}, false, nil
	}
	return copyTables(tables), true, nil
}

func (s *MemoryStore) SaveHandledGoals(_ context.Context, runID string, records []model.HandledGoalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.HandledGoalRecord, len(records))
	copy(copied, records)
	s.handled[runID] = copied
	return nil
}

func (s *MemoryStore) GetHandledGoals(_ context.Context, runID string) ([]model.HandledGoalRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.handled[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.HandledGoalRecord, len(records))
	copy(copied, records)
	return copied, true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.GenerationDiagnostics, 0, len(diagnostics))
	for _, d := range diagnostics {
		d.Pruned = append([]string(nil), d.Pruned...)
		copied = append(copied, d)
	}
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func copyTables(tables model.CallTables) model.CallTables {
	out := model.CallTables{
		VersionedRecord: tables.VersionedRecord,
		Calls:           make(map[string]int, len(tables.Calls)),
		Triggers:        make(map[string]int, len(tables.Triggers)),
	}
	for k, v := range tables.Calls {
		out.Calls[k] = v
	}
	for k, v := range tables.Triggers {
		out.Triggers[k] = v
	}
	return out
}
