package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"goalforge/internal/model"
)

// Key prefixes of the LevelDB layout; every record is a JSON payload.
const (
	prefixRun         = "run:"
	prefixCallTables  = "tables:"
	prefixHandled     = "handled:"
	prefixDiagnostics = "diag:"
)

// LevelDBStore keeps each record under "<prefix><run id>" in an embedded
// LevelDB directory.
type LevelDBStore struct {
	path string

	mu sync.RWMutex
	db *leveldb.DB
}

func NewLevelDBStore(path string) *LevelDBStore {
	return &LevelDBStore{path: path}
}

func (s *LevelDBStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("leveldb path is required")
	}
	if s.db != nil {
		return nil
	}
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		return fmt.Errorf("open leveldb %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *LevelDBStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(prefixRun+run.ID, payload)
}

func (s *LevelDBStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	payload, ok, err := s.get(prefixRun + id)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *LevelDBStore) SaveCallTables(_ context.Context, runID string, tables model.CallTables) error {
	payload, err := EncodeCallTables(tables)
	if err != nil {
		return err
	}
	return s.put(prefixCallTables+runID, payload)
}

func (s *LevelDBStore) GetCallTables(_ context.Context, runID string) (model.CallTables, bool, error) {
	payload, ok, err := s.get(prefixCallTables + runID)
	if err != nil || !ok {
		return model.CallTables{}, false, err
	}
	tables, err := DecodeCallTables(payload)
	if err != nil {
		return model.CallTables{}, false, fmt.Errorf("decode call tables %s: %w", runID, err)
	}
	return tables, true, nil
}

func (s *LevelDBStore) SaveHandledGoals(_ context.Context, runID string, records []model.HandledGoalRecord) error {
	payload, err := EncodeHandledGoals(records)
	if err != nil {
		return err
	}
	return s.put(prefixHandled+runID, payload)
}

func (s *LevelDBStore) GetHandledGoals(_ context.Context, runID string) ([]model.HandledGoalRecord, bool, error) {
	payload, ok, err := s.get(prefixHandled + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	records, err := DecodeHandledGoals(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode handled goals %s: %w", runID, err)
	}
	return records, true, nil
}

func (s *LevelDBStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	payload, err := EncodeGenerationDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.put(prefixDiagnostics+runID, payload)
}

func (s *LevelDBStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	payload, ok, err := s.get(prefixDiagnostics + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeGenerationDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LevelDBStore) put(key string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Put([]byte(key), payload, nil)
}

func (s *LevelDBStore) get(key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	payload, err := db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *LevelDBStore) getDB() (*leveldb.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}
