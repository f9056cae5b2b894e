package storage

import (
	"context"

	"goalforge/internal/model"
)

// Store persists run-scoped search state so that a later session, or another
// tool, can read it back. Get methods report a missing record with ok=false
// and a nil error.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	SaveCallTables(ctx context.Context, runID string, tables model.CallTables) error
	GetCallTables(ctx context.Context, runID string) (model.CallTables, bool, error)
	SaveHandledGoals(ctx context.Context, runID string, records []model.HandledGoalRecord) error
	GetHandledGoals(ctx context.Context, runID string) ([]model.HandledGoalRecord, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
}
