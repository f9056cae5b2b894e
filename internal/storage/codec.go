package storage

import (
	"encoding/json"
	"errors"

	"goalforge/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps a record with the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeCallTables(tables model.CallTables) ([]byte, error) {
	return json.Marshal(tables)
}

func DecodeCallTables(data []byte) (model.CallTables, error) {
	var tables model.CallTables
	if err := json.Unmarshal(data, &tables); err != nil {
		return model.CallTables{}, err
	}
	if err := checkVersion(tables.VersionedRecord); err != nil {
		return model.CallTables{}, err
	}
	if tables.Calls == nil {
		tables.Calls = map[string]int{}
	}
	if tables.Triggers == nil {
		tables.Triggers = map[string]int{}
	}
	return tables, nil
}

func EncodeHandledGoals(records []model.HandledGoalRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeHandledGoals(data []byte) ([]model.HandledGoalRecord, error) {
	var records []model.HandledGoalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
