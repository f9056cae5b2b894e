// Package stats writes the on-disk artifacts of finished runs and keeps the
// run index used to look runs up by recency.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"goalforge/internal/model"
)

const runIndexFile = "run_index.json"

var artifactFiles = []string{
	"config.json",
	"generation_diagnostics.json",
	"handled_goals.json",
	"call_tables.json",
	"frontier.json",
}

type RunConfig struct {
	RunID           string   `json:"run_id"`
	Scenario        string   `json:"scenario,omitempty"`
	TargetClass     string   `json:"target_class"`
	TargetMethod    string   `json:"target_method"`
	Criterion       string   `json:"criterion"`
	Threshold       float64  `json:"threshold"`
	MaxClimbDepth   int      `json:"max_climb_depth"`
	Generations     int      `json:"generations"`
	Workers         int      `json:"workers"`
	StoreKind       string   `json:"store_kind"`
	Resumed         bool     `json:"resumed,omitempty"`
	LibraryPrefixes []string `json:"library_prefixes,omitempty"`
	HarnessPrefixes []string `json:"harness_prefixes,omitempty"`
}

// Frontier is the goal bookkeeping at the end of a run.
type Frontier struct {
	Current []string `json:"current"`
	Covered []string `json:"covered"`
}

type RunArtifacts struct {
	Config                RunConfig
	GenerationDiagnostics []model.GenerationDiagnostics
	HandledGoals          []model.HandledGoalRecord
	CallTables            model.CallTables
	Frontier              Frontier
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Scenario     string `json:"scenario,omitempty"`
	TargetClass  string `json:"target_class"`
	TargetMethod string `json:"target_method"`
	Criterion    string `json:"criterion"`
	Generations  int    `json:"generations"`
	CoveredGoals int    `json:"covered_goals"`
	Admitted     int    `json:"admitted"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	diagnostics := artifacts.GenerationDiagnostics
	if diagnostics == nil {
		diagnostics = []model.GenerationDiagnostics{}
	}
	handled := artifacts.HandledGoals
	if handled == nil {
		handled = []model.HandledGoalRecord{}
	}
	values := map[string]any{
		"config.json":                 artifacts.Config,
		"generation_diagnostics.json": diagnostics,
		"handled_goals.json":          handled,
		"call_tables.json":            artifacts.CallTables,
		"frontier.json":               artifacts.Frontier,
	}
	for _, file := range artifactFiles {
		if err := writeJSON(filepath.Join(runDir, file), values[file]); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// AppendRunIndex adds entry to the index, replacing an entry with the same
// run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs, most recent first. A missing index
// is an empty list.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// LatestRunID returns the most recent indexed run.
func LatestRunID(baseDir string) (string, error) {
	entries, err := ListRunIndex(baseDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no runs available")
	}
	return entries[0].RunID, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	if _, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []RunIndexEntry{}
	}
	return entries, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
