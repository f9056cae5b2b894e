// Package goalforge is the programmatic entry point: it replays recorded
// searches through the exception-driven goal enhancer and reads back what
// earlier runs persisted.
package goalforge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goalforge/internal/callstats"
	"goalforge/internal/config"
	"goalforge/internal/enhance"
	"goalforge/internal/evo"
	"goalforge/internal/interception"
	"goalforge/internal/model"
	"goalforge/internal/scenario"
	"goalforge/internal/stats"
	"goalforge/internal/storage"
)

const (
	defaultDBPath       = "goalforge.db"
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"

	// Fixed-width so that index timestamps sort lexically.
	indexTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *zap.Logger
}

type Client struct {
	store        storage.Store
	storeKind    string
	logger       *zap.Logger
	interceptor  *interception.Switch
	artifactsDir string
	exportsDir   string
	initialized  bool
}

type RunRequest struct {
	// RunID resumes an earlier run: its call tables and handled goals are
	// restored before the first generation. Empty starts a fresh run.
	RunID        string
	ScenarioPath string
	Scenario     *scenario.Scenario
	// Config defaults to config.DefaultConfig with the scenario's target
	// and criterion.
	Config      *config.Config
	Generations int
	Workers     int
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Resumed      bool
	Generations  int
	Covered      []string
	Current      []string
	Handled      []model.HandledGoalRecord
	Diagnostics  []model.GenerationDiagnostics
}

type FitnessRequest struct {
	ScenarioPath string
	Scenario     *scenario.Scenario
	Generation   int
	CandidateID  string
	Branch       int
	Value        bool
	MaxDepth     int
	// Criterion selects the fitness variant; empty uses the scenario's.
	Criterion string
}

type HandledRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type TablesRequest struct {
	RunID  string
	Latest bool
}

type RunsRequest struct {
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:        store,
		storeKind:    storeKind,
		logger:       logger,
		interceptor:  interception.NewSwitch(),
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// InterceptionActive reports whether the interception layer is on. It is
// off only while an enhancement pass runs.
func (c *Client) InterceptionActive() bool {
	return c.interceptor.Active()
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	sc, err := resolveScenario(req.Scenario, req.ScenarioPath)
	if err != nil {
		return RunSummary{}, err
	}
	cfg := runConfig(req.Config, sc)
	if req.Generations > 0 {
		cfg.Search.Generations = req.Generations
	}
	if req.Workers > 0 {
		cfg.Search.Workers = req.Workers
	}
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}

	runID := req.RunID
	resumed := runID != ""
	if !resumed {
		runID = uuid.NewString()
	}
	log := c.logger.With(zap.String("run_id", runID))

	h, err := sc.Build(cfg.Kind(), cfg.Enhancer.MaxClimbDepth, log)
	if err != nil {
		return RunSummary{}, err
	}

	tables := callstats.New()
	var prior []model.HandledGoalRecord
	if resumed {
		tables, prior, err = c.restore(ctx, runID)
		if err != nil {
			return RunSummary{}, err
		}
	}
	state := enhance.NewState(tables)
	for _, record := range prior {
		state.RestoreHandled(record.Objective)
	}

	enhancer, err := enhance.New(cfg.EnhancerConfig(), h.Index, h.Manager, h.Graph,
		enhance.WithLogger(log),
		enhance.WithState(state),
		enhance.WithToggle(c.interceptor),
	)
	if err != nil {
		return RunSummary{}, err
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		RunID:       runID,
		Source:      h.Source,
		Scorer:      h.Scorer,
		Frontier:    h.Manager,
		Enhancer:    enhancer,
		Tables:      tables,
		Store:       c.store,
		Generations: cfg.Search.Generations,
		Workers:     cfg.Search.Workers,
		Logger:      log,
		Prior:       prior,
	})
	if err != nil {
		return RunSummary{}, err
	}
	result, err := monitor.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	record := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		TargetClass:     cfg.Target.Class,
		TargetMethod:    cfg.Target.Method,
		Criterion:       cfg.Criterion,
		Generations:     result.Generations,
		CoveredGoals:    len(result.Covered),
		CurrentGoals:    len(result.Current),
		Admitted:        len(result.Handled),
	}
	if resumed {
		if previous, ok, err := c.store.GetRun(ctx, runID); err != nil {
			return RunSummary{}, err
		} else if ok {
			record.Generations += previous.Generations
		}
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:       runID,
		Resumed:     resumed,
		Generations: result.Generations,
		Covered:     keys(result.Covered),
		Current:     keys(result.Current),
		Handled:     result.Handled,
		Diagnostics: result.GenerationDiagnostics,
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           runID,
			Scenario:        sc.Name,
			TargetClass:     cfg.Target.Class,
			TargetMethod:    cfg.Target.Method,
			Criterion:       cfg.Criterion,
			Threshold:       cfg.Enhancer.Threshold,
			MaxClimbDepth:   cfg.Enhancer.MaxClimbDepth,
			Generations:     cfg.Search.Generations,
			Workers:         cfg.Search.Workers,
			StoreKind:       c.storeKind,
			Resumed:         resumed,
			LibraryPrefixes: cfg.Enhancer.LibraryPrefixes,
			HarnessPrefixes: cfg.Enhancer.HarnessPrefixes,
		},
		GenerationDiagnostics: result.GenerationDiagnostics,
		HandledGoals:          result.Handled,
		CallTables:            tables.Snapshot(),
		Frontier:              stats.Frontier{Current: summary.Current, Covered: summary.Covered},
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("write run artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        runID,
		Scenario:     sc.Name,
		TargetClass:  record.TargetClass,
		TargetMethod: record.TargetMethod,
		Criterion:    record.Criterion,
		Generations:  record.Generations,
		CoveredGoals: record.CoveredGoals,
		Admitted:     record.Admitted,
		CreatedAtUTC: time.Now().UTC().Format(indexTimeLayout),
	}); err != nil {
		return RunSummary{}, fmt.Errorf("index run: %w", err)
	}
	summary.ArtifactsDir = runDir
	return summary, nil
}

// Runs lists indexed runs, most recent first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}
	dir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, outDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: dir}, nil
}

// Fitness scores one recorded candidate against one branch objective.
func (c *Client) Fitness(_ context.Context, req FitnessRequest) (float64, error) {
	sc, err := resolveScenario(req.Scenario, req.ScenarioPath)
	if err != nil {
		return 0, err
	}
	if req.Generation < 0 || req.Generation >= len(sc.Generations) {
		return 0, fmt.Errorf("generation %d out of range (scenario has %d)", req.Generation, len(sc.Generations))
	}
	var candidate *model.ExecutionResult
	for i, result := range sc.Generations[req.Generation].Population {
		if result.CandidateID == req.CandidateID {
			candidate = &sc.Generations[req.Generation].Population[i]
			break
		}
	}
	if candidate == nil {
		return 0, fmt.Errorf("candidate %q not found in generation %d", req.CandidateID, req.Generation)
	}

	depth := req.MaxDepth
	if depth <= 0 {
		depth = config.DefaultConfig().Enhancer.MaxClimbDepth
	}
	kind := sc.Kind()
	if req.Criterion != "" {
		var ok bool
		if kind, ok = model.CriterionKind([]string{req.Criterion}); !ok {
			return 0, fmt.Errorf("%w: unsupported criterion %q", config.ErrInvalid, req.Criterion)
		}
	}
	h, err := sc.Build(kind, depth, c.logger)
	if err != nil {
		return 0, err
	}
	for _, branch := range h.Index.Branches() {
		if branch.ID == req.Branch {
			return h.Scorer.Fitness(model.NewObjective(kind, branch.Goal(req.Value)), candidate.Trace)
		}
	}
	return 0, fmt.Errorf("branch %d not found in scenario", req.Branch)
}

func (c *Client) GetRun(ctx context.Context, runID string) (model.RunRecord, error) {
	if runID == "" {
		return model.RunRecord{}, errors.New("run id is required")
	}
	if err := c.Init(ctx); err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) CallTables(ctx context.Context, req TablesRequest) (model.CallTables, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "call tables")
	if err != nil {
		return model.CallTables{}, err
	}
	if err := c.Init(ctx); err != nil {
		return model.CallTables{}, err
	}
	tables, ok, err := c.store.GetCallTables(ctx, runID)
	if err != nil {
		return model.CallTables{}, err
	}
	if !ok {
		return model.CallTables{}, fmt.Errorf("call tables not found for run id: %s", runID)
	}
	return tables, nil
}

func (c *Client) HandledGoals(ctx context.Context, req HandledRequest) ([]model.HandledGoalRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "handled goals")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	records, ok, err := c.store.GetHandledGoals(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("handled goals not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	out := make([]model.HandledGoalRecord, len(records))
	copy(out, records)
	return out, nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// resolveRunID picks the explicit run id or, with latest, the most recent
// indexed run.
func (c *Client) resolveRunID(runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		return stats.LatestRunID(c.artifactsDir)
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

// restore loads the run-scoped state of an earlier session. A run that never
// persisted anything resumes from empty tables.
func (c *Client) restore(ctx context.Context, runID string) (*callstats.Tables, []model.HandledGoalRecord, error) {
	tables := callstats.New()
	snapshot, ok, err := c.store.GetCallTables(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("restore call tables: %w", err)
	}
	if ok {
		tables = callstats.Restore(snapshot)
	}
	prior, _, err := c.store.GetHandledGoals(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("restore handled goals: %w", err)
	}
	return tables, prior, nil
}

func resolveScenario(sc *scenario.Scenario, path string) (*scenario.Scenario, error) {
	if sc != nil {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		return sc, nil
	}
	if path == "" {
		return nil, errors.New("scenario or scenario path is required")
	}
	return scenario.Load(path)
}

func runConfig(cfg *config.Config, sc *scenario.Scenario) *config.Config {
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Criterion = sc.Criterion
	} else {
		copied := *cfg
		cfg = &copied
	}
	if cfg.Target.Class == "" && cfg.Target.Method == "" {
		cfg.Target = config.TargetConfig{Class: sc.Target.Class, Method: sc.Target.Method}
	}
	return cfg
}

func keys(objs []model.Objective) []string {
	out := make([]string, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.Key())
	}
	return out
}
