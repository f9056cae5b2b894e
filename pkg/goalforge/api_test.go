package goalforge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalforge/internal/config"
)

var (
	stackScenario = filepath.Join("..", "..", "internal", "scenario", "testdata", "stack_pop.yaml")
	flagScenario  = filepath.Join("..", "..", "internal", "scenario", "testdata", "flag_gate.yaml")
)

func newClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.ArtifactsDir == "" {
		opts.ArtifactsDir = filepath.Join(t.TempDir(), "runs")
	}
	if opts.ExportsDir == "" {
		opts.ExportsDir = filepath.Join(t.TempDir(), "exports")
	}
	client, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientRunAndReadBack(t *testing.T) {
	client := newClient(t, Options{StoreKind: "memory"})
	ctx := context.Background()

	summary, err := client.Run(ctx, RunRequest{ScenarioPath: stackScenario, Workers: 2})
	require.NoError(t, err)

	_, err = uuid.Parse(summary.RunID)
	require.NoError(t, err, "fresh runs get a uuid")
	assert.False(t, summary.Resumed)
	assert.Equal(t, 2, summary.Generations)
	require.Len(t, summary.Handled, 1)
	assert.Equal(t, "B1:false", summary.Handled[0].Parent)
	assert.Contains(t, summary.Current, "B3:true")
	assert.True(t, client.InterceptionActive())

	run, err := client.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, "org.example.Stack", run.TargetClass)
	assert.Equal(t, 1, run.Admitted)
	assert.Equal(t, 2, run.Generations)

	tables, err := client.CallTables(ctx, TablesRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Equal(t, 9, tables.Calls["org.example.Driver.run"])
	assert.Equal(t, 4, tables.Triggers["org.example.Driver.run"])

	diagnostics, err := client.Diagnostics(ctx, DiagnosticsRequest{RunID: summary.RunID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, summary.Handled[0].Key, diagnostics[0].Admitted)

	handled, err := client.HandledGoals(ctx, HandledRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Equal(t, summary.Handled, handled)
}

func TestClientResumeKeepsHandledGoals(t *testing.T) {
	client := newClient(t, Options{StoreKind: "leveldb", DBPath: filepath.Join(t.TempDir(), "db")})
	ctx := context.Background()

	first, err := client.Run(ctx, RunRequest{ScenarioPath: stackScenario})
	require.NoError(t, err)
	require.Len(t, first.Handled, 1)

	second, err := client.Run(ctx, RunRequest{RunID: first.RunID, ScenarioPath: stackScenario})
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	require.Len(t, second.Handled, 1, "an objective handled earlier is never admitted again")
	assert.Empty(t, second.Diagnostics[0].Admitted)

	tables, err := client.CallTables(ctx, TablesRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, 18, tables.Calls["org.example.Driver.run"])

	run, err := client.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, 4, run.Generations)
}

func TestClientRunHonoursConfig(t *testing.T) {
	client := newClient(t, Options{})
	cfg := config.DefaultConfig()
	cfg.Search.Generations = 1

	summary, err := client.Run(context.Background(), RunRequest{ScenarioPath: stackScenario, Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generations)
	assert.Empty(t, cfg.Target.Class, "the caller's config is not modified")

	cfg.Criterion = "line"
	_, err = client.Run(context.Background(), RunRequest{ScenarioPath: stackScenario, Config: cfg})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

// flag_gate.yaml declares the branch criterion. B1:true has a direct
// distance of 5 and is flag-guarded by B9:true, recorded at 0.1.
func TestClientRunUsesConfiguredCriterion(t *testing.T) {
	client := newClient(t, Options{})
	ctx := context.Background()

	plain, err := client.Run(ctx, RunRequest{ScenarioPath: flagScenario})
	require.NoError(t, err)
	require.Len(t, plain.Diagnostics, 1)
	assert.InDelta(t, 5.0/6.0, plain.Diagnostics[0].BestFitness, 1e-9)

	cfg := config.DefaultConfig()
	cfg.Criterion = "fbranch"
	flagged, err := client.Run(ctx, RunRequest{ScenarioPath: flagScenario, Config: cfg})
	require.NoError(t, err)
	require.Len(t, flagged.Diagnostics, 1)
	assert.InDelta(t, 0.1/1.1, flagged.Diagnostics[0].BestFitness, 1e-9)

	run, err := client.GetRun(ctx, flagged.RunID)
	require.NoError(t, err)
	assert.Equal(t, "fbranch", run.Criterion)
}

func TestClientFitnessUsesRequestedCriterion(t *testing.T) {
	client := newClient(t, Options{})
	ctx := context.Background()
	req := FitnessRequest{ScenarioPath: flagScenario, CandidateID: "g1", Branch: 1, Value: true}

	plain, err := client.Fitness(ctx, req)
	require.NoError(t, err)
	assert.InDelta(t, 5.0/6.0, plain, 1e-9)

	req.Criterion = "fbranch"
	flagged, err := client.Fitness(ctx, req)
	require.NoError(t, err)
	assert.InDelta(t, 0.1/1.1, flagged, 1e-9)

	req.Criterion = "line"
	_, err = client.Fitness(ctx, req)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestClientFitness(t *testing.T) {
	client := newClient(t, Options{})
	ctx := context.Background()

	covered, err := client.Fitness(ctx, FitnessRequest{ScenarioPath: stackScenario, CandidateID: "t1", Branch: 1, Value: false})
	require.NoError(t, err)
	assert.Equal(t, 0.0, covered)

	near, err := client.Fitness(ctx, FitnessRequest{ScenarioPath: stackScenario, CandidateID: "p1", Branch: 1, Value: true})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, near, 1e-9)

	_, err = client.Fitness(ctx, FitnessRequest{ScenarioPath: stackScenario, CandidateID: "nobody", Branch: 1})
	assert.Error(t, err)
	_, err = client.Fitness(ctx, FitnessRequest{ScenarioPath: stackScenario, CandidateID: "t1", Branch: 42})
	assert.Error(t, err)
	_, err = client.Fitness(ctx, FitnessRequest{ScenarioPath: stackScenario, Generation: 5, CandidateID: "t1"})
	assert.Error(t, err)
}

func TestClientReadErrors(t *testing.T) {
	client := newClient(t, Options{})
	ctx := context.Background()

	_, err := client.GetRun(ctx, "")
	assert.Error(t, err)
	_, err = client.GetRun(ctx, "missing")
	assert.Error(t, err)
	_, err = client.CallTables(ctx, TablesRequest{RunID: "missing"})
	assert.Error(t, err)
	_, err = client.HandledGoals(ctx, HandledRequest{RunID: "missing"})
	assert.Error(t, err)
	_, err = client.Diagnostics(ctx, DiagnosticsRequest{RunID: "r", Limit: -1})
	assert.Error(t, err)
	_, err = client.Diagnostics(ctx, DiagnosticsRequest{RunID: "r", Latest: true})
	assert.Error(t, err, "run id and latest are exclusive")
	_, err = client.HandledGoals(ctx, HandledRequest{Latest: true})
	assert.Error(t, err, "no runs indexed yet")
	_, err = client.Export(ctx, ExportRequest{})
	assert.Error(t, err)
	_, err = client.Run(ctx, RunRequest{})
	assert.Error(t, err)
}

func TestClientRunsAndExport(t *testing.T) {
	client := newClient(t, Options{})
	ctx := context.Background()

	first, err := client.Run(ctx, RunRequest{ScenarioPath: stackScenario})
	require.NoError(t, err)
	second, err := client.Run(ctx, RunRequest{ScenarioPath: stackScenario, Generations: 1})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(second.ArtifactsDir, "handled_goals.json"))

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, "stack-pop", runs[0].Scenario)
	assert.Equal(t, 1, runs[0].Generations)

	limited, err := client.Runs(ctx, RunsRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	latest, err := client.Diagnostics(ctx, DiagnosticsRequest{Latest: true})
	require.NoError(t, err)
	assert.Len(t, latest, 1)

	exported, err := client.Export(ctx, ExportRequest{RunID: first.RunID})
	require.NoError(t, err)
	assert.Equal(t, first.RunID, exported.RunID)
	assert.FileExists(t, filepath.Join(exported.Directory, "config.json"))
	assert.FileExists(t, filepath.Join(exported.Directory, "call_tables.json"))
}

func TestNewRejectsUnknownStore(t *testing.T) {
	_, err := New(Options{StoreKind: "redis"})
	assert.Error(t, err)
}
