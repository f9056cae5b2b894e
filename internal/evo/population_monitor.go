package evo

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goalforge/internal/callstats"
	"goalforge/internal/enhance"
	"goalforge/internal/fitness"
	"goalforge/internal/model"
	"goalforge/internal/storage"
)

var tracer = otel.Tracer("goalforge.evo")

// Source yields the executed population of each generation. Selection and
// variation happen behind it; ok=false ends the run early.
type Source interface {
	Population(ctx context.Context, generation int) (population []model.ExecutionResult, ok bool, err error)
}

// Scorer scores one candidate against the current objectives.
type Scorer interface {
	Evaluate(result model.ExecutionResult, objectives []model.Objective) ([]fitness.Score, error)
}

// Frontier is the goal bookkeeping the monitor drives.
type Frontier interface {
	CurrentGoals() []model.Objective
	CoveredGoals() []model.Objective
	MarkCovered(obj model.Objective) []model.Objective
}

type Enhancer interface {
	Enhance(ctx context.Context, population []model.ExecutionResult) enhance.Report
}

type MonitorConfig struct {
	RunID       string
	Source      Source
	Scorer      Scorer
	Frontier    Frontier
	Enhancer    Enhancer
	Tables      *callstats.Tables
	Store       storage.Store
	Generations int
	Workers     int
	Logger      *zap.Logger
	// Prior holds objectives admitted in an earlier session of the same run.
	Prior []model.HandledGoalRecord
}

type RunResult struct {
	Generations           int
	GenerationDiagnostics []model.GenerationDiagnostics
	Covered               []model.Objective
	Current               []model.Objective
	Handled               []model.HandledGoalRecord
}

// PopulationMonitor runs the per-generation loop: score the frontier, promote
// covered objectives, let the enhancer grow the graph and record diagnostics.
type PopulationMonitor struct {
	cfg MonitorConfig
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("population source is required")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if cfg.Frontier == nil {
		return nil, fmt.Errorf("frontier is required")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.Store != nil && cfg.RunID == "" {
		return nil, fmt.Errorf("run id is required when a store is configured")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &PopulationMonitor{cfg: cfg}, nil
}

func (m *PopulationMonitor) Run(ctx context.Context) (RunResult, error) {
	log := m.cfg.Logger.With(zap.String("run_id", m.cfg.RunID))
	diagnostics := make([]model.GenerationDiagnostics, 0, m.cfg.Generations)
	handled := append([]model.HandledGoalRecord(nil), m.cfg.Prior...)

	generations := 0
	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		current := m.cfg.Frontier.CurrentGoals()
		if len(current) == 0 {
			log.Info("frontier empty, stopping", zap.Int("generation", gen))
			break
		}

		population, ok, err := m.cfg.Source.Population(ctx, gen)
		if err != nil {
			return RunResult{}, fmt.Errorf("generation %d: population: %w", gen, err)
		}
		if !ok {
			log.Info("population source exhausted", zap.Int("generation", gen))
			break
		}

		scores, err := m.evaluatePopulation(ctx, population, current)
		if err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen, err)
		}
		diag := summarize(gen, current, scores)

		for _, obj := range current {
			if best, ok := diag.best[obj.Key()]; ok && best == 0 {
				promoted := m.cfg.Frontier.MarkCovered(obj)
				diag.NewlyCovered++
				log.Debug("objective covered",
					zap.String("objective", obj.Key()),
					zap.Int("promoted", len(promoted)))
			}
		}

		if m.cfg.Enhancer != nil {
			report := m.cfg.Enhancer.Enhance(ctx, population)
			diag.applyReport(report)
			if report.Admitted != nil {
				record := model.HandledGoalRecord{
					VersionedRecord: storage.Versioned(),
					Key:             report.Admitted.Key(),
					Objective:       *report.Admitted,
					Generation:      gen,
				}
				if report.Corresponder != nil {
					record.Parent = report.Corresponder.Key()
				}
				handled = append(handled, record)
			}
		}

		diag.CurrentGoals = len(m.cfg.Frontier.CurrentGoals())
		diag.CoveredGoals = len(m.cfg.Frontier.CoveredGoals())
		diagnostics = append(diagnostics, diag.GenerationDiagnostics)
		frontierGoals.WithLabelValues("current").Set(float64(diag.CurrentGoals))
		frontierGoals.WithLabelValues("covered").Set(float64(diag.CoveredGoals))
		generationsTotal.Inc()
		generations++

		log.Info("generation complete",
			zap.Int("generation", gen),
			zap.Int("current", diag.CurrentGoals),
			zap.Int("covered", diag.CoveredGoals),
			zap.Float64("best_fitness", diag.BestFitness),
			zap.String("admitted", diag.Admitted))
	}

	result := RunResult{
		Generations:           generations,
		GenerationDiagnostics: diagnostics,
		Covered:               m.cfg.Frontier.CoveredGoals(),
		Current:               m.cfg.Frontier.CurrentGoals(),
		Handled:               handled,
	}
	if err := m.persist(ctx, result); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

// evaluatePopulation scores every candidate against every current objective
// with a bounded worker pool. scores[i][j] is candidate i on objective j.
func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, population []model.ExecutionResult, objectives []model.Objective) ([][]float64, error) {
	ctx, span := tracer.Start(ctx, "evo.evaluatePopulation", trace.WithAttributes(
		attribute.Int("evo.candidates", len(population)),
		attribute.Int("evo.objectives", len(objectives)),
	))
	defer span.End()

	scores := make([][]float64, len(population))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i := range population {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scored, err := m.cfg.Scorer.Evaluate(population[i], objectives)
			if err != nil {
				return err
			}
			row := make([]float64, len(scored))
			for j, score := range scored {
				row[j] = score.Fitness
			}
			scores[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.AddEvent("population scored")
	return scores, nil
}

func (m *PopulationMonitor) persist(ctx context.Context, result RunResult) error {
	if m.cfg.Store == nil {
		return nil
	}
	runID := m.cfg.RunID
	if err := m.cfg.Store.SaveGenerationDiagnostics(ctx, runID, result.GenerationDiagnostics); err != nil {
		return fmt.Errorf("persist diagnostics: %w", err)
	}
	if err := m.cfg.Store.SaveHandledGoals(ctx, runID, result.Handled); err != nil {
		return fmt.Errorf("persist handled goals: %w", err)
	}
	if m.cfg.Tables != nil {
		snapshot := m.cfg.Tables.Snapshot()
		snapshot.VersionedRecord = storage.Versioned()
		if err := m.cfg.Store.SaveCallTables(ctx, runID, snapshot); err != nil {
			return fmt.Errorf("persist call tables: %w", err)
		}
	}
	return nil
}
