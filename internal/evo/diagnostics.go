package evo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"goalforge/internal/enhance"
	"goalforge/internal/model"
)

var (
	// frontierGoals tracks the objective sets by state: current, covered.
	frontierGoals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "goalforge_frontier_goals",
		Help: "Objectives per frontier state after the last generation",
	}, []string{"state"})

	generationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalforge_generations_total",
		Help: "Generations completed",
	})
)

type generationSummary struct {
	model.GenerationDiagnostics
	// best is the lowest fitness reached for each objective key.
	best map[string]float64
}

// summarize folds scores[candidate][objective] into per-objective minima and
// the generation's best and mean fitness. The mean is taken over the
// per-objective minima.
func summarize(generation int, objectives []model.Objective, scores [][]float64) generationSummary {
	s := generationSummary{
		GenerationDiagnostics: model.GenerationDiagnostics{
			Generation: generation,
			Candidates: len(scores),
		},
		best: make(map[string]float64, len(objectives)),
	}
	if len(scores) == 0 || len(objectives) == 0 {
		return s
	}
	total := 0.0
	for j, obj := range objectives {
		best := scores[0][j]
		for i := 1; i < len(scores); i++ {
			if scores[i][j] < best {
				best = scores[i][j]
			}
		}
		s.best[obj.Key()] = best
		total += best
		if j == 0 || best < s.BestFitness {
			s.BestFitness = best
		}
	}
	s.MeanFitness = total / float64(len(objectives))
	return s
}

func (s *generationSummary) applyReport(report enhance.Report) {
	s.TargetHits = report.TargetHits
	s.Outsiders = report.Outsiders
	s.Synthesized = report.Synthesized
	s.UndefinedSkipped = report.UndefinedSkipped
	s.GateClosed = report.GateClosed
	if report.Admitted != nil {
		s.Admitted = report.Admitted.Key()
	}
	for _, obj := range report.Pruned {
		s.Pruned = append(s.Pruned, obj.Key())
	}
}
