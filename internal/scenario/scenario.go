// Package scenario replays a recorded search: the instruction index, flag
// table, target and executed populations that the bytecode analysis and the
// sandbox would otherwise supply.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goalforge/internal/cdg"
	"goalforge/internal/fitness"
	"goalforge/internal/goals"
	"goalforge/internal/model"
)

var ErrInvalid = errors.New("invalid scenario")

type Target struct {
	Class  string `yaml:"class"`
	Method string `yaml:"method"`
}

type Generation struct {
	Population []model.ExecutionResult `yaml:"population"`
}

type Scenario struct {
	Name         string                  `yaml:"name"`
	Criterion    string                  `yaml:"criterion"`
	Target       Target                  `yaml:"target"`
	Instructions []cdg.InstructionRecord `yaml:"instructions"`
	Flags        []fitness.FlagRecord    `yaml:"flags"`
	Generations  []Generation            `yaml:"generations"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.Criterion == "" {
		s.Criterion = "branch"
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) Validate() error {
	if s.Target.Class == "" || s.Target.Method == "" {
		return fmt.Errorf("%w: target class and method are required", ErrInvalid)
	}
	if len(s.Instructions) == 0 {
		return fmt.Errorf("%w: no instructions", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(s.Generations))
	for gen, generation := range s.Generations {
		for _, result := range generation.Population {
			if result.CandidateID == "" {
				return fmt.Errorf("%w: generation %d has a candidate without id", ErrInvalid, gen)
			}
			key := fmt.Sprintf("%d/%s", gen, result.CandidateID)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: duplicate candidate %s in generation %d", ErrInvalid, result.CandidateID, gen)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// Kind is the objective variant the scenario criterion selects. Unsupported
// criteria fall back to plain branch objectives for the structural graph.
func (s *Scenario) Kind() model.Kind {
	kind, _ := model.CriterionKind([]string{s.Criterion})
	return kind
}

// Harness holds the collaborators built from a scenario.
type Harness struct {
	Index   *cdg.MemoryIndex
	Graph   *goals.Graph
	Manager *goals.Manager
	Scorer  *fitness.Function
	Source  *Replay
}

// Build indexes the instructions and derives the goal graph, frontier and
// fitness function. kind is the objective variant of the structural goals;
// maxDepth bounds both the approach-level climb and the flag producer
// recursion.
func (s *Scenario) Build(kind model.Kind, maxDepth int, logger *zap.Logger) (*Harness, error) {
	idx, err := cdg.NewMemoryIndex(s.Instructions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	graph := goals.BuildGraph(idx, kind)
	flags := fitness.NewTableFlagEvaluator(idx, s.Flags, maxDepth)
	return &Harness{
		Index:   idx,
		Graph:   graph,
		Manager: goals.NewManager(graph, logger),
		Scorer:  fitness.NewFunction(idx, fitness.WithFlagEvaluator(flags), fitness.WithMaxClimbDepth(maxDepth)),
		Source:  NewReplay(s.Generations),
	}, nil
}

// Replay hands out the recorded populations in order.
type Replay struct {
	generations []Generation
}

func NewReplay(generations []Generation) *Replay {
	return &Replay{generations: generations}
}

func (r *Replay) Len() int {
	return len(r.generations)
}

func (r *Replay) Population(ctx context.Context, generation int) ([]model.ExecutionResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if generation < 0 || generation >= len(r.generations) {
		return nil, false, nil
	}
	return append([]model.ExecutionResult(nil), r.generations[generation].Population...), true, nil
}
