// Package fitness computes per-objective branch fitness: 0 means satisfied,
// everything else lies in (0,1].
package fitness

import (
	"fmt"

	"goalforge/internal/cdg"
	"goalforge/internal/model"
)

// Unreached is the fitness of an objective with no distance, no flag effect
// and no control dependency to climb.
const Unreached = 1.0

// Function scores objectives against execution traces.
type Function struct {
	index    cdg.Index
	flags    FlagEvaluator
	maxDepth int
}

type Option func(*Function)

func WithFlagEvaluator(flags FlagEvaluator) Option {
	return func(f *Function) {
		if flags != nil {
			f.flags = flags
		}
	}
}

func WithMaxClimbDepth(depth int) Option {
	return func(f *Function) {
		if depth > 0 {
			f.maxDepth = depth
		}
	}
}

func NewFunction(index cdg.Index, opts ...Option) *Function {
	f := &Function{
		index:    index,
		flags:    NoFlags{},
		maxDepth: DefaultMaxClimbDepth,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fitness dispatches on the objective kind.
func (f *Function) Fitness(obj model.Objective, trace model.Trace) (float64, error) {
	switch obj.Kind {
	case model.KindBranch:
		return f.branchFitness(obj.Goal, trace), nil
	case model.KindFlagEffect:
		return f.flagAwareFitness(obj.Goal, trace), nil
	default:
		return 0, fmt.Errorf("unsupported objective kind: %s", obj.Kind)
	}
}

func (f *Function) branchFitness(goal model.Goal, trace model.Trace) float64 {
	if d, ok := trace.Distance(goal.BranchID, goal.Value); ok {
		return Normalize(d)
	}
	return f.fallback(goal, trace)
}

func (f *Function) flagAwareFitness(goal model.Goal, trace model.Trace) float64 {
	d, recorded := trace.Distance(goal.BranchID, goal.Value)
	if recorded && d == 0 {
		return 0
	}

	if effect := f.flags.Check(goal); effect.HasFlagEffect {
		raw := f.flags.InterproceduralFitness(goal, []FlagCall{effect.Call}, trace)
		return Normalize(raw)
	}

	if recorded {
		return Normalize(d)
	}
	return f.fallback(goal, trace)
}

func (f *Function) fallback(goal model.Goal, trace model.Trace) float64 {
	if v, ok := ApproachLevel(trace, f.index, goal, f.maxDepth); ok {
		return Normalize(v)
	}
	return Unreached
}

// Evaluate scores one candidate against every objective, in objective order.
func (f *Function) Evaluate(result model.ExecutionResult, objectives []model.Objective) ([]Score, error) {
	scores := make([]Score, 0, len(objectives))
	for _, obj := range objectives {
		fitness, err := f.Fitness(obj, result.Trace)
		if err != nil {
			return nil, fmt.Errorf("score %s on %s: %w", result.CandidateID, obj.Key(), err)
		}
		scores = append(scores, Score{CandidateID: result.CandidateID, Objective: obj.Key(), Fitness: fitness})
	}
	return scores, nil
}

// Score is the fitness of one candidate on one objective.
type Score struct {
	CandidateID string
	Objective   string
	Fitness     float64
}

// Covered reports whether the score satisfies its objective.
func (s Score) Covered() bool {
	return s.Fitness == 0
}
