package fitness

import (
	"goalforge/internal/cdg"
	"goalforge/internal/model"
)

// DefaultMaxClimbDepth bounds the control-dependency walks. Reaching it is
// treated the same as running out of dependencies.
const DefaultMaxClimbDepth = 64

// Normalize maps a raw distance into [0,1) preserving order.
func Normalize(d float64) float64 {
	if d <= 0 {
		return 0
	}
	return d / (d + 1)
}

// ApproachLevel climbs the goal's control-dependency chain until it finds an
// ancestor with a recorded distance. Each hop costs one full unit, so the
// result for an ancestor found k hops up is k + Normalize(distance).
//
// ok is false when the chain ends, cycles, or exceeds maxDepth without any
// recorded distance.
func ApproachLevel(trace model.Trace, index cdg.Index, goal model.Goal, maxDepth int) (float64, bool) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxClimbDepth
	}
	visited := map[model.GoalKey]struct{}{goal.Key(): {}}
	current := goal
	for level := 1; level <= maxDepth; level++ {
		deps := cdg.DependenciesOfGoal(index, current)
		if len(deps) == 0 {
			return 0, false
		}
		cd := deps[0]
		if d, ok := trace.Distance(cd.Branch.ID, cd.Value); ok {
			return float64(level) + Normalize(d), true
		}
		next := cd.Goal()
		if _, seen := visited[next.Key()]; seen {
			return 0, false
		}
		visited[next.Key()] = struct{}{}
		current = next
	}
	return 0, false
}
