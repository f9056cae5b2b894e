package enhance

import (
	"sort"

	"goalforge/internal/callstats"
	"goalforge/internal/model"
)

// State is the frequency bookkeeping of the enhancer.
//
// Generation-scoped: goal coverage counts, candidate occurrence counts, and
// the target-hit / outsider counters. They are reset at the end of every
// Enhance call, whether or not a goal was admitted.
//
// Run-scoped: the handled set, the corresponder of each synthesized goal
// (computed the first time the goal is seen, never recomputed) and the
// operation tables, which are shared with other heuristics.
type State struct {
	goalCoverage map[string]int
	occurrences  map[string]int
	candidates   map[string]model.Objective
	targetHits   int
	outsiders    int

	corresponders map[string]*model.Objective
	handled       map[string]model.Objective
	tables        *callstats.Tables
}

func NewState(tables *callstats.Tables) *State {
	if tables == nil {
		tables = callstats.New()
	}
	s := &State{
		corresponders: make(map[string]*model.Objective),
		handled:       make(map[string]model.Objective),
		tables:        tables,
	}
	s.resetGeneration()
	return s
}

func (s *State) resetGeneration() {
	s.goalCoverage = make(map[string]int)
	s.occurrences = make(map[string]int)
	s.candidates = make(map[string]model.Objective)
	s.targetHits = 0
	s.outsiders = 0
}

func (s *State) Tables() *callstats.Tables {
	return s.tables
}

// IsHandled reports whether the objective was already admitted.
func (s *State) IsHandled(obj model.Objective) bool {
	_, ok := s.handled[obj.Key()]
	return ok
}

// Handled lists admitted objectives sorted by key.
func (s *State) Handled() []model.Objective {
	keys := make([]string, 0, len(s.handled))
	for key := range s.handled {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]model.Objective, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.handled[key])
	}
	return out
}

// RestoreHandled marks objectives admitted in an earlier session.
func (s *State) RestoreHandled(objs ...model.Objective) {
	for _, obj := range objs {
		s.handled[obj.Key()] = obj
	}
}

// Corresponder returns the recorded corresponder of a synthesized goal. known
// is false when the goal was never synthesized; a known goal with a nil
// corresponder is root-level.
func (s *State) Corresponder(obj model.Objective) (corresponder *model.Objective, known bool) {
	corresponder, known = s.corresponders[obj.Key()]
	return corresponder, known
}

// avoidable reports whether an admitted objective already reaches the same
// goal through the same chain of operations.
func (s *State) avoidable(candidate model.Objective) bool {
	shape := candidate.Context.Shape()
	for _, handled := range s.handled {
		if handled.Goal.Key() == candidate.Goal.Key() && handled.Context.Shape() == shape {
			return true
		}
	}
	return false
}
