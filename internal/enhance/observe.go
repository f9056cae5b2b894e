package enhance

import (
	"go.uber.org/zap"

	"goalforge/internal/model"
)

// observe folds one candidate into the generation statistics and reports
// whether its exception produced a candidate objective.
func (e *Enhancer) observe(result model.ExecutionResult, tracked []model.Objective) bool {
	s := e.state
	trace := result.Trace
	exc, threw := result.FirstException()

	if trace.Reached(e.cfg.Target.Class, e.cfg.Target.Method) {
		s.targetHits++
	} else if threw {
		s.outsiders++
	}

	s.tables.RecordCalls(result.Calls)

	// A thrower with no frame below the harness is left out of both the
	// coverage counts and exception handling.
	var entry model.StackFrame
	if threw {
		var ok bool
		if entry, ok = entryFrame(exc.Frames, e.cfg.HarnessPrefixes); !ok {
			e.logger.Debug("exception has no entry frame",
				zap.String("candidate", result.CandidateID),
				zap.String("exception", exc.Type))
			return false
		}
	}

	e.countCoverage(trace, true, tracked)
	e.countCoverage(trace, false, tracked)
	if !threw {
		return false
	}
	s.tables.RecordExceptionTrigger(entry.Signature())

	candidate, ok := e.synth.synthesize(exc)
	if !ok {
		return false
	}
	key := candidate.Key()
	if _, known := s.corresponders[key]; !known {
		if corr, found := e.resolver.corresponder(exc.Frames, candidate, tracked); found {
			s.corresponders[key] = &corr
		} else {
			s.corresponders[key] = nil
		}
	}
	s.occurrences[key]++
	if _, ok := s.candidates[key]; !ok {
		s.candidates[key] = candidate
	}
	return true
}

// countCoverage increments the coverage count of every tracked objective
// whose goal the trace covered with the given outcome.
func (e *Enhancer) countCoverage(trace model.Trace, value bool, tracked []model.Objective) {
	for _, branchID := range trace.Covered(value) {
		key := model.GoalKey{BranchID: branchID, Value: value}
		for _, obj := range tracked {
			if obj.Goal.Key() == key {
				e.state.goalCoverage[obj.Key()]++
			}
		}
	}
}

// entryFrame returns the outermost frame below the test harness, i.e. the
// operation the test program invoked directly.
func entryFrame(frames []model.StackFrame, harness []string) (model.StackFrame, bool) {
	var entry model.StackFrame
	found := false
	for _, frame := range frames {
		if hasAnyPrefix(frame.ClassName, harness) {
			break
		}
		entry = frame
		found = true
	}
	return entry, found
}
