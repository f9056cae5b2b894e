package enhance

import "sort"

// rank computes the occurrence probability of every candidate synthesized
// this generation, ordered by the source line of its branch.
func (e *Enhancer) rank() []Ranked {
	s := e.state
	out := make([]Ranked, 0, len(s.candidates))
	for key, candidate := range s.candidates {
		r := Ranked{
			Objective:    candidate,
			Corresponder: s.corresponders[key],
			Occurrences:  s.occurrences[key],
		}
		switch {
		case r.Corresponder != nil:
			r.Denominator = s.goalCoverage[r.Corresponder.Key()]
		case candidate.InTarget:
			r.Denominator = s.targetHits
		default:
			r.Denominator = s.outsiders
		}
		if r.Denominator > 0 {
			r.Defined = true
			r.Probability = float64(r.Occurrences) / float64(r.Denominator)
			if r.Probability > 1 {
				r.Probability = 1
			}
			candidateProbability.Observe(r.Probability)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].Objective.Goal.Line, out[j].Objective.Goal.Line
		if li != lj {
			return li < lj
		}
		return out[i].Objective.Key() < out[j].Objective.Key()
	})
	return out
}

// selectCandidate takes the first ranked candidate, in line order, that
// clears the threshold and was neither admitted before nor reached the same
// way as an admitted one.
func (e *Enhancer) selectCandidate(ranked []Ranked) (Ranked, bool) {
	for i := range ranked {
		r := &ranked[i]
		if !r.Defined || !e.exceedsThreshold(r.Probability) {
			continue
		}
		if e.state.IsHandled(r.Objective) {
			continue
		}
		if e.state.avoidable(r.Objective) {
			r.Objective.Avoidable = true
			continue
		}
		return *r, true
	}
	return Ranked{}, false
}

func (e *Enhancer) exceedsThreshold(p float64) bool {
	return p > e.cfg.Threshold
}
