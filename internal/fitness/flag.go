package fitness

import (
	"math"

	"goalforge/internal/cdg"
	"goalforge/internal/model"
)

// FlagCall is a call site whose result feeds a flag later tested by a branch
// in another operation.
type FlagCall struct {
	CallerClass  string `json:"caller_class" yaml:"caller_class"`
	CallerMethod string `json:"caller_method" yaml:"caller_method"`
	Line         int    `json:"line" yaml:"line"`
	CalleeClass  string `json:"callee_class" yaml:"callee_class"`
	CalleeMethod string `json:"callee_method" yaml:"callee_method"`
	// Producers are the callee goals whose satisfaction makes the call return
	// the value the tested branch needs.
	Producers []model.Goal `json:"producers" yaml:"producers"`
}

func (c FlagCall) callee() string {
	return c.CalleeClass + "." + cdg.MethodBaseName(c.CalleeMethod)
}

// FlagEffect is the result of the flag-effect check for one goal.
type FlagEffect struct {
	HasFlagEffect bool
	Call          FlagCall
}

// FlagEvaluator detects flag effects and scores them through the call chain.
// InterproceduralFitness returns a raw distance >= 0; callers normalize it.
type FlagEvaluator interface {
	Check(goal model.Goal) FlagEffect
	InterproceduralFitness(goal model.Goal, contexts []FlagCall, trace model.Trace) float64
}

// NoFlags reports no flag effect for any goal.
type NoFlags struct{}

func (NoFlags) Check(model.Goal) FlagEffect { return FlagEffect{} }

func (NoFlags) InterproceduralFitness(model.Goal, []FlagCall, model.Trace) float64 {
	return 0
}

// FlagRecord binds a flag call to the goal whose predicate tests the flag.
type FlagRecord struct {
	Branch int      `json:"branch" yaml:"branch"`
	Value  bool     `json:"value" yaml:"value"`
	Call   FlagCall `json:"call" yaml:"call"`
}

// TableFlagEvaluator answers flag-effect queries from a static table and
// scores a flag through its producer goals. Producers that are flags
// themselves are followed with the call context extended, up to maxDepth
// nested calls; recursion into a callee already on the context is cut.
type TableFlagEvaluator struct {
	index    cdg.Index
	flags    map[model.GoalKey]FlagCall
	maxDepth int
}

func NewTableFlagEvaluator(index cdg.Index, records []FlagRecord, maxDepth int) *TableFlagEvaluator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxClimbDepth
	}
	flags := make(map[model.GoalKey]FlagCall, len(records))
	for _, record := range records {
		flags[model.GoalKey{BranchID: record.Branch, Value: record.Value}] = record.Call
	}
	return &TableFlagEvaluator{index: index, flags: flags, maxDepth: maxDepth}
}

// UnreachedFlagDistance is returned when no producer of the flag left any
// trace. It exceeds every approach-level value within the depth cap.
func (e *TableFlagEvaluator) UnreachedFlagDistance() float64 {
	return float64(e.maxDepth) + 1
}

func (e *TableFlagEvaluator) Check(goal model.Goal) FlagEffect {
	call, ok := e.flags[goal.Key()]
	if !ok {
		return FlagEffect{}
	}
	// a flag computed in the operation that tests it is an ordinary predicate
	if call.CalleeClass == goal.ClassName && cdg.MethodBaseName(call.CalleeMethod) == cdg.MethodBaseName(goal.MethodName) {
		return FlagEffect{}
	}
	return FlagEffect{HasFlagEffect: true, Call: call}
}

func (e *TableFlagEvaluator) InterproceduralFitness(goal model.Goal, contexts []FlagCall, trace model.Trace) float64 {
	if len(contexts) == 0 {
		return e.UnreachedFlagDistance()
	}
	call := contexts[len(contexts)-1]
	best := math.Inf(1)
	for _, producer := range call.Producers {
		if d, ok := e.producerDistance(producer, contexts, trace); ok && d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return e.UnreachedFlagDistance()
	}
	return best
}

func (e *TableFlagEvaluator) producerDistance(producer model.Goal, contexts []FlagCall, trace model.Trace) (float64, bool) {
	if d, ok := trace.Distance(producer.BranchID, producer.Value); ok {
		return d, true
	}
	if nested := e.Check(producer); nested.HasFlagEffect && len(contexts) < e.maxDepth && !onContext(contexts, nested.Call) {
		next := append(append([]FlagCall(nil), contexts...), nested.Call)
		d := e.InterproceduralFitness(producer, next, trace)
		if d < e.UnreachedFlagDistance() {
			return d, true
		}
	}
	return ApproachLevel(trace, e.index, producer, e.maxDepth)
}

func onContext(contexts []FlagCall, call FlagCall) bool {
	for _, c := range contexts {
		if c.callee() == call.callee() {
			return true
		}
	}
	return false
}
