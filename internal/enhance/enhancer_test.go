package enhance

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalforge/internal/cdg"
	"goalforge/internal/fitness"
	"goalforge/internal/goals"
	"goalforge/internal/interception"
	"goalforge/internal/model"
)

const (
	stackCls  = "org.example.Stack"
	driverCls = "org.example.Driver"
)

// stackIndex models Driver.run calling Stack.pop under B2=true. Stack.pop
// throws IllegalStateException under B1=false and NoSuchElementException
// under B5=false; B3 and B4 guard the code after the first check.
func stackIndex(t *testing.T) *cdg.MemoryIndex {
	t.Helper()
	idx, err := cdg.NewMemoryIndex([]cdg.InstructionRecord{
		{Instruction: cdg.Instruction{ID: "s10", ClassName: stackCls, MethodName: "pop()I", Line: 10, Text: "IFNE", BranchID: 1}},
		{Instruction: cdg.Instruction{ID: "s11", ClassName: stackCls, MethodName: "pop()I", Line: 11, Text: "NEW java/lang/IllegalStateException"},
			Dependencies: []cdg.DependencyRecord{{Branch: 1, Value: false}}},
		{Instruction: cdg.Instruction{ID: "s12", ClassName: stackCls, MethodName: "pop()I", Line: 12, Text: "IFLE", BranchID: 3},
			Dependencies: []cdg.DependencyRecord{{Branch: 1, Value: true}}},
		{Instruction: cdg.Instruction{ID: "s13", ClassName: stackCls, MethodName: "pop()I", Line: 13, Text: "IFEQ", BranchID: 4},
			Dependencies: []cdg.DependencyRecord{{Branch: 3, Value: true}}},
		{Instruction: cdg.Instruction{ID: "s14", ClassName: stackCls, MethodName: "pop()I", Line: 14, Text: "IFNULL", BranchID: 5}},
		{Instruction: cdg.Instruction{ID: "s15", ClassName: stackCls, MethodName: "pop()I", Line: 15, Text: "NEW java/util/NoSuchElementException"},
			Dependencies: []cdg.DependencyRecord{{Branch: 5, Value: false}}},
		{Instruction: cdg.Instruction{ID: "s30", ClassName: stackCls, MethodName: "pop()I", Line: 30, Text: "NEW java/lang/IllegalStateException"}},
		{Instruction: cdg.Instruction{ID: "d20", ClassName: driverCls, MethodName: "run()V", Line: 20, Text: "IFEQ", BranchID: 2}},
		{Instruction: cdg.Instruction{ID: "d21", ClassName: driverCls, MethodName: "run()V", Line: 21, Text: "INVOKEVIRTUAL org/example/Stack.pop()I"},
			Dependencies: []cdg.DependencyRecord{{Branch: 2, Value: true}}},
	})
	require.NoError(t, err)
	return idx
}

type fixture struct {
	idx   *cdg.MemoryIndex
	graph *goals.Graph
	mgr   *goals.Manager
	sw    *interception.Switch
	enh   *Enhancer
}

func on(branch int, value bool) model.GoalKey {
	return model.GoalKey{BranchID: branch, Value: value}
}

// newFixture builds the graph from stackIndex. A non-empty frontier replaces
// the initial roots.
func newFixture(t *testing.T, frontier ...model.GoalKey) *fixture {
	t.Helper()
	f := &fixture{idx: stackIndex(t), sw: interception.NewSwitch()}
	f.graph = goals.BuildGraph(f.idx, model.KindBranch)
	f.mgr = goals.NewManager(f.graph, nil)
	if len(frontier) > 0 {
		objs := make([]model.Objective, 0, len(frontier))
		for _, key := range frontier {
			objs = append(objs, f.obj(t, key.BranchID, key.Value))
		}
		f.mgr.ReplaceCurrent(objs...)
	}
	cfg := DefaultConfig(Target{Class: stackCls, Method: "pop()I"})
	enh, err := New(cfg, f.idx, f.mgr, f.graph, WithToggle(f.sw))
	require.NoError(t, err)
	f.enh = enh
	return f
}

func (f *fixture) obj(t *testing.T, branch int, value bool) model.Objective {
	t.Helper()
	ins, ok := f.idx.BranchInstruction(branch)
	require.True(t, ok)
	return model.NewObjective(model.KindBranch, cdg.Branch{ID: branch, Instruction: ins}.Goal(value))
}

func frames(throwLine, callLine int) []model.StackFrame {
	return []model.StackFrame{
		{ClassName: stackCls, MethodName: "pop", Line: throwLine},
		{ClassName: driverCls, MethodName: "run", Line: callLine},
		{ClassName: "sun.reflect.NativeMethodAccessorImpl", MethodName: "invoke0", Line: 0},
		{ClassName: "org.example.Harness", MethodName: "exec", Line: 5},
	}
}

// candidate builds an execution result. coversB2 marks B2=true covered;
// exc, when non-empty, makes the candidate throw from Stack.pop.
func candidate(id string, coversB2 bool, exc string, throwLine int) model.ExecutionResult {
	trace := model.Trace{
		CoveredTrue: map[int]int{},
		Coverage: map[string]map[string]map[int]int{
			driverCls: {"run()V": {20: 1}},
		},
	}
	if coversB2 {
		trace.CoveredTrue[2] = 1
		trace.TrueDistances = map[int]float64{2: 0}
	}
	if exc != "" {
		trace.Coverage[stackCls] = map[string]map[int]int{"pop()I": {throwLine: 1}}
		trace.Exceptions = []model.ThrownException{{Type: exc, Frames: frames(throwLine, 21)}}
	}
	return model.ExecutionResult{
		CandidateID: id,
		Calls:       []string{driverCls + ".run", driverCls + ".run"},
		Trace:       trace,
	}
}

func population(throwing, coveringOnly, idle int, exc string, throwLine int) []model.ExecutionResult {
	var out []model.ExecutionResult
	for i := 0; i < throwing; i++ {
		out = append(out, candidate("t", true, exc, throwLine))
	}
	for i := 0; i < coveringOnly; i++ {
		out = append(out, candidate("c", true, "", 0))
	}
	for i := 0; i < idle; i++ {
		out = append(out, candidate("i", false, "", 0))
	}
	return out
}

const illegalState = "java.lang.IllegalStateException"

func keysOf(objs []model.Objective) []string {
	out := make([]string, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.Key())
	}
	return out
}

func TestScenarioCAdmitsChildOfCorresponder(t *testing.T) {
	f := newFixture(t, on(2, true), on(3, true), on(4, true))

	report := f.enh.Enhance(context.Background(), population(4, 4, 2, illegalState, 11))

	require.NotNil(t, report.Admitted)
	assert.Equal(t, model.GoalKey{BranchID: 1, Value: true}, report.Admitted.Goal.Key())
	assert.True(t, report.Admitted.InTarget)
	require.NotNil(t, report.Corresponder)
	assert.Equal(t, "B2:true", report.Corresponder.Key())
	require.Len(t, report.Ranked, 1)
	assert.Equal(t, 4, report.Ranked[0].Occurrences)
	assert.Equal(t, 8, report.Ranked[0].Denominator)
	assert.InDelta(t, 0.5, report.Ranked[0].Probability, 1e-12)

	if diff := cmp.Diff([]string{"B3:true", "B4:true"}, keysOf(report.Pruned)); diff != "" {
		t.Fatalf("pruned mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B2:true", report.Admitted.Key()}, keysOf(f.mgr.CurrentGoals())); diff != "" {
		t.Fatalf("frontier mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, f.enh.State().IsHandled(*report.Admitted))
	assert.True(t, f.sw.Active())
}

func TestScenarioDSkipsUndefinedProbability(t *testing.T) {
	f := newFixture(t, on(2, true))
	var pop []model.ExecutionResult
	for i := 0; i < 4; i++ {
		pop = append(pop, candidate("t", false, illegalState, 11))
	}
	pop = append(pop, population(0, 0, 6, "", 0)...)

	report := f.enh.Enhance(context.Background(), pop)

	assert.Nil(t, report.Admitted)
	assert.Equal(t, 1, report.UndefinedSkipped)
	require.Len(t, report.Ranked, 1)
	assert.False(t, report.Ranked[0].Defined)
	assert.Empty(t, f.enh.State().Handled())
}

func TestThresholdIsStrict(t *testing.T) {
	f := newFixture(t, on(2, true))

	report := f.enh.Enhance(context.Background(), population(1, 9, 0, illegalState, 11))
	require.Len(t, report.Ranked, 1)
	assert.Equal(t, 0.1, report.Ranked[0].Probability)
	assert.Nil(t, report.Admitted)

	assert.False(t, f.enh.exceedsThreshold(0.1))
	assert.True(t, f.enh.exceedsThreshold(0.1000001))
}

func TestAtMostOneAdmissionPerGeneration(t *testing.T) {
	f := newFixture(t, on(2, true))
	pop := population(3, 4, 0, illegalState, 11)
	pop = append(pop, population(3, 0, 0, "java.util.NoSuchElementException", 15)...)

	report := f.enh.Enhance(context.Background(), pop)

	require.Len(t, report.Ranked, 2)
	assert.Equal(t, 10, report.Ranked[0].Objective.Goal.Line)
	assert.Equal(t, 14, report.Ranked[1].Objective.Goal.Line)
	require.NotNil(t, report.Admitted)
	assert.Equal(t, 1, report.Admitted.Goal.BranchID)
	assert.Len(t, f.enh.State().Handled(), 1)

	next := f.enh.Enhance(context.Background(), pop)
	assert.True(t, next.GateClosed)
	assert.Nil(t, next.Admitted)
	assert.Nil(t, next.Ranked)
}

func TestHandledCandidateIsNeverReadmitted(t *testing.T) {
	f := newFixture(t, on(2, true))
	pop := population(4, 4, 0, illegalState, 11)

	first := f.enh.Enhance(context.Background(), pop)
	require.NotNil(t, first.Admitted)

	for gen := 0; gen < 5; gen++ {
		f.mgr.RemoveCurrent(*first.Admitted)
		report := f.enh.Enhance(context.Background(), pop)
		assert.False(t, report.GateClosed, "generation %d", gen)
		assert.Nil(t, report.Admitted, "generation %d", gen)
	}
	assert.Len(t, f.enh.State().Handled(), 1)
}

func TestSameShapeContextIsAvoidable(t *testing.T) {
	f := newFixture(t, on(2, true))
	first := f.enh.Enhance(context.Background(), population(4, 4, 0, illegalState, 11))
	require.NotNil(t, first.Admitted)
	f.mgr.RemoveCurrent(*first.Admitted)

	// Same operations, different call line: a new context key with the same shape.
	var pop []model.ExecutionResult
	for i := 0; i < 4; i++ {
		c := candidate("t", true, illegalState, 11)
		c.Trace.Exceptions[0].Frames = frames(11, 22)
		pop = append(pop, c)
	}
	report := f.enh.Enhance(context.Background(), pop)

	assert.Nil(t, report.Admitted)
	require.Len(t, report.Ranked, 1)
	assert.True(t, report.Ranked[0].Objective.Avoidable)
}

func TestRootAdmissionReplacesFrontier(t *testing.T) {
	f := newFixture(t, on(3, true))
	pop := population(2, 0, 0, illegalState, 11)
	for i := 0; i < 3; i++ {
		c := candidate("hit", false, "", 0)
		c.Trace.Coverage[stackCls] = map[string]map[int]int{"pop()I": {10: 1}}
		pop = append(pop, c)
	}

	report := f.enh.Enhance(context.Background(), pop)

	require.NotNil(t, report.Admitted)
	assert.Nil(t, report.Corresponder)
	assert.Equal(t, 5, report.TargetHits)
	assert.InDelta(t, 0.4, report.Ranked[0].Probability, 1e-12)
	if diff := cmp.Diff([]string{report.Admitted.Key()}, keysOf(f.mgr.CurrentGoals())); diff != "" {
		t.Fatalf("frontier mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{report.Admitted.Key()}, keysOf(f.graph.Roots())); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}
}

func TestCountersAndCallTables(t *testing.T) {
	f := newFixture(t, on(2, true))
	outsider := candidate("o", false, "", 0)
	outsider.Trace.Exceptions = []model.ThrownException{{
		Type:   "java.lang.NullPointerException",
		Frames: []model.StackFrame{{ClassName: driverCls, MethodName: "run", Line: 20}},
	}}
	pop := append(population(2, 1, 0, illegalState, 11), outsider)

	report := f.enh.Enhance(context.Background(), pop)

	assert.Equal(t, 4, report.Candidates)
	assert.Equal(t, 2, report.TargetHits)
	assert.Equal(t, 1, report.Outsiders)
	assert.Equal(t, 2, report.Synthesized)

	tables := f.enh.State().Tables()
	assert.Equal(t, 4, tables.CallCount(driverCls+".run"))
	assert.Equal(t, 3, tables.ExceptionTriggerCount(driverCls+".run"))

	// Generation counters are reset after the pass.
	assert.Zero(t, f.enh.State().targetHits)
	assert.Empty(t, f.enh.State().candidates)
}

func TestThrowerWithoutEntryFrameIsIgnored(t *testing.T) {
	f := newFixture(t, on(2, true))
	tracked := f.mgr.CurrentGoals()
	thrower := candidate("x", true, illegalState, 11)
	thrower.Trace.Exceptions[0].Frames = []model.StackFrame{
		{ClassName: "sun.misc.Unsafe", MethodName: "park"},
	}

	assert.False(t, f.enh.observe(thrower, tracked))
	s := f.enh.State()
	assert.Empty(t, s.goalCoverage)
	assert.Empty(t, s.candidates)
	assert.Equal(t, 1, s.targetHits)
	assert.Equal(t, 2, s.tables.CallCount(driverCls+".run"))
	assert.Zero(t, s.tables.ExceptionTriggerCount(driverCls+".run"))

	assert.False(t, f.enh.observe(candidate("c", true, "", 0), tracked))
	assert.Equal(t, 1, s.goalCoverage[on(2, true).String()])
}

func TestCorresponderIsComputedOnce(t *testing.T) {
	f := newFixture(t, on(2, true))
	pop := population(1, 9, 0, illegalState, 11)
	report := f.enh.Enhance(context.Background(), pop)
	require.Nil(t, report.Admitted)
	synthesized := report.Ranked[0].Objective

	f.mgr.ReplaceCurrent(f.obj(t, 3, true))
	f.enh.Enhance(context.Background(), pop)

	corr, known := f.enh.State().Corresponder(synthesized)
	require.True(t, known)
	require.NotNil(t, corr)
	assert.Equal(t, "B2:true", corr.Key())
}

func TestSynthesizerWalksFrames(t *testing.T) {
	f := newFixture(t)
	s := f.enh.synth

	t.Run("skips frames without instructions", func(t *testing.T) {
		exc := model.ThrownException{Type: illegalState, Frames: append(
			[]model.StackFrame{{ClassName: stackCls, MethodName: "helper", Line: 99}}, frames(11, 21)...)}
		obj, ok := s.synthesize(exc)
		require.True(t, ok)
		assert.Equal(t, model.GoalKey{BranchID: 1, Value: true}, obj.Goal.Key())
		assert.Len(t, obj.Context.Frames, 5)
	})
	t.Run("stops when no instruction mentions the type", func(t *testing.T) {
		_, ok := s.synthesize(model.ThrownException{Type: "java.lang.ArithmeticException", Frames: frames(11, 21)})
		assert.False(t, ok)
	})
	t.Run("advances past a throw site without dependencies", func(t *testing.T) {
		exc := model.ThrownException{Type: illegalState, Frames: []model.StackFrame{
			{ClassName: stackCls, MethodName: "pop", Line: 30},
			{ClassName: stackCls, MethodName: "pop", Line: 11},
		}}
		obj, ok := s.synthesize(exc)
		require.True(t, ok)
		assert.Equal(t, 1, obj.Goal.BranchID)
	})
	t.Run("unsupported criterion synthesizes nothing", func(t *testing.T) {
		cfg := DefaultConfig(Target{Class: stackCls, Method: "pop"})
		cfg.Criteria = []string{"line"}
		enh, err := New(cfg, f.idx, f.mgr, f.graph)
		require.NoError(t, err)
		_, ok := enh.synth.synthesize(model.ThrownException{Type: illegalState, Frames: frames(11, 21)})
		assert.False(t, ok)
	})
}

func TestEntryFrame(t *testing.T) {
	entry, ok := entryFrame(frames(11, 21), DefaultHarnessPrefixes)
	require.True(t, ok)
	assert.Equal(t, driverCls+".run", entry.Signature())

	_, ok = entryFrame([]model.StackFrame{{ClassName: "sun.misc.Unsafe", MethodName: "park"}}, DefaultHarnessPrefixes)
	assert.False(t, ok)
}

type panickingManager struct {
	*goals.Manager
}

func (panickingManager) CoveredGoals() []model.Objective {
	panic("covered goals unavailable")
}

func TestInterceptionRestoredOnEveryPath(t *testing.T) {
	f := newFixture(t, on(2, true))
	var activeDuringAdmission bool
	f.mgr.OnAdmission(func(model.Objective) { activeDuringAdmission = f.sw.Active() })

	report := f.enh.Enhance(context.Background(), population(4, 4, 0, illegalState, 11))
	require.NotNil(t, report.Admitted)
	assert.False(t, activeDuringAdmission)
	assert.True(t, f.sw.Active())

	broken, err := New(DefaultConfig(Target{Class: stackCls, Method: "pop"}), f.idx,
		panickingManager{f.mgr}, f.graph, WithToggle(f.sw))
	require.NoError(t, err)
	assert.Panics(t, func() { broken.Enhance(context.Background(), nil) })
	assert.True(t, f.sw.Active())
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig(Target{})
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig(Target{Class: stackCls, Method: "pop"})
	cfg.Threshold = 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := New(DefaultConfig(Target{Class: stackCls, Method: "pop"}), nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultConfigSharesClimbDepth(t *testing.T) {
	cfg := DefaultConfig(Target{Class: stackCls, Method: "pop()I"})
	assert.Equal(t, fitness.DefaultMaxClimbDepth, cfg.MaxDepth)
}
