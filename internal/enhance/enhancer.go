// Package enhance grows the goal graph from exceptions observed while the
// population runs. After every generation it synthesizes objectives that ask
// the search to reach the branch guarding each throw site, estimates how
// often each one occurs and admits at most one of them into the graph.
package enhance

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goalforge/internal/cdg"
	"goalforge/internal/fitness"
	"goalforge/internal/interception"
	"goalforge/internal/model"
)

// DefaultThreshold is the occurrence probability a candidate must exceed.
const DefaultThreshold = 0.1

var (
	DefaultLibraryPrefixes = []string{"java.", "javax.", "sun.", "jdk."}
	DefaultHarnessPrefixes = []string{"sun.", "jdk.internal.reflect."}
)

var ErrInvalidConfig = errors.New("invalid enhancer config")

// Target is the operation under test.
type Target struct {
	Class  string
	Method string
}

type Config struct {
	Target    Target
	Criteria  []string
	Threshold float64
	MaxDepth  int
	// LibraryPrefixes mark frames skipped when deciding InTarget.
	LibraryPrefixes []string
	// HarnessPrefixes mark the frames of the test driver; the entry frame of an
	// exception is the last frame seen before the first harness frame.
	HarnessPrefixes []string
}

func DefaultConfig(target Target) Config {
	return Config{
		Target:          target,
		Criteria:        []string{"branch"},
		Threshold:       DefaultThreshold,
		MaxDepth:        fitness.DefaultMaxClimbDepth,
		LibraryPrefixes: append([]string(nil), DefaultLibraryPrefixes...),
		HarnessPrefixes: append([]string(nil), DefaultHarnessPrefixes...),
	}
}

func (c Config) Validate() error {
	if c.Target.Class == "" || c.Target.Method == "" {
		return fmt.Errorf("%w: target class and method are required", ErrInvalidConfig)
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return fmt.Errorf("%w: threshold must be in [0,1), got %f", ErrInvalidConfig, c.Threshold)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("%w: max depth must be > 0", ErrInvalidConfig)
	}
	return nil
}

// GoalGraph is the part of the goal graph the enhancer mutates.
type GoalGraph interface {
	UpdateRoot(obj model.Objective)
	AddChild(parent, child model.Objective)
	StructuralDescendants(obj model.Objective) []model.Objective
}

// GoalManager owns the active frontier.
type GoalManager interface {
	CurrentGoals() []model.Objective
	CoveredGoals() []model.Objective
	ReplaceCurrent(goals ...model.Objective)
	AddCurrent(obj model.Objective)
	RemoveCurrent(obj model.Objective) bool
	GoalAdmitted(obj model.Objective)
}

type Option func(*Enhancer)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Enhancer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithToggle sets the interception layer suspended for the duration of a pass.
func WithToggle(toggle interception.Toggle) Option {
	return func(e *Enhancer) {
		e.toggle = toggle
	}
}

// WithState shares bookkeeping across enhancers or restores it from storage.
func WithState(state *State) Option {
	return func(e *Enhancer) {
		if state != nil {
			e.state = state
		}
	}
}

type Enhancer struct {
	cfg     Config
	manager GoalManager
	graph   GoalGraph
	state   *State
	toggle  interception.Toggle
	logger  *zap.Logger

	synth    synthesizer
	resolver resolver
}

func New(cfg Config, index cdg.Index, manager GoalManager, graph GoalGraph, opts ...Option) (*Enhancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if index == nil || manager == nil || graph == nil {
		return nil, fmt.Errorf("%w: index, manager and graph are required", ErrInvalidConfig)
	}
	kind, supported := model.CriterionKind(cfg.Criteria)
	e := &Enhancer{
		cfg:     cfg,
		manager: manager,
		graph:   graph,
		logger:  zap.NewNop(),
		synth: synthesizer{
			index:    index,
			kind:     kind,
			enabled:  supported,
			maxDepth: cfg.MaxDepth,
			target:   cfg.Target,
			library:  cfg.LibraryPrefixes,
		},
		resolver: resolver{index: index, maxDepth: cfg.MaxDepth},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.state == nil {
		e.state = NewState(nil)
	}
	if !supported {
		e.logger.Warn("criterion does not support exception goals", zap.Strings("criteria", cfg.Criteria))
	}
	return e, nil
}

func (e *Enhancer) State() *State {
	return e.state
}

// Ranked is one candidate considered by the ranker.
type Ranked struct {
	Objective    model.Objective
	Corresponder *model.Objective
	Occurrences  int
	Denominator  int
	Probability  float64
	Defined      bool
}

// Report summarises one enhancement pass.
type Report struct {
	Candidates       int
	TargetHits       int
	Outsiders        int
	Synthesized      int
	UndefinedSkipped int
	GateClosed       bool
	Ranked           []Ranked
	Admitted         *model.Objective
	Corresponder     *model.Objective
	Pruned           []model.Objective
}

// Enhance runs one pass over the generation's population. Generation
// counters are reset on return whatever the outcome.
func (e *Enhancer) Enhance(ctx context.Context, population []model.ExecutionResult) Report {
	_, span := tracer.Start(ctx, "enhance.Enhance")
	defer span.End()

	restore := interception.Suspend(e.toggle)
	defer restore()
	defer e.state.resetGeneration()

	report := Report{Candidates: len(population)}
	tracked := e.tracked()
	for _, result := range population {
		if e.observe(result, tracked) {
			report.Synthesized++
		}
	}
	report.TargetHits = e.state.targetHits
	report.Outsiders = e.state.outsiders
	span.AddEvent("population observed", traceAttrs(report))
	synthesizedTotal.Add(float64(report.Synthesized))

	if e.gateClosed() {
		report.GateClosed = true
		passTotal.WithLabelValues("gated").Inc()
		e.logger.Debug("exception-derived goal still pending, skipping ranking")
		return report
	}

	report.Ranked = e.rank()
	for _, r := range report.Ranked {
		if !r.Defined {
			report.UndefinedSkipped++
		}
	}
	undefinedProbabilityTotal.Add(float64(report.UndefinedSkipped))

	chosen, ok := e.selectCandidate(report.Ranked)
	if !ok {
		passTotal.WithLabelValues("idle").Inc()
		span.AddEvent("no candidate admitted")
		return report
	}
	admitted := chosen.Objective
	report.Admitted = &admitted
	report.Corresponder = chosen.Corresponder
	report.Pruned = e.admit(chosen)
	passTotal.WithLabelValues("admitted").Inc()
	span.AddEvent("candidate admitted", traceAttrs(report))
	span.SetAttributes(attribute.String("enhance.admitted", admitted.Key()))
	return report
}

// tracked lists current and covered objectives without duplicates.
func (e *Enhancer) tracked() []model.Objective {
	current := e.manager.CurrentGoals()
	covered := e.manager.CoveredGoals()
	out := make([]model.Objective, 0, len(current)+len(covered))
	seen := make(map[string]struct{}, cap(out))
	for _, group := range [][]model.Objective{current, covered} {
		for _, obj := range group {
			if _, ok := seen[obj.Key()]; ok {
				continue
			}
			seen[obj.Key()] = struct{}{}
			out = append(out, obj)
		}
	}
	return out
}

// gateClosed stops at the first current goal that came from an earlier
// admission.
func (e *Enhancer) gateClosed() bool {
	for _, obj := range e.manager.CurrentGoals() {
		if e.state.IsHandled(obj) {
			return true
		}
	}
	return false
}

func (e *Enhancer) admit(chosen Ranked) []model.Objective {
	obj := chosen.Objective
	var pruned []model.Objective
	if chosen.Corresponder == nil {
		e.graph.UpdateRoot(obj)
		e.manager.ReplaceCurrent(obj)
		admittedTotal.WithLabelValues("root").Inc()
	} else {
		e.graph.AddChild(*chosen.Corresponder, obj)
		e.manager.AddCurrent(obj)
		for _, descendant := range e.graph.StructuralDescendants(obj) {
			if e.manager.RemoveCurrent(descendant) {
				pruned = append(pruned, descendant)
			}
		}
		admittedTotal.WithLabelValues("child").Inc()
		prunedTotal.Add(float64(len(pruned)))
	}
	e.state.handled[obj.Key()] = obj
	e.manager.GoalAdmitted(obj)

	fields := []zap.Field{
		zap.String("objective", obj.String()),
		zap.Float64("probability", chosen.Probability),
		zap.Int("pruned", len(pruned)),
	}
	if chosen.Corresponder != nil {
		fields = append(fields, zap.String("corresponder", chosen.Corresponder.Key()))
	}
	e.logger.Info("exception goal admitted", fields...)
	return pruned
}

func traceAttrs(r Report) trace.EventOption {
	return trace.WithAttributes(
		attribute.Int("enhance.candidates", r.Candidates),
		attribute.Int("enhance.target_hits", r.TargetHits),
		attribute.Int("enhance.outsiders", r.Outsiders),
		attribute.Int("enhance.synthesized", r.Synthesized),
	)
}
