package model

import (
	"fmt"
	"sort"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// GoalKey is the identity of a coverage objective: two goals are equal iff
// their branch and required truth value match.
type GoalKey struct {
	BranchID int  `json:"branch_id"`
	Value    bool `json:"value"`
}

func (k GoalKey) String() string {
	return fmt.Sprintf("B%d:%t", k.BranchID, k.Value)
}

// Goal is a branch plus the truth value its predicate must take.
type Goal struct {
	ClassName  string `json:"class_name" yaml:"class"`
	MethodName string `json:"method_name" yaml:"method"`
	BranchID   int    `json:"branch_id" yaml:"branch"`
	Value      bool   `json:"value" yaml:"value"`
	Line       int    `json:"line" yaml:"line"`
}

func (g Goal) Key() GoalKey {
	return GoalKey{BranchID: g.BranchID, Value: g.Value}
}

// Negated returns the goal asking for the opposite outcome of the same branch.
func (g Goal) Negated() Goal {
	g.Value = !g.Value
	return g
}

func (g Goal) String() string {
	return fmt.Sprintf("%s.%s %s (line %d)", g.ClassName, g.MethodName, g.Key(), g.Line)
}

// Kind selects how an objective is scored. It is picked once from the
// configured coverage criterion.
type Kind int

const (
	KindBranch Kind = iota
	KindFlagEffect
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindFlagEffect:
		return "fbranch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CriterionKind maps the configured coverage criteria to the objective kind
// synthesized goals take. Only the first criterion is consulted; ok is false
// when it is not a branch criterion.
func CriterionKind(criteria []string) (Kind, bool) {
	if len(criteria) == 0 {
		return 0, false
	}
	switch strings.ToLower(strings.TrimSpace(criteria[0])) {
	case "branch":
		return KindBranch, true
	case "fbranch":
		return KindFlagEffect, true
	default:
		return 0, false
	}
}

// MethodBaseName drops a JVM-style descriptor: "push(I)V" -> "push".
func MethodBaseName(method string) string {
	if i := strings.IndexByte(method, '('); i >= 0 {
		return method[:i]
	}
	return method
}

// Objective is an entry of the goal graph. Objectives carrying a Context were
// synthesized from an observed exception; InTarget and Avoidable are only
// meaningful for those.
type Objective struct {
	Kind      Kind         `json:"kind"`
	Goal      Goal         `json:"goal"`
	Context   *CallContext `json:"context,omitempty"`
	InTarget  bool         `json:"in_target,omitempty"`
	Avoidable bool         `json:"avoidable,omitempty"`
}

// NewObjective builds a plain structural objective.
func NewObjective(kind Kind, goal Goal) Objective {
	return Objective{Kind: kind, Goal: goal}
}

func (o Objective) IsContextual() bool {
	return o.Context != nil
}

// Key identifies an objective inside the goal graph and the frontier sets.
func (o Objective) Key() string {
	if o.Context == nil {
		return o.Goal.Key().String()
	}
	return o.Goal.Key().String() + "@" + o.Context.Key()
}

func (o Objective) String() string {
	if o.Context == nil {
		return fmt.Sprintf("%s[%s]", o.Kind, o.Goal)
	}
	return fmt.Sprintf("%s[%s] ctx=%s", o.Kind, o.Goal, o.Context.Shape())
}

// StackFrame is one element of an uncaught exception's stack, innermost first.
type StackFrame struct {
	ClassName  string `json:"class_name" yaml:"class"`
	MethodName string `json:"method_name" yaml:"method"`
	Line       int    `json:"line" yaml:"line"`
}

func (f StackFrame) String() string {
	return fmt.Sprintf("%s.%s:%d", f.ClassName, f.MethodName, f.Line)
}

// Signature is the operation identifier used by the run-scoped call tables.
func (f StackFrame) Signature() string {
	return f.ClassName + "." + f.MethodName
}

// CallContext is the call-stack path leading to a goal instance.
type CallContext struct {
	Frames []StackFrame `json:"frames"`
}

func NewCallContext(frames []StackFrame) *CallContext {
	return &CallContext{Frames: append([]StackFrame(nil), frames...)}
}

// Key includes line numbers; two contexts with the same key are the same path.
func (c *CallContext) Key() string {
	if c == nil {
		return ""
	}
	parts := make([]string, 0, len(c.Frames))
	for _, frame := range c.Frames {
		parts = append(parts, frame.String())
	}
	return strings.Join(parts, "<")
}

// Shape is the class#method chain without line numbers.
func (c *CallContext) Shape() string {
	if c == nil {
		return ""
	}
	parts := make([]string, 0, len(c.Frames))
	for _, frame := range c.Frames {
		parts = append(parts, frame.Signature())
	}
	return strings.Join(parts, "<")
}

// ThrownException is an uncaught exception observed during candidate execution.
type ThrownException struct {
	Type   string       `json:"type" yaml:"type"`
	Frames []StackFrame `json:"frames" yaml:"frames"`
}

// SimpleName strips the package qualifier and any nesting prefix.
func (e ThrownException) SimpleName() string {
	name := e.Type
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "$"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// Trace is the raw execution data collected by the sandbox for one candidate.
type Trace struct {
	TrueDistances  map[int]float64                   `json:"true_distances,omitempty" yaml:"true_distances"`
	FalseDistances map[int]float64                   `json:"false_distances,omitempty" yaml:"false_distances"`
	CoveredTrue    map[int]int                       `json:"covered_true,omitempty" yaml:"covered_true"`
	CoveredFalse   map[int]int                       `json:"covered_false,omitempty" yaml:"covered_false"`
	Coverage       map[string]map[string]map[int]int `json:"coverage,omitempty" yaml:"coverage"`
	Exceptions     []ThrownException                 `json:"exceptions,omitempty" yaml:"exceptions"`
}

// Distance returns the recorded branch distance for the given outcome.
func (t Trace) Distance(branchID int, value bool) (float64, bool) {
	distances := t.FalseDistances
	if value {
		distances = t.TrueDistances
	}
	d, ok := distances[branchID]
	return d, ok
}

// Covered returns the covered branch ids for one outcome in ascending order.
func (t Trace) Covered(value bool) []int {
	covered := t.CoveredFalse
	if value {
		covered = t.CoveredTrue
	}
	ids := make([]int, 0, len(covered))
	for id := range covered {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Reached reports whether the coverage map has an entry for the method.
// Descriptors are ignored on both sides.
func (t Trace) Reached(className, methodName string) bool {
	methods, ok := t.Coverage[className]
	if !ok {
		return false
	}
	want := MethodBaseName(methodName)
	for method := range methods {
		if MethodBaseName(method) == want {
			return true
		}
	}
	return false
}

// ExecutionResult is the last execution of one candidate test program.
type ExecutionResult struct {
	CandidateID string   `json:"candidate_id" yaml:"id"`
	Calls       []string `json:"calls,omitempty" yaml:"calls"`
	Trace       Trace    `json:"trace" yaml:"trace"`
}

// FirstException returns the first uncaught exception, if any.
func (r ExecutionResult) FirstException() (ThrownException, bool) {
	if len(r.Trace.Exceptions) == 0 {
		return ThrownException{}, false
	}
	return r.Trace.Exceptions[0], true
}

// GenerationDiagnostics summarises one generation of the search.
type GenerationDiagnostics struct {
	Generation       int      `json:"generation"`
	Candidates       int      `json:"candidates"`
	CurrentGoals     int      `json:"current_goals"`
	CoveredGoals     int      `json:"covered_goals"`
	NewlyCovered     int      `json:"newly_covered"`
	BestFitness      float64  `json:"best_fitness"`
	MeanFitness      float64  `json:"mean_fitness"`
	TargetHits       int      `json:"target_hits"`
	Outsiders        int      `json:"outsiders"`
	Synthesized      int      `json:"synthesized"`
	UndefinedSkipped int      `json:"undefined_skipped"`
	GateClosed       bool     `json:"gate_closed,omitempty"`
	Admitted         string   `json:"admitted,omitempty"`
	Pruned           []string `json:"pruned,omitempty"`
}

// HandledGoalRecord persists one admitted exception-derived objective.
type HandledGoalRecord struct {
	VersionedRecord
	Key        string    `json:"key"`
	Objective  Objective `json:"objective"`
	Generation int       `json:"generation"`
	Parent     string    `json:"parent,omitempty"`
}

// CallTables is the persisted form of the run-scoped operation tables.
type CallTables struct {
	VersionedRecord
	Calls    map[string]int `json:"calls"`
	Triggers map[string]int `json:"triggers"`
}

// RunRecord summarises a finished search run.
type RunRecord struct {
	VersionedRecord
	ID           string `json:"id"`
	TargetClass  string `json:"target_class"`
	TargetMethod string `json:"target_method"`
	Criterion    string `json:"criterion"`
	Generations  int    `json:"generations"`
	CoveredGoals int    `json:"covered_goals"`
	CurrentGoals int    `json:"current_goals"`
	Admitted     int    `json:"admitted"`
}
