// Package cdg exposes the control-flow / control-dependency information the
// fitness and goal-discovery layers query. The class-file reader and graph
// builder that produce it live outside this module; MemoryIndex holds their
// output.
package cdg

import (
	"errors"
	"fmt"
	"sort"

	"goalforge/internal/model"
)

var (
	ErrDuplicateInstruction = errors.New("duplicate instruction id")
	ErrUnknownInstruction   = errors.New("unknown instruction")
	ErrDuplicateBranch      = errors.New("duplicate branch id")
)

// Instruction is one low-level instruction of the program under test.
type Instruction struct {
	ID         string `json:"id" yaml:"id"`
	ClassName  string `json:"class" yaml:"class"`
	MethodName string `json:"method" yaml:"method"`
	Line       int    `json:"line" yaml:"line"`
	// Text is the textual form of the instruction, e.g. "NEW java/lang/IllegalStateException".
	Text string `json:"text" yaml:"text"`
	// BranchID is non-zero when the instruction is a conditional jump.
	BranchID int `json:"branch,omitempty" yaml:"branch"`
}

func (i Instruction) IsBranch() bool {
	return i.BranchID != 0
}

// Branch is a conditional jump together with the instruction that owns it.
type Branch struct {
	ID          int
	Instruction Instruction
}

// Goal returns the objective asking the branch to evaluate to value.
func (b Branch) Goal(value bool) model.Goal {
	return model.Goal{
		ClassName:  b.Instruction.ClassName,
		MethodName: b.Instruction.MethodName,
		BranchID:   b.ID,
		Value:      value,
		Line:       b.Instruction.Line,
	}
}

// ControlDependency states that an instruction only executes when Branch
// evaluates to Value.
type ControlDependency struct {
	Branch Branch
	Value  bool
}

func (cd ControlDependency) Goal() model.Goal {
	return cd.Branch.Goal(cd.Value)
}

func (cd ControlDependency) String() string {
	return fmt.Sprintf("B%d=%t", cd.Branch.ID, cd.Value)
}

// Index answers the control-flow queries of the fitness and enhancement code.
// Dependency slices keep declaration order; callers that need a single
// dependency take the first one.
type Index interface {
	InstructionsAtLine(className string, line int) []Instruction
	InstructionsAtMethodLine(className, methodName string, line int) []Instruction
	ControlDependencies(instructionID string) []ControlDependency
	BranchInstruction(branchID int) (Instruction, bool)
	Branches() []Branch
}

// DependencyRecord declares one control dependency by branch id.
type DependencyRecord struct {
	Branch int  `json:"branch" yaml:"branch"`
	Value  bool `json:"value" yaml:"value"`
}

// InstructionRecord is the declarative form MemoryIndex is built from.
type InstructionRecord struct {
	Instruction  `yaml:",inline"`
	Dependencies []DependencyRecord `json:"depends_on,omitempty" yaml:"depends_on"`
}

type lineKey struct {
	className string
	line      int
}

// MemoryIndex is an immutable in-memory Index.
type MemoryIndex struct {
	instructions map[string]Instruction
	byLine       map[lineKey][]string
	branches     map[int]string
	dependencies map[string][]ControlDependency
}

// NewMemoryIndex validates and indexes the records. Every dependency must
// reference a declared branch instruction.
func NewMemoryIndex(records []InstructionRecord) (*MemoryIndex, error) {
	idx := &MemoryIndex{
		instructions: make(map[string]Instruction, len(records)),
		byLine:       make(map[lineKey][]string),
		branches:     make(map[int]string),
		dependencies: make(map[string][]ControlDependency),
	}
	for _, record := range records {
		ins := record.Instruction
		if ins.ID == "" {
			return nil, fmt.Errorf("instruction id is required (class=%s line=%d)", ins.ClassName, ins.Line)
		}
		if _, exists := idx.instructions[ins.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstruction, ins.ID)
		}
		idx.instructions[ins.ID] = ins
		key := lineKey{className: ins.ClassName, line: ins.Line}
		idx.byLine[key] = append(idx.byLine[key], ins.ID)
		if ins.IsBranch() {
			if other, exists := idx.branches[ins.BranchID]; exists {
				return nil, fmt.Errorf("%w: %d (%s, %s)", ErrDuplicateBranch, ins.BranchID, other, ins.ID)
			}
			idx.branches[ins.BranchID] = ins.ID
		}
	}
	for _, record := range records {
		if len(record.Dependencies) == 0 {
			continue
		}
		deps := make([]ControlDependency, 0, len(record.Dependencies))
		for _, dep := range record.Dependencies {
			branchInsID, ok := idx.branches[dep.Branch]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on undeclared branch %d", ErrUnknownInstruction, record.ID, dep.Branch)
			}
			deps = append(deps, ControlDependency{
				Branch: Branch{ID: dep.Branch, Instruction: idx.instructions[branchInsID]},
				Value:  dep.Value,
			})
		}
		idx.dependencies[record.ID] = deps
	}
	return idx, nil
}

func (idx *MemoryIndex) InstructionsAtLine(className string, line int) []Instruction {
	if idx == nil {
		return nil
	}
	return idx.resolve(idx.byLine[lineKey{className: className, line: line}])
}

// InstructionsAtMethodLine matches the method by name; a descriptor suffix on
// either side is ignored.
func (idx *MemoryIndex) InstructionsAtMethodLine(className, methodName string, line int) []Instruction {
	if idx == nil {
		return nil
	}
	want := MethodBaseName(methodName)
	var out []Instruction
	for _, ins := range idx.resolve(idx.byLine[lineKey{className: className, line: line}]) {
		if MethodBaseName(ins.MethodName) == want {
			out = append(out, ins)
		}
	}
	return out
}

func (idx *MemoryIndex) ControlDependencies(instructionID string) []ControlDependency {
	if idx == nil {
		return nil
	}
	return idx.dependencies[instructionID]
}

func (idx *MemoryIndex) BranchInstruction(branchID int) (Instruction, bool) {
	if idx == nil {
		return Instruction{}, false
	}
	id, ok := idx.branches[branchID]
	if !ok {
		return Instruction{}, false
	}
	return idx.instructions[id], true
}

// Branches lists all branches ordered by id.
func (idx *MemoryIndex) Branches() []Branch {
	if idx == nil {
		return nil
	}
	out := make([]Branch, 0, len(idx.branches))
	for id, insID := range idx.branches {
		out = append(out, Branch{ID: id, Instruction: idx.instructions[insID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (idx *MemoryIndex) resolve(ids []string) []Instruction {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Instruction, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.instructions[id])
	}
	return out
}

// MethodBaseName drops a JVM-style descriptor: "push(I)V" -> "push".
func MethodBaseName(method string) string {
	return model.MethodBaseName(method)
}

// DependenciesOfGoal returns the control dependencies of the instruction that
// owns the goal's branch.
func DependenciesOfGoal(index Index, goal model.Goal) []ControlDependency {
	if index == nil {
		return nil
	}
	ins, ok := index.BranchInstruction(goal.BranchID)
	if !ok {
		return nil
	}
	return index.ControlDependencies(ins.ID)
}
