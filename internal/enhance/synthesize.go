package enhance

import (
	"strings"

	"goalforge/internal/cdg"
	"goalforge/internal/model"
)

// synthesizer turns a thrown exception into a candidate objective: the
// negation of a control dependency of the instruction that raised it.
type synthesizer struct {
	index    cdg.Index
	kind     model.Kind
	enabled  bool
	maxDepth int
	target   Target
	library  []string
}

// synthesize walks the stack innermost first. A frame whose line has no
// instructions is skipped; a line whose instructions never mention the
// exception type ends the search; a matching instruction without control
// dependencies defers to the next outer frame. The first declared dependency
// of the matching instruction is the one negated.
func (s *synthesizer) synthesize(exc model.ThrownException) (model.Objective, bool) {
	if !s.enabled {
		return model.Objective{}, false
	}
	simple := exc.SimpleName()
	for level := 0; level < len(exc.Frames) && level < s.maxDepth; level++ {
		frame := exc.Frames[level]
		instructions := s.index.InstructionsAtLine(frame.ClassName, frame.Line)
		if len(instructions) == 0 {
			continue
		}
		thrower, ok := mentioning(instructions, simple)
		if !ok {
			return model.Objective{}, false
		}
		deps := s.index.ControlDependencies(thrower.ID)
		if len(deps) == 0 {
			continue
		}
		ctx := model.NewCallContext(exc.Frames)
		return model.Objective{
			Kind:     s.kind,
			Goal:     deps[0].Goal().Negated(),
			Context:  ctx,
			InTarget: s.inTarget(ctx),
		}, true
	}
	return model.Objective{}, false
}

func mentioning(instructions []cdg.Instruction, simpleName string) (cdg.Instruction, bool) {
	if simpleName == "" {
		return cdg.Instruction{}, false
	}
	for _, ins := range instructions {
		if strings.Contains(ins.Text, simpleName) {
			return ins, true
		}
	}
	return cdg.Instruction{}, false
}

// inTarget checks the innermost frame outside library code.
func (s *synthesizer) inTarget(ctx *model.CallContext) bool {
	for _, frame := range ctx.Frames {
		if hasAnyPrefix(frame.ClassName, s.library) {
			continue
		}
		return frame.ClassName == s.target.Class &&
			frame.MethodName == model.MethodBaseName(s.target.Method)
	}
	return false
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
