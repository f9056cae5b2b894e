package enhance

import (
	"goalforge/internal/cdg"
	"goalforge/internal/model"
)

type resolver struct {
	index    cdg.Index
	maxDepth int
}

// corresponder finds the nearest tracked plain objective whose branch
// controls the throw path. Frames are tried innermost first; for each frame,
// every tracked objective declared in the frame's method is checked by
// climbing the first-dependency chain of the frame's line. An exhausted
// chain only rules out that objective, the search goes on with the others
// and with the outer frames.
func (r *resolver) corresponder(frames []model.StackFrame, synthesized model.Objective, tracked []model.Objective) (model.Objective, bool) {
	for _, frame := range frames {
		for _, obj := range tracked {
			if obj.IsContextual() || obj.Goal.Key() == synthesized.Goal.Key() {
				continue
			}
			goal := obj.Goal
			if frame.ClassName != goal.ClassName || frame.MethodName != model.MethodBaseName(goal.MethodName) {
				continue
			}
			instructions := r.index.InstructionsAtMethodLine(frame.ClassName, goal.MethodName, frame.Line)
			if len(instructions) == 0 {
				continue
			}
			if r.chainReaches(instructions[0], goal) {
				return obj, true
			}
		}
	}
	return model.Objective{}, false
}

func (r *resolver) chainReaches(ins cdg.Instruction, goal model.Goal) bool {
	want := goal.Key()
	deps := r.index.ControlDependencies(ins.ID)
	visited := make(map[model.GoalKey]struct{})
	for depth := 0; depth < r.maxDepth && len(deps) > 0; depth++ {
		cd := deps[0]
		key := cd.Goal().Key()
		if key == want {
			return true
		}
		if _, seen := visited[key]; seen {
			return false
		}
		visited[key] = struct{}{}
		deps = r.index.ControlDependencies(cd.Branch.Instruction.ID)
	}
	return false
}
