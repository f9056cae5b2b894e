// Package goals holds the objective graph and the manager that decides which
// objectives are currently active in the search.
package goals

import (
	"sort"
	"sync"

	"goalforge/internal/cdg"
	"goalforge/internal/model"
)

// DependsOn reports whether child's controlling branch is directly
// control-dependent on parent's goal.
type DependsOn func(child, parent model.Objective) bool

// Graph is a directed structure over objectives: an edge parent->child means
// child's branch is structurally dependent on parent.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]model.Objective
	children  map[string][]string
	parents   map[string][]string
	roots     []string
	dependsOn DependsOn
}

func NewGraph(dependsOn DependsOn) *Graph {
	if dependsOn == nil {
		dependsOn = func(model.Objective, model.Objective) bool { return false }
	}
	return &Graph{
		nodes:     make(map[string]model.Objective),
		children:  make(map[string][]string),
		parents:   make(map[string][]string),
		dependsOn: dependsOn,
	}
}

// BuildGraph derives the structural graph from the index: a branch without
// control dependencies yields two root objectives; every other branch hangs
// under its first declared dependency.
func BuildGraph(index cdg.Index, kind model.Kind) *Graph {
	g := NewGraph(IndexDependsOn(index))
	branches := index.Branches()
	for _, branch := range branches {
		for _, value := range []bool{true, false} {
			g.addNode(model.NewObjective(kind, branch.Goal(value)))
		}
	}
	for _, branch := range branches {
		deps := index.ControlDependencies(branch.Instruction.ID)
		for _, value := range []bool{true, false} {
			key := model.NewObjective(kind, branch.Goal(value)).Key()
			if len(deps) == 0 {
				g.roots = append(g.roots, key)
				continue
			}
			parent := model.NewObjective(kind, deps[0].Goal()).Key()
			g.link(parent, key)
		}
	}
	return g
}

// IndexDependsOn compares child's first declared control dependency with
// parent's goal. Contextual objectives are compared by their goal.
func IndexDependsOn(index cdg.Index) DependsOn {
	return func(child, parent model.Objective) bool {
		deps := cdg.DependenciesOfGoal(index, child.Goal)
		return len(deps) > 0 && deps[0].Goal().Key() == parent.Goal.Key()
	}
}

func (g *Graph) addNode(obj model.Objective) string {
	key := obj.Key()
	if _, ok := g.nodes[key]; !ok {
		g.nodes[key] = obj
	}
	return key
}

func (g *Graph) link(parent, child string) {
	for _, existing := range g.children[parent] {
		if existing == child {
			return
		}
	}
	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)
}

func (g *Graph) unlink(parent, child string) {
	g.children[parent] = removeKey(g.children[parent], child)
	g.parents[child] = removeKey(g.parents[child], parent)
}

// UpdateRoot makes obj the single root of the graph.
func (g *Graph) UpdateRoot(obj model.Objective) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := g.addNode(obj)
	g.adopt(key, "")
	g.roots = []string{key}
}

// AddChild inserts child under parent. Plain objectives directly dependent on
// child's goal become its children; those previously hanging under parent
// are moved below child.
func (g *Graph) AddChild(parent, child model.Objective) {
	g.mu.Lock()
	defer g.mu.Unlock()

	parentKey := g.addNode(parent)
	childKey := g.addNode(child)
	g.link(parentKey, childKey)
	g.adopt(childKey, parentKey)
}

func (g *Graph) adopt(key, formerParent string) {
	node := g.nodes[key]
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		candidate := g.nodes[k]
		if k == key || candidate.IsContextual() || !g.dependsOn(candidate, node) {
			continue
		}
		if formerParent != "" {
			g.unlink(formerParent, k)
		}
		g.link(key, k)
	}
}

func (g *Graph) StructuralChildren(obj model.Objective) []model.Objective {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.resolve(g.children[obj.Key()])
}

// StructuralDescendants returns every objective reachable from obj, nearest
// first.
func (g *Graph) StructuralDescendants(obj model.Objective) []model.Objective {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start := obj.Key()
	seen := map[string]struct{}{start: {}}
	queue := append([]string(nil), g.children[start]...)
	var out []string
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
		queue = append(queue, g.children[key]...)
	}
	return g.resolve(out)
}

func (g *Graph) Roots() []model.Objective {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.resolve(g.roots)
}

func (g *Graph) Contains(obj model.Objective) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[obj.Key()]
	return ok
}

// Size returns the number of objectives in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// Keys lists node keys in sorted order.
func (g *Graph) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]string, 0, len(g.nodes))
	for key := range g.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (g *Graph) resolve(keys []string) []model.Objective {
	if len(keys) == 0 {
		return nil
	}
	out := make([]model.Objective, 0, len(keys))
	for _, key := range keys {
		out = append(out, g.nodes[key])
	}
	return out
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
