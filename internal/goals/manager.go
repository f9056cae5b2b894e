package goals

import (
	"sync"

	"go.uber.org/zap"

	"goalforge/internal/model"
)

// orderedSet keeps objectives in insertion order.
type orderedSet struct {
	keys  []string
	items map[string]model.Objective
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: make(map[string]model.Objective)}
}

func (s *orderedSet) add(obj model.Objective) bool {
	key := obj.Key()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = obj
	s.keys = append(s.keys, key)
	return true
}

func (s *orderedSet) remove(key string) bool {
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	s.keys = removeKey(s.keys, key)
	return true
}

func (s *orderedSet) has(key string) bool {
	_, ok := s.items[key]
	return ok
}

func (s *orderedSet) list() []model.Objective {
	out := make([]model.Objective, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, s.items[key])
	}
	return out
}

func (s *orderedSet) clear() {
	s.keys = nil
	s.items = make(map[string]model.Objective)
}

// AdmissionHook is invoked whenever a goal is admitted into the graph.
type AdmissionHook func(obj model.Objective)

// Manager owns the active frontier, the covered set and the goal graph.
type Manager struct {
	mu      sync.RWMutex
	graph   *Graph
	current *orderedSet
	covered *orderedSet
	hooks   []AdmissionHook
	logger  *zap.Logger
}

// NewManager seeds the frontier with the graph roots.
func NewManager(graph *Graph, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		graph:   graph,
		current: newOrderedSet(),
		covered: newOrderedSet(),
		logger:  logger,
	}
	for _, root := range graph.Roots() {
		m.current.add(root)
	}
	return m
}

func (m *Manager) Graph() *Graph {
	return m.graph
}

func (m *Manager) CurrentGoals() []model.Objective {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current.list()
}

func (m *Manager) CoveredGoals() []model.Objective {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.covered.list()
}

func (m *Manager) IsCurrent(obj model.Objective) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current.has(obj.Key())
}

func (m *Manager) IsCovered(obj model.Objective) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.covered.has(obj.Key())
}

// ReplaceCurrent clears the frontier and fills it with goals.
func (m *Manager) ReplaceCurrent(goals ...model.Objective) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.clear()
	for _, obj := range goals {
		m.current.add(obj)
	}
}

func (m *Manager) AddCurrent(obj model.Objective) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.add(obj)
}

func (m *Manager) RemoveCurrent(obj model.Objective) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current.remove(obj.Key())
}

// MarkCovered moves obj from the frontier to the covered set and promotes its
// uncovered structural children. It returns the promoted objectives.
func (m *Manager) MarkCovered(obj model.Objective) []model.Objective {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := obj.Key()
	if m.covered.has(key) {
		return nil
	}
	m.current.remove(key)
	m.covered.add(obj)

	var promoted []model.Objective
	for _, child := range m.graph.StructuralChildren(obj) {
		if m.covered.has(child.Key()) {
			continue
		}
		if m.current.add(child) {
			promoted = append(promoted, child)
		}
	}
	m.logger.Debug("objective covered",
		zap.String("objective", key),
		zap.Int("promoted", len(promoted)),
		zap.Int("frontier", len(m.current.keys)))
	return promoted
}

// OnAdmission registers a hook called by GoalAdmitted.
func (m *Manager) OnAdmission(hook AdmissionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook)
}

// GoalAdmitted notifies subscribers that obj entered the graph.
func (m *Manager) GoalAdmitted(obj model.Objective) {
	m.mu.RLock()
	hooks := append([]AdmissionHook(nil), m.hooks...)
	m.mu.RUnlock()

	m.logger.Info("goal admitted", zap.String("objective", obj.String()))
	for _, hook := range hooks {
		hook(obj)
	}
}
