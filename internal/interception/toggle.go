// Package interception controls the process-wide mock layer that shields the
// program under test from its environment during replay.
package interception

import "sync"

// Toggle switches the interception layer on and off.
type Toggle interface {
	Disable()
	Enable()
}

// Switch is the in-process Toggle. Disable calls nest: the layer is active
// again only after every Disable has been matched by an Enable.
type Switch struct {
	mu       sync.Mutex
	disabled int
}

func NewSwitch() *Switch {
	return &Switch{}
}

func (s *Switch) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disabled++
}

func (s *Switch) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled > 0 {
		s.disabled--
	}
}

func (s *Switch) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.disabled == 0
}

// Suspend disables interception and returns the function restoring it. The
// restore function is idempotent; callers defer it so that every exit path,
// panics included, re-enables the layer.
//
//	restore := interception.Suspend(toggle)
//	defer restore()
func Suspend(t Toggle) (restore func()) {
	if t == nil {
		return func() {}
	}
	t.Disable()
	var once sync.Once
	return func() {
		once.Do(t.Enable)
	}
}
