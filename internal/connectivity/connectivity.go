// Package connectivity carries the online/offline signal into the sync layer.
package connectivity

import "sync"

// Signal reports connectivity and announces transitions
type Signal interface {
	Online() bool

	// Subscribe registers fn for transitions; the returned func unsubscribes
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Switch is a Signal driven by whoever observes the network (the UI pushes
// its online state to the agent). Subscribers run synchronously on Set and
// only when the state actually changes.
type Switch struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewSwitch creates a Switch with the given initial state
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, subs: make(map[int]func(bool))}
}

// Ensure Switch implements Signal
var _ Signal = (*Switch)(nil)

// Online reports the current state
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the state and notifies subscribers on a transition
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for future transitions
func (s *Switch) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
