package store

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener is called after every dispatch with the snapshots around it
type Listener func(prev, next State)

type subscription struct {
	id int
	fn Listener
}

// Store is the central state store
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners []subscription
	nextID    int
}

// New creates a store bound to the given network
func New(network string) *Store {
	return &Store{
		state: State{SelectedNetwork: network},
	}
}

// State returns the current snapshot
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch reduces the action and notifies listeners.
// Listeners run on the caller's goroutine, outside the lock, so they may dispatch.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	prev := s.state
	next := a.reduce(prev)
	s.state = next
	listeners := make([]subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	log.Debug().Str("action", a.Name()).Msg("Store dispatch")

	for _, l := range listeners {
		l.fn(prev, next)
	}
}

// Subscribe registers a listener and returns a function that removes it
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}
