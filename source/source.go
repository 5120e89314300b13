// Package source delivers entity state updates to the coordinator. A
// source pushes string states; the coordinator converts them to numbers
// with ParseState and feeds them to the renderers.
package source

import (
	"strconv"
	"strings"
	"sync"
)

// Listener receives state updates for subscribed entities.
type Listener func(entityID, state string)

// Source is a provider of entity states. Subscribe registers a listener
// for the given entities and returns an unsubscribe function.
// CurrentState returns the last known state, or "" when unknown.
type Source interface {
	Subscribe(entityIDs []string, fn Listener) (func(), error)
	CurrentState(entityID string) string
	Close() error
}

// ParseState converts an entity state string to a renderer value.
// Unknown and unavailable states read as zero so a vanished sensor
// clears its visualization instead of freezing it.
func ParseState(state string) float64 {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "", "unavailable", "unknown", "none":
		return 0
	case "on", "true":
		return 1
	case "off", "false":
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(state), 64)
	if err != nil {
		return 0
	}
	return v
}

// Mux combines several sources into one. Subscriptions fan out to every
// backend; the first backend reporting a state for an entity wins.
type Mux struct {
	sources []Source
}

func NewMux(sources ...Source) *Mux {
	return &Mux{sources: sources}
}

func (m *Mux) Subscribe(entityIDs []string, fn Listener) (func(), error) {
	unsubs := make([]func(), 0, len(m.sources))
	for _, s := range m.sources {
		unsub, err := s.Subscribe(entityIDs, fn)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return nil, err
		}
		unsubs = append(unsubs, unsub)
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}, nil
}

func (m *Mux) CurrentState(entityID string) string {
	for _, s := range m.sources {
		if state := s.CurrentState(entityID); state != "" {
			return state
		}
	}
	return ""
}

func (m *Mux) Close() error {
	var firstErr error
	for _, s := range m.sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// subscriberSet is the shared bookkeeping for sources that push states
// from their own goroutines.
type subscriberSet struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
	states map[string]string
}

type subscription struct {
	entities map[string]bool
	fn       Listener
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{
		subs:   make(map[int]*subscription),
		states: make(map[string]string),
	}
}

func (s *subscriberSet) add(entityIDs []string, fn Listener) func() {
	entities := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		entities[id] = true
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscription{entities: entities, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// publish records the state and notifies matching listeners outside the
// lock.
func (s *subscriberSet) publish(entityID, state string) {
	s.mu.Lock()
	s.states[entityID] = state
	var fns []Listener
	for _, sub := range s.subs {
		if sub.entities[entityID] {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(entityID, state)
	}
}

func (s *subscriberSet) state(entityID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[entityID]
}
