package store

import (
	"errors"
	"sync"
	"time"

	"vapidemo/widget/internal/types"
)

var ErrCallExists = errors.New("call already exists")

const DefaultMaxEvents = 200

// Store is the in-memory journal of the widget: call records plus a capped
// event log. Nothing is persisted.
type Store struct {
	mu        sync.RWMutex
	calls     map[string]*types.Call
	order     []string
	events    []types.Event
	maxEvents int
}

func New(maxEvents int) *Store {
	if maxEvents <= 1 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{
		calls:     make(map[string]*types.Call),
		maxEvents: maxEvents,
	}
}

func (s *Store) CreateCall(c *types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		return ErrCallExists
	}
	s.calls[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

// GetCall returns a copy of the call record, or nil.
func (s *Store) GetCall(id string) *types.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// UpdateCall applies fn to the stored record. It reports whether the call exists.
func (s *Store) UpdateCall(id string, fn func(*types.Call)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// ListCallIDs returns call ids oldest first.
func (s *Store) ListCallIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Store) AppendEvent(callID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, CallID: callID, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	// Keep one slot for the truncation marker so the total stays at maxEvents.
	if l := len(s.events); l > s.maxEvents {
		keep := s.maxEvents - 1
		dropped := l - keep
		s.events = append([]types.Event(nil), s.events[l-keep:]...)
		warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"dropped": dropped, "kept": keep}}
		s.events = append(s.events, warn)
	}
	return evt
}

func (s *Store) ListEvents() []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// CallEvents returns the events recorded for one call.
func (s *Store) CallEvents(callID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Event
	for _, e := range s.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out
}
