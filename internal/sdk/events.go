package sdk

import "sync"

// EventName identifies one of the events a Client emits.
type EventName string

const (
	EventCallStart EventName = "call-start"
	EventCallEnd   EventName = "call-end"
	EventError     EventName = "error"
)

// Event is delivered to listeners. Reason is set on call-end, Err on error.
type Event struct {
	Name   EventName
	CallID string
	Reason string
	Err    error
}

type Handler func(Event)

// Emitter is a named-event listener registry. Every On returns its own
// disposer; disposing twice is a no-op.
type Emitter struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[EventName]map[uint64]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventName]map[uint64]Handler)}
}

func (e *Emitter) On(name EventName, h Handler) (dispose func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	if e.handlers[name] == nil {
		e.handlers[name] = make(map[uint64]Handler)
	}
	e.handlers[name][id] = h
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers[name], id)
			e.mu.Unlock()
		})
	}
}

// Emit calls every listener registered for ev.Name. Listeners run on the
// caller's goroutine, outside the registry lock, so they may dispose themselves.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	hs := make([]Handler, 0, len(e.handlers[ev.Name]))
	for _, h := range e.handlers[ev.Name] {
		hs = append(hs, h)
	}
	e.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

// Listeners reports how many listeners are attached for name.
func (e *Emitter) Listeners(name EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[name])
}
