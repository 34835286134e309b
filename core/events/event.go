package events

import (
	"sync"

	"peerlend/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Renderable events can be flattened into the generic wire representation.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP stream,
// the journal indexer).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout delivers every event to each registered emitter in registration order.
type Fanout struct {
	mu      sync.RWMutex
	targets []Emitter
}

// NewFanout returns a fanout over the non-nil emitters provided.
func NewFanout(targets ...Emitter) *Fanout {
	f := &Fanout{}
	for _, target := range targets {
		f.Add(target)
	}
	return f
}

// Add registers another downstream emitter.
func (f *Fanout) Add(target Emitter) {
	if f == nil || target == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
}

// Emit implements Emitter.
func (f *Fanout) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	f.mu.RLock()
	targets := append([]Emitter(nil), f.targets...)
	f.mu.RUnlock()
	for _, target := range targets {
		target.Emit(evt)
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on
// emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}
