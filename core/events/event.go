package events

// Event represents a structured state change emitted by the core ledgers.
// Attributes hold string renderings of the payload so downstream consumers
// (RPC feed, audit store, indexers) never need the originating Go types.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// EmitterFunc adapts ordinary functions to Emitter.
type EmitterFunc func(*Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt *Event) {
	if f == nil {
		return
	}
	f(evt)
}

// Multi fans each event out to every non-nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(evt *Event) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(evt)
			}
		}
	})
}
