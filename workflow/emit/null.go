package emit

// NullEmitter implements Emitter by discarding all events.
//
// It is the default emitter of every executor, so observability costs nothing
// unless an emitter is configured.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
