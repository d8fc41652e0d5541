package progress

import "context"

// Sink consumes progress events. Implementations must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// crawler stays agnostic about where events end up.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) {}
