package progress

import "context"

// Sink consumes batches of progress events. Consume is called from a single
// goroutine, in emission order.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it.
type Emitter interface {
	Emit(evt Event)
}
