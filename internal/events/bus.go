package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes one event. Handlers must be idempotent: after a crash
// and replay they may see the same event twice.
type Handler func(ctx context.Context, e Event)

// Bus fans events out to subscribers. Each subscriber gets its own worker
// goroutine and a bounded queue; a slow or failing handler is isolated and
// never blocks the publisher.
type Bus struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	subs []*subscriber

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriber struct {
	name    string
	types   map[Type]bool // nil means all types
	queue   chan Event
	handler Handler
}

// NewBus creates a running bus
func NewBus(logger zerolog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a handler for the given event types (all types when
// empty). The handler runs on its own goroutine.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) {
	sub := &subscriber{
		name:    name,
		queue:   make(chan Event, 256),
		handler: handler,
	}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(sub)
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case e := <-sub.queue:
			b.dispatch(sub, e)
		}
	}
}

// dispatch isolates handler panics so one subscriber cannot take down the
// others
func (b *Bus) dispatch(sub *subscriber, e Event) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error().
				Str("subscriber", sub.name).
				Str("event_type", string(e.Type)).
				Interface("panic", p).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(b.ctx, e)
}

// Publish hands an event to every matching subscriber. Never blocks: when a
// subscriber's queue is full the event is dropped for that subscriber with a
// log line. Subscribers are best-effort by contract.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		select {
		case sub.queue <- e:
		default:
			b.logger.Warn().
				Str("subscriber", sub.name).
				Str("event_type", string(e.Type)).
				Msg("Subscriber queue full, event dropped")
		}
	}
}

// Close stops delivery and waits for the workers to drain
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
