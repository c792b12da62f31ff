// Package notify fans sync status events out to interested sinks.
package notify

import (
	"log/slog"
	"sync"

	"github.com/mcoot/sideline/internal/model"
)

// Sink receives sync status events. Notify must not block: delivery is
// fire-and-forget and never feeds back into sync.
type Sink interface {
	Notify(event model.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(event model.Event)

// Notify calls f(event)
func (f SinkFunc) Notify(event model.Event) { f(event) }

// Nop discards every event
var Nop Sink = SinkFunc(func(model.Event) {})

// Bus forwards each event to every registered sink and logs it
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// NewBus creates a Bus with the given initial sinks
func NewBus(logger *slog.Logger, sinks ...Sink) *Bus {
	return &Bus{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Ensure Bus implements Sink
var _ Sink = (*Bus)(nil)

// Add registers another sink
func (b *Bus) Add(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Notify delivers event to all sinks. A panicking sink is logged and skipped.
func (b *Bus) Notify(event model.Event) {
	b.logger.Debug("sync event",
		slog.String("type", string(event.Type)),
		slog.String("collection", string(event.Collection)),
		slog.String("entity_id", event.EntityID),
		slog.Int("queue_depth", event.QueueDepth),
	)

	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s Sink, event model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification sink panicked", slog.Any("error", r))
		}
	}()
	s.Notify(event)
}
