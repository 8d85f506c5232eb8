package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/quindar/refdata-api/internal/metrics"
	"github.com/quindar/refdata-api/internal/types"
)

// Listener consumes committed metadata change events. Implementations
// must not block for long; slow consumers should queue internally.
type Listener interface {
	Name() string
	Notify(ctx context.Context, event types.ChangeEvent)
}

// Dispatcher fans committed change events out to registered listeners.
// Delivery is best effort and happens after the mutation is durable, so
// listeners can always re-read the store for current state.
type Dispatcher struct {
	listeners []Listener
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher over the given listeners
func NewDispatcher(m *metrics.Metrics, listeners ...Listener) *Dispatcher {
	return &Dispatcher{listeners: listeners, metrics: m}
}

// Register adds a listener. Not safe to call once events are flowing.
func (d *Dispatcher) Register(listener Listener) {
	d.listeners = append(d.listeners, listener)
}

// Publish delivers the event to every listener in registration order
func (d *Dispatcher) Publish(ctx context.Context, event types.ChangeEvent) {
	for _, listener := range d.listeners {
		listener.Notify(ctx, event)
	}
	d.metrics.RecordChangePublished()
}

// LogListener writes each change event to the service log
type LogListener struct{}

// Name identifies the listener
func (LogListener) Name() string {
	return "change_log"
}

// Notify logs the change event
func (LogListener) Notify(_ context.Context, event types.ChangeEvent) {
	log.Info().
		Str("change_id", event.ChangeID).
		Str("symbol", event.Symbol).
		Str("exchange", event.Exchange).
		Str("inst_type", string(event.InstType)).
		Str("action", event.Action).
		Msg("Instrument change committed")
}
