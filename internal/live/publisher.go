package live

import (
	"context"

	"github.com/shrimpsizemoose/trekker/logger"

	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// Publisher hands events to the bus from background workers so callers never
// wait on delivery.
type Publisher struct {
	bus  *Bus
	pool *queue.Pool
}

func NewPublisher(bus *Bus, pool *queue.Pool) *Publisher {
	return &Publisher{bus: bus, pool: pool}
}

// Publish schedules evt for delivery. Events for one session are delivered in
// the order Publish was called. If the session's lane is full the event is
// dropped.
func (p *Publisher) Publish(evt Event) {
	accepted := p.pool.SubmitKeyed(evt.Topic(), func(context.Context) error {
		n := p.bus.Publish(evt)
		logger.Debug.Printf("live event for session %s delivered to %d subscriber(s)", evt.Topic(), n)
		return nil
	})
	if !accepted {
		metrics.PublishQueueDropped.Inc()
		logger.Error.Printf("live publish queue full, dropping event for session %s", evt.Topic())
	}
}
