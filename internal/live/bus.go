package live

import (
	"sync"

	"rollcall/internal/metrics"
)

const DefaultBuffer = 32

// Bus fans events out to the subscribers of each session. Topics are created
// on first subscribe and removed when their last subscriber leaves. A Bus
// lives for the whole process.
type Bus struct {
	topics sync.Map // session id -> *topic
	buffer int
}

type topic struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{buffer: buffer}
}

// Subscription receives the events of one session from the moment it was
// created. It must be closed by its owner.
type Subscription struct {
	bus       *Bus
	sessionID string
	topic     *topic

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers a new subscriber for sessionID.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	for {
		v, _ := b.topics.LoadOrStore(sessionID, &topic{subs: make(map[*Subscription]struct{})})
		t := v.(*topic)

		t.mu.Lock()
		if t.closed {
			// Lost a race with the last subscriber leaving; the topic is
			// being removed, so start over with a fresh one.
			t.mu.Unlock()
			b.topics.CompareAndDelete(sessionID, t)
			continue
		}
		sub := &Subscription{
			bus:       b,
			sessionID: sessionID,
			topic:     t,
			events:    make(chan Event, b.buffer),
			done:      make(chan struct{}),
		}
		t.subs[sub] = struct{}{}
		t.mu.Unlock()

		metrics.LiveSubscribers.Inc()
		return sub
	}
}

// Publish delivers evt to every current subscriber of its session and returns
// how many received it. Subscribers with a full buffer miss the event.
func (b *Bus) Publish(evt Event) int {
	v, ok := b.topics.Load(evt.Topic())
	if !ok {
		metrics.LiveEventsDropped.WithLabelValues("no_subscribers").Inc()
		return 0
	}
	t := v.(*topic)

	t.mu.RLock()
	defer t.mu.RUnlock()
	delivered := 0
	for sub := range t.subs {
		select {
		case sub.events <- evt:
			delivered++
		default:
			metrics.LiveEventsDropped.WithLabelValues("buffer_full").Inc()
		}
	}
	if len(t.subs) == 0 {
		metrics.LiveEventsDropped.WithLabelValues("no_subscribers").Inc()
	}
	return delivered
}

// Subscribers returns the number of subscribers of sessionID.
func (b *Bus) Subscribers(sessionID string) int {
	v, ok := b.topics.Load(sessionID)
	if !ok {
		return 0
	}
	t := v.(*topic)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// SessionID is the session this subscription follows.
func (s *Subscription) SessionID() string { return s.sessionID }

// C yields events in publish order. It is never closed; select on Done too.
func (s *Subscription) C() <-chan Event { return s.events }

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)

		t := s.topic
		t.mu.Lock()
		delete(t.subs, s)
		if len(t.subs) == 0 {
			t.closed = true
			s.bus.topics.CompareAndDelete(s.sessionID, t)
		}
		t.mu.Unlock()

		metrics.LiveSubscribers.Dec()
	})
}
