package broadcast

import (
	"sync"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
)

const eventBufLen = 64

// EventBus fans raw server events out to subscribers, each with an optional
// CEL filter over deviceId/eventType/attributes. It also carries the per-recovery
// count emitted after a backfill pass.
type EventBus struct {
	mu        sync.Mutex
	subs      map[*EventSub]struct{}
	recovered map[*RecoveredSub]struct{}
	closed    bool
}

// EventSub is one filtered event listener.
type EventSub struct {
	ch     chan traccar.Event
	filter celFilter
	bus    *EventBus
	once   sync.Once
}

// C returns the receive channel.
func (s *EventSub) C() <-chan traccar.Event { return s.ch }

// Cancel detaches the listener and closes its channel. Idempotent.
func (s *EventSub) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// RecoveredSub receives the number of events recovered by each backfill pass.
type RecoveredSub struct {
	ch   chan int
	bus  *EventBus
	once sync.Once
}

func (s *RecoveredSub) C() <-chan int { return s.ch }

func (s *RecoveredSub) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.recovered, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// NewEventBus builds an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:      make(map[*EventSub]struct{}),
		recovered: make(map[*RecoveredSub]struct{}),
	}
}

// Subscribe attaches a listener. A non-empty filter is compiled as a CEL
// expression; events it rejects are not delivered.
func (b *EventBus) Subscribe(filter string) (*EventSub, error) {
	f, err := newCELFilter(filter)
	if err != nil {
		return nil, err
	}
	sub := &EventSub{ch: make(chan traccar.Event, eventBufLen), filter: f, bus: b}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub, nil
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// SubscribeRecovered attaches a listener for backfill recovery counts.
func (b *EventBus) SubscribeRecovered() *RecoveredSub {
	sub := &RecoveredSub{ch: make(chan int, 8), bus: b}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	b.recovered[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscriber whose filter accepts it.
// Sends never block; on a full buffer the oldest event is dropped.
func (b *EventBus) Publish(ev traccar.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.filter.Eval(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// PublishRecovered delivers a backfill recovery count to all listeners.
func (b *EventBus) PublishRecovered(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.recovered {
		select {
		case sub.ch <- n:
		default:
		}
	}
}

// Close cancels every subscription. Idempotent.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*EventSub
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	var recovered []*RecoveredSub
	for sub := range b.recovered {
		recovered = append(recovered, sub)
	}
	b.mu.Unlock()
	// Cancel takes the lock itself; never call it while holding it.
	for _, sub := range subs {
		sub.Cancel()
	}
	for _, sub := range recovered {
		sub.Cancel()
	}
}
