package events

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-subscriber queue length.
const DefaultQueueSize = 256

// Filter selects events for a subscriber. A nil Filter accepts everything.
type Filter func(Event) bool

type subscriber struct {
	ch      chan Event
	filter  Filter
	dropped atomic.Uint64
}

// Bus fans events out to subscribers.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscription is a live registration on a Bus.
type Subscription struct {
	bus  *Bus
	sub  *subscriber
	once sync.Once
}

// C returns the event channel. It is closed by Close or Bus.Close.
func (s *Subscription) C() <-chan Event { return s.sub.ch }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.sub.dropped.Load() }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if _, ok := s.bus.subs[s.sub]; ok {
			delete(s.bus.subs, s.sub)
			close(s.sub.ch)
		}
	})
}

// Subscribe registers a subscriber with the given queue size (0 means
// DefaultQueueSize) and optional filter.
func (b *Bus) Subscribe(size int, filter Filter) *Subscription {
	if size <= 0 {
		size = DefaultQueueSize
	}
	sub := &subscriber{ch: make(chan Event, size), filter: filter}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[sub] = struct{}{}
	}
	return &Subscription{bus: b, sub: sub}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Tagged returns a Publisher that stamps Source on every event before
// forwarding it to next.
func Tagged(source string, next Publisher) Publisher {
	if next == nil {
		next = Discard
	}
	return PublisherFunc(func(ev Event) {
		if ev.Source == "" {
			ev.Source = source
		}
		next.Publish(ev)
	})
}

// Multi returns a Publisher that forwards to every non-nil publisher in order.
func Multi(pubs ...Publisher) Publisher {
	var live []Publisher
	for _, p := range pubs {
		if p != nil {
			live = append(live, p)
		}
	}
	return PublisherFunc(func(ev Event) {
		for _, p := range live {
			p.Publish(ev)
		}
	})
}
