package realtime

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"spark/internal/observability"
)

// Bus is an in-process change channel. Subscriptions are indexed by topic:
// the table for table-wide filters and table|column=value for row filters, so
// an event only reaches the subscribers holding one of its identities.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*subscription
	byTopic map[string]map[uint64]*subscription
}

type subscription struct {
	id      uint64
	bus     *Bus
	filter  Filter
	handler Handler
	once    sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[uint64]*subscription),
		byTopic: make(map[string]map[uint64]*subscription),
	}
}

// Subscribe registers h for events matching f.
func (b *Bus) Subscribe(f Filter, h Handler) (Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, bus: b, filter: f, handler: h}
	b.subs[sub.id] = sub
	topic := f.topic()
	m, ok := b.byTopic[topic]
	if !ok {
		m = make(map[uint64]*subscription)
		b.byTopic[topic] = m
	}
	m[sub.id] = sub
	observability.ActiveSubscriptions.Inc()
	return sub, nil
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	topic := s.filter.topic()
	if m, ok := b.byTopic[topic]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(b.byTopic, topic)
		}
	}
	observability.ActiveSubscriptions.Dec()
}

// Publish delivers ev synchronously to every matching subscriber.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	observability.ChangeEvents.WithLabelValues(string(ev.Table), string(ev.Type)).Inc()

	for _, sub := range b.matching(ev) {
		b.deliver(sub, ev)
	}
	return nil
}

func (b *Bus) matching(ev Event) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*subscription
	if ev.Type == EventResync {
		out = make([]*subscription, 0, len(b.subs))
		for _, s := range b.subs {
			out = append(out, s)
		}
		return out
	}

	collect := func(topic string) {
		for _, s := range b.byTopic[topic] {
			if s.filter.Matches(ev) {
				out = append(out, s)
			}
		}
	}
	collect(string(ev.Table))
	for col, val := range ev.Row {
		if val != "" {
			collect(rowTopic(ev.Table, col, val))
		}
	}
	return out
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.Error("PANIC in change handler",
				slog.Any("panic", r),
				slog.String("table", string(ev.Table)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	sub.handler(ev)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
