// Package eventbus is an in-process fanout used by passes, the task engine and
// the notifier to publish lifecycle events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a small in-memory signal. Data should be a value type the
// subscriber can type-assert on.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers. Subscribers that fall behind lose events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
	lost atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.lost.Add(1)
		}
	}
}

// Subscribe registers a buffered channel. unsubscribe closes it and is safe
// to call more than once.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish sends.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Lost reports how many deliveries were dropped because a subscriber was full.
func Lost(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.lost.Load()
	}
	return 0
}
