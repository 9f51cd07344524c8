package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Broker fans updates out to subscribers. Slow subscribers drop rather than
// block the interception path.
type Broker struct {
	mu      sync.RWMutex
	subs    map[chan Update]struct{}
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Update]struct{})}
}

func (b *Broker) Subscribe(buf int) chan Update {
	if buf <= 0 {
		buf = 100
	}
	ch := make(chan Update, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(ch chan Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			count := b.dropped.Add(1)
			if count == 1 || count%100 == 0 {
				slog.Warn("events: dropped update for slow subscriber", "total_dropped", count)
			}
		}
	}
}

// DroppedCount returns the total number of updates dropped due to slow subscribers.
func (b *Broker) DroppedCount() int64 {
	return b.dropped.Load()
}
