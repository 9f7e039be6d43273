package events

import (
	"sync"
	"sync/atomic"
	"time"

	customlog "github.com/open-teleop/driverstation/pkg/log"
)

// DefaultBuffer is the per-subscriber channel capacity used when Subscribe gets 0.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event and the drop is counted.
type Bus struct {
	logger  customlog.Logger
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus(logger customlog.Logger) *Bus {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns a channel of future events and a cancel function that
// unregisters and closes it. Cancel is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warnf("dropped %s event for slow subscriber", e.Kind)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
