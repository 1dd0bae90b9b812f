// Package eventbus implements a process-local topic pub/sub: filtered
// subscriptions, best-effort per-subscriber ordering, and a bounded queue
// per subscriber that drops the oldest event rather than block a
// publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

// DefaultQueueSize is the default bound on a subscriber's event channel.
const DefaultQueueSize = 256

// Filter restricts delivery to a subscriber. A zero-value field matches
// anything; non-zero fields must all match for an event to be delivered.
type Filter struct {
	Topics    []core.EventType
	AgentID   string
	SessionID string
	Channel   string
}

func (f Filter) matches(e core.Event) bool {
	if len(f.Topics) > 0 {
		found := false
		for _, t := range f.Topics {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if f.Channel != "" && f.Channel != e.Channel {
		return false
	}
	return true
}

// Handle identifies an active subscription, returned by Subscribe and
// consumed by Unsubscribe.
type Handle uint64

type subscriber struct {
	id      Handle
	filter  Filter
	ch      chan core.Event
	dropped uint64
	closed  uint32
}

// Bus is an in-process, best-effort event pub/sub. It holds no state
// beyond the current subscriber set and a monotonic sequence counter;
// there is no durability across process restart.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Handle]*subscriber
	nextID    uint64
	seq       uint64
	queueSize int
}

// New creates an EventBus whose subscribers are given queueSize-deep
// channels. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[Handle]*subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers filter and returns a handle plus the channel of
// matching events. The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(filter Filter) (Handle, <-chan core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := Handle(atomic.AddUint64(&b.nextID, 1))
	sub := &subscriber{
		id:     id,
		filter: filter,
		ch:     make(chan core.Event, b.queueSize),
	}
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once for the same handle.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	sub, ok := b.subs[h]
	if ok {
		delete(b.subs, h)
	}
	b.mu.Unlock()
	if ok {
		closeSub(sub)
	}
}

func closeSub(sub *subscriber) {
	if atomic.CompareAndSwapUint32(&sub.closed, 0, 1) {
		close(sub.ch)
	}
}

// Publish assigns the event a sequence number and fans it out to every
// subscriber whose filter matches. A subscriber whose queue is full has
// its oldest queued event dropped to make room — Publish never blocks.
func (b *Bus) Publish(e core.Event) core.Event {
	e.Seq = atomic.AddUint64(&b.seq, 1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		b.deliver(sub, e)
	}
	return e
}

// deliver pushes e onto sub's queue, dropping the oldest queued event on
// overflow instead of blocking the publisher.
func (b *Bus) deliver(sub *subscriber, e core.Event) {
	for {
		select {
		case sub.ch <- e:
			return
		default:
		}
		select {
		case <-sub.ch:
			atomic.AddUint64(&sub.dropped, 1)
		default:
			// Raced with a concurrent receiver draining the channel;
			// retry the send.
		}
	}
}

// Dropped returns the number of events dropped for the subscription due to
// a full queue.
func (b *Bus) Dropped(h Handle) uint64 {
	b.mu.RLock()
	sub, ok := b.subs[h]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&sub.dropped)
}

// Close unsubscribes and closes every outstanding subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[Handle]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		closeSub(sub)
	}
}
