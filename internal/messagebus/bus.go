// Package messagebus routes inter-agent messages in-process by concrete
// agent id, role, or broadcast, with a bounded per-recipient queue that
// Engine loops drain by polling.
package messagebus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

// DefaultWatermark bounds a recipient's pending queue before Send starts
// failing with ErrQueueFull.
const DefaultWatermark = 256

// ErrQueueFull is returned when a recipient's queue is already at its
// watermark.
var ErrQueueFull = errors.New("messagebus: queue full")

// ErrUndeliverable is returned when an envelope names no known recipient
// or role.
var ErrUndeliverable = errors.New("messagebus: undeliverable")

// DropPolicy decides what happens when a recipient's queue is at its
// watermark: DropFail rejects the send, DropOldest evicts the oldest
// pending envelope to admit the new one.
type DropPolicy string

const (
	DropFail   DropPolicy = "fail"
	DropOldest DropPolicy = "drop_oldest"
)

// Envelope is one routed inter-agent message.
type Envelope struct {
	Sender      string
	Recipient   string // concrete agent id, role name, or "" for broadcast
	Broadcast   bool
	Channel     string
	Content     string
	MessageType core.MessageType
	Metadata    map[string]any
	CreatedAt   time.Time
}

// recipientQueue is a single FIFO per recipient. Because every envelope
// destined for a recipient passes through the same queue in send order,
// per-(sender,recipient,channel) FIFO falls out as a subsequence of this
// total order — no extra bookkeeping needed.
type recipientQueue struct {
	mu         sync.Mutex
	msgs       []Envelope
	cap        int
	dropOldest bool
}

func (q *recipientQueue) push(e Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) >= q.cap {
		if !q.dropOldest {
			return ErrQueueFull
		}
		q.msgs = q.msgs[1:]
	}
	q.msgs = append(q.msgs, e)
	return nil
}

func (q *recipientQueue) pop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return Envelope{}, false
	}
	e := q.msgs[0]
	q.msgs = q.msgs[1:]
	return e, true
}

func (q *recipientQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Bus routes envelopes between agents. It holds no conversation state —
// only pending-message queues and the role directory needed to resolve
// "send by role" and broadcast.
type Bus struct {
	mu        sync.RWMutex
	queues    map[string]*recipientQueue
	roles     map[string]map[string]bool // role -> set of agent ids
	agentRole map[string][]string        // agent id -> roles, for cleanup
	watermark int
	policy    DropPolicy
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithDropPolicy selects the overflow behavior for recipient queues at
// their watermark. The default is DropFail: Send returns ErrQueueFull and
// the caller decides whether to retry.
func WithDropPolicy(p DropPolicy) Option {
	return func(b *Bus) { b.policy = p }
}

// New creates a Bus whose recipient queues hold up to watermark pending
// envelopes. watermark <= 0 uses DefaultWatermark.
func New(watermark int, opts ...Option) *Bus {
	if watermark <= 0 {
		watermark = DefaultWatermark
	}
	b := &Bus{
		queues:    make(map[string]*recipientQueue),
		roles:     make(map[string]map[string]bool),
		agentRole: make(map[string][]string),
		watermark: watermark,
		policy:    DropFail,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterAgent makes agentID a valid Send target and, if roles is
// non-empty, a target of send-by-role for each listed role.
func (b *Bus) RegisterAgent(agentID string, roles ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = &recipientQueue{cap: b.watermark, dropOldest: b.policy == DropOldest}
	}
	b.agentRole[agentID] = roles
	for _, role := range roles {
		set, ok := b.roles[role]
		if !ok {
			set = make(map[string]bool)
			b.roles[role] = set
		}
		set[agentID] = true
	}
}

// UnregisterAgent removes agentID as a Send target, including from every
// role it belonged to. Its pending queue is discarded.
func (b *Bus) UnregisterAgent(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
	for _, role := range b.agentRole[agentID] {
		if set, ok := b.roles[role]; ok {
			delete(set, agentID)
			if len(set) == 0 {
				delete(b.roles, role)
			}
		}
	}
	delete(b.agentRole, agentID)
}

// resolve returns the concrete agent ids an envelope targets.
func (b *Bus) resolve(e Envelope) ([]string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if e.Broadcast {
		ids := make([]string, 0, len(b.queues))
		for id := range b.queues {
			ids = append(ids, id)
		}
		return ids, len(ids) > 0
	}
	if _, ok := b.queues[e.Recipient]; ok {
		return []string{e.Recipient}, true
	}
	if set, ok := b.roles[e.Recipient]; ok {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		return ids, len(ids) > 0
	}
	return nil, false
}

// SendResult reports per-recipient outcomes for a multi-target Send
// (role or broadcast). A single-agent Send skips this in favor of a plain
// error.
type SendResult struct {
	Delivered []string
	Failed    map[string]error
}

// Send routes e to its resolved recipient(s). A send to an unknown
// concrete agent id or role fails synchronously with ErrUndeliverable. A
// send to a single concrete recipient whose queue is at watermark fails
// with ErrQueueFull. A role or broadcast send is best-effort per
// recipient: full queues are recorded in the returned SendResult rather
// than aborting delivery to the other recipients.
func (b *Bus) Send(e Envelope) (SendResult, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	ids, ok := b.resolve(e)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: recipient %q", ErrUndeliverable, e.Recipient)
	}

	result := SendResult{Failed: make(map[string]error)}
	single := !e.Broadcast && len(ids) == 1 && ids[0] == e.Recipient

	for _, id := range ids {
		b.mu.RLock()
		q := b.queues[id]
		b.mu.RUnlock()
		if q == nil {
			result.Failed[id] = ErrUndeliverable
			continue
		}
		if err := q.push(e); err != nil {
			if single {
				return SendResult{}, err
			}
			result.Failed[id] = err
			continue
		}
		result.Delivered = append(result.Delivered, id)
	}

	if single && len(result.Delivered) == 0 {
		return SendResult{}, ErrUndeliverable
	}
	return result, nil
}

// Poll returns the next pending envelope for agentID without blocking.
// Engine loops call this at their message-bus poll suspension point.
func (b *Bus) Poll(agentID string) (Envelope, bool) {
	b.mu.RLock()
	q := b.queues[agentID]
	b.mu.RUnlock()
	if q == nil {
		return Envelope{}, false
	}
	return q.pop()
}

// PendingCount reports how many envelopes are queued for agentID.
func (b *Bus) PendingCount(agentID string) int {
	b.mu.RLock()
	q := b.queues[agentID]
	b.mu.RUnlock()
	if q == nil {
		return 0
	}
	return q.len()
}
