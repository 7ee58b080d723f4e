package j1939

import (
	"sync"
	"sync/atomic"
)

// DropPolicy selects which packet is discarded when a bounded Queue is full.
type DropPolicy int

const (
	DropOldest DropPolicy = iota
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return "unknown"
	}
}

// Queue holds received packets between the receive path and delivery.
//
// Packets leave the queue in the order they were pushed, each exactly once.
// A capacity of 0 means unbounded. With a positive capacity a full queue
// discards according to its DropPolicy and counts the discard.
type Queue struct {
	mu       sync.Mutex
	items    []Packet
	head     int
	capacity int
	policy   DropPolicy
	dropped  atomic.Uint64

	// OnDrop, if set, is called for every discarded packet (outside the lock).
	OnDrop func(Packet)
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int, policy DropPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{capacity: capacity, policy: policy}
}

// Push appends p at the tail. It reports false when a packet (p itself under
// DropNewest, the head under DropOldest) had to be discarded.
func (q *Queue) Push(p Packet) bool {
	q.mu.Lock()
	var (
		victim  Packet
		dropped bool
	)
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		dropped = true
		if q.policy == DropNewest {
			victim = p
		} else {
			victim = q.popLocked()
			q.items = append(q.items, p)
		}
	} else {
		q.items = append(q.items, p)
	}
	q.mu.Unlock()
	if dropped {
		q.dropped.Add(1)
		if q.OnDrop != nil {
			q.OnDrop(victim)
		}
	}
	return !dropped
}

// Drain removes every packet present at call entry and hands each to fn in
// arrival order. fn runs without the queue lock held, so it may push. It
// returns the number of packets delivered.
func (q *Queue) Drain(fn func(Packet)) int {
	q.mu.Lock()
	batch := q.items[q.head:]
	q.items = nil
	q.head = 0
	q.mu.Unlock()
	for i := range batch {
		fn(batch[i])
		batch[i] = Packet{}
	}
	return len(batch)
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Cap returns the configured capacity (0 = unbounded).
func (q *Queue) Cap() int { return q.capacity }

// Policy returns the configured drop policy.
func (q *Queue) Policy() DropPolicy { return q.policy }

// Dropped returns how many packets were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

func (q *Queue) lenLocked() int { return len(q.items) - q.head }

func (q *Queue) popLocked() Packet {
	p := q.items[q.head]
	q.items[q.head] = Packet{}
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return p
}
