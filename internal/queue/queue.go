// Package queue implements the bounded three-lane admission queue. Lanes are
// strict-priority: Exit drains fully before Conservative, Conservative before
// Aggressive. Capacity is enforced across all lanes; Aggressive admissions
// are additionally shed once total depth crosses the load-shed threshold.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"solana-mirror-engine/internal/domain"
)

// DefaultLoadShedThresholdPct is the total-depth percentage at which
// Aggressive pushes start failing.
const DefaultLoadShedThresholdPct = 80

var (
	// ErrQueueFull is returned when total depth has reached capacity.
	ErrQueueFull = errors.New("queue at capacity")
	// ErrLoadShedding is returned for Aggressive pushes once total depth has
	// reached the load-shed threshold. Distinct from ErrQueueFull: capacity
	// may remain for higher-priority classes.
	ErrLoadShedding = errors.New("aggressive admissions shed under load")
	// ErrUnknownStrategy is returned for signals outside the three classes.
	ErrUnknownStrategy = errors.New("unknown strategy class")
)

// lane is a FIFO guarded by its own mutex so producers on one lane never
// block consumers touching another.
type lane struct {
	mu    sync.Mutex
	items []*domain.Signal
}

func (l *lane) push(s *domain.Signal) {
	l.mu.Lock()
	l.items = append(l.items, s)
	l.mu.Unlock()
}

func (l *lane) pop() *domain.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	s := l.items[0]
	l.items[0] = nil
	l.items = l.items[1:]
	return s
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// PriorityQueue is the bounded admission queue.
type PriorityQueue struct {
	capacity  int
	shedDepth int // total depth at which Aggressive pushes fail

	total atomic.Int64

	exit         lane
	conservative lane
	aggressive   lane
}

// New returns a queue with the given total capacity and load-shed threshold
// in percent of capacity. A threshold outside (0,100] falls back to the
// default.
func New(capacity, shedThresholdPct int) *PriorityQueue {
	if capacity <= 0 {
		capacity = 1
	}
	if shedThresholdPct <= 0 || shedThresholdPct > 100 {
		shedThresholdPct = DefaultLoadShedThresholdPct
	}
	return &PriorityQueue{
		capacity:  capacity,
		shedDepth: capacity * shedThresholdPct / 100,
	}
}

func (q *PriorityQueue) laneFor(s domain.Strategy) *lane {
	switch s {
	case domain.StrategyExit:
		return &q.exit
	case domain.StrategyConservative:
		return &q.conservative
	case domain.StrategyAggressive:
		return &q.aggressive
	}
	return nil
}

// Push admits a signal into its strategy lane. Capacity takes precedence
// over load shedding: a full queue rejects every class with ErrQueueFull,
// while ErrLoadShedding rejects only Aggressive with capacity remaining.
func (q *PriorityQueue) Push(sig *domain.Signal) error {
	if sig == nil {
		return ErrUnknownStrategy
	}
	target := q.laneFor(sig.Strategy)
	if target == nil {
		return ErrUnknownStrategy
	}

	// Reserve a slot via CAS so concurrent producers cannot overshoot
	// capacity between check and append.
	for {
		cur := q.total.Load()
		if cur >= int64(q.capacity) {
			return ErrQueueFull
		}
		if sig.Strategy == domain.StrategyAggressive && cur >= int64(q.shedDepth) {
			return ErrLoadShedding
		}
		if q.total.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	target.push(sig)
	return nil
}

// Pop returns the next signal in strict priority order, or nil when all
// lanes are empty. Non-blocking; the consumer owns pacing.
func (q *PriorityQueue) Pop() *domain.Signal {
	for _, l := range []*lane{&q.exit, &q.conservative, &q.aggressive} {
		if s := l.pop(); s != nil {
			q.total.Add(-1)
			return s
		}
	}
	return nil
}

// Drain empties all lanes in priority order and returns the removed signals.
// Used at shutdown so queued trades can be dead-lettered.
func (q *PriorityQueue) Drain() []*domain.Signal {
	var out []*domain.Signal
	for {
		s := q.Pop()
		if s == nil {
			return out
		}
		out = append(out, s)
	}
}

// Depths returns a point-in-time occupancy snapshot.
func (q *PriorityQueue) Depths() domain.QueueDepths {
	high := q.exit.depth()
	medium := q.conservative.depth()
	low := q.aggressive.depth()
	return domain.QueueDepths{
		High:     high,
		Medium:   medium,
		Low:      low,
		Total:    high + medium + low,
		Capacity: q.capacity,
	}
}
