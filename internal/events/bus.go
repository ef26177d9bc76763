// Package events is the in-process broadcast channel between the trading
// core and its observers (notifier, ops surfaces). Delivery is
// fire-and-forget: a slow or failing subscriber never blocks trading
// control flow.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

// Event types
const (
	TypeBreakerTripped  Type = "BREAKER_TRIPPED"
	TypeBreakerCooldown Type = "BREAKER_COOLDOWN"
	TypeBreakerReset    Type = "BREAKER_RESET"
	TypeRpcModeChanged  Type = "RPC_MODE_CHANGED"
	TypeTradeExecuted   Type = "TRADE_EXECUTED"
	TypeTradeClosed     Type = "TRADE_CLOSED"
	TypeTradeRecovered  Type = "TRADE_RECOVERED"
	TypeTradeDeadLetter Type = "TRADE_DEAD_LETTER"
)

// Event is a broadcast system event.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Subscribers run on their own goroutine per
// delivery and must tolerate concurrent calls.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Type][]Subscriber
	allSubs []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Type][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(t Type, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], s)
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, s)
}

// Publish sends an event to all matching subscribers, each on its own
// goroutine.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs[event.Type] {
		go s(event)
	}
	for _, s := range b.allSubs {
		go s(event)
	}
}
