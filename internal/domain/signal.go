package domain

import "github.com/shopspring/decimal"

// Strategy classifies a signal into exactly one admission priority class.
type Strategy string

// Strategy constants, highest admission priority first.
const (
	StrategyExit         Strategy = "exit"
	StrategyConservative Strategy = "conservative"
	StrategyAggressive   Strategy = "aggressive"
)

// Valid reports whether s is a known strategy class.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyExit, StrategyConservative, StrategyAggressive:
		return true
	}
	return false
}

// Action is the trade direction.
type Action string

// Action constants
const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Signal is the admitted unit of work. It is created at validation time,
// owned exclusively by its queue lane after admission, and never mutated
// once handed to the executor.
type Signal struct {
	TradeUUID       string          // deterministic idempotency key
	Strategy        Strategy        // priority class
	Action          Action          // buy | sell
	Token           string          // SPL token mint address
	Amount          decimal.Decimal // trade size in SOL
	WalletAddress   string          // monitored wallet that produced the signal
	SourceSignature string          // observed transaction signature, if any
	Timestamp       int64           // signal time (ms)
}
