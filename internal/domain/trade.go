package domain

import "github.com/shopspring/decimal"

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

// Trade lifecycle states
const (
	StatusPending    TradeStatus = "pending"     // record created, not yet queued
	StatusQueued     TradeStatus = "queued"      // admitted into a queue lane
	StatusExecuting  TradeStatus = "executing"   // popped by the executor
	StatusActive     TradeStatus = "active"      // entry confirmed, position open
	StatusExiting    TradeStatus = "exiting"     // exit submitted, outcome unknown
	StatusClosed     TradeStatus = "closed"      // exit confirmed, terminal
	StatusFailed     TradeStatus = "failed"      // execution attempt failed
	StatusRetry      TradeStatus = "retry"       // awaiting re-execution
	StatusDeadLetter TradeStatus = "dead_letter" // abandoned, terminal
)

// Valid reports whether s is a known lifecycle state.
func (s TradeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusExecuting, StatusActive,
		StatusExiting, StatusClosed, StatusFailed, StatusRetry, StatusDeadLetter:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s == StatusClosed || s == StatusDeadLetter
}

// Trade is the durable lifecycle record keyed by TradeUUID. TradeUUID is the
// idempotency boundary: duplicate inbound signals are rejected, never
// re-executed. Status mutates only through validated transitions and is
// frozen at Closed/DeadLetter.
type Trade struct {
	TradeUUID     string
	WalletAddress string          // monitored wallet being mirrored
	Token         string          // SPL token mint address
	Strategy      Strategy        // priority class at admission
	Action        Action          // buy | sell
	Amount        decimal.Decimal // trade size in SOL
	Status        TradeStatus
	RetryCount    int

	// Signatures
	EntrySignature  string // our entry transaction, set on submission
	ExitSignature   string // our exit transaction, cleared on recovery revert
	SourceSignature string // observed transaction that produced the signal

	ErrorMessage   string   // last execution error, set with Failed
	RealizedPnLUSD *float64 // set only at Closed

	CreatedAt int64 // ms
	UpdatedAt int64 // ms; stuck-detection clock for the recovery manager
}
