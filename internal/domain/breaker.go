package domain

import "fmt"

// BreakerState is the circuit breaker lifecycle state.
type BreakerState string

// Breaker states: Active ⇄ Tripped → Cooldown → Active.
const (
	BreakerActive   BreakerState = "active"
	BreakerTripped  BreakerState = "tripped"
	BreakerCooldown BreakerState = "cooldown"
)

// TripCause tags the reason a breaker tripped.
type TripCause string

// Trip causes
const (
	TripCauseMaxLoss24h        TripCause = "max_loss_24h"
	TripCauseConsecutiveLosses TripCause = "consecutive_losses"
	TripCauseMaxDrawdown       TripCause = "max_drawdown"
	TripCauseManual            TripCause = "manual"
)

// TripReason is a closed set of structured trip reasons, one payload shape
// per cause. Free-text reasons exist only for manual trips.
type TripReason interface {
	Cause() TripCause
	String() string
}

// MaxLoss24hReason reports a 24h realized loss at or beyond the threshold.
type MaxLoss24hReason struct {
	LossUSD      float64 // negative
	ThresholdUSD float64
}

func (r MaxLoss24hReason) Cause() TripCause { return TripCauseMaxLoss24h }

func (r MaxLoss24hReason) String() string {
	return fmt.Sprintf("24h loss %.2f USD reached limit %.2f USD", r.LossUSD, r.ThresholdUSD)
}

// ConsecutiveLossesReason reports a most-recent-first losing streak at or
// beyond the threshold.
type ConsecutiveLossesReason struct {
	Count     int
	Threshold int
}

func (r ConsecutiveLossesReason) Cause() TripCause { return TripCauseConsecutiveLosses }

func (r ConsecutiveLossesReason) String() string {
	return fmt.Sprintf("%d consecutive losses reached limit %d", r.Count, r.Threshold)
}

// MaxDrawdownReason reports drawdown from the equity peak at or beyond the
// threshold.
type MaxDrawdownReason struct {
	DrawdownPct  float64
	ThresholdPct float64
}

func (r MaxDrawdownReason) Cause() TripCause { return TripCauseMaxDrawdown }

func (r MaxDrawdownReason) String() string {
	return fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", r.DrawdownPct, r.ThresholdPct)
}

// ManualTripReason records an operator-initiated trip.
type ManualTripReason struct {
	Reason string
}

func (r ManualTripReason) Cause() TripCause { return TripCauseManual }

func (r ManualTripReason) String() string {
	return "manual trip: " + r.Reason
}

// BreakerSnapshot is a point-in-time read of breaker state.
// TrippedAt is set iff State != BreakerActive.
type BreakerSnapshot struct {
	State     BreakerState
	TrippedAt *int64     // ms
	Reason    TripReason // nil when Active
	LastCheck int64      // ms, last evaluation time
}
