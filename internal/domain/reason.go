package domain

// ReasonCode is the machine-readable code attached to a rejection.
type ReasonCode string

// Rejection reason codes
const (
	ReasonQueueFull        ReasonCode = "queue_full"
	ReasonLoadShed         ReasonCode = "load_shed"
	ReasonDuplicate        ReasonCode = "duplicate_trade_uuid"
	ReasonInvalidSignal    ReasonCode = "invalid_signal"
	ReasonTradingHalted    ReasonCode = "trading_halted"
	ReasonAmountOutOfRange ReasonCode = "amount_out_of_range"
	ReasonStrategyDisabled ReasonCode = "strategy_disabled_in_fallback"
	ReasonNoOpenPosition   ReasonCode = "no_open_position"
	ReasonNoRoute          ReasonCode = "no_route"
	ReasonSignalExpired    ReasonCode = "signal_expired"
)

// Rejection is a synchronous refusal of a signal. It wraps the underlying
// cause so callers can branch on Code while errors.Is still matches the
// package sentinel underneath.
type Rejection struct {
	Code   ReasonCode
	Detail string
	Err    error // underlying sentinel, may be nil
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "rejected: " + string(r.Code)
	}
	return "rejected: " + string(r.Code) + ": " + r.Detail
}

func (r *Rejection) Unwrap() error { return r.Err }
