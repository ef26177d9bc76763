package domain

// TradeOutcome is the analytics row appended when a trade reaches Closed.
// PnL here is a float for aggregation only; it never flows back into trade
// amounts.
type TradeOutcome struct {
	TradeUUID string
	Token     string
	Strategy  Strategy
	PnLUSD    float64
	ClosedAt  int64 // ms
}
