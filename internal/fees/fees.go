// Package fees chooses the priority tip attached to submitted transactions.
package fees

import (
	"github.com/shopspring/decimal"
)

var lamportsPerSol = decimal.NewFromInt(1_000_000_000)

// TipStrategy computes a tip in lamports for a trade of the given notional
// in SOL. Implementations are pure; the executor clamps every result.
type TipStrategy interface {
	TipLamports(tradeAmountSol decimal.Decimal) uint64
}

// StaticTip pays a fixed tip regardless of trade size.
type StaticTip struct {
	Lamports uint64
}

func (s StaticTip) TipLamports(decimal.Decimal) uint64 {
	return s.Lamports
}

// PercentTip pays a fraction of the trade notional, expressed in basis
// points.
type PercentTip struct {
	Bps int64
}

func (p PercentTip) TipLamports(tradeAmountSol decimal.Decimal) uint64 {
	if p.Bps <= 0 || tradeAmountSol.Sign() <= 0 {
		return 0
	}
	tip := tradeAmountSol.
		Mul(lamportsPerSol).
		Mul(decimal.NewFromInt(p.Bps)).
		Div(decimal.NewFromInt(10_000))
	return uint64(tip.IntPart())
}

// Clamp bounds strategy output. The percent cap and ceiling limit the tip
// from above, the floor from below; the floor wins when they conflict
// because relays drop bundles tipped under their minimum.
type Clamp struct {
	FloorLamports     uint64
	CeilingLamports   uint64
	MaxPercentOfTrade decimal.Decimal // e.g. 5 caps the tip at 5% of notional
}

// Apply returns the tip bounded to the configured window for the given
// trade notional.
func (c Clamp) Apply(tip uint64, tradeAmountSol decimal.Decimal) uint64 {
	if c.CeilingLamports > 0 && tip > c.CeilingLamports {
		tip = c.CeilingLamports
	}
	if c.MaxPercentOfTrade.Sign() > 0 && tradeAmountSol.Sign() > 0 {
		cap := tradeAmountSol.
			Mul(lamportsPerSol).
			Mul(c.MaxPercentOfTrade).
			Div(decimal.NewFromInt(100))
		if capLamports := uint64(cap.IntPart()); tip > capLamports {
			tip = capLamports
		}
	}
	if tip < c.FloorLamports {
		tip = c.FloorLamports
	}
	return tip
}
