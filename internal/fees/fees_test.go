package fees

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStaticTip(t *testing.T) {
	s := StaticTip{Lamports: 50_000}
	if got := s.TipLamports(decimal.NewFromFloat(1.5)); got != 50_000 {
		t.Fatalf("expected 50000, got %d", got)
	}
}

func TestPercentTip(t *testing.T) {
	// 10 bps of 2 SOL = 0.002 SOL = 2_000_000 lamports.
	p := PercentTip{Bps: 10}
	if got := p.TipLamports(decimal.NewFromInt(2)); got != 2_000_000 {
		t.Fatalf("expected 2000000, got %d", got)
	}
	if got := p.TipLamports(decimal.Zero); got != 0 {
		t.Fatalf("zero notional should tip 0, got %d", got)
	}
}

func TestClamp_Ceiling(t *testing.T) {
	c := Clamp{FloorLamports: 1_000, CeilingLamports: 100_000}
	if got := c.Apply(500_000, decimal.NewFromInt(10)); got != 100_000 {
		t.Fatalf("expected ceiling 100000, got %d", got)
	}
}

func TestClamp_Floor(t *testing.T) {
	c := Clamp{FloorLamports: 1_000, CeilingLamports: 100_000}
	if got := c.Apply(10, decimal.NewFromInt(10)); got != 1_000 {
		t.Fatalf("expected floor 1000, got %d", got)
	}
}

func TestClamp_PercentOfTradeCap(t *testing.T) {
	// 1% of 0.01 SOL = 100_000 lamports, tighter than the ceiling.
	c := Clamp{
		FloorLamports:     1_000,
		CeilingLamports:   10_000_000,
		MaxPercentOfTrade: decimal.NewFromInt(1),
	}
	if got := c.Apply(5_000_000, decimal.NewFromFloat(0.01)); got != 100_000 {
		t.Fatalf("expected percent cap 100000, got %d", got)
	}
}

func TestClamp_FloorBeatsPercentCap(t *testing.T) {
	// Tiny trade: percent cap falls under the relay minimum, floor wins.
	c := Clamp{
		FloorLamports:     10_000,
		CeilingLamports:   10_000_000,
		MaxPercentOfTrade: decimal.NewFromInt(1),
	}
	if got := c.Apply(5_000_000, decimal.NewFromFloat(0.0001)); got != 10_000 {
		t.Fatalf("expected floor to win, got %d", got)
	}
}

func TestClamp_InRangeUntouched(t *testing.T) {
	c := Clamp{
		FloorLamports:     1_000,
		CeilingLamports:   1_000_000,
		MaxPercentOfTrade: decimal.NewFromInt(5),
	}
	if got := c.Apply(50_000, decimal.NewFromInt(1)); got != 50_000 {
		t.Fatalf("in-range tip must pass through, got %d", got)
	}
}
