// Package pnl aggregates closed-trade outcomes into the three risk metrics
// the circuit breaker evaluates. The breaker performs no aggregation itself;
// it only compares these values against its thresholds.
package pnl

import (
	"context"
	"time"

	"solana-mirror-engine/internal/storage"
)

// DefaultStreakScanLimit bounds how many recent outcomes the consecutive-loss
// scan reads. A streak long enough to hit any sane threshold fits well inside
// this window.
const DefaultStreakScanLimit = 200

// Options configures a Provider.
type Options struct {
	Outcomes storage.OutcomeStore

	// BaselineEquityUSD is the bankroll the engine started with. Drawdown
	// percent is measured against peak equity (baseline + cumulative PnL).
	BaselineEquityUSD float64

	// StreakScanLimit caps the outcomes read for the streak scan.
	// Defaults to DefaultStreakScanLimit.
	StreakScanLimit int

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Provider computes risk aggregates over the outcome store.
type Provider struct {
	outcomes  storage.OutcomeStore
	baseline  float64
	scanLimit int
	now       func() time.Time
}

// NewProvider creates a Provider from opts.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		outcomes:  opts.Outcomes,
		baseline:  opts.BaselineEquityUSD,
		scanLimit: opts.StreakScanLimit,
		now:       opts.Now,
	}
	if p.scanLimit <= 0 {
		p.scanLimit = DefaultStreakScanLimit
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// PnL24h returns realized PnL in USD summed over the trailing 24 hours.
func (p *Provider) PnL24h(ctx context.Context) (float64, error) {
	since := p.now().Add(-24 * time.Hour).UnixMilli()
	return p.outcomes.SumPnLSince(ctx, since)
}

// ConsecutiveLosses returns the most-recent-first losing streak: the count of
// consecutive PnL<0 outcomes ending at the latest close, stopping at the
// first non-loss.
func (p *Provider) ConsecutiveLosses(ctx context.Context) (int, error) {
	recent, err := p.outcomes.RecentOutcomes(ctx, p.scanLimit)
	if err != nil {
		return 0, err
	}

	streak := 0
	for _, o := range recent {
		if o.PnLUSD >= 0 {
			break
		}
		streak++
	}
	return streak, nil
}

// MaxDrawdownPercent returns the current percentage decline from the highest
// observed equity peak. Equity is baseline plus cumulative realized PnL in
// chronological order; a recovered equity curve reports a low drawdown again.
func (p *Provider) MaxDrawdownPercent(ctx context.Context) (float64, error) {
	series, err := p.outcomes.PnLSeries(ctx, 0)
	if err != nil {
		return 0, err
	}

	equity := p.baseline
	peak := p.baseline
	for _, pnl := range series {
		equity += pnl
		if equity > peak {
			peak = equity
		}
	}
	if peak <= 0 {
		return 0, nil
	}
	dd := (peak - equity) / peak * 100
	if dd < 0 {
		dd = 0
	}
	return dd, nil
}
