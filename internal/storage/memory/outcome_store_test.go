package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/storage"
)

func TestOutcomeStore_AppendAndAggregates(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	outcomes := []*domain.TradeOutcome{
		{TradeUUID: "t1", Token: "MintA", Strategy: domain.StrategyConservative, PnLUSD: 10, ClosedAt: 1000},
		{TradeUUID: "t2", Token: "MintA", Strategy: domain.StrategyConservative, PnLUSD: -4, ClosedAt: 2000},
		{TradeUUID: "t3", Token: "MintB", Strategy: domain.StrategyAggressive, PnLUSD: -6, ClosedAt: 3000},
	}
	for _, o := range outcomes {
		if err := store.Append(ctx, o); err != nil {
			t.Fatalf("Append(%s) failed: %v", o.TradeUUID, err)
		}
	}

	sum, err := store.SumPnLSince(ctx, 0)
	if err != nil {
		t.Fatalf("SumPnLSince failed: %v", err)
	}
	if sum != 0 {
		t.Errorf("SumPnLSince(0) = %f, want 0", sum)
	}

	// Window excludes the first outcome.
	sum, err = store.SumPnLSince(ctx, 2000)
	if err != nil {
		t.Fatalf("SumPnLSince failed: %v", err)
	}
	if sum != -10 {
		t.Errorf("SumPnLSince(2000) = %f, want -10", sum)
	}
}

func TestOutcomeStore_DuplicateKey(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	o := &domain.TradeOutcome{TradeUUID: "t1", PnLUSD: 1, ClosedAt: 1000}
	if err := store.Append(ctx, o); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	if err := store.Append(ctx, o); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestOutcomeStore_RecentOutcomesOrder(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	for _, o := range []*domain.TradeOutcome{
		{TradeUUID: "old", PnLUSD: 1, ClosedAt: 1000},
		{TradeUUID: "new", PnLUSD: 2, ClosedAt: 3000},
		{TradeUUID: "mid", PnLUSD: 3, ClosedAt: 2000},
	} {
		if err := store.Append(ctx, o); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.RecentOutcomes(ctx, 2)
	if err != nil {
		t.Fatalf("RecentOutcomes failed: %v", err)
	}
	if len(got) != 2 || got[0].TradeUUID != "new" || got[1].TradeUUID != "mid" {
		t.Errorf("RecentOutcomes order wrong: %+v", got)
	}
}

func TestOutcomeStore_PnLSeriesAscending(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	for _, o := range []*domain.TradeOutcome{
		{TradeUUID: "b", PnLUSD: -2, ClosedAt: 2000},
		{TradeUUID: "a", PnLUSD: 5, ClosedAt: 1000},
		{TradeUUID: "c", PnLUSD: 3, ClosedAt: 3000},
	} {
		if err := store.Append(ctx, o); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	series, err := store.PnLSeries(ctx, 0)
	if err != nil {
		t.Fatalf("PnLSeries failed: %v", err)
	}
	want := []float64{5, -2, 3}
	if len(series) != len(want) {
		t.Fatalf("PnLSeries length = %d, want %d", len(series), len(want))
	}
	for i := range want {
		if series[i] != want[i] {
			t.Errorf("PnLSeries[%d] = %f, want %f", i, series[i], want[i])
		}
	}
}

func TestSignalRegistry_MarkIfNew(t *testing.T) {
	reg := NewSignalRegistry()
	ctx := context.Background()

	created, err := reg.MarkIfNew(ctx, "uuid1", 0)
	if err != nil {
		t.Fatalf("MarkIfNew failed: %v", err)
	}
	if !created {
		t.Error("first MarkIfNew should return true")
	}

	// Zero ttl expires immediately, so the same uuid registers again.
	created, err = reg.MarkIfNew(ctx, "uuid1", 0)
	if err != nil {
		t.Fatalf("MarkIfNew failed: %v", err)
	}
	if !created {
		t.Error("expired uuid should register again")
	}
}

func TestSignalRegistry_DuplicateWithinTTL(t *testing.T) {
	reg := NewSignalRegistry()
	ctx := context.Background()

	if _, err := reg.MarkIfNew(ctx, "uuid1", time.Minute); err != nil {
		t.Fatalf("MarkIfNew failed: %v", err)
	}
	created, err := reg.MarkIfNew(ctx, "uuid1", time.Minute)
	if err != nil {
		t.Fatalf("MarkIfNew failed: %v", err)
	}
	if created {
		t.Error("duplicate within ttl should return false")
	}
}
