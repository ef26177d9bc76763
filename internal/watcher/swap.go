package watcher

import (
	"math/big"

	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/solana"
)

// SourceSwap is one observed swap by a monitored wallet, reduced to the
// fields a copy decision needs.
type SourceSwap struct {
	Wallet    string
	Mint      string
	Side      domain.Action
	SolAmount decimal.Decimal // SOL the source spent (buy) or received (sell)
	Signature string
	Slot      int64
	BlockTime int64 // seconds, 0 when the node omitted it
}

// ParseSwap extracts the wallet's swap from a confirmed transaction by
// diffing balances. The token side is the wallet's largest non-WSOL token
// delta; the SOL side combines the native lamport delta with any WSOL token
// delta, so swaps funded from a wrapped account are seen the same as native
// ones. Returns false for failed transactions, transactions the wallet is
// not party to, and pure transfers (token moved but no SOL paid or
// received).
func ParseSwap(tx *solana.Transaction, wallet string) (*SourceSwap, bool) {
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil || tx.Message == nil {
		return nil, false
	}

	walletIdx := -1
	for i, key := range tx.Message.AccountKeys {
		if key == wallet {
			walletIdx = i
			break
		}
	}
	if walletIdx == -1 {
		return nil, false
	}

	mint, tokenDelta := dominantTokenDelta(tx.Meta, wallet)
	if mint == "" || tokenDelta.Sign() == 0 {
		return nil, false
	}

	lamports := tx.Meta.LamportDelta(walletIdx)
	if walletIdx == 0 {
		// The fee payer's delta includes the transaction fee; add it back
		// so the amount reflects the swap alone.
		lamports += int64(tx.Meta.Fee)
	}
	solLamports := new(big.Int).SetInt64(lamports)
	solLamports.Add(solLamports, wsolDelta(tx.Meta, wallet))

	swap := &SourceSwap{
		Wallet:    wallet,
		Mint:      mint,
		Signature: tx.Signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
	}
	switch {
	case tokenDelta.Sign() > 0 && solLamports.Sign() < 0:
		swap.Side = domain.ActionBuy
		swap.SolAmount = lamportsToSol(new(big.Int).Neg(solLamports))
	case tokenDelta.Sign() < 0 && solLamports.Sign() > 0:
		swap.Side = domain.ActionSell
		swap.SolAmount = lamportsToSol(solLamports)
	default:
		// Airdrop, inbound transfer, or outbound transfer. Not a swap.
		return nil, false
	}
	return swap, true
}

// dominantTokenDelta returns the non-WSOL mint with the largest absolute
// balance change for accounts owned by the wallet, and that change in base
// units. A swap touches exactly one such mint; routing dust on others loses
// to the traded leg.
func dominantTokenDelta(meta *solana.TransactionMeta, wallet string) (string, *big.Int) {
	deltas := make(map[string]*big.Int)
	accumulate := func(balances []solana.TokenBalance, sign int64) {
		for _, b := range balances {
			if b.Owner != wallet || b.Mint == solana.WSOLMint {
				continue
			}
			amt, ok := new(big.Int).SetString(b.Amount, 10)
			if !ok {
				continue
			}
			if sign < 0 {
				amt.Neg(amt)
			}
			cur, found := deltas[b.Mint]
			if !found {
				cur = new(big.Int)
				deltas[b.Mint] = cur
			}
			cur.Add(cur, amt)
		}
	}
	accumulate(meta.PreTokenBalances, -1)
	accumulate(meta.PostTokenBalances, 1)

	var mint string
	var best *big.Int
	for m, d := range deltas {
		abs := new(big.Int).Abs(d)
		if best == nil || abs.Cmp(best) > 0 || (abs.Cmp(best) == 0 && m < mint) {
			mint = m
			best = abs
		}
	}
	if mint == "" {
		return "", nil
	}
	return mint, deltas[mint]
}

// wsolDelta sums the wallet's wrapped-SOL token balance change in lamports.
func wsolDelta(meta *solana.TransactionMeta, wallet string) *big.Int {
	delta := new(big.Int)
	add := func(balances []solana.TokenBalance, sign int64) {
		for _, b := range balances {
			if b.Owner != wallet || b.Mint != solana.WSOLMint {
				continue
			}
			amt, ok := new(big.Int).SetString(b.Amount, 10)
			if !ok {
				continue
			}
			if sign < 0 {
				amt.Neg(amt)
			}
			delta.Add(delta, amt)
		}
	}
	add(meta.PreTokenBalances, -1)
	add(meta.PostTokenBalances, 1)
	return delta
}

func lamportsToSol(lamports *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(lamports, -9)
}
