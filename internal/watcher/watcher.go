// Package watcher turns monitored-wallet activity into signals. It
// subscribes to log notifications mentioning each source wallet, fetches
// the full transaction, reduces it to a SourceSwap by balance diffing, and
// submits sized signals to admission. The watcher never writes trade state
// itself; admission owns every record it creates.
package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/idhash"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/storage"
)

// Admitter accepts or rejects signals. Satisfied by admission.Service.
type Admitter interface {
	Admit(ctx context.Context, sig *domain.Signal) error
}

// Config holds watcher tuning parameters.
type Config struct {
	// FetchRetries is how many times a notification's transaction is
	// fetched before the event is dropped.
	FetchRetries int

	// FetchRetryDelay is the base backoff delay between fetch attempts,
	// doubled each retry.
	FetchRetryDelay time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FetchRetries:    3,
		FetchRetryDelay: 500 * time.Millisecond,
	}
}

// Options wires a Watcher's collaborators.
type Options struct {
	Config   Config
	Wallets  []WalletConfig
	WS       solana.WSClient
	RPC      solana.RPCClient
	Admitter Admitter
	Trades   storage.TradeStore
	Sizer    Sizer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Watcher monitors source wallets and emits signals.
type Watcher struct {
	cfg      Config
	wallets  map[string]WalletConfig
	order    []string
	ws       solana.WSClient
	rpc      solana.RPCClient
	admitter Admitter
	trades   storage.TradeStore
	sizer    Sizer
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	cfg := opts.Config
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = DefaultConfig().FetchRetries
	}
	if cfg.FetchRetryDelay <= 0 {
		cfg.FetchRetryDelay = DefaultConfig().FetchRetryDelay
	}
	sizer := opts.Sizer
	if sizer == nil {
		sizer = MultiplierSizer{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	w := &Watcher{
		cfg:      cfg,
		wallets:  make(map[string]WalletConfig, len(opts.Wallets)),
		ws:       opts.WS,
		rpc:      opts.RPC,
		admitter: opts.Admitter,
		trades:   opts.Trades,
		sizer:    sizer,
		log:      opts.Logger.With().Str("component", "watcher").Logger(),
		now:      now,
	}
	for _, wc := range opts.Wallets {
		if wc.Address == "" {
			continue
		}
		if _, dup := w.wallets[wc.Address]; !dup {
			w.order = append(w.order, wc.Address)
		}
		w.wallets[wc.Address] = wc
	}
	return w
}

// Run subscribes to every configured wallet and processes notifications
// until the context is cancelled. Returns an error only when the initial
// subscriptions fail; socket loss afterwards is handled by the client's
// reconnect loop.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.order) == 0 {
		return errors.New("no wallets configured")
	}

	// One subscription per wallet: some providers accept only a single
	// mentions address per logsSubscribe.
	merged := make(chan solana.LogNotification, 1000)
	for _, addr := range w.order {
		ch, err := w.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{addr}})
		if err != nil {
			return err
		}
		w.log.Info().Str("wallet", addr).Msg("subscribed to wallet activity")
		go func(in <-chan solana.LogNotification) {
			for notif := range in {
				select {
				case merged <- notif:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notif := <-merged:
			w.process(ctx, notif)
		}
	}
}

// process handles one notification: fetch the transaction, parse a swap
// for each monitored wallet party to it, emit signals.
func (w *Watcher) process(ctx context.Context, notif solana.LogNotification) {
	if notif.Err != nil {
		// The source transaction failed on chain; nothing was traded.
		return
	}
	if notif.Signature == "" {
		return
	}

	tx, err := w.fetchTransaction(ctx, notif.Signature)
	if err != nil || tx == nil {
		w.log.Warn().Err(err).Str("signature", notif.Signature).Msg("dropping source event, transaction unavailable")
		return
	}

	for _, addr := range w.order {
		swap, ok := ParseSwap(tx, addr)
		if !ok {
			continue
		}
		observability.RecordSourceEvent(addr)
		w.emit(ctx, swap)
	}
}

// fetchTransaction retries GetTransaction with exponential backoff. Log
// notifications routinely arrive before the transaction is queryable.
func (w *Watcher) fetchTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	var lastErr error
	delay := w.cfg.FetchRetryDelay
	for attempt := 0; attempt < w.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
		tx, err := w.rpc.GetTransaction(ctx, signature)
		if err == nil && tx != nil {
			return tx, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// emit converts a SourceSwap into a signal and submits it.
func (w *Watcher) emit(ctx context.Context, swap *SourceSwap) {
	cfg := w.wallets[swap.Wallet]

	sig := &domain.Signal{
		Action:          swap.Side,
		Token:           swap.Mint,
		WalletAddress:   swap.Wallet,
		SourceSignature: swap.Signature,
		Timestamp:       w.signalTimestamp(swap),
	}

	switch swap.Side {
	case domain.ActionBuy:
		amount := w.sizer.Size(cfg, swap.SolAmount)
		if !amount.IsPositive() {
			w.log.Debug().Str("wallet", swap.Wallet).Str("token", swap.Mint).Msg("sized to zero, skipping")
			return
		}
		sig.Amount = amount
		sig.Strategy = cfg.Strategy
		if !sig.Strategy.Valid() || sig.Strategy == domain.StrategyExit {
			sig.Strategy = domain.StrategyConservative
		}

	case domain.ActionSell:
		// Mirror the sell only when it closes one of our positions.
		if _, err := w.trades.FindActiveByToken(ctx, swap.Mint); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				w.log.Debug().Str("token", swap.Mint).Msg("source sold a token we do not hold")
				return
			}
			w.log.Error().Err(err).Str("token", swap.Mint).Msg("open-position lookup failed")
			return
		}
		sig.Strategy = domain.StrategyExit
		// The amount on an exit is advisory (execution sells our actual
		// holding), but it is still sized to our scale, not the source's.
		sig.Amount = w.sizer.Size(cfg, swap.SolAmount)
		if !sig.Amount.IsPositive() {
			// A rugged token can sell for nothing.
			sig.Amount = decimal.NewFromInt(1)
		}

	default:
		return
	}

	sig.TradeUUID = idhash.ComputeTradeUUID(sig.Timestamp, sig.Token, string(sig.Action), sig.Amount.String(), sig.WalletAddress)

	if err := w.admitter.Admit(ctx, sig); err != nil {
		var rej *domain.Rejection
		if errors.As(err, &rej) {
			// Admission already logged the rejection; duplicates are
			// routine after a reconnect replay.
			w.log.Debug().Str("trade_uuid", sig.TradeUUID).Str("reason", string(rej.Code)).Msg("signal not admitted")
			return
		}
		w.log.Error().Err(err).Str("trade_uuid", sig.TradeUUID).Msg("admission failed")
		return
	}
	w.log.Info().
		Str("trade_uuid", sig.TradeUUID).
		Str("wallet", swap.Wallet).
		Str("token", swap.Mint).
		Str("action", string(swap.Side)).
		Str("source_sol", swap.SolAmount.String()).
		Str("copy_sol", sig.Amount.String()).
		Msg("source swap mirrored")
}

func (w *Watcher) signalTimestamp(swap *SourceSwap) int64 {
	if swap.BlockTime > 0 {
		return swap.BlockTime * 1000
	}
	return w.now().UnixMilli()
}
