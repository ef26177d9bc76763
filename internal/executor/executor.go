// Package executor consumes admitted signals one at a time, assembles and
// signs the corresponding swap transaction, and drives it onto the network
// through the primary bundle path or the fallback direct path.
//
// The executor is strictly single-consumer: signals execute in priority
// order, and the failover bookkeeping (consecutive-failure counter, mode
// switches, probe timestamps) is only correct because no two executions
// overlap. Mode recovery is probe-driven: a successful send while in fallback
// does not restore the primary path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/fees"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/route"
	"solana-mirror-engine/internal/signer"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/storage"
)

var lamportsPerSol = decimal.NewFromInt(1_000_000_000)

// Relay is the bundle relay surface the executor submits through.
type Relay interface {
	SendBundle(ctx context.Context, txsBase58 []string) (string, error)
	SendTransaction(ctx context.Context, txBase58 string) (string, error)
	TipAccount() string
}

var _ Relay = (*solana.RelayClient)(nil)

// Config holds executor tuning parameters.
type Config struct {
	// MinTradeSol and MaxTradeSol bound the admitted trade size. Signals
	// outside the range are rejected at execution time.
	MinTradeSol decimal.Decimal
	MaxTradeSol decimal.Decimal

	// MaxConsecutiveFailures is the failure streak in primary mode that
	// forces the switch to fallback.
	MaxConsecutiveFailures int

	// ProbeInterval must elapse since both fallback entry and the last
	// probe before the primary path is health-checked again.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// SubmitTimeout bounds each individual submission attempt.
	SubmitTimeout time.Duration

	// ConfirmTimeout bounds post-submission confirmation polling.
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	SlippageBps int

	ComputeUnitLimit      uint32
	ComputeUnitPriceMicro uint64

	// TipClamp bounds whatever the tip strategy produces. The strategy is
	// untrusted; its output is always re-clamped.
	TipClamp fees.Clamp

	// SolPriceUSD converts lamport deltas into realized PnL.
	SolPriceUSD float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinTradeSol:            decimal.NewFromFloat(0.01),
		MaxTradeSol:            decimal.NewFromInt(10),
		MaxConsecutiveFailures: 3,
		ProbeInterval:          60 * time.Second,
		ProbeTimeout:           5 * time.Second,
		SubmitTimeout:          10 * time.Second,
		ConfirmTimeout:         45 * time.Second,
		ConfirmPollInterval:    2 * time.Second,
		SlippageBps:            300,
		ComputeUnitLimit:       400_000,
		ComputeUnitPriceMicro:  50_000,
		TipClamp: fees.Clamp{
			FloorLamports:     100_000,
			CeilingLamports:   10_000_000,
			MaxPercentOfTrade: decimal.NewFromInt(5),
		},
		SolPriceUSD: 150,
	}
}

// Options wires an Executor's collaborators.
type Options struct {
	Config      Config
	Wallet      *signer.Keypair
	Routes      route.Provider
	RPC         solana.RPCClient // primary node
	FallbackRPC solana.RPCClient // direct-submission node for fallback mode
	Accelerator Relay            // first bundle relay
	Secondary   Relay            // second bundle relay
	Trades      storage.TradeStore
	Audit       storage.AuditStore
	Outcomes    storage.OutcomeStore
	Tips        fees.TipStrategy
	Bus         *events.Bus
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Status is a point-in-time snapshot of the executor's failover state.
type Status struct {
	Mode                domain.RpcMode   `json:"mode"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	FallbackSince       int64            `json:"fallback_since,omitempty"` // ms
	LastProbe           domain.RpcHealth `json:"last_probe"`
}

// Executor executes one signal at a time against the network.
type Executor struct {
	cfg         Config
	wallet      *signer.Keypair
	routes      route.Provider
	rpc         solana.RPCClient
	fallbackRPC solana.RPCClient
	accelerator Relay
	secondary   Relay
	trades      storage.TradeStore
	audit       storage.AuditStore
	outcomes    storage.OutcomeStore
	tips        fees.TipStrategy
	bus         *events.Bus
	log         zerolog.Logger
	now         func() time.Time

	mu            sync.RWMutex
	mode          domain.RpcMode
	failures      int
	fallbackSince int64 // ms, set iff mode == fallback
	lastProbe     domain.RpcHealth
}

// New creates an Executor in primary mode.
func New(opts Options) *Executor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fallback := opts.FallbackRPC
	if fallback == nil {
		fallback = opts.RPC
	}
	tips := opts.Tips
	if tips == nil {
		tips = fees.StaticTip{Lamports: opts.Config.TipClamp.FloorLamports}
	}
	return &Executor{
		cfg:         opts.Config,
		wallet:      opts.Wallet,
		routes:      opts.Routes,
		rpc:         opts.RPC,
		fallbackRPC: fallback,
		accelerator: opts.Accelerator,
		secondary:   opts.Secondary,
		trades:      opts.Trades,
		audit:       opts.Audit,
		outcomes:    opts.Outcomes,
		tips:        tips,
		bus:         opts.Bus,
		log:         opts.Logger.With().Str("component", "executor").Logger(),
		now:         now,
		mode:        domain.RpcModePrimary,
	}
}

// Mode returns the current submission mode.
func (e *Executor) Mode() domain.RpcMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Status returns a snapshot of the failover state.
func (e *Executor) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Mode:                e.mode,
		ConsecutiveFailures: e.failures,
		FallbackSince:       e.fallbackSince,
		LastProbe:           e.lastProbe,
	}
}

// Execute runs one admitted signal to an outcome. Buys drive the owning
// trade Executing→Active (or Failed); sells drive the open position
// Active→Exiting→Closed, leaving Exiting for the recovery manager when the
// outcome is not observable in time. The returned trade reflects the last
// applied transition and may be non-nil alongside an error.
func (e *Executor) Execute(ctx context.Context, sig *domain.Signal) (*domain.Trade, error) {
	start := e.now()
	e.maybeProbePrimary(ctx)

	var (
		trade *domain.Trade
		err   error
	)
	if sig.Action == domain.ActionSell {
		trade, err = e.executeExit(ctx, sig)
	} else {
		trade, err = e.executeEntry(ctx, sig)
	}

	result := "ok"
	if err != nil {
		result = "error"
		var rej *domain.Rejection
		if errors.As(err, &rej) {
			result = "rejected"
		}
	}
	observability.RecordTradeExecuted(string(sig.Action), string(e.Mode()), result)
	observability.RecordExecutionLatency(string(sig.Action), e.now().Sub(start).Seconds())
	return trade, err
}

// executeEntry opens a position: Queued|Retry → Executing → Active|Failed.
func (e *Executor) executeEntry(ctx context.Context, sig *domain.Signal) (*domain.Trade, error) {
	trade, err := e.trades.UpdateStatus(ctx, sig.TradeUUID, domain.StatusExecuting, storage.StatusUpdate{})
	if err != nil {
		return nil, fmt.Errorf("mark executing: %w", err)
	}

	if rej := e.precheck(sig); rej != nil {
		return e.failEntry(ctx, trade, "", rej)
	}

	ins, err := e.routes.BuildSwap(ctx, route.SwapRequest{
		Owner:       e.wallet.PublicKey,
		TokenMint:   sig.Token,
		Action:      domain.ActionBuy,
		AmountIn:    lamportsFromSol(sig.Amount),
		SlippageBps: e.cfg.SlippageBps,
	})
	if err != nil {
		if errors.Is(err, route.ErrNoRoute) {
			return e.failEntry(ctx, trade, "", &domain.Rejection{Code: domain.ReasonNoRoute, Detail: sig.Token, Err: err})
		}
		return e.failEntry(ctx, trade, "", fmt.Errorf("build swap: %w", err))
	}

	tx, err := e.assemble(ctx, ins, sig.Amount)
	if err != nil {
		return e.failEntry(ctx, trade, "", err)
	}

	if err := e.dispatch(ctx, tx); err != nil {
		return e.failEntry(ctx, trade, tx.Signature, err)
	}

	switch outcome := e.awaitConfirmation(ctx, tx.Signature); outcome {
	case solana.OutcomeConfirmed:
		entrySig := tx.Signature
		active, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusActive, storage.StatusUpdate{
			EntrySignature: &entrySig,
		})
		if err != nil {
			return trade, fmt.Errorf("mark active: %w", err)
		}
		e.recordSuccess()
		e.log.Info().
			Str("trade_uuid", active.TradeUUID).
			Str("token", active.Token).
			Str("signature", entrySig).
			Str("amount_sol", sig.Amount.String()).
			Msg("entry confirmed")
		e.publish(events.TypeTradeExecuted, map[string]interface{}{
			"trade_uuid": active.TradeUUID,
			"token":      active.Token,
			"strategy":   string(active.Strategy),
			"amount_sol": sig.Amount.String(),
			"signature":  entrySig,
		})
		return active, nil
	case solana.OutcomeFailedOnChain:
		return e.failEntry(ctx, trade, tx.Signature, errors.New("entry transaction failed on chain"))
	default:
		return e.failEntry(ctx, trade, tx.Signature, fmt.Errorf("entry confirmation timeout after %s", e.cfg.ConfirmTimeout))
	}
}

// executeExit closes the open position for the signal's token:
// Active → Exiting → Closed. The exit signature is persisted with the
// Exiting transition, before submission, so a crash mid-flight leaves a
// record the recovery manager can resolve.
func (e *Executor) executeExit(ctx context.Context, sig *domain.Signal) (*domain.Trade, error) {
	trade, err := e.trades.FindActiveByToken(ctx, sig.Token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &domain.Rejection{Code: domain.ReasonNoOpenPosition, Detail: sig.Token, Err: err}
		}
		return nil, fmt.Errorf("find open position: %w", err)
	}

	if rej := e.precheck(sig); rej != nil {
		e.recordFailure(ctx)
		return trade, rej
	}

	// Position size comes from the wallet's token account, not the signal:
	// the source's exit amount is theirs, ours is whatever we hold.
	ata, err := solana.DeriveAssociatedTokenAccount(e.wallet.PublicKey, sig.Token)
	if err != nil {
		return trade, fmt.Errorf("derive token account: %w", err)
	}
	bal, err := e.activeRPC().GetTokenAccountBalance(ctx, ata)
	if err != nil {
		e.recordFailure(ctx)
		return trade, fmt.Errorf("token balance: %w", err)
	}
	if bal.Amount == 0 {
		return trade, &domain.Rejection{Code: domain.ReasonNoOpenPosition, Detail: "token account is empty"}
	}

	ins, err := e.routes.BuildSwap(ctx, route.SwapRequest{
		Owner:       e.wallet.PublicKey,
		TokenMint:   sig.Token,
		Action:      domain.ActionSell,
		AmountIn:    bal.Amount,
		SlippageBps: e.cfg.SlippageBps,
	})
	if err != nil {
		e.recordFailure(ctx)
		if errors.Is(err, route.ErrNoRoute) {
			return trade, &domain.Rejection{Code: domain.ReasonNoRoute, Detail: sig.Token, Err: err}
		}
		return trade, fmt.Errorf("build swap: %w", err)
	}

	tx, err := e.assemble(ctx, ins, sig.Amount)
	if err != nil {
		e.recordFailure(ctx)
		return trade, err
	}

	exitSig := tx.Signature
	trade, err = e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusExiting, storage.StatusUpdate{
		ExitSignature: &exitSig,
	})
	if err != nil {
		return trade, fmt.Errorf("mark exiting: %w", err)
	}

	if err := e.dispatch(ctx, tx); err != nil {
		// Nothing was accepted anywhere; reopen so a later exit can retry.
		trade = e.reopen(ctx, trade, err.Error())
		e.recordFailure(ctx)
		return trade, err
	}

	switch outcome := e.awaitConfirmation(ctx, tx.Signature); outcome {
	case solana.OutcomeConfirmed:
		pnl := e.realizedPnL(ctx, trade.EntrySignature, exitSig)
		closed, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusClosed, storage.StatusUpdate{
			RealizedPnLUSD: pnl,
		})
		if err != nil {
			return trade, fmt.Errorf("mark closed: %w", err)
		}
		e.appendOutcome(ctx, closed)
		e.recordSuccess()
		logEvent := e.log.Info().
			Str("trade_uuid", closed.TradeUUID).
			Str("token", closed.Token).
			Str("signature", exitSig)
		if pnl != nil {
			logEvent = logEvent.Float64("pnl_usd", *pnl)
		}
		logEvent.Msg("exit confirmed")
		data := map[string]interface{}{
			"trade_uuid": closed.TradeUUID,
			"token":      closed.Token,
			"signature":  exitSig,
		}
		if pnl != nil {
			data["pnl_usd"] = *pnl
		}
		e.publish(events.TypeTradeClosed, data)
		return closed, nil
	case solana.OutcomeFailedOnChain:
		trade = e.reopen(ctx, trade, "exit transaction failed on chain")
		e.recordFailure(ctx)
		return trade, errors.New("exit transaction failed on chain")
	default:
		// Outcome unknown: the trade stays Exiting with its signature on
		// record and the recovery manager resolves it against the chain.
		e.recordFailure(ctx)
		return trade, fmt.Errorf("exit confirmation pending: %s", exitSig)
	}
}

// precheck applies the per-signal gates that depend on executor state.
func (e *Executor) precheck(sig *domain.Signal) *domain.Rejection {
	if e.Mode() == domain.RpcModeFallback && sig.Strategy == domain.StrategyAggressive {
		return &domain.Rejection{
			Code:   domain.ReasonStrategyDisabled,
			Detail: "aggressive signals require the bundle path",
		}
	}
	if sig.Amount.LessThan(e.cfg.MinTradeSol) || sig.Amount.GreaterThan(e.cfg.MaxTradeSol) {
		return &domain.Rejection{
			Code: domain.ReasonAmountOutOfRange,
			Detail: fmt.Sprintf("%s SOL outside [%s, %s]",
				sig.Amount.String(), e.cfg.MinTradeSol.String(), e.cfg.MaxTradeSol.String()),
		}
	}
	return nil
}

// failEntry transitions an entry attempt to Failed with its error text and
// counts the failure toward failover.
func (e *Executor) failEntry(ctx context.Context, trade *domain.Trade, txSignature string, cause error) (*domain.Trade, error) {
	msg := cause.Error()
	upd := storage.StatusUpdate{ErrorMessage: &msg}
	if txSignature != "" {
		upd.EntrySignature = &txSignature
	}
	failed, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusFailed, upd)
	if err != nil {
		e.log.Error().Err(err).Str("trade_uuid", trade.TradeUUID).Msg("failed to mark trade failed")
		failed = trade
	}
	e.recordFailure(ctx)
	e.log.Warn().
		Str("trade_uuid", trade.TradeUUID).
		Str("token", trade.Token).
		Err(cause).
		Msg("entry failed")
	return failed, cause
}

// reopen reverts Exiting → Active, clearing the dead exit signature.
func (e *Executor) reopen(ctx context.Context, trade *domain.Trade, msg string) *domain.Trade {
	empty := ""
	reverted, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusActive, storage.StatusUpdate{
		ExitSignature: &empty,
		ErrorMessage:  &msg,
	})
	if err != nil {
		e.log.Error().Err(err).Str("trade_uuid", trade.TradeUUID).Msg("failed to reopen position")
		return trade
	}
	return reverted
}

// assemble fetches a blockhash, prepends the compute budget, appends the
// clamped tip transfer on the bundle path, and signs the envelope.
func (e *Executor) assemble(ctx context.Context, venue []solana.Instruction, amountSol decimal.Decimal) (*solana.SignedTx, error) {
	bh, err := e.activeRPC().GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("blockhash: %w", err)
	}

	ins := make([]solana.Instruction, 0, len(venue)+3)
	ins = append(ins,
		solana.NewComputeUnitLimit(e.cfg.ComputeUnitLimit),
		solana.NewComputeUnitPrice(e.cfg.ComputeUnitPriceMicro),
	)
	ins = append(ins, venue...)

	if e.Mode() == domain.RpcModePrimary {
		tip := e.cfg.TipClamp.Apply(e.tips.TipLamports(amountSol), amountSol)
		ins = append(ins, solana.NewSystemTransfer(e.wallet.PublicKey, e.accelerator.TipAccount(), tip))
		observability.RecordTip(tip)
	}

	tx, err := solana.BuildSignedTransaction(ins, e.wallet.PublicKey, bh.Blockhash, e.wallet.SignerMap())
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	return tx, nil
}

// dispatch submits one signed transaction. The bundle path tries the
// accelerator relay, then the secondary relay, then direct submission; a
// failed attempt advances to the next option without aborting the signal.
// Fallback mode submits directly only.
func (e *Executor) dispatch(ctx context.Context, tx *solana.SignedTx) error {
	if e.Mode() == domain.RpcModeFallback {
		return e.submitDirect(ctx, e.fallbackRPC, tx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	_, err := e.accelerator.SendBundle(attemptCtx, []string{tx.Base58()})
	cancel()
	if err == nil {
		observability.RecordSubmitAttempt("accelerator", "ok")
		return nil
	}
	observability.RecordSubmitAttempt("accelerator", "error")
	e.log.Warn().Err(err).Str("signature", tx.Signature).Msg("accelerator relay rejected bundle")

	attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	_, err = e.secondary.SendTransaction(attemptCtx, tx.Base58())
	cancel()
	if err == nil {
		observability.RecordSubmitAttempt("secondary", "ok")
		return nil
	}
	observability.RecordSubmitAttempt("secondary", "error")
	e.log.Warn().Err(err).Str("signature", tx.Signature).Msg("secondary relay rejected transaction")

	if err := e.submitDirect(ctx, e.rpc, tx); err != nil {
		return fmt.Errorf("all submission paths failed: %w", err)
	}
	return nil
}

func (e *Executor) submitDirect(ctx context.Context, rpc solana.RPCClient, tx *solana.SignedTx) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	_, err := rpc.SendTransaction(attemptCtx, tx.Base64())
	if err != nil {
		observability.RecordSubmitAttempt("direct", "error")
		return fmt.Errorf("direct submission: %w", err)
	}
	observability.RecordSubmitAttempt("direct", "ok")
	return nil
}

// awaitConfirmation polls the signature until it lands, fails on chain, or
// the confirmation window closes. The outcome at the deadline is returned
// as-is; callers treat NotFound and Indeterminate as a timeout.
func (e *Executor) awaitConfirmation(ctx context.Context, signature string) solana.TxOutcome {
	deadline := e.now().Add(e.cfg.ConfirmTimeout)
	ticker := time.NewTicker(e.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	rpc := e.activeRPC()
	for {
		tx, err := rpc.GetTransaction(ctx, signature)
		outcome := solana.ResolveOutcome(tx, err)
		if outcome == solana.OutcomeConfirmed || outcome == solana.OutcomeFailedOnChain {
			return outcome
		}
		if !e.now().Before(deadline) {
			return outcome
		}
		select {
		case <-ctx.Done():
			return solana.OutcomeIndeterminate
		case <-ticker.C:
		}
	}
}

// realizedPnL nets the fee payer's lamport deltas across entry and exit and
// converts to USD. Returns nil when either leg cannot be read; a close with
// unknown PnL is recorded as such, never guessed.
func (e *Executor) realizedPnL(ctx context.Context, entrySig, exitSig string) *float64 {
	rpc := e.activeRPC()

	entry, err := rpc.GetTransaction(ctx, entrySig)
	if err != nil || entry == nil || entry.Meta == nil {
		e.log.Warn().Str("signature", entrySig).Msg("entry leg unavailable, closing without pnl")
		return nil
	}
	exit, err := rpc.GetTransaction(ctx, exitSig)
	if err != nil || exit == nil || exit.Meta == nil {
		e.log.Warn().Str("signature", exitSig).Msg("exit leg unavailable, closing without pnl")
		return nil
	}

	netLamports := entry.Meta.LamportDelta(0) + exit.Meta.LamportDelta(0)
	pnl := float64(netLamports) / 1e9 * e.cfg.SolPriceUSD
	return &pnl
}

// appendOutcome feeds the closed trade into the analytics store the breaker
// reads. A close without PnL is not appended; a fabricated zero would break
// the loss-streak computation.
func (e *Executor) appendOutcome(ctx context.Context, t *domain.Trade) {
	if e.outcomes == nil || t.RealizedPnLUSD == nil {
		return
	}
	err := e.outcomes.Append(ctx, &domain.TradeOutcome{
		TradeUUID: t.TradeUUID,
		Token:     t.Token,
		Strategy:  t.Strategy,
		PnLUSD:    *t.RealizedPnLUSD,
		ClosedAt:  e.now().UnixMilli(),
	})
	if err != nil {
		e.log.Error().Err(err).Str("trade_uuid", t.TradeUUID).Msg("failed to append trade outcome")
	}
}

// maybeProbePrimary health-checks the primary path when the probe is due.
// Both the fallback entry and the previous probe must be older than the
// probe interval. A timed-out probe is unhealthy, never defaulted healthy.
func (e *Executor) maybeProbePrimary(ctx context.Context) {
	nowMs := e.now().UnixMilli()

	e.mu.RLock()
	due := e.mode == domain.RpcModeFallback &&
		nowMs-e.fallbackSince >= e.cfg.ProbeInterval.Milliseconds() &&
		(e.lastProbe.CheckedAt == 0 || nowMs-e.lastProbe.CheckedAt >= e.cfg.ProbeInterval.Milliseconds())
	e.mu.RUnlock()
	if !due {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	start := e.now()
	err := e.rpc.GetHealth(probeCtx)
	cancel()

	health := domain.RpcHealth{
		Healthy:   err == nil,
		LatencyMs: e.now().Sub(start).Milliseconds(),
		CheckedAt: e.now().UnixMilli(),
	}

	e.mu.Lock()
	e.lastProbe = health
	if err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Msg("primary probe failed, staying in fallback")
		return
	}
	e.mode = domain.RpcModePrimary
	e.failures = 0
	e.fallbackSince = 0
	e.mu.Unlock()

	observability.UpdateRPCMode(false)
	observability.UpdateConsecutiveFailures(0)
	e.recordModeChange(ctx, domain.RpcModeFallback, domain.RpcModePrimary, "primary health probe succeeded")
}

// recordSuccess clears the failure streak. It never restores primary mode;
// recovery is probe-driven only.
func (e *Executor) recordSuccess() {
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
	observability.UpdateConsecutiveFailures(0)
	observability.RecordSuccessfulExecution(e.now().Unix())
}

// recordFailure advances the failure streak and switches to fallback when
// the streak reaches the limit in primary mode.
func (e *Executor) recordFailure(ctx context.Context) {
	e.mu.Lock()
	e.failures++
	n := e.failures
	switched := e.mode == domain.RpcModePrimary && n >= e.cfg.MaxConsecutiveFailures
	if switched {
		e.mode = domain.RpcModeFallback
		e.fallbackSince = e.now().UnixMilli()
		e.lastProbe = domain.RpcHealth{}
	}
	e.mu.Unlock()

	observability.UpdateConsecutiveFailures(n)
	if switched {
		observability.UpdateRPCMode(true)
		e.recordModeChange(ctx, domain.RpcModePrimary, domain.RpcModeFallback,
			fmt.Sprintf("%d consecutive execution failures", n))
	}
}

// recordModeChange audits and broadcasts an RPC mode switch. Audit or bus
// failure is logged and never affects trading control flow.
func (e *Executor) recordModeChange(ctx context.Context, from, to domain.RpcMode, reason string) {
	e.log.Warn().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("rpc mode changed")

	if e.audit != nil {
		err := e.audit.Append(ctx, &domain.AuditEntry{
			ID:        uuid.NewString(),
			Key:       domain.AuditKeyRpcMode,
			OldValue:  string(from),
			NewValue:  string(to),
			Actor:     domain.ActorSystem,
			Reason:    reason,
			CreatedAt: e.now().UnixMilli(),
		})
		if err != nil {
			e.log.Error().Err(err).Msg("failed to append rpc mode audit entry")
		}
	}
	e.publish(events.TypeRpcModeChanged, map[string]interface{}{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
}

func (e *Executor) publish(t events.Type, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: t, Timestamp: e.now(), Data: data})
}

// activeRPC returns the node matching the current mode.
func (e *Executor) activeRPC() solana.RPCClient {
	if e.Mode() == domain.RpcModeFallback {
		return e.fallbackRPC
	}
	return e.rpc
}

func lamportsFromSol(amount decimal.Decimal) uint64 {
	return uint64(amount.Mul(lamportsPerSol).IntPart())
}
