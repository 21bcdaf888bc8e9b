// Package settle resolves placed trades against the active signal and
// atomically moves funds through the wallet ledger.
//
// The settlement contract: once the stake is debited, the operation runs
// to completion — either the trade reaches a terminal state or every
// applied ledger entry is compensated, so the user is never charged for
// an unsettled trade.
package settle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/errs"
	"github.com/optx/venue-engine/internal/metrics"
	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/pricing"
	"github.com/optx/venue-engine/internal/risk"
	"github.com/optx/venue-engine/internal/signal"
	"github.com/optx/venue-engine/internal/store"
	"github.com/optx/venue-engine/internal/wallet"
)

// Result is the outcome of a settled trade.
type Result struct {
	Trade      *model.Trade    `json:"trade"`
	Payout     decimal.Decimal `json:"payout"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Config carries the engine's venue parameters.
type Config struct {
	Currency      string          // wallet currency trades settle in
	PayoutRate    decimal.Decimal // win payout = stake * (1 + rate)
	TradeDuration time.Duration   // recorded trade expiry window
	Enabled       bool
}

// Engine settles trades. It consumes the signal manager and the price
// simulator, and mutates balances only through the wallet ledger.
type Engine struct {
	ledger  *wallet.Ledger
	signals *signal.Manager
	prices  *pricing.Simulator
	store   store.Store
	limiter *risk.StakeLimiter

	currency      string
	tradeDuration time.Duration

	mu         sync.RWMutex
	payoutRate decimal.Decimal
	enabled    bool
}

// NewEngine creates a settlement engine.
func NewEngine(ledger *wallet.Ledger, signals *signal.Manager, prices *pricing.Simulator,
	st store.Store, limiter *risk.StakeLimiter, cfg Config) *Engine {
	return &Engine{
		ledger:        ledger,
		signals:       signals,
		prices:        prices,
		store:         st,
		limiter:       limiter,
		currency:      cfg.Currency,
		tradeDuration: cfg.TradeDuration,
		payoutRate:    cfg.PayoutRate,
		enabled:       cfg.Enabled,
	}
}

// PlaceTrade validates the stake, debits the wallet, settles against the
// active signal, and records the trade. When no signal is live the trade
// is rejected with NoActiveSignal before any funds move — the venue never
// substitutes a random outcome.
func (e *Engine) PlaceTrade(ctx context.Context, userID, symbol string, direction model.Direction, stake decimal.Decimal) (*Result, error) {
	start := time.Now()

	// Cancellation is honored only up to the debit; after that the
	// operation runs to completion.
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "request cancelled")
	}

	if !e.TradingEnabled() {
		return nil, errs.New(errs.KindTradingDisabled, "trading is currently disabled")
	}
	if !direction.Valid() {
		return nil, errs.New(errs.KindValidation, "direction must be CALL or PUT, got %q", direction)
	}
	if !stake.IsPositive() {
		return nil, errs.New(errs.KindValidation, "stake must be > 0, got %s", stake)
	}
	if _, err := e.store.GetInstrument(ctx, symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.New(errs.KindValidation, "no such instrument: %s", symbol)
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "loading instrument %s", symbol)
	}

	if err := e.checkStakeLimits(ctx, userID, symbol, stake); err != nil {
		return nil, err
	}

	// One consistent read of the active signal; expiry was authoritative
	// at this instant and the trade settles against exactly this signal.
	sig, err := e.signals.GetActive(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, errs.New(errs.KindNoActiveSignal, "no active signal for %s", symbol)
	}

	w, err := e.ledger.Get(ctx, userID, e.currency)
	if err != nil {
		return nil, err
	}

	entryPoint, err := e.prices.Latest(symbol)
	if err != nil {
		return nil, err
	}

	tradeID := uuid.New().String()

	// Step 2: debit the stake. InsufficientFunds propagates as-is.
	if _, err := e.ledger.ApplyEntry(ctx, w.ID, model.EntryDebit, stake, model.ReasonTradeStake, tradeID); err != nil {
		return nil, err
	}

	// From here on every failure must compensate the debit.
	result, err := e.settleDebited(context.WithoutCancel(ctx), w.ID, tradeID, userID, symbol, direction, stake, sig, entryPoint)
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(result.Trade.Status)).Inc()
	metrics.TradeLatency.Observe(time.Since(start).Seconds())

	slog.Info("trade settled",
		"trade_id", tradeID,
		"user", userID,
		"symbol", symbol,
		"direction", direction,
		"stake", stake.String(),
		"result", result.Trade.Status,
		"profit_loss", result.Trade.ProfitLoss.String(),
		"new_balance", result.NewBalance.String(),
	)
	return result, nil
}

// settleDebited runs the post-debit half of settlement: outcome, payout
// credit, and the trade record. Any failure rolls the funds back.
func (e *Engine) settleDebited(ctx context.Context, walletID, tradeID, userID, symbol string,
	direction model.Direction, stake decimal.Decimal, sig *model.Signal, entryPoint model.PricePoint) (*Result, error) {

	won := direction == sig.Direction

	payout := decimal.Zero
	if won {
		one := decimal.NewFromInt(1)
		payout = stake.Mul(one.Add(e.PayoutRate())).Round(8)
		if _, err := e.ledger.ApplyEntry(ctx, walletID, model.EntryCredit, payout, model.ReasonTradePayout, tradeID); err != nil {
			e.rollback(ctx, walletID, tradeID, stake, decimal.Zero)
			return nil, errs.Wrap(err, errs.KindSettlement, "trade could not be completed, funds returned")
		}
	}

	status := model.TradeLost
	if won {
		status = model.TradeWon
	}

	now := time.Now().UTC()
	trade := &model.Trade{
		ID:         tradeID,
		UserID:     userID,
		Symbol:     symbol,
		Direction:  direction,
		Stake:      stake,
		EntryPrice: entryPoint.Price,
		// Settlement is immediate in this simulation; the exit price is
		// the entry tick. The outcome is decided by the signal, prices
		// are recorded for charts and audit.
		ExitPrice:  entryPoint.Price,
		OpenedAt:   now,
		ExpiresAt:  now.Add(e.tradeDuration),
		Status:     status,
		ProfitLoss: payout.Sub(stake),
		SignalID:   sig.ID,
	}

	if err := e.store.InsertTrade(ctx, trade); err != nil {
		e.rollback(ctx, walletID, tradeID, stake, payout)
		return nil, errs.Wrap(err, errs.KindSettlement, "trade could not be completed, funds returned")
	}

	balance, err := e.ledger.GetBalance(ctx, userID, e.currency)
	if err != nil {
		// The trade is committed; a failed read-back does not unwind it.
		slog.Error("balance read-back failed after settlement", "trade_id", tradeID, "err", err)
		balance = decimal.Zero
	}

	return &Result{Trade: trade, Payout: payout, NewBalance: balance}, nil
}

// rollback compensates everything applied for tradeID: first reverses a
// credited payout, then refunds the stake. A rollback failure is loud —
// it is the one path that needs operator attention.
func (e *Engine) rollback(ctx context.Context, walletID, tradeID string, stake, payout decimal.Decimal) {
	metrics.SettlementRollbacks.Inc()

	if payout.IsPositive() {
		if _, err := e.ledger.ApplyEntry(ctx, walletID, model.EntryDebit, payout, model.ReasonSettlementRefund, tradeID); err != nil {
			slog.Error("settlement rollback: payout reversal failed",
				"trade_id", tradeID, "wallet_id", walletID, "payout", payout.String(), "err", err)
			return
		}
	}
	if _, err := e.ledger.ApplyEntry(ctx, walletID, model.EntryCredit, stake, model.ReasonSettlementRefund, tradeID); err != nil {
		slog.Error("settlement rollback: stake refund failed",
			"trade_id", tradeID, "wallet_id", walletID, "stake", stake.String(), "err", err)
		return
	}

	slog.Warn("settlement rolled back, funds returned", "trade_id", tradeID, "wallet_id", walletID)
}

// checkStakeLimits rejects stakes that would breach the user's limits.
func (e *Engine) checkStakeLimits(ctx context.Context, userID, symbol string, stake decimal.Decimal) error {
	if e.limiter == nil {
		return nil
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	todayStakes, err := e.store.GetUserStakesSince(ctx, userID, midnight)
	if err != nil {
		return errs.Wrap(err, errs.KindUnavailable, "checking stake limits")
	}

	if err := e.limiter.Check(symbol, stake, todayStakes); err != nil {
		metrics.StakeRejections.Inc()
		return errs.Wrap(err, errs.KindValidation, "stake limit")
	}
	return nil
}

// PayoutRate returns the current payout rate.
func (e *Engine) PayoutRate() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.payoutRate
}

// SetPayoutRate updates the payout rate for subsequent trades.
func (e *Engine) SetPayoutRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return errs.New(errs.KindValidation, "payout rate must be >= 0, got %s", rate)
	}
	e.mu.Lock()
	e.payoutRate = rate
	e.mu.Unlock()

	slog.Info("payout rate updated", "rate", rate.String())
	return nil
}

// TradingEnabled reports whether the venue accepts trades.
func (e *Engine) TradingEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetTradingEnabled flips the venue-wide trading switch.
func (e *Engine) SetTradingEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()

	slog.Info("trading switch updated", "enabled", enabled)
}

// Trades returns the user's trade history, newest first.
func (e *Engine) Trades(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	return e.store.ListTradesByUser(ctx, userID, limit)
}
