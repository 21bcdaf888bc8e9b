// Package wallet owns per-user, per-currency balances and the append-only
// transaction log. Balances are mutated only through ApplyEntry; every
// mutation leaves one immutable ledger entry whose before/after chain is
// the audit trail.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/errs"
	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/store"
)

// Ledger serializes balance mutations per wallet. Calls against different
// wallets proceed independently; calls against the same wallet are
// totally ordered, so no two entries ever share a stale balance_before.
type Ledger struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a wallet ledger over the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// CreateWallet opens a wallet for (user, currency). A non-zero opening
// balance is recorded as the wallet's first ledger entry so the chain
// reconstructs the balance from entries alone.
func (l *Ledger) CreateWallet(ctx context.Context, userID, currency string, opening decimal.Decimal) (*model.Wallet, error) {
	if userID == "" || currency == "" {
		return nil, errs.New(errs.KindValidation, "user id and currency are required")
	}
	if opening.IsNegative() {
		return nil, errs.New(errs.KindValidation, "opening balance must be >= 0, got %s", opening)
	}

	w := &model.Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Income:    make(map[string]decimal.Decimal),
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errs.New(errs.KindWalletExists, "wallet already exists for %s/%s", userID, currency)
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "creating wallet for %s/%s", userID, currency)
	}

	if opening.IsPositive() {
		if _, err := l.ApplyEntry(ctx, w.ID, model.EntryCredit, opening, model.ReasonOpeningBalance, w.ID); err != nil {
			return nil, err
		}
		w.Balance = opening
		w.Income[model.ReasonOpeningBalance] = opening
	}

	slog.Info("wallet created", "wallet_id", w.ID, "user", userID, "currency", currency, "opening", opening.String())
	return w, nil
}

// GetBalance returns the current balance for (user, currency).
func (l *Ledger) GetBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	w, err := l.Get(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Get returns the wallet for (user, currency).
func (l *Ledger) Get(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	w, err := l.store.GetWallet(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.New(errs.KindNotFound, "no %s wallet for user %s", currency, userID)
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "loading wallet for %s/%s", userID, currency)
	}
	return w, nil
}

// ApplyEntry applies one balance mutation. A DEBIT exceeding the current
// balance fails with InsufficientFunds and applies nothing. The balance
// move and the ledger append are one atomic unit.
func (l *Ledger) ApplyEntry(ctx context.Context, walletID string, direction model.EntryDirection, amount decimal.Decimal, reason, referenceID string) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, errs.New(errs.KindValidation, "entry amount must be > 0, got %s", amount)
	}
	if direction != model.EntryDebit && direction != model.EntryCredit {
		return nil, errs.New(errs.KindValidation, "entry direction must be DEBIT or CREDIT, got %q", direction)
	}

	// Per-wallet critical section: the read-compute-write below must not
	// interleave with another entry against the same wallet.
	lock := l.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	w, err := l.store.GetWalletByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.New(errs.KindNotFound, "wallet %s not found", walletID)
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "loading wallet %s", walletID)
	}

	before := w.Balance
	var after decimal.Decimal
	switch direction {
	case model.EntryDebit:
		if amount.GreaterThan(before) {
			return nil, errs.New(errs.KindInsufficientFunds,
				"debit %s exceeds balance %s", amount, before)
		}
		after = before.Sub(amount)
	case model.EntryCredit:
		after = before.Add(amount)
	}

	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		WalletID:      walletID,
		Direction:     direction,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        reason,
		ReferenceID:   referenceID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := l.store.ApplyLedgerEntry(ctx, entry); err != nil {
		return nil, errs.Wrap(err, errs.KindUnavailable, "applying %s of %s to wallet %s", direction, amount, walletID)
	}

	slog.Debug("ledger entry applied",
		"wallet_id", walletID,
		"direction", direction,
		"amount", amount.String(),
		"balance_after", after.String(),
		"reason", reason,
	)
	return entry, nil
}

// Statement returns the wallet with its most recent entries, newest first.
func (l *Ledger) Statement(ctx context.Context, userID, currency string, limit int) (*model.Wallet, []model.LedgerEntry, error) {
	w, err := l.Get(ctx, userID, currency)
	if err != nil {
		return nil, nil, err
	}
	entries, err := l.store.ListLedgerEntries(ctx, w.ID, limit)
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.KindUnavailable, "loading ledger for wallet %s", w.ID)
	}
	return w, entries, nil
}

// Reconstruct replays a wallet's full entry chain (oldest first) and
// returns the resulting balance. It fails on any break in the chain:
// an entry whose arithmetic is wrong, or whose balance_before does not
// match the prior entry's balance_after. Verification needs no live
// wallet state.
func Reconstruct(entries []model.LedgerEntry) (decimal.Decimal, error) {
	balance := decimal.Zero
	for i, e := range entries {
		if !e.BalanceBefore.Equal(balance) {
			return decimal.Zero, fmt.Errorf("entry %d (%s): balance_before %s, chain says %s",
				i, e.ID, e.BalanceBefore, balance)
		}
		switch e.Direction {
		case model.EntryDebit:
			balance = balance.Sub(e.Amount)
		case model.EntryCredit:
			balance = balance.Add(e.Amount)
		default:
			return decimal.Zero, fmt.Errorf("entry %d (%s): unknown direction %q", i, e.ID, e.Direction)
		}
		if !e.BalanceAfter.Equal(balance) {
			return decimal.Zero, fmt.Errorf("entry %d (%s): balance_after %s, chain says %s",
				i, e.ID, e.BalanceAfter, balance)
		}
	}
	return balance, nil
}

// walletLock returns the serialization lock for one wallet.
func (l *Ledger) walletLock(walletID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[walletID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[walletID] = lock
	}
	return lock
}
