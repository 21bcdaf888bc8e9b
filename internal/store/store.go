// Package store defines the persistence interface for the venue engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Instrument catalog ---

	// SeedInstruments inserts the instrument catalog. Existing symbols
	// are left untouched (instruments are immutable after seeding).
	SeedInstruments(ctx context.Context, instruments []model.Instrument) error

	// ListInstruments returns the full catalog.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// GetInstrument retrieves one instrument by symbol.
	GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error)

	// --- Signals (append-only, deactivated not deleted) ---

	// ActivateSignal deactivates any currently active signal for the
	// instrument and inserts sig as the new active one, as one unit.
	ActivateSignal(ctx context.Context, sig *model.Signal) error

	// GetActiveSignal returns the signal with active=true for the symbol.
	// Callers must still check expiry; the flag may trail it.
	GetActiveSignal(ctx context.Context, symbol string) (*model.Signal, error)

	// DeactivateExpiredSignals flips active=false for every signal whose
	// expiry has passed as of now. Returns the number flipped.
	DeactivateExpiredSignals(ctx context.Context, now time.Time) (int, error)

	// ListSignalsBySymbol returns signal history, newest first.
	ListSignalsBySymbol(ctx context.Context, symbol string, limit int) ([]model.Signal, error)

	// --- Trades ---

	// InsertTrade appends a settled trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTradesByUser returns a user's trades, newest first.
	ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error)

	// GetUserStakesSince sums stakes per symbol for trades the user
	// opened at or after since. Used by the stake limiter.
	GetUserStakesSince(ctx context.Context, userID string, since time.Time) (map[string]decimal.Decimal, error)

	// --- Wallets + immutable ledger ---

	// CreateWallet persists a new wallet. ErrDuplicate if one already
	// exists for the (user, currency) pair.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// GetWallet retrieves a wallet by (user, currency).
	GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error)

	// GetWalletByID retrieves a wallet by its ID.
	GetWalletByID(ctx context.Context, id string) (*model.Wallet, error)

	// ApplyLedgerEntry appends the entry and moves the wallet balance to
	// entry.BalanceAfter as one atomic unit. Credits also accumulate
	// into the wallet's income bucket for entry.Reason.
	ApplyLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// ListLedgerEntries returns a wallet's entries, newest first.
	// limit <= 0 means no limit.
	ListLedgerEntries(ctx context.Context, walletID string, limit int) ([]model.LedgerEntry, error)
}
