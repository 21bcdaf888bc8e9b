package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache for
// the hot reads: active signals and wallets. Reads check Redis first and
// fall back to the primary; only WRITES populate the cache. A read that
// misses must not re-populate: a fallback read racing a commit could
// otherwise write the pre-commit state into the cache after the commit's
// refresh, and the next ledger entry would be computed from a stale
// balance.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Signals (cached per instrument) ---

func (s *CachedStore) ActivateSignal(ctx context.Context, sig *model.Signal) error {
	if err := s.primary.ActivateSignal(ctx, sig); err != nil {
		return err
	}
	s.cacheSignal(ctx, sig)
	return nil
}

func (s *CachedStore) GetActiveSignal(ctx context.Context, symbol string) (*model.Signal, error) {
	data, err := s.rdb.Get(ctx, signalKey(symbol)).Bytes()
	if err == nil {
		var sig model.Signal
		if json.Unmarshal(data, &sig) == nil && sig.Active {
			return &sig, nil
		}
	}

	// Cache miss: read the primary without re-populating. ActivateSignal
	// refreshes the cache on the next swap; a reader caching here could
	// overtake a concurrent swap and pin the replaced signal.
	return s.primary.GetActiveSignal(ctx, symbol)
}

func (s *CachedStore) DeactivateExpiredSignals(ctx context.Context, now time.Time) (int, error) {
	n, err := s.primary.DeactivateExpiredSignals(ctx, now)
	if err != nil {
		return 0, err
	}
	// Cheapest correct invalidation: cached signals carry their expiry,
	// and GetActive callers treat expiry as authoritative, so stale
	// cached copies are harmless until their TTL lapses.
	return n, nil
}

func (s *CachedStore) ListSignalsBySymbol(ctx context.Context, symbol string, limit int) ([]model.Signal, error) {
	return s.primary.ListSignalsBySymbol(ctx, symbol, limit)
}

// --- Wallets (cached by ID, with user/currency → ID mapping) ---

func (s *CachedStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if err := s.primary.CreateWallet(ctx, w); err != nil {
		return err
	}
	s.cacheWallet(ctx, w)
	return nil
}

func (s *CachedStore) GetWalletByID(ctx context.Context, id string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(id)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	// Cache miss: read the primary without re-populating. Wallet cache
	// entries are written only after a committed mutation, so a fallback
	// read delivered around a commit cannot resurrect the pre-commit
	// balance and corrupt the next entry's balance_before.
	return s.primary.GetWalletByID(ctx, id)
}

func (s *CachedStore) GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	id, err := s.rdb.Get(ctx, walletOwnerKey(userID, currency)).Result()
	if err == nil {
		return s.GetWalletByID(ctx, id)
	}
	return s.primary.GetWallet(ctx, userID, currency)
}

func (s *CachedStore) ApplyLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.ApplyLedgerEntry(ctx, entry); err != nil {
		return err
	}
	// Refresh the cached wallet from the committed state. Entries for one
	// wallet are serialized by the caller, so this write cannot be
	// overtaken by another writer for the same wallet.
	w, err := s.primary.GetWalletByID(ctx, entry.WalletID)
	if err != nil {
		s.rdb.Del(ctx, walletKey(entry.WalletID))
		return nil
	}
	s.cacheWallet(ctx, w)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SeedInstruments(ctx context.Context, instruments []model.Instrument) error {
	return s.primary.SeedInstruments(ctx, instruments)
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx)
}

func (s *CachedStore) GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error) {
	return s.primary.GetInstrument(ctx, symbol)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, userID, limit)
}

func (s *CachedStore) GetUserStakesSince(ctx context.Context, userID string, since time.Time) (map[string]decimal.Decimal, error) {
	return s.primary.GetUserStakesSince(ctx, userID, since)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, walletID string, limit int) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, walletID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSignal(ctx context.Context, sig *model.Signal) {
	if data, err := json.Marshal(sig); err == nil {
		// TTL capped at the signal's own expiry.
		ttl := s.ttl
		if until := time.Until(sig.ExpiresAt); until > 0 && until < ttl {
			ttl = until
		}
		s.rdb.Set(ctx, signalKey(sig.Symbol), data, ttl)
	}
}

func (s *CachedStore) cacheWallet(ctx context.Context, w *model.Wallet) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, walletKey(w.ID), data, s.ttl)
		s.rdb.Set(ctx, walletOwnerKey(w.UserID, w.Currency), w.ID, s.ttl)
	}
}

func signalKey(symbol string) string { return fmt.Sprintf("signal:%s", symbol) }
func walletKey(id string) string     { return fmt.Sprintf("wallet:%s", id) }
func walletOwnerKey(userID, currency string) string {
	return fmt.Sprintf("wallet_owner:%s:%s", userID, currency)
}
