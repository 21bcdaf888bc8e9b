package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	instruments map[string]*model.Instrument
	signals     []*model.Signal
	trades      []model.Trade
	wallets     map[string]*model.Wallet // keyed by wallet ID
	ledger      []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]*model.Instrument),
		wallets:     make(map[string]*model.Wallet),
	}
}

// --- Instruments ---

func (s *MemoryStore) SeedInstruments(_ context.Context, instruments []model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range instruments {
		if _, ok := s.instruments[inst.Symbol]; ok {
			continue // immutable after seeding
		}
		cp := inst
		s.instruments[inst.Symbol] = &cp
	}
	return nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, symbol string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", symbol, ErrNotFound)
	}
	cp := *inst
	return &cp, nil
}

// --- Signals ---

func (s *MemoryStore) ActivateSignal(_ context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Deactivate the prior active signal for this instrument in the same
	// critical section as the insert: never two active at once.
	for _, existing := range s.signals {
		if existing.Symbol == sig.Symbol && existing.Active {
			existing.Active = false
		}
	}
	cp := *sig
	s.signals = append(s.signals, &cp)
	return nil
}

func (s *MemoryStore) GetActiveSignal(_ context.Context, symbol string) (*model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.signals) - 1; i >= 0; i-- {
		if s.signals[i].Symbol == symbol && s.signals[i].Active {
			cp := *s.signals[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active signal for %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) DeactivateExpiredSignals(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sig := range s.signals {
		if sig.Active && !sig.ExpiresAt.After(now) {
			sig.Active = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListSignalsBySymbol(_ context.Context, symbol string, limit int) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Signal
	for i := len(s.signals) - 1; i >= 0; i-- {
		if s.signals[i].Symbol != symbol {
			continue
		}
		out = append(out, *s.signals[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].UserID != userID {
			continue
		}
		out = append(out, s.trades[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUserStakesSince(_ context.Context, userID string, since time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stakes := make(map[string]decimal.Decimal)
	for _, t := range s.trades {
		if t.UserID != userID || t.OpenedAt.Before(since) {
			continue
		}
		stakes[t.Symbol] = stakes[t.Symbol].Add(t.Stake)
	}
	return stakes, nil
}

// --- Wallets + ledger ---

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.wallets {
		if existing.UserID == w.UserID && existing.Currency == w.Currency {
			return fmt.Errorf("wallet %s/%s: %w", w.UserID, w.Currency, ErrDuplicate)
		}
	}
	s.wallets[w.ID] = copyWallet(w)
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID, currency string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.wallets {
		if w.UserID == userID && w.Currency == currency {
			return copyWallet(w), nil
		}
	}
	return nil, fmt.Errorf("wallet %s/%s: %w", userID, currency, ErrNotFound)
}

func (s *MemoryStore) GetWalletByID(_ context.Context, id string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	return copyWallet(w), nil
}

func (s *MemoryStore) ApplyLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[entry.WalletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", entry.WalletID, ErrNotFound)
	}

	// Balance move and ledger append are one unit under the store lock.
	w.Balance = entry.BalanceAfter
	if entry.Direction == model.EntryCredit {
		if w.Income == nil {
			w.Income = make(map[string]decimal.Decimal)
		}
		w.Income[entry.Reason] = w.Income[entry.Reason].Add(entry.Amount)
	}
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, walletID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].WalletID != walletID {
			continue
		}
		out = append(out, s.ledger[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// copyWallet deep-copies a wallet so callers cannot mutate store state.
func copyWallet(w *model.Wallet) *model.Wallet {
	cp := *w
	cp.Income = make(map[string]decimal.Decimal, len(w.Income))
	for k, v := range w.Income {
		cp.Income[k] = v
	}
	return &cp
}
