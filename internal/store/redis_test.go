package store_test

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/store"
	"github.com/optx/venue-engine/internal/wallet"
)

// These tests exercise the cache layer against a real Redis. They are
// skipped unless REDIS_URL is set (e.g. redis://localhost:6379/0).
func newCachedStore(t *testing.T) (*store.CachedStore, *store.MemoryStore, *redis.Client) {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })

	primary := store.NewMemoryStore()
	return store.NewCachedStore(primary, rdb, 30*time.Second), primary, rdb
}

func seedCachedWallet(t *testing.T, cs *store.CachedStore, balance decimal.Decimal) *model.Wallet {
	t.Helper()
	ctx := context.Background()

	w := &model.Wallet{
		ID:        uuid.New().String(),
		UserID:    uuid.New().String(),
		Currency:  "USDT",
		Balance:   decimal.Zero,
		Income:    make(map[string]decimal.Decimal),
		CreatedAt: time.Now().UTC(),
	}
	if err := cs.CreateWallet(ctx, w); err != nil {
		t.Fatal(err)
	}
	if balance.IsPositive() {
		entry := &model.LedgerEntry{
			ID:            uuid.New().String(),
			WalletID:      w.ID,
			Direction:     model.EntryCredit,
			Amount:        balance,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  balance,
			Reason:        model.ReasonOpeningBalance,
			ReferenceID:   w.ID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := cs.ApplyLedgerEntry(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}
	return w
}

// A wallet read that misses the cache must serve from the primary
// without writing the cache: only committed mutations may populate it.
func TestCachedStore_WalletReadMissDoesNotPopulate(t *testing.T) {
	cs, _, rdb := newCachedStore(t)
	ctx := context.Background()

	w := seedCachedWallet(t, cs, decimal.NewFromInt(1000))

	key := "wallet:" + w.ID
	if err := rdb.Del(ctx, key).Err(); err != nil {
		t.Fatal(err)
	}

	got, err := cs.GetWalletByID(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 from primary, got %s", got.Balance)
	}

	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("read miss must not write the wallet cache")
	}
}

// Applying a ledger entry must leave the cache holding the committed
// post-entry balance.
func TestCachedStore_ApplyRefreshesCache(t *testing.T) {
	cs, _, rdb := newCachedStore(t)
	ctx := context.Background()

	w := seedCachedWallet(t, cs, decimal.NewFromInt(1000))

	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		WalletID:      w.ID,
		Direction:     model.EntryDebit,
		Amount:        decimal.NewFromInt(100),
		BalanceBefore: decimal.NewFromInt(1000),
		BalanceAfter:  decimal.NewFromInt(900),
		Reason:        model.ReasonTradeStake,
		ReferenceID:   "t-1",
		CreatedAt:     time.Now().UTC(),
	}
	if err := cs.ApplyLedgerEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	data, err := rdb.Get(ctx, "wallet:"+w.ID).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	var cached model.Wallet
	if err := json.Unmarshal(data, &cached); err != nil {
		t.Fatal(err)
	}
	if !cached.Balance.Equal(decimal.NewFromInt(900)) {
		t.Errorf("cache must hold the committed balance 900, got %s", cached.Balance)
	}
}

// Concurrent wallet readers must never poison the balances that
// subsequent ledger entries are computed from: with debits racing a
// hammering reader, the final balance and the before/after chain must
// both come out exact.
func TestCachedStore_ReadersCannotCorruptLedgerChain(t *testing.T) {
	cs, _, _ := newCachedStore(t)
	ctx := context.Background()

	ledger := wallet.NewLedger(cs)
	w, err := ledger.CreateWallet(ctx, uuid.New().String(), "USDT", decimal.NewFromInt(1000))
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				cs.GetWalletByID(ctx, w.ID)
			}
		}
	}()

	const debits = 20
	var writers sync.WaitGroup
	for i := 0; i < debits; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			if _, err := ledger.ApplyEntry(ctx, w.ID, model.EntryDebit, decimal.NewFromInt(10), model.ReasonTradeStake, "t"); err != nil {
				t.Errorf("debit: %v", err)
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	got, err := cs.GetWalletByID(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("funds duplicated or lost: expected 1000 - 20*10 = 800, got %s", got.Balance)
	}

	entries, err := cs.ListLedgerEntries(ctx, w.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	reconstructed, err := wallet.Reconstruct(entries)
	if err != nil {
		t.Fatalf("ledger chain broken: %v", err)
	}
	if !reconstructed.Equal(got.Balance) {
		t.Errorf("chain reconstructs %s but balance is %s", reconstructed, got.Balance)
	}
}
