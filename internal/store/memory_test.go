package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/store"
)

func TestActivateSignal_SwapsPriorActive(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	first := &model.Signal{
		ID: "sig-1", Symbol: "EUR/USD", Direction: model.DirectionCall,
		Strength: model.StrengthMedium, CreatedAt: now,
		ExpiresAt: now.Add(time.Minute), Active: true,
	}
	second := &model.Signal{
		ID: "sig-2", Symbol: "EUR/USD", Direction: model.DirectionPut,
		Strength: model.StrengthStrong, CreatedAt: now.Add(time.Second),
		ExpiresAt: now.Add(2 * time.Minute), Active: true,
	}

	if err := ms.ActivateSignal(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := ms.ActivateSignal(ctx, second); err != nil {
		t.Fatal(err)
	}

	active, err := ms.GetActiveSignal(ctx, "EUR/USD")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != "sig-2" {
		t.Errorf("expected sig-2 active, got %s", active.ID)
	}

	history, _ := ms.ListSignalsBySymbol(ctx, "EUR/USD", 0)
	if len(history) != 2 {
		t.Fatalf("signals are append-only, expected 2, got %d", len(history))
	}
	activeCount := 0
	for _, sig := range history {
		if sig.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("expected exactly 1 active signal, got %d", activeCount)
	}
}

func TestCreateWallet_Duplicate(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	w := &model.Wallet{ID: "w-1", UserID: "u1", Currency: "USDT", Balance: decimal.NewFromInt(100)}
	if err := ms.CreateWallet(ctx, w); err != nil {
		t.Fatal(err)
	}

	dup := &model.Wallet{ID: "w-2", UserID: "u1", Currency: "USDT", Balance: decimal.Zero}
	if err := ms.CreateWallet(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	other := &model.Wallet{ID: "w-3", UserID: "u1", Currency: "EUR", Balance: decimal.Zero}
	if err := ms.CreateWallet(ctx, other); err != nil {
		t.Errorf("different currency should be allowed: %v", err)
	}
}

func TestApplyLedgerEntry_MovesBalanceAndBucketsIncome(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	w := &model.Wallet{ID: "w-1", UserID: "u1", Currency: "USDT", Balance: decimal.NewFromInt(100)}
	if err := ms.CreateWallet(ctx, w); err != nil {
		t.Fatal(err)
	}

	entry := &model.LedgerEntry{
		ID: "e-1", WalletID: "w-1", Direction: model.EntryCredit,
		Amount:        decimal.NewFromInt(200),
		BalanceBefore: decimal.NewFromInt(100),
		BalanceAfter:  decimal.NewFromInt(300),
		Reason:        model.ReasonTradePayout,
		CreatedAt:     time.Now().UTC(),
	}
	if err := ms.ApplyLedgerEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, _ := ms.GetWalletByID(ctx, "w-1")
	if !got.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected balance 300, got %s", got.Balance)
	}
	if !got.Income[model.ReasonTradePayout].Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected income bucket 200, got %s", got.Income[model.ReasonTradePayout])
	}

	entries, _ := ms.ListLedgerEntries(ctx, "w-1", 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}
