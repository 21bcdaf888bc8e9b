package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/errs"
	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/pricing"
)

func testCatalog() []model.Instrument {
	return []model.Instrument{
		{Symbol: "EUR/USD", BasePrice: decimal.NewFromFloat(1.0850), Volatility: decimal.NewFromFloat(0.01)},
		{Symbol: "BTC/USDT", BasePrice: decimal.NewFromFloat(64250), Volatility: decimal.NewFromFloat(0.01)},
	}
}

func TestTick_PriceWithinBand(t *testing.T) {
	sim := pricing.New(testCatalog(), 1000, time.Second)

	base := decimal.NewFromFloat(1.0850)
	lo := base.Mul(decimal.NewFromFloat(0.99))
	hi := base.Mul(decimal.NewFromFloat(1.01))

	for i := 0; i < 500; i++ {
		point, err := sim.Tick("EUR/USD")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if point.Price.LessThan(lo) || point.Price.GreaterThan(hi) {
			t.Fatalf("tick %d: price %s outside ±1%% band [%s, %s]", i, point.Price, lo, hi)
		}
		if point.Volume.IsNegative() {
			t.Fatalf("tick %d: negative volume %s", i, point.Volume)
		}
	}
}

func TestTick_UnknownInstrument(t *testing.T) {
	sim := pricing.New(testCatalog(), 1000, time.Second)

	_, err := sim.Tick("XXX/YYY")
	if !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestTick_TimestampsStrictlyIncreasing(t *testing.T) {
	sim := pricing.New(testCatalog(), 1000, time.Second)

	var prev time.Time
	for i := 0; i < 100; i++ {
		point, err := sim.Tick("EUR/USD")
		if err != nil {
			t.Fatal(err)
		}
		if !point.Timestamp.After(prev) {
			t.Fatalf("tick %d: timestamp %v not after %v", i, point.Timestamp, prev)
		}
		prev = point.Timestamp
	}
}

func TestHistory_RingBounded(t *testing.T) {
	sim := pricing.New(testCatalog(), 10, time.Second)

	for i := 0; i < 25; i++ {
		if _, err := sim.Tick("EUR/USD"); err != nil {
			t.Fatal(err)
		}
	}

	hist := sim.History("EUR/USD", 0)
	if len(hist) != 10 {
		t.Fatalf("expected ring capped at 10, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if !hist[i].Timestamp.After(hist[i-1].Timestamp) {
			t.Errorf("history out of chronological order at %d", i)
		}
	}
}

func TestTickAll_PublishesToSubscribers(t *testing.T) {
	sim := pricing.New(testCatalog(), 1000, time.Second)

	ch, unsub := sim.Subscribe(16)
	defer unsub()

	updates := sim.TickAll()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}

	received := 0
	for received < 2 {
		select {
		case u := <-ch:
			if u.Price.LessThanOrEqual(decimal.Zero) {
				t.Errorf("update price must be positive, got %s", u.Price)
			}
			received++
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d updates", received)
		}
	}
}

func TestTickAll_ChangeComputedFromPriorTick(t *testing.T) {
	sim := pricing.New(testCatalog(), 1000, time.Second)

	first := sim.TickAll()
	for _, u := range first {
		if !u.Change.IsZero() {
			t.Errorf("first tick should have zero change, got %s", u.Change)
		}
	}

	prior := make(map[string]decimal.Decimal)
	for _, u := range first {
		prior[u.Symbol] = u.Price
	}

	second := sim.TickAll()
	for _, u := range second {
		want := u.Price.Sub(prior[u.Symbol])
		if !u.Change.Equal(want) {
			t.Errorf("%s: change %s, want %s", u.Symbol, u.Change, want)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	sim := pricing.New(testCatalog(), 1000, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if len(sim.History("EUR/USD", 0)) == 0 {
		t.Error("expected ticks to have been generated while running")
	}
}
