package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/gateway"
	"github.com/optx/venue-engine/internal/instrument"
	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/pricing"
	"github.com/optx/venue-engine/internal/settle"
	"github.com/optx/venue-engine/internal/signal"
	"github.com/optx/venue-engine/internal/store"
	"github.com/optx/venue-engine/internal/wallet"
)

const testSecret = "test-secret"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type env struct {
	router  chi.Router
	ledger  *wallet.Ledger
	signals *signal.Manager
	store   *store.MemoryStore
}

// newTestEnv builds the full gateway over an in-memory store.
func newTestEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	ms := store.NewMemoryStore()
	catalog := instrument.DefaultCatalog()
	if err := ms.SeedInstruments(ctx, catalog); err != nil {
		t.Fatal(err)
	}

	ledger := wallet.NewLedger(ms)
	signals := signal.NewManager(ms, 15*time.Second, 60*time.Second, time.Second)
	sim := pricing.New(catalog, 100, time.Second)
	engine := settle.NewEngine(ledger, signals, sim, ms, nil, settle.Config{
		Currency:      "USDT",
		PayoutRate:    d(1),
		TradeDuration: time.Minute,
		Enabled:       true,
	})

	svc := gateway.NewService(engine, ledger, signals, sim, ms, nil, testSecret, "USDT")

	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())

	return &env{router: r, ledger: ledger, signals: signals, store: ms}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := gateway.GenerateToken(userID, role, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// do issues a request; a non-empty token goes in the Authorization header.
func (e *env) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) fund(t *testing.T, userID string, amount decimal.Decimal) {
	t.Helper()
	if _, err := e.ledger.CreateWallet(context.Background(), userID, "USDT", amount); err != nil {
		t.Fatal(err)
	}
}

func (e *env) force(t *testing.T, symbol string, direction model.Direction) *model.Signal {
	t.Helper()
	sig, err := e.signals.ForceGenerate(context.Background(), symbol, direction)
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

// --- Auth ---

func TestAuth_MissingToken(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/trades", "", gateway.TradeRequest{Symbol: "EUR/USD"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuth_BadToken(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/wallet", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuth_AdminRequired(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "PUT", "/api/v1/admin/trading-enabled", token(t, "u1", ""), map[string]bool{"enabled": false})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("non-admin must get 401, got %d", w.Code)
	}

	w = e.do(t, "PUT", "/api/v1/admin/trading-enabled", token(t, "ops", gateway.RoleAdmin), map[string]bool{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("admin expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Trades ---

func TestPlaceTrade_OK(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, "u1", d(1000))
	e.force(t, "EUR/USD", model.DirectionCall)

	w := e.do(t, "POST", "/api/v1/trades", token(t, "u1", ""), gateway.TradeRequest{
		Symbol:    "EUR/USD",
		Direction: model.DirectionCall,
		Stake:     d(100),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var res settle.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Trade.Status != model.TradeWon {
		t.Errorf("expected WON, got %s", res.Trade.Status)
	}
	if !res.NewBalance.Equal(d(1100)) {
		t.Errorf("expected balance 1100, got %s", res.NewBalance)
	}
}

func TestPlaceTrade_ErrorStatuses(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, "u1", d(100))
	bearer := token(t, "u1", "")

	cases := []struct {
		name string
		req  gateway.TradeRequest
		prep func()
		want int
	}{
		{
			name: "no active signal",
			req:  gateway.TradeRequest{Symbol: "EUR/USD", Direction: model.DirectionCall, Stake: d(50)},
			want: http.StatusConflict,
		},
		{
			name: "zero stake",
			req:  gateway.TradeRequest{Symbol: "EUR/USD", Direction: model.DirectionCall},
			prep: func() { e.force(t, "EUR/USD", model.DirectionCall) },
			want: http.StatusBadRequest,
		},
		{
			name: "insufficient funds",
			req:  gateway.TradeRequest{Symbol: "EUR/USD", Direction: model.DirectionCall, Stake: d(500)},
			want: http.StatusPaymentRequired,
		},
		{
			name: "unknown instrument",
			req:  gateway.TradeRequest{Symbol: "FOO/BAR", Direction: model.DirectionCall, Stake: d(50)},
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prep != nil {
				tc.prep()
			}
			w := e.do(t, "POST", "/api/v1/trades", bearer, tc.req)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestPlaceTrade_TradingDisabled(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, "u1", d(1000))
	e.force(t, "EUR/USD", model.DirectionCall)

	w := e.do(t, "PUT", "/api/v1/admin/trading-enabled", token(t, "ops", gateway.RoleAdmin), map[string]bool{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatal(w.Body.String())
	}

	w = e.do(t, "POST", "/api/v1/trades", token(t, "u1", ""), gateway.TradeRequest{
		Symbol: "EUR/USD", Direction: model.DirectionCall, Stake: d(100),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while disabled, got %d", w.Code)
	}
}

func TestListTrades(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, "u1", d(1000))
	e.force(t, "EUR/USD", model.DirectionPut)
	bearer := token(t, "u1", "")

	e.do(t, "POST", "/api/v1/trades", bearer, gateway.TradeRequest{
		Symbol: "EUR/USD", Direction: model.DirectionCall, Stake: d(100),
	})

	w := e.do(t, "GET", "/api/v1/trades", bearer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 || trades[0].Status != model.TradeLost {
		t.Errorf("unexpected trade list: %+v", trades)
	}
}

// --- Wallets ---

func TestCreateAndGetWallet(t *testing.T) {
	e := newTestEnv(t)
	bearer := token(t, "u1", "")

	w := e.do(t, "POST", "/api/v1/wallets", bearer, gateway.CreateWalletRequest{OpeningBalance: d(500)})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Duplicate currency conflicts.
	w = e.do(t, "POST", "/api/v1/wallets", bearer, gateway.CreateWalletRequest{OpeningBalance: d(1)})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate wallet expected 409, got %d", w.Code)
	}

	w = e.do(t, "GET", "/api/v1/wallet", bearer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp gateway.WalletResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Wallet.Balance.Equal(d(500)) {
		t.Errorf("expected balance 500, got %s", resp.Wallet.Balance)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Reason != model.ReasonOpeningBalance {
		t.Errorf("statement must show the opening entry, got %+v", resp.Entries)
	}
}

func TestGetWallet_NotFound(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/wallet", token(t, "ghost", ""), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// --- Market data ---

func TestListInstruments(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/instruments", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var instruments []model.Instrument
	json.Unmarshal(w.Body.Bytes(), &instruments)
	if len(instruments) == 0 {
		t.Error("expected the seeded catalog")
	}
}

func TestGetPrices(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/prices/EUR/USD?history=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp gateway.PricesResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Latest.Price.IsZero() {
		t.Error("expected a live price")
	}

	w = e.do(t, "GET", "/api/v1/prices/FOO/BAR", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown instrument expected 400, got %d", w.Code)
	}
}

func TestGetActiveSignal(t *testing.T) {
	e := newTestEnv(t)

	// No live signal is a normal feed state: 200 with a null signal.
	w := e.do(t, "GET", "/api/v1/signals/EUR/USD", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with no signal, got %d", w.Code)
	}
	var resp gateway.SignalResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ActiveSignal != nil {
		t.Errorf("expected active_signal null, got %+v", resp.ActiveSignal)
	}

	forced := e.force(t, "EUR/USD", model.DirectionPut)

	w = e.do(t, "GET", "/api/v1/signals/EUR/USD", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp = gateway.SignalResponse{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ActiveSignal == nil {
		t.Fatal("expected a live signal in the envelope")
	}
	if resp.ActiveSignal.ID != forced.ID || resp.ActiveSignal.Direction != model.DirectionPut {
		t.Errorf("unexpected signal: %+v", resp.ActiveSignal)
	}
}

func TestSignalHistory(t *testing.T) {
	e := newTestEnv(t)
	e.force(t, "EUR/USD", model.DirectionCall)
	e.force(t, "EUR/USD", model.DirectionPut)

	w := e.do(t, "GET", "/api/v1/signals/EUR/USD/history", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var signals []model.Signal
	json.Unmarshal(w.Body.Bytes(), &signals)
	if len(signals) != 2 {
		t.Errorf("expected 2 signals in history, got %d", len(signals))
	}
}

// --- Admin ---

func TestForceSignal(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/admin/signals/force", token(t, "ops", gateway.RoleAdmin), gateway.ForceSignalRequest{
		Symbol:    "EUR/USD",
		Direction: model.DirectionCall,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sig model.Signal
	json.Unmarshal(w.Body.Bytes(), &sig)
	if !sig.AdminForced {
		t.Error("forced signal must be marked admin_forced")
	}

	// Instruments outside the catalog cannot be forced.
	w = e.do(t, "POST", "/api/v1/admin/signals/force", token(t, "ops", gateway.RoleAdmin), gateway.ForceSignalRequest{
		Symbol:    "FOO/BAR",
		Direction: model.DirectionCall,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown instrument expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetPayoutRate(t *testing.T) {
	e := newTestEnv(t)
	bearer := token(t, "ops", gateway.RoleAdmin)

	w := e.do(t, "PUT", "/api/v1/admin/payout-rate", bearer, map[string]decimal.Decimal{"rate": d(0.85)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = e.do(t, "PUT", "/api/v1/admin/payout-rate", bearer, map[string]decimal.Decimal{"rate": d(-1)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative rate expected 400, got %d", w.Code)
	}
}
