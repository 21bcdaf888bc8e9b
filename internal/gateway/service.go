// Package gateway exposes the venue over HTTP and WebSocket: trade
// placement, signal and price queries, wallet access, and the admin
// surface. Handlers translate the error taxonomy into HTTP statuses;
// business rules live in the engine, ledger, and signal manager.
//
// All monetary values use shopspring/decimal — never float64 for money.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/errs"
	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/pricing"
	"github.com/optx/venue-engine/internal/settle"
	"github.com/optx/venue-engine/internal/signal"
	"github.com/optx/venue-engine/internal/store"
	"github.com/optx/venue-engine/internal/wallet"
)

// Service wires the venue components behind the HTTP API.
type Service struct {
	engine  *settle.Engine
	ledger  *wallet.Ledger
	signals *signal.Manager
	prices  *pricing.Simulator
	store   store.Store
	hub     *Hub

	jwtSecret       string
	defaultCurrency string
}

// NewService creates the HTTP gateway. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(engine *settle.Engine, ledger *wallet.Ledger, signals *signal.Manager,
	prices *pricing.Simulator, st store.Store, hub *Hub, jwtSecret, defaultCurrency string) *Service {
	return &Service{
		engine:          engine,
		ledger:          ledger,
		signals:         signals,
		prices:          prices,
		store:           st,
		hub:             hub,
		jwtSecret:       jwtSecret,
		defaultCurrency: defaultCurrency,
	}
}

// Routes returns the /api/v1 router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	// Public market data.
	r.Get("/instruments", s.ListInstruments)
	r.Get("/prices/{base}/{quote}", s.GetPrices)
	r.Get("/signals/{base}/{quote}", s.GetActiveSignal)
	r.Get("/signals/{base}/{quote}/history", s.GetSignalHistory)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Authenticated user surface.
	r.Group(func(r chi.Router) {
		r.Use(Authenticator(s.jwtSecret))

		r.Post("/wallets", s.CreateWallet)
		r.Get("/wallet", s.GetWallet)
		r.Post("/trades", s.PlaceTrade)
		r.Get("/trades", s.ListTrades)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/admin/signals/force", s.ForceSignal)
			r.Put("/admin/payout-rate", s.SetPayoutRate)
			r.Put("/admin/trading-enabled", s.SetTradingEnabled)
		})
	})

	return r
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	Symbol    string          `json:"symbol"`
	Direction model.Direction `json:"direction"` // "CALL" or "PUT"
	Stake     decimal.Decimal `json:"stake"`
}

// CreateWalletRequest is the JSON body for POST /api/v1/wallets.
type CreateWalletRequest struct {
	Currency       string          `json:"currency"` // empty → venue default
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// WalletResponse is the wallet statement returned from GET /api/v1/wallet.
type WalletResponse struct {
	Wallet  *model.Wallet       `json:"wallet"`
	Entries []model.LedgerEntry `json:"entries"`
}

// PricesResponse carries the latest tick and optional recent history.
type PricesResponse struct {
	Latest  model.PricePoint   `json:"latest"`
	History []model.PricePoint `json:"history,omitempty"`
}

// SignalResponse is the signal feed envelope. active_signal is null when
// no signal is live for the instrument.
type SignalResponse struct {
	ActiveSignal *model.Signal `json:"active_signal"`
}

// ForceSignalRequest is the JSON body for POST /api/v1/admin/signals/force.
type ForceSignalRequest struct {
	Symbol    string          `json:"symbol"`
	Direction model.Direction `json:"direction"`
}

// --- HTTP Handlers ---

// PlaceTrade handles POST /api/v1/trades.
func (s *Service) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindValidation, "invalid request body"))
		return
	}

	identity := identityFrom(r.Context())
	result, err := s.engine.PlaceTrade(r.Context(), identity.UserID, req.Symbol, req.Direction, req.Stake)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast("trade", result.Trade)
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListTrades handles GET /api/v1/trades.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	trades, err := s.engine.Trades(r.Context(), identity.UserID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// CreateWallet handles POST /api/v1/wallets.
func (s *Service) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindValidation, "invalid request body"))
		return
	}
	if req.Currency == "" {
		req.Currency = s.defaultCurrency
	}

	identity := identityFrom(r.Context())
	wlt, err := s.ledger.CreateWallet(r.Context(), identity.UserID, req.Currency, req.OpeningBalance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wlt)
}

// GetWallet handles GET /api/v1/wallet. Returns the wallet and its most
// recent ledger entries, newest first.
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = s.defaultCurrency
	}

	identity := identityFrom(r.Context())
	wlt, entries, err := s.ledger.Statement(r.Context(), identity.UserID, currency, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, WalletResponse{Wallet: wlt, Entries: entries})
}

// ListInstruments handles GET /api/v1/instruments.
func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.ListInstruments(r.Context())
	if err != nil {
		writeError(w, errs.Wrap(err, errs.KindUnavailable, "listing instruments"))
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}
	writeJSON(w, http.StatusOK, instruments)
}

// GetPrices handles GET /api/v1/prices/{base}/{quote}. The optional
// ?history=n query includes up to n recent points.
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)

	latest, err := s.prices.Latest(symbol)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := PricesResponse{Latest: latest}
	if n := queryInt(r, "history", 0); n > 0 {
		resp.History = s.prices.History(symbol, n)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetActiveSignal handles GET /api/v1/signals/{base}/{quote}. Having no
// live signal is a normal feed state, not an error: the response is
// always 200 with active_signal null when none is live.
func (s *Service) GetActiveSignal(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)

	sig, err := s.signals.GetActive(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SignalResponse{ActiveSignal: sig})
}

// GetSignalHistory handles GET /api/v1/signals/{base}/{quote}/history.
func (s *Service) GetSignalHistory(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)

	signals, err := s.signals.History(r.Context(), symbol, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if signals == nil {
		signals = []model.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

// ForceSignal handles POST /api/v1/admin/signals/force. The forced signal
// replaces any active one and suppresses auto-generation until it expires.
func (s *Service) ForceSignal(w http.ResponseWriter, r *http.Request) {
	var req ForceSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindValidation, "invalid request body"))
		return
	}

	sig, err := s.signals.ForceGenerate(r.Context(), req.Symbol, req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("signal forced",
		"symbol", req.Symbol,
		"direction", req.Direction,
		"signal_id", sig.ID,
		"admin", identityFrom(r.Context()).UserID,
	)
	if s.hub != nil {
		s.hub.Broadcast("signal", sig)
	}
	writeJSON(w, http.StatusCreated, sig)
}

// SetPayoutRate handles PUT /api/v1/admin/payout-rate.
func (s *Service) SetPayoutRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindValidation, "invalid request body"))
		return
	}

	if err := s.engine.SetPayoutRate(req.Rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rate": req.Rate.String()})
}

// SetTradingEnabled handles PUT /api/v1/admin/trading-enabled.
func (s *Service) SetTradingEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindValidation, "invalid request body"))
		return
	}

	s.engine.SetTradingEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// --- helpers ---

// symbolParam reassembles the slash-separated instrument symbol from the
// {base}/{quote} route segments.
func symbolParam(r *http.Request) string {
	return chi.URLParam(r, "base") + "/" + chi.URLParam(r, "quote")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its HTTP status and writes the JSON error
// body. Internal details never leak: 5xx responses carry a generic
// message and the cause goes to the log.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := httpStatus(kind)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "kind", kind, "err", err)
		if kind == errs.KindInternal {
			message = "internal error"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(kind),
		"error": message,
	})
}

func httpStatus(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindNoActiveSignal, errs.KindTradingDisabled, errs.KindWalletExists, errs.KindConflict:
		return http.StatusConflict
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindSettlement:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
