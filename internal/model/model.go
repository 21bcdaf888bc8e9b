// Package model defines the core domain types shared across the venue engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a signal or trade.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// Strength classifies how confident a signal is.
type Strength string

const (
	StrengthWeak   Strength = "WEAK"
	StrengthMedium Strength = "MEDIUM"
	StrengthStrong Strength = "STRONG"
)

// TradeStatus is the lifecycle state of a trade. A trade is created
// PENDING and transitions to exactly one terminal state, never back.
type TradeStatus string

const (
	TradePending TradeStatus = "PENDING"
	TradeWon     TradeStatus = "WON"
	TradeLost    TradeStatus = "LOST"
)

// EntryDirection is the side of a ledger entry.
type EntryDirection string

const (
	EntryDebit  EntryDirection = "DEBIT"
	EntryCredit EntryDirection = "CREDIT"
)

// Ledger entry reasons. Credits are bucketed into the wallet's income
// breakdown by reason.
const (
	ReasonOpeningBalance   = "OPENING_BALANCE"
	ReasonTradeStake       = "TRADE_STAKE"
	ReasonTradePayout      = "TRADE_PAYOUT"
	ReasonSettlementRefund = "SETTLEMENT_REFUND"
)

// Instrument is a tradable symbol with its simulation parameters.
// Immutable after seeding.
type Instrument struct {
	Symbol     string          `json:"symbol" db:"symbol"`
	BasePrice  decimal.Decimal `json:"base_price" db:"base_price"`
	Volatility decimal.Decimal `json:"volatility" db:"volatility"` // max |ε| per tick, e.g. 0.01
}

// PricePoint is one tick of the synthetic price series for an instrument.
type PricePoint struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Signal is a directional prediction with a strength and expiry.
// Immutable except for the Active flag; deactivated, never deleted.
type Signal struct {
	ID          string    `json:"id" db:"id"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Direction   Direction `json:"direction" db:"direction"`
	Strength    Strength  `json:"strength" db:"strength"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	Active      bool      `json:"active" db:"active"`
	AdminForced bool      `json:"admin_forced" db:"admin_forced"`
}

// Live reports whether the signal is settleable at instant now.
// ExpiresAt is authoritative; the Active flag is an optimization that
// the expiry sweeper trails behind.
func (s *Signal) Live(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// Trade is one stake settled against the active signal. Created once,
// settled exactly once.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Direction  Direction       `json:"direction" db:"direction"`
	Stake      decimal.Decimal `json:"stake" db:"stake"`
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price" db:"exit_price"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	ExpiresAt  time.Time       `json:"expires_at" db:"expires_at"`
	Status     TradeStatus     `json:"status" db:"status"`
	ProfitLoss decimal.Decimal `json:"profit_loss" db:"profit_loss"` // payout - stake, negative on loss
	SignalID   string          `json:"signal_id" db:"signal_id"`
}

// Wallet holds one user's balance in one currency. Mutated only through
// the ledger's apply operation, never by direct assignment.
type Wallet struct {
	ID       string          `json:"id" db:"id"`
	UserID   string          `json:"user_id" db:"user_id"`
	Currency string          `json:"currency" db:"currency"`
	Balance  decimal.Decimal `json:"balance" db:"balance"`
	// Income is cumulative credited amounts bucketed by entry reason.
	Income    map[string]decimal.Decimal `json:"income"`
	CreatedAt time.Time                  `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable record of one balance mutation.
// balance_after(N) = balance_before(N) ± amount, and equals the wallet
// balance at that instant. The chain is the audit trail.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	WalletID      string          `json:"wallet_id" db:"wallet_id"`
	Direction     EntryDirection  `json:"direction" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Reason        string          `json:"reason" db:"reason"`
	ReferenceID   string          `json:"reference_id" db:"reference_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
