package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Instruments ---

func (s *PostgresStore) SeedInstruments(ctx context.Context, instruments []model.Instrument) error {
	for _, inst := range instruments {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO instruments (symbol, base_price, volatility)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
			 ON CONFLICT (symbol) DO NOTHING`,
			inst.Symbol, inst.BasePrice.String(), inst.Volatility.String(),
		)
		if err != nil {
			return fmt.Errorf("seed instrument %s: %w", inst.Symbol, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, base_price::TEXT, volatility::TEXT
		 FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var baseS, volS string
		if err := rows.Scan(&inst.Symbol, &baseS, &volS); err != nil {
			return nil, err
		}
		inst.BasePrice, _ = decimal.NewFromString(baseS)
		inst.Volatility, _ = decimal.NewFromString(volS)
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

func (s *PostgresStore) GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error) {
	var inst model.Instrument
	var baseS, volS string

	err := s.pool.QueryRow(ctx,
		`SELECT symbol, base_price::TEXT, volatility::TEXT
		 FROM instruments WHERE symbol = $1`, symbol).
		Scan(&inst.Symbol, &baseS, &volS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", symbol, err)
	}

	inst.BasePrice, _ = decimal.NewFromString(baseS)
	inst.Volatility, _ = decimal.NewFromString(volS)
	return &inst, nil
}

// --- Signals ---

func (s *PostgresStore) ActivateSignal(ctx context.Context, sig *model.Signal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("activate signal: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Swap active flag and insert in one transaction so no window exists
	// where two signals are active for the same instrument.
	if _, err := tx.Exec(ctx,
		`UPDATE signals SET active = FALSE WHERE symbol = $1 AND active`,
		sig.Symbol,
	); err != nil {
		return fmt.Errorf("deactivate prior signal: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO signals (id, symbol, direction, strength, created_at, expires_at, active, admin_forced)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.Symbol, string(sig.Direction), string(sig.Strength),
		sig.CreatedAt, sig.ExpiresAt, sig.Active, sig.AdminForced,
	); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetActiveSignal(ctx context.Context, symbol string) (*model.Signal, error) {
	sig, err := scanSignal(s.pool.QueryRow(ctx,
		`SELECT id, symbol, direction, strength, created_at, expires_at, active, admin_forced
		 FROM signals WHERE symbol = $1 AND active
		 ORDER BY created_at DESC LIMIT 1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active signal for %s: %w", symbol, ErrNotFound)
	}
	return sig, err
}

func (s *PostgresStore) DeactivateExpiredSignals(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET active = FALSE WHERE active AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired signals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListSignalsBySymbol(ctx context.Context, symbol string, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, direction, strength, created_at, expires_at, active, admin_forced
		 FROM signals WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, direction, stake, entry_price, exit_price,
		                     opened_at, expires_at, status, profit_loss, signal_id)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11::NUMERIC, $12)`,
		t.ID, t.UserID, t.Symbol, string(t.Direction),
		t.Stake.String(), t.EntryPrice.String(), t.ExitPrice.String(),
		t.OpenedAt, t.ExpiresAt, string(t.Status), t.ProfitLoss.String(), t.SignalID,
	)
	return err
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, direction, stake::TEXT, entry_price::TEXT, exit_price::TEXT,
		        opened_at, expires_at, status, profit_loss::TEXT, signal_id
		 FROM trades WHERE user_id = $1 ORDER BY opened_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var direction, status string
		var stakeS, entryS, exitS, plS string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &direction,
			&stakeS, &entryS, &exitS,
			&t.OpenedAt, &t.ExpiresAt, &status, &plS, &t.SignalID); err != nil {
			return nil, err
		}

		t.Direction = model.Direction(direction)
		t.Status = model.TradeStatus(status)
		t.Stake, _ = decimal.NewFromString(stakeS)
		t.EntryPrice, _ = decimal.NewFromString(entryS)
		t.ExitPrice, _ = decimal.NewFromString(exitS)
		t.ProfitLoss, _ = decimal.NewFromString(plS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetUserStakesSince(ctx context.Context, userID string, since time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, COALESCE(SUM(stake), 0)::TEXT
		 FROM trades WHERE user_id = $1 AND opened_at >= $2
		 GROUP BY symbol`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stakes := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, totalS string
		if err := rows.Scan(&symbol, &totalS); err != nil {
			return nil, err
		}
		total, _ := decimal.NewFromString(totalS)
		stakes[symbol] = total
	}
	return stakes, rows.Err()
}

// --- Wallets + ledger ---

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (id, user_id, currency, balance, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		w.ID, w.UserID, w.Currency, w.Balance.String(), w.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("wallet %s/%s: %w", w.UserID, w.Currency, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	return s.getWallet(ctx,
		`SELECT id, user_id, currency, balance::TEXT, created_at
		 FROM wallets WHERE user_id = $1 AND currency = $2`, userID, currency)
}

func (s *PostgresStore) GetWalletByID(ctx context.Context, id string) (*model.Wallet, error) {
	return s.getWallet(ctx,
		`SELECT id, user_id, currency, balance::TEXT, created_at
		 FROM wallets WHERE id = $1`, id)
}

func (s *PostgresStore) getWallet(ctx context.Context, query string, args ...any) (*model.Wallet, error) {
	var w model.Wallet
	var balS string

	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&w.ID, &w.UserID, &w.Currency, &balS, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	w.Balance, _ = decimal.NewFromString(balS)

	// Income buckets live in a side table keyed by reason.
	rows, err := s.pool.Query(ctx,
		`SELECT reason, amount::TEXT FROM wallet_income WHERE wallet_id = $1`, w.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	w.Income = make(map[string]decimal.Decimal)
	for rows.Next() {
		var reason, amountS string
		if err := rows.Scan(&reason, &amountS); err != nil {
			return nil, err
		}
		amount, _ := decimal.NewFromString(amountS)
		w.Income[reason] = amount
	}
	return &w, rows.Err()
}

func (s *PostgresStore) ApplyLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("apply entry: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Balance move and ledger append commit together or not at all.
	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC WHERE id = $1`,
		entry.WalletID, entry.BalanceAfter.String(),
	); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if entry.Direction == model.EntryCredit {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_income (wallet_id, reason, amount)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (wallet_id, reason)
			 DO UPDATE SET amount = wallet_income.amount + EXCLUDED.amount`,
			entry.WalletID, entry.Reason, entry.Amount.String(),
		); err != nil {
			return fmt.Errorf("update income bucket: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, wallet_id, direction, amount, balance_before, balance_after,
		                             reason, reference_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		entry.ID, entry.WalletID, string(entry.Direction),
		entry.Amount.String(), entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.Reason, entry.ReferenceID, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, walletID string, limit int) ([]model.LedgerEntry, error) {
	query := `SELECT id, wallet_id, direction, amount::TEXT, balance_before::TEXT, balance_after::TEXT,
	                 reason, reference_id, created_at
	          FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at DESC`
	args := []any{walletID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var direction, amountS, beforeS, afterS string

		if err := rows.Scan(&e.ID, &e.WalletID, &direction,
			&amountS, &beforeS, &afterS,
			&e.Reason, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Direction = model.EntryDirection(direction)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.BalanceBefore, _ = decimal.NewFromString(beforeS)
		e.BalanceAfter, _ = decimal.NewFromString(afterS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// signalRow abstracts pgx.Row/pgx.Rows for signal scanning.
type signalRow interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row signalRow) (*model.Signal, error) {
	var sig model.Signal
	var direction, strength string

	if err := row.Scan(&sig.ID, &sig.Symbol, &direction, &strength,
		&sig.CreatedAt, &sig.ExpiresAt, &sig.Active, &sig.AdminForced); err != nil {
		return nil, err
	}

	sig.Direction = model.Direction(direction)
	sig.Strength = model.Strength(strength)
	return &sig, nil
}
