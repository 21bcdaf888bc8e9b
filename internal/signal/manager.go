// Package signal owns the lifecycle of trading signals: generation,
// activation, expiry, and the admin override path.
//
// Per instrument the state machine is NONE → ACTIVE → EXPIRED, with at
// most one active signal per instrument at any instant.
package signal

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optx/venue-engine/internal/errs"
	"github.com/optx/venue-engine/internal/instrument"
	"github.com/optx/venue-engine/internal/metrics"
	"github.com/optx/venue-engine/internal/model"
	"github.com/optx/venue-engine/internal/store"
)

// activateAttempts bounds retries when signal activation races.
const activateAttempts = 3

// Manager owns signal state transitions. Activation and deactivation for
// one instrument are serialized through a per-instrument lock; different
// instruments proceed independently.
type Manager struct {
	store         store.Store
	minTTL        time.Duration
	maxTTL        time.Duration
	sweepInterval time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager creates a signal manager. New signals expire after a random
// duration in [minTTL, maxTTL].
func NewManager(st store.Store, minTTL, maxTTL, sweepInterval time.Duration) *Manager {
	return &Manager{
		store:         st,
		minTTL:        minTTL,
		maxTTL:        maxTTL,
		sweepInterval: sweepInterval,
		locks:         make(map[string]*sync.Mutex),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate creates and activates an automatic signal for the instrument,
// atomically deactivating the prior active one. While an unexpired
// admin-forced signal exists it takes precedence: Generate leaves it in
// place and returns it unchanged.
func (m *Manager) Generate(ctx context.Context, symbol string) (*model.Signal, error) {
	lock := m.instrumentLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.getActiveLocked(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if current != nil && current.AdminForced {
		// Admin override suppresses automatic generation until it expires.
		return current, nil
	}

	sig := m.draw(symbol)
	if err := m.activate(ctx, sig); err != nil {
		return nil, err
	}

	metrics.SignalsGenerated.WithLabelValues("auto").Inc()
	slog.Info("signal generated",
		"id", sig.ID,
		"symbol", symbol,
		"direction", sig.Direction,
		"strength", sig.Strength,
		"expires_at", sig.ExpiresAt,
	)
	return sig, nil
}

// ForceGenerate creates and activates an admin-forced signal with a fixed
// direction, replacing any current active signal for the instrument. The
// symbol must be well-formed and present in the catalog; a forced signal
// for a non-instrument would be settleable against nothing.
func (m *Manager) ForceGenerate(ctx context.Context, symbol string, direction model.Direction) (*model.Signal, error) {
	if !direction.Valid() {
		return nil, errs.New(errs.KindValidation, "direction must be CALL or PUT, got %q", direction)
	}
	if _, err := instrument.ParseSymbol(symbol); err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "invalid symbol %q", symbol)
	}
	if _, err := m.store.GetInstrument(ctx, symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.New(errs.KindValidation, "no such instrument: %s", symbol)
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "loading instrument %s", symbol)
	}

	lock := m.instrumentLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	sig := m.draw(symbol)
	sig.Direction = direction
	sig.AdminForced = true

	if err := m.activate(ctx, sig); err != nil {
		return nil, err
	}

	metrics.SignalsGenerated.WithLabelValues("admin").Inc()
	slog.Info("signal forced",
		"id", sig.ID,
		"symbol", symbol,
		"direction", direction,
		"expires_at", sig.ExpiresAt,
	)
	return sig, nil
}

// GetActive returns the live signal for the instrument: active=true AND
// expires_at in the future. Returns (nil, nil) when there is none.
// Expiry is authoritative — a signal the sweeper has not flagged yet is
// still reported as gone once its expiry passes.
func (m *Manager) GetActive(ctx context.Context, symbol string) (*model.Signal, error) {
	sig, err := m.store.GetActiveSignal(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "reading active signal for %s", symbol)
	}
	if !sig.Live(time.Now().UTC()) {
		return nil, nil
	}
	return sig, nil
}

// SweepExpired deactivates every signal whose expiry has passed.
// Idempotent: re-running with no new signals is a no-op.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeactivateExpiredSignals(ctx, time.Now().UTC())
	if err != nil {
		return 0, errs.Wrap(err, errs.KindUnavailable, "sweeping expired signals")
	}
	if n > 0 {
		metrics.SignalsExpired.Add(float64(n))
		slog.Debug("expired signals swept", "count", n)
	}
	return n, nil
}

// History returns the instrument's signal history, newest first.
func (m *Manager) History(ctx context.Context, symbol string, limit int) ([]model.Signal, error) {
	return m.store.ListSignalsBySymbol(ctx, symbol, limit)
}

// Run sweeps expired signals once per interval until ctx is cancelled.
// A failed sweep is retried on the next cycle; it never blocks settlement.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	slog.Info("signal sweeper started", "interval", m.sweepInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("signal sweeper stopped")
			return
		case <-ticker.C:
			if _, err := m.SweepExpired(ctx); err != nil {
				slog.Warn("signal sweep failed", "err", err)
			}
		}
	}
}

// RunGenerator keeps every instrument supplied with a signal: each cycle,
// instruments with no live signal get a fresh automatic one. Admin-forced
// signals are left alone until they expire.
func (m *Manager) RunGenerator(ctx context.Context, symbols []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("signal generator started", "instruments", len(symbols), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("signal generator stopped")
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				current, err := m.GetActive(ctx, symbol)
				if err != nil {
					slog.Warn("signal generation skipped", "symbol", symbol, "err", err)
					continue
				}
				if current != nil {
					continue
				}
				if _, err := m.Generate(ctx, symbol); err != nil {
					slog.Warn("signal generation failed", "symbol", symbol, "err", err)
				}
			}
		}
	}
}

// activate writes the signal swap with bounded retries: a detected race
// is retried, then surfaced as TemporarilyUnavailable.
func (m *Manager) activate(ctx context.Context, sig *model.Signal) error {
	var lastErr error
	for attempt := 1; attempt <= activateAttempts; attempt++ {
		if err := m.store.ActivateSignal(ctx, sig); err != nil {
			lastErr = err
			slog.Warn("signal activation conflicted",
				"symbol", sig.Symbol, "attempt", attempt, "err", err)
			continue
		}
		return nil
	}
	return errs.Wrap(lastErr, errs.KindUnavailable,
		"signal activation for %s failed after %d attempts", sig.Symbol, activateAttempts)
}

// getActiveLocked reads the live signal while the instrument lock is held.
func (m *Manager) getActiveLocked(ctx context.Context, symbol string) (*model.Signal, error) {
	sig, err := m.store.GetActiveSignal(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, errs.Wrap(err, errs.KindUnavailable, "reading active signal for %s", symbol)
	}
	if !sig.Live(time.Now().UTC()) {
		return nil, nil
	}
	return sig, nil
}

// draw builds a fresh signal with random direction, weighted strength
// (33/33/34 weak/medium/strong), and random expiry in [minTTL, maxTTL].
func (m *Manager) draw(symbol string) *model.Signal {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()

	direction := model.DirectionCall
	if m.rng.Intn(2) == 1 {
		direction = model.DirectionPut
	}

	strength := model.StrengthStrong
	switch roll := m.rng.Intn(100); {
	case roll < 33:
		strength = model.StrengthWeak
	case roll < 66:
		strength = model.StrengthMedium
	}

	ttl := m.minTTL
	if spread := m.maxTTL - m.minTTL; spread > 0 {
		ttl += time.Duration(m.rng.Int63n(int64(spread)))
	}

	now := time.Now().UTC()
	return &model.Signal{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Direction: direction,
		Strength:  strength,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
	}
}

// instrumentLock returns the serialization lock for one instrument.
func (m *Manager) instrumentLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[symbol] = lock
	}
	return lock
}
