// Package pricing produces the synthetic price series for every instrument.
//
// Each tick draws price = basePrice * (1 + ε) with ε uniform in
// [-volatility, +volatility]; consecutive ticks are independent (no
// momentum). Realism is an explicit non-goal of the simulation.
package pricing

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/errs"
	"github.com/optx/venue-engine/internal/metrics"
	"github.com/optx/venue-engine/internal/model"
)

// Update is one price-feed event pushed to subscribers.
type Update struct {
	Symbol        string          `json:"instrument"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Simulator owns the per-instrument price state: the latest point and a
// bounded history ring. Constructed once at startup and passed by handle;
// there are no ambient globals.
type Simulator struct {
	mu          sync.Mutex
	instruments map[string]model.Instrument
	history     map[string][]model.PricePoint
	last        map[string]model.PricePoint
	rng         *rand.Rand
	historyCap  int
	interval    time.Duration

	subMu sync.RWMutex
	subs  []chan Update
}

// New creates a simulator over the given catalog. historyCap bounds the
// per-instrument ring; interval is the cadence of Run's full passes.
func New(instruments []model.Instrument, historyCap int, interval time.Duration) *Simulator {
	byName := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		byName[inst.Symbol] = inst
	}
	return &Simulator{
		instruments: byName,
		history:     make(map[string][]model.PricePoint, len(instruments)),
		last:        make(map[string]model.PricePoint, len(instruments)),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		historyCap:  historyCap,
		interval:    interval,
	}
}

// Tick generates the next price point for one instrument. Generation
// cannot fail; only an unknown instrument is an error.
func (s *Simulator) Tick(symbol string) (model.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickLocked(symbol)
}

func (s *Simulator) tickLocked(symbol string) (model.PricePoint, error) {
	inst, ok := s.instruments[symbol]
	if !ok {
		return model.PricePoint{}, errs.New(errs.KindValidation, "no such instrument: %s", symbol)
	}

	// ε uniform in [-vol, +vol]. Volatility is already bounded at the
	// catalog (±1% default), so no additional clamp is needed here.
	vol, _ := inst.Volatility.Float64()
	eps := (s.rng.Float64()*2 - 1) * vol
	price := inst.BasePrice.Mul(decimal.NewFromFloat(1 + eps)).Round(8)

	now := time.Now().UTC()
	if prev, ok := s.last[symbol]; ok && !now.After(prev.Timestamp) {
		// Timestamps are strictly increasing per instrument.
		now = prev.Timestamp.Add(time.Nanosecond)
	}

	point := model.PricePoint{
		Symbol:    symbol,
		Price:     price,
		Volume:    decimal.NewFromInt(s.rng.Int63n(10000)),
		Timestamp: now,
	}

	s.last[symbol] = point
	s.history[symbol] = append(s.history[symbol], point)
	if len(s.history[symbol]) > s.historyCap {
		// Evict oldest; insertion order stays chronological.
		s.history[symbol] = s.history[symbol][len(s.history[symbol])-s.historyCap:]
	}

	metrics.PriceTicks.WithLabelValues(symbol).Inc()
	return point, nil
}

// TickAll runs one full pass over the catalog and returns the resulting
// updates in symbol-independent order.
func (s *Simulator) TickAll() []Update {
	s.mu.Lock()

	updates := make([]Update, 0, len(s.instruments))
	for symbol := range s.instruments {
		prev, hadPrev := s.last[symbol]
		point, err := s.tickLocked(symbol)
		if err != nil {
			continue // unreachable for catalog symbols
		}

		u := Update{
			Symbol:    symbol,
			Price:     point.Price,
			Timestamp: point.Timestamp,
		}
		if hadPrev && prev.Price.IsPositive() {
			u.Change = point.Price.Sub(prev.Price)
			u.ChangePercent = u.Change.Div(prev.Price).Mul(decimal.NewFromInt(100)).Round(4)
		}
		updates = append(updates, u)
	}
	s.mu.Unlock()

	for _, u := range updates {
		s.publish(u)
	}
	return updates
}

// Run ticks every instrument once per interval until ctx is cancelled.
// A slow pass is simply caught up on the next cycle; ticking never blocks
// trade settlement.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("price simulator started", "instruments", len(s.instruments), "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("price simulator stopped")
			return
		case <-ticker.C:
			s.TickAll()
		}
	}
}

// Subscribe registers a price feed listener and returns the channel plus
// an unsubscribe function. Slow subscribers drop updates rather than
// blocking the simulator.
func (s *Simulator) Subscribe(buffer int) (<-chan Update, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan Update, buffer)
	s.subs = append(s.subs, ch)

	unsub := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				close(c)
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

func (s *Simulator) publish(u Update) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			// Drop if the subscriber is behind.
		}
	}
}

// Latest returns the most recent price point for an instrument, ticking
// once if no point exists yet.
func (s *Simulator) Latest(symbol string) (model.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if point, ok := s.last[symbol]; ok {
		return point, nil
	}
	return s.tickLocked(symbol)
}

// History returns up to n most recent points in chronological order.
// n <= 0 returns the full ring.
func (s *Simulator) History(symbol string, n int) []model.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.history[symbol]
	if n > 0 && len(ring) > n {
		ring = ring[len(ring)-n:]
	}
	out := make([]model.PricePoint, len(ring))
	copy(out, ring)
	return out
}

// Symbols returns the catalog symbols the simulator covers.
func (s *Simulator) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.instruments))
	for symbol := range s.instruments {
		out = append(out, symbol)
	}
	return out
}
