// Package risk gatekeeps new trades against position-count, daily-trade,
// and sizing quotas. Evaluation is pure: it reads a view of the serialized
// engine state and never blocks.
package risk

import (
	"github.com/shopspring/decimal"

	"breakout/internal/schema"
)

// Config defines the admission limits.
type Config struct {
	MaxConcurrentPositions int     `json:"maxConcurrentPositions"`
	MaxDailyTrades         int     `json:"maxDailyTrades"`
	PositionSizePct        float64 `json:"positionSizePct"`
	StopLossPct            float64 `json:"stopLossPct"`
	LotSize                int64   `json:"lotSize"`
}

// View is the read-only state admission evaluates against.
type View struct {
	Counters   schema.RiskCounters
	SymbolHeld bool
	Equity     float64
}

// Decision is the outcome of one admission check. Every denial is terminal
// for its signal: the fingerprint still consumes a dedup slot.
type Decision struct {
	Admitted  bool
	Reason    schema.DenyReason
	Qty       int64
	StopPrice float64
}

// Engine evaluates admission rules in a fixed order; the first failing
// rule wins.
type Engine struct {
	cfg Config
}

// NewEngine creates an admission engine with static limits.
func NewEngine(cfg Config) *Engine {
	if cfg.LotSize <= 0 {
		cfg.LotSize = 1
	}
	return &Engine{cfg: cfg}
}

func deny(reason schema.DenyReason) Decision {
	return Decision{Reason: reason}
}

// Evaluate applies the admission rules to a signal.
func (e *Engine) Evaluate(sig schema.Signal, view View) Decision {
	if view.Counters.OpenPositions >= e.cfg.MaxConcurrentPositions {
		return deny(schema.DenyConcurrencyLimit)
	}
	if view.Counters.TradesToday >= e.cfg.MaxDailyTrades {
		return deny(schema.DenyDailyLimit)
	}
	if view.SymbolHeld {
		return deny(schema.DenyDuplicateSymbol)
	}

	qty := e.shares(sig.Price, view.Equity)
	if qty <= 0 {
		return deny(schema.DenyZeroSize)
	}

	return Decision{
		Admitted:  true,
		Qty:       qty,
		StopPrice: e.stopPrice(sig.Price),
	}
}

// shares sizes the position as positionSizePct of equity at the signal
// price, rounded down to the lot size.
func (e *Engine) shares(price, equity float64) int64 {
	if price <= 0 || equity <= 0 {
		return 0
	}
	notional := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(e.cfg.PositionSizePct)).
		Div(decimal.NewFromInt(100))
	lot := decimal.NewFromInt(e.cfg.LotSize)
	lots := notional.Div(decimal.NewFromFloat(price)).Div(lot).IntPart()
	return lots * e.cfg.LotSize
}

// stopPrice derives the protective stop recorded on entry. The stop order
// is broker-held; the engine itself only ever exits on time.
func (e *Engine) stopPrice(price float64) float64 {
	if e.cfg.StopLossPct <= 0 {
		return 0
	}
	stop := decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(e.cfg.StopLossPct).Div(decimal.NewFromInt(100))))
	f, _ := stop.Round(2).Float64()
	return f
}
