package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"breakout/internal/schema"
)

// Compile-time interface check.
var _ Gateway = (*SimGateway)(nil)

// SimGateway is a deterministic in-memory gateway for tests and paper runs.
// Fills are immediate by default; tests can script rejections, held orders,
// and position drift to exercise reconciliation.
type SimGateway struct {
	mu        sync.Mutex
	equity    float64
	seq       int
	orders    map[string]SubmitRequest
	positions map[string]*Position
	marks     map[string]float64
	events    chan Event

	rejectReason string
	holdNext     bool
	downUntilUp  bool
}

// NewSimGateway creates a sim gateway with the given account equity.
func NewSimGateway(equity float64) *SimGateway {
	return &SimGateway{
		equity:    equity,
		orders:    make(map[string]SubmitRequest),
		positions: make(map[string]*Position),
		marks:     make(map[string]float64),
		events:    make(chan Event, 64),
	}
}

// Name returns "sim".
func (g *SimGateway) Name() string { return "sim" }

// RejectNext makes the next submission fail with the given reason.
func (g *SimGateway) RejectNext(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectReason = reason
}

// HoldNext makes the next submission block until its context expires,
// simulating an unknown-outcome timeout.
func (g *SimGateway) HoldNext() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdNext = true
}

// SubmitOrder fills market orders immediately at the signal's limit price
// or the recorded average cost.
func (g *SimGateway) SubmitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	g.mu.Lock()
	if g.holdNext {
		g.holdNext = false
		g.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.rejectReason != "" {
		reason := g.rejectReason
		g.rejectReason = ""
		g.mu.Unlock()
		return "", errors.New("order rejected: " + reason)
	}

	g.seq++
	orderID := fmt.Sprintf("SIM-%d", g.seq)
	g.orders[orderID] = req

	price := req.LimitPrice
	if price <= 0 {
		price = g.marks[req.Symbol]
	}
	if price <= 0 {
		if p, ok := g.positions[req.Symbol]; ok {
			price = p.AvgCost
		}
	}
	g.applyFill(req, price)
	g.mu.Unlock()

	g.events <- Event{
		Kind:      EventFill,
		OrderID:   orderID,
		Symbol:    req.Symbol,
		FilledQty: req.Qty,
		AvgPrice:  price,
		At:        time.Now().UTC(),
	}
	return orderID, nil
}

func (g *SimGateway) applyFill(req SubmitRequest, price float64) {
	pos, ok := g.positions[req.Symbol]
	if !ok {
		pos = &Position{Symbol: req.Symbol, Side: schema.SideBuy}
		g.positions[req.Symbol] = pos
	}
	switch req.Side {
	case schema.SideBuy:
		pos.Qty += req.Qty
	case schema.SideSell:
		pos.Qty -= req.Qty
	}
	pos.AvgCost = price
	if pos.Qty == 0 {
		delete(g.positions, req.Symbol)
	}
}

// CancelOrder is a no-op for already-filled sim orders.
func (g *SimGateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[orderID]; !ok {
		return errors.New("unknown order: " + orderID)
	}
	return nil
}

// ListPositions returns a copy of the current position set.
func (g *SimGateway) ListPositions(_ context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, *p)
	}
	return out, nil
}

// AccountEquity returns the configured equity.
func (g *SimGateway) AccountEquity(_ context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.equity, nil
}

// Events returns the notification stream.
func (g *SimGateway) Events() <-chan Event { return g.events }

// Close shuts the event stream.
func (g *SimGateway) Close() error {
	close(g.events)
	return nil
}

// SetMark sets the fill price used for market orders in the symbol.
func (g *SimGateway) SetMark(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[symbol] = price
}

// DropPosition removes a position out from under the engine, simulating a
// broker-side close the engine never saw.
func (g *SimGateway) DropPosition(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, symbol)
}

// SetPosition overwrites a position to simulate quantity drift or a
// holding the engine did not open.
func (g *SimGateway) SetPosition(symbol string, qty int64, avgCost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[symbol] = &Position{Symbol: symbol, Qty: qty, Side: schema.SideBuy, AvgCost: avgCost}
}
