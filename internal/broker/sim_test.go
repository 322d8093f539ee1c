package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/schema"
)

func TestSimFillLifecycle(t *testing.T) {
	g := NewSimGateway(100_000)
	defer g.Close()
	g.SetMark("IONX", 10.0)

	id, err := g.SubmitOrder(context.Background(), SubmitRequest{
		ClientOrderID: "c-1",
		Symbol:        "IONX",
		Side:          schema.SideBuy,
		Qty:           300,
		Type:          schema.OrderTypeMarket,
	})
	require.NoError(t, err)

	ev := <-g.Events()
	assert.Equal(t, EventFill, ev.Kind)
	assert.Equal(t, id, ev.OrderID)
	assert.EqualValues(t, 300, ev.FilledQty)
	assert.InDelta(t, 10.0, ev.AvgPrice, 1e-9)

	positions, err := g.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.EqualValues(t, 300, positions[0].Qty)

	// A full sell flattens the position.
	_, err = g.SubmitOrder(context.Background(), SubmitRequest{
		Symbol: "IONX", Side: schema.SideSell, Qty: 300, Type: schema.OrderTypeMarket,
	})
	require.NoError(t, err)
	<-g.Events()

	positions, err = g.ListPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSimRejectNext(t *testing.T) {
	g := NewSimGateway(100_000)
	defer g.Close()
	g.RejectNext("insufficient buying power")

	_, err := g.SubmitOrder(context.Background(), SubmitRequest{Symbol: "IONX", Side: schema.SideBuy, Qty: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient buying power")

	// Only the next submission is scripted.
	g.SetMark("IONX", 10)
	_, err = g.SubmitOrder(context.Background(), SubmitRequest{Symbol: "IONX", Side: schema.SideBuy, Qty: 1})
	assert.NoError(t, err)
}

func TestSimHoldNextTimesOut(t *testing.T) {
	g := NewSimGateway(100_000)
	defer g.Close()
	g.HoldNext()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := g.SubmitOrder(ctx, SubmitRequest{Symbol: "IONX", Side: schema.SideBuy, Qty: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	positions, err := g.ListPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSimAccountEquity(t *testing.T) {
	g := NewSimGateway(50_000)
	defer g.Close()
	v, err := g.AccountEquity(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50_000, v, 1e-9)
}
