// Package broker defines the gateway surface the lifecycle engine trades
// through, and the asynchronous event stream it listens to. The gateway is
// treated as an unreliable remote service: a submission that times out has
// an unknown outcome and is resolved by reconciliation, never by resubmit.
package broker

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"breakout/internal/schema"
)

// ErrSubmitUnknown marks a submission whose outcome could not be observed
// within the timeout. The order may or may not exist at the broker.
var ErrSubmitUnknown = errors.New("submission outcome unknown")

// SubmitRequest describes one order. ClientOrderID makes the submission
// idempotent on the broker side.
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string
	Side          schema.Side
	Qty           int64
	Type          schema.OrderType
	LimitPrice    float64
	StopPrice     float64
}

// Position is the broker's authoritative view of one holding.
type Position struct {
	Symbol  string
	Qty     int64
	Side    schema.Side
	AvgCost float64
}

// EventKind classifies gateway notifications.
type EventKind string

const (
	EventFill        EventKind = "FILL"
	EventPartialFill EventKind = "PARTIAL_FILL"
	EventReject      EventKind = "REJECT"
	EventCancel      EventKind = "CANCEL"
	EventDisconnect  EventKind = "DISCONNECT"
	EventReconnect   EventKind = "RECONNECT"
)

// Event is one asynchronous gateway notification. Connection loss arrives
// as a distinct event, not as an error on every call.
type Event struct {
	Kind      EventKind
	OrderID   string
	Symbol    string
	FilledQty int64
	AvgPrice  float64
	Reason    string
	At        time.Time
}

// Gateway is the remote execution surface.
type Gateway interface {
	Name() string

	// SubmitOrder sends an order and returns the broker order id.
	SubmitOrder(ctx context.Context, req SubmitRequest) (string, error)

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, orderID string) error

	// ListPositions returns the broker's authoritative position list.
	ListPositions(ctx context.Context) ([]Position, error)

	// AccountEquity returns the current account equity for sizing.
	AccountEquity(ctx context.Context) (float64, error)

	// Events yields fills, rejections, and connection-state changes.
	Events() <-chan Event

	// Close releases the gateway connection.
	Close() error
}
