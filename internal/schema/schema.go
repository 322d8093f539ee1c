// Package schema holds the shared data model: signals, trade records,
// risk counters, and the reason codes attached to denials and orphans.
package schema

import "time"

// SnapshotVersion is the current persisted state document version.
const SnapshotVersion = 1

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the entry order type. Exits are always market.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Signal is one externally produced breakout alert. Immutable once observed.
type Signal struct {
	Timestamp      time.Time `json:"timestamp"`
	Symbol         string    `json:"symbol"`
	Kind           string    `json:"kind"`
	Description    string    `json:"description"`
	Price          float64   `json:"price"`
	RelativeVolume float64   `json:"relativeVolume"`
}

// DenyReason explains why admission refused a signal.
type DenyReason string

const (
	DenyConcurrencyLimit DenyReason = "CONCURRENCY_LIMIT"
	DenyDailyLimit       DenyReason = "DAILY_LIMIT"
	DenyDuplicateSymbol  DenyReason = "DUPLICATE_SYMBOL"
	DenyZeroSize         DenyReason = "ZERO_SIZE"
)

// OrphanReason explains why reconciliation downgraded a record.
type OrphanReason string

const (
	OrphanMissingAtBroker OrphanReason = "MISSING_AT_BROKER"
	OrphanUnmanaged       OrphanReason = "UNMANAGED_AT_BROKER"
	OrphanQtyMismatch     OrphanReason = "QTY_MISMATCH"
	OrphanStaleSubmit     OrphanReason = "STALE_SUBMIT"
	OrphanExitRejected    OrphanReason = "EXIT_REJECTED"
)

// ExitReason records what triggered a close.
const (
	ExitReasonTime            = "TIME_EXIT"
	ExitReasonOperatorFlatten = "OPERATOR_FLATTEN"
)
