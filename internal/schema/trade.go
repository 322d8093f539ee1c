package schema

import "time"

// TradeStatus tracks the lifecycle of a trade record.
type TradeStatus string

const (
	StatusPendingSubmit TradeStatus = "PENDING_SUBMIT"
	StatusSubmitted     TradeStatus = "SUBMITTED"
	StatusRejected      TradeStatus = "REJECTED"
	StatusOpen          TradeStatus = "OPEN"
	StatusExitScheduled TradeStatus = "EXIT_SCHEDULED"
	StatusExiting       TradeStatus = "EXITING"
	StatusClosed        TradeStatus = "CLOSED"
	StatusOrphaned      TradeStatus = "ORPHANED"
)

// IsTerminal reports whether the status ends the lifecycle. Orphaned records
// are excluded: they stay in the store for audit until explicitly archived.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusClosed:
		return true
	default:
		return false
	}
}

// CountsAsOpen reports whether the record occupies a concurrency slot.
// Orphaned records free their slot on the next counter recompute.
func (s TradeStatus) CountsAsOpen() bool {
	switch s {
	case StatusPendingSubmit, StatusSubmitted, StatusOpen, StatusExitScheduled, StatusExiting:
		return true
	default:
		return false
	}
}

// TradeRecord is the engine's view of one order/position lifecycle.
// Owned exclusively by the lifecycle engine.
type TradeRecord struct {
	ID           string      `json:"id"`
	Fingerprint  string      `json:"fingerprint"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	RequestedQty int64       `json:"requestedQty"`
	FilledQty    int64       `json:"filledQty"`
	SignalPrice  float64     `json:"signalPrice"`
	EntryPrice   float64     `json:"entryPrice"`
	StopPrice    float64     `json:"stopPrice"`
	EntryTime    time.Time   `json:"entryTime"`
	Status       TradeStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
	EntryOrderID string      `json:"entryOrderId"`
	ExitDeadline time.Time   `json:"exitDeadline"`
	ExitOrderID  string      `json:"exitOrderId,omitempty"`
	ExitPrice    float64     `json:"exitPrice,omitempty"`
	ExitTime     time.Time   `json:"exitTime,omitzero"`
	ExitReason   string      `json:"exitReason,omitempty"`
	OrphanReason OrphanReason `json:"orphanReason,omitempty"`
}

// ClosedTrade is the append-only journal entry written when a record
// reaches Closed, and the row shape for the optional archive table.
type ClosedTrade struct {
	TradeID    string    `json:"tradeId" gorm:"column:trade_id;primaryKey"`
	Symbol     string    `json:"symbol" gorm:"column:symbol"`
	Side       Side      `json:"side" gorm:"column:side"`
	Qty        int64     `json:"qty" gorm:"column:qty"`
	EntryPrice float64   `json:"entryPrice" gorm:"column:entry_price"`
	ExitPrice  float64   `json:"exitPrice" gorm:"column:exit_price"`
	EntryTime  time.Time `json:"entryTime" gorm:"column:entry_time"`
	ExitTime   time.Time `json:"exitTime" gorm:"column:exit_time"`
	PnL        float64   `json:"pnl" gorm:"column:pnl"`
	PnLPct     float64   `json:"pnlPct" gorm:"column:pnl_pct"`
	ExitReason string    `json:"exitReason" gorm:"column:exit_reason"`
}

// TableName sets the archive table for gorm.
func (ClosedTrade) TableName() string { return "closed_trades" }

// Closed builds the journal entry for a closed record.
func (t *TradeRecord) Closed() ClosedTrade {
	pnl := (t.ExitPrice - t.EntryPrice) * float64(t.FilledQty)
	pnlPct := 0.0
	if t.EntryPrice > 0 {
		pnlPct = (t.ExitPrice - t.EntryPrice) / t.EntryPrice * 100
	}
	return ClosedTrade{
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Side:       t.Side,
		Qty:        t.FilledQty,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		PnL:        pnl,
		PnLPct:     pnlPct,
		ExitReason: t.ExitReason,
	}
}
