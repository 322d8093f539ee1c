// Package reconcile diffs local trade records against the broker's
// authoritative position list. It only ever downgrades records to
// orphaned; it never creates trades, never resubmits, and never
// auto-corrects a quantity mismatch.
package reconcile

import (
	"fmt"
	"time"

	"breakout/internal/broker"
	"breakout/internal/schema"
)

// Config controls how stale an unresolved submission may get before it is
// escalated.
type Config struct {
	StaleSubmitAfter time.Duration `json:"staleSubmitAfter"`
}

// Finding is one discrepancy between local state and broker truth.
type Finding struct {
	Symbol string
	Reason schema.OrphanReason
	Detail string
}

// Result is the outcome of one reconciliation pass. Unmanaged holds broker
// positions with no local record: they are surfaced, never adopted and
// never flattened.
type Result struct {
	Orphans   []Finding
	Unmanaged []broker.Position
}

// Diff compares local records against broker positions.
func Diff(trades map[string]*schema.TradeRecord, positions []broker.Position, cfg Config, now time.Time) Result {
	byBroker := make(map[string]broker.Position, len(positions))
	for _, p := range positions {
		byBroker[p.Symbol] = p
	}

	var out Result
	for symbol, t := range trades {
		switch t.Status {
		case schema.StatusOpen, schema.StatusExitScheduled, schema.StatusExiting:
			p, held := byBroker[symbol]
			if !held {
				out.Orphans = append(out.Orphans, Finding{
					Symbol: symbol,
					Reason: schema.OrphanMissingAtBroker,
					Detail: "position closed or rejected outside the engine",
				})
				continue
			}
			if p.Qty != t.FilledQty {
				out.Orphans = append(out.Orphans, Finding{
					Symbol: symbol,
					Reason: schema.OrphanQtyMismatch,
					Detail: fmt.Sprintf("local=%d broker=%d", t.FilledQty, p.Qty),
				})
			}

		case schema.StatusPendingSubmit, schema.StatusSubmitted:
			// An unresolved submission is given one grace window for its
			// fill or rejection to arrive; after that only an operator
			// can attribute the broker-side outcome.
			if cfg.StaleSubmitAfter > 0 && now.Sub(t.CreatedAt) > cfg.StaleSubmitAfter {
				out.Orphans = append(out.Orphans, Finding{
					Symbol: symbol,
					Reason: schema.OrphanStaleSubmit,
					Detail: fmt.Sprintf("submission unresolved for %s", now.Sub(t.CreatedAt).Truncate(time.Second)),
				})
			}
		}
	}

	for _, p := range positions {
		if _, ok := trades[p.Symbol]; !ok {
			out.Unmanaged = append(out.Unmanaged, p)
		}
	}
	return out
}
