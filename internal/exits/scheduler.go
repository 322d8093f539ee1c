// Package exits owns the fixed-horizon exit policy. The deadline is
// derived once at fill time and persisted; it is never recomputed from
// elapsed wall-clock, so a restart mid-hold resumes the original countdown.
package exits

import (
	"sort"
	"time"

	"breakout/internal/schema"
)

// Horizon is the configured hold duration before a position is force-exited.
type Horizon time.Duration

// Deadline computes the exit deadline for a position opened at entryTime.
func (h Horizon) Deadline(entryTime time.Time) time.Time {
	return entryTime.Add(time.Duration(h))
}

// Due returns the symbols that need an exit action at now, sorted for
// deterministic processing:
//   - Open records whose persisted deadline has been reached, including
//     deadlines that passed while the process was down;
//   - ExitScheduled records with no exit order id, meaning the process
//     crashed after scheduling but before the close order went out.
//
// Records already Exiting are excluded, which makes triggering idempotent
// across ticks shorter than the horizon.
func Due(trades map[string]*schema.TradeRecord, now time.Time) []string {
	var due []string
	for symbol, t := range trades {
		switch t.Status {
		case schema.StatusOpen:
			if !t.ExitDeadline.After(now) {
				due = append(due, symbol)
			}
		case schema.StatusExitScheduled:
			if t.ExitOrderID == "" {
				due = append(due, symbol)
			}
		}
	}
	sort.Strings(due)
	return due
}
