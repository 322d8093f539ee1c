package exits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"breakout/internal/schema"
)

func TestDeadlineFixedAtEntry(t *testing.T) {
	entry := time.Date(2025, 7, 1, 9, 45, 0, 0, time.UTC)
	assert.Equal(t, entry.Add(10*time.Minute), Horizon(10*time.Minute).Deadline(entry))
}

func TestDue(t *testing.T) {
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	trades := map[string]*schema.TradeRecord{
		"DUE":  {Status: schema.StatusOpen, ExitDeadline: now.Add(-time.Minute)},
		"EDGE": {Status: schema.StatusOpen, ExitDeadline: now},
		"WAIT": {Status: schema.StatusOpen, ExitDeadline: now.Add(time.Minute)},
		"CRSH": {Status: schema.StatusExitScheduled},
		"SENT": {Status: schema.StatusExitScheduled, ExitOrderID: "o-9"},
		"EXIT": {Status: schema.StatusExiting, ExitDeadline: now.Add(-time.Hour)},
		"PEND": {Status: schema.StatusPendingSubmit},
		"ORPH": {Status: schema.StatusOrphaned, ExitDeadline: now.Add(-time.Hour)},
	}

	assert.Equal(t, []string{"CRSH", "DUE", "EDGE"}, Due(trades, now))
}

func TestDueOverdueAfterRestart(t *testing.T) {
	// A deadline that passed while the process was down fires on the
	// first tick, not one horizon later.
	now := time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)
	trades := map[string]*schema.TradeRecord{
		"IONX": {Status: schema.StatusOpen, ExitDeadline: now.Add(-3 * time.Hour)},
	}
	assert.Equal(t, []string{"IONX"}, Due(trades, now))
}

func TestDueIdempotentAcrossTicks(t *testing.T) {
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	trades := map[string]*schema.TradeRecord{
		"IONX": {Status: schema.StatusOpen, ExitDeadline: now.Add(-time.Minute)},
	}
	assert.Len(t, Due(trades, now), 1)

	// Once the close order is out, later ticks leave the record alone.
	trades["IONX"].Status = schema.StatusExiting
	trades["IONX"].ExitOrderID = "o-1"
	assert.Empty(t, Due(trades, now.Add(5*time.Second)))
}
