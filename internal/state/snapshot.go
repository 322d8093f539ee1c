// Package state persists the engine's authoritative snapshot: the
// processed-alert set, the non-terminal trade map, the risk counters, and
// the last reconciliation time. One document, one writer, atomic replace.
package state

import (
	"time"

	"breakout/internal/dedup"
	"breakout/internal/schema"
)

// Snapshot is the single unit of persistence. Every mutation becomes
// externally visible only after the snapshot write succeeds.
type Snapshot struct {
	Version          int                            `json:"version"`
	SavedAt          time.Time                      `json:"savedAt"`
	ProcessedAlerts  dedup.Set                      `json:"processedAlerts"`
	Trades           map[string]*schema.TradeRecord `json:"trades"`
	Counters         schema.RiskCounters            `json:"counters"`
	LastReconciledAt time.Time                      `json:"lastReconciledAt,omitzero"`
}

// NewSnapshot returns an empty snapshot for a fresh start.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:         schema.SnapshotVersion,
		ProcessedAlerts: make(dedup.Set),
		Trades:          make(map[string]*schema.TradeRecord),
	}
}

// Normalize repairs nil maps and recomputes the cached counters from the
// trade map, so a reloaded snapshot can never carry drifted counters.
func (s *Snapshot) Normalize(now time.Time) {
	if s.ProcessedAlerts == nil {
		s.ProcessedAlerts = make(dedup.Set)
	}
	if s.Trades == nil {
		s.Trades = make(map[string]*schema.TradeRecord)
	}
	s.Counters = schema.RecomputeCounters(s.Trades, s.Counters, now)
}

// Trade returns the record for a symbol, if any.
func (s *Snapshot) Trade(symbol string) (*schema.TradeRecord, bool) {
	t, ok := s.Trades[symbol]
	return t, ok
}
