// statecheck verifies a state snapshot offline and prints what the engine
// would recover: trade records by status, counters, and dedup retention.
// Run it against the live file or a rolled backup before restarting after
// an incident.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"breakout/internal/schema"
	"breakout/internal/state"
)

func main() {
	path := flag.String("state", "data/trading_state.json", "Snapshot file to verify")
	flag.Parse()

	store := state.NewStore(*path, 0)
	snap, found, err := store.Load()
	if err != nil {
		log.Fatalf("snapshot verification failed: %+v", err)
	}
	if !found {
		fmt.Printf("%s: no snapshot\n", *path)
		os.Exit(1)
	}

	fmt.Printf("%s: ok\n", *path)
	fmt.Printf("  version:          %d\n", snap.Version)
	fmt.Printf("  saved at:         %s\n", snap.SavedAt.Format(time.RFC3339))
	fmt.Printf("  processed alerts: %d\n", len(snap.ProcessedAlerts))
	fmt.Printf("  trading day:      %s (trades today: %d)\n", snap.Counters.TradingDay, snap.Counters.TradesToday)
	if !snap.LastReconciledAt.IsZero() {
		fmt.Printf("  last reconciled:  %s\n", snap.LastReconciledAt.Format(time.RFC3339))
	}

	byStatus := make(map[schema.TradeStatus][]string)
	for symbol, rec := range snap.Trades {
		byStatus[rec.Status] = append(byStatus[rec.Status], symbol)
	}
	fmt.Printf("  trade records:    %d\n", len(snap.Trades))
	for _, status := range []schema.TradeStatus{
		schema.StatusPendingSubmit,
		schema.StatusSubmitted,
		schema.StatusOpen,
		schema.StatusExitScheduled,
		schema.StatusExiting,
		schema.StatusOrphaned,
	} {
		symbols := byStatus[status]
		if len(symbols) == 0 {
			continue
		}
		sort.Strings(symbols)
		fmt.Printf("    %-15s %v\n", status, symbols)
	}

	for _, symbol := range sortedSymbols(snap.Trades) {
		rec := snap.Trades[symbol]
		if rec.Status == schema.StatusOrphaned {
			fmt.Printf("  ATTENTION %s: orphaned (%s), requires operator resolution\n", symbol, rec.OrphanReason)
		}
	}
}

func sortedSymbols(trades map[string]*schema.TradeRecord) []string {
	out := make([]string, 0, len(trades))
	for symbol := range trades {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
