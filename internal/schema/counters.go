package schema

import "time"

// TradingDayFormat is the stored layout of a trading day.
const TradingDayFormat = "2006-01-02"

// RiskCounters caches the quota state admission checks read. The open
// position count is always derivable from the trade map; the daily trade
// count survives record archival and therefore has to be persisted.
type RiskCounters struct {
	OpenPositions int    `json:"openPositions"`
	TradesToday   int    `json:"tradesToday"`
	TradingDay    string `json:"tradingDay"`
}

// RecomputeCounters rebuilds counters from the authoritative trade map.
// The daily trade count carries over only when prev belongs to the same
// trading day; a rollover resets it.
func RecomputeCounters(trades map[string]*TradeRecord, prev RiskCounters, now time.Time) RiskCounters {
	day := now.Format(TradingDayFormat)
	counters := RiskCounters{TradingDay: day}
	if prev.TradingDay == day {
		counters.TradesToday = prev.TradesToday
	}
	for _, t := range trades {
		if t.Status.CountsAsOpen() {
			counters.OpenPositions++
		}
	}
	return counters
}

// Rollover resets the daily count when the trading day has changed.
func (c RiskCounters) Rollover(now time.Time) RiskCounters {
	day := now.Format(TradingDayFormat)
	if c.TradingDay == day {
		return c
	}
	return RiskCounters{OpenPositions: c.OpenPositions, TradingDay: day}
}
