// Package journal keeps the append-only trade-closed event log the
// dashboard reads, mirrors entries into the optional Postgres archive, and
// tallies daily realized stats.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"breakout/internal/schema"
)

// Stats is the realized result tally for one trading day.
type Stats struct {
	Closed  int     `json:"closed"`
	Wins    int     `json:"wins"`
	PnL     float64 `json:"pnl"`
	WinRate float64 `json:"winRate"`
}

// Writer appends closed trades as JSON lines. Writes to the archive are
// best effort: a down database never blocks a close transition.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	db    *gorm.DB
	daily map[string]Stats
}

// NewWriter opens the journal file for append and migrates the archive
// table when a database is supplied. db may be nil.
func NewWriter(path string, db *gorm.DB) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create journal dir")
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	if db != nil {
		if err := db.AutoMigrate(&schema.ClosedTrade{}); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "migrate archive table")
		}
	}
	return &Writer{f: f, db: db, daily: make(map[string]Stats)}, nil
}

// Record appends one closed trade to the log, the archive, and the tally.
func (w *Writer) Record(ct schema.ClosedTrade) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := json.Marshal(ct)
	if err != nil {
		return errors.Wrap(err, "marshal closed trade")
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "append journal")
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "sync journal")
	}

	if w.db != nil {
		if err := w.db.Create(&ct).Error; err != nil {
			logs.Warnf("archive insert failed, trade=%s, err: %+v", ct.TradeID, err)
		}
	}

	day := ct.ExitTime.Format(schema.TradingDayFormat)
	stats := w.daily[day]
	stats.Closed++
	if ct.PnL > 0 {
		stats.Wins++
	}
	stats.PnL += ct.PnL
	stats.WinRate = float64(stats.Wins) / float64(stats.Closed) * 100
	w.daily[day] = stats
	return nil
}

// Stats returns the tally for the given day. The tally covers trades
// closed since process start; history lives in the archive.
func (w *Writer) Stats(day time.Time) Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.daily[day.Format(schema.TradingDayFormat)]
}

// Close flushes and closes the journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
