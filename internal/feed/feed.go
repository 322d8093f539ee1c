// Package feed tails the scanner's daily alert export. The export is an
// append-only CSV, one file per day, named
// <prefix>.<strategy>.<YYYYMMDD>.csv. Rows are delivered at least once:
// the read offset is in-memory only, so a restart replays the whole day
// and the engine's fingerprint set absorbs the repeats.
package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"breakout/internal/schema"
)

// Sink receives parsed signals in file order.
type Sink func(ctx context.Context, sig schema.Signal) error

// Config locates and paces the alert export.
type Config struct {
	Dir      string        `json:"dir"`
	Prefix   string        `json:"prefix"`
	Strategy string        `json:"strategy"`
	Poll     time.Duration `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "alertlogging"
	}
	if c.Strategy == "" {
		c.Strategy = "Breaking out on Volume"
	}
	if c.Poll <= 0 {
		c.Poll = 5 * time.Second
	}
	return c
}

// Poller re-reads the current day's file on a fixed cadence and forwards
// rows past the last delivered offset.
type Poller struct {
	cfg  Config
	sink Sink
	now  func() time.Time

	file   string
	offset int
}

// NewPoller builds a poller that forwards rows to sink.
func NewPoller(cfg Config, sink Sink) *Poller {
	return &Poller{cfg: cfg.withDefaults(), sink: sink, now: time.Now}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logs.Warnf("alert poll failed: %+v", err)
			}
		}
	}
}

// dayFile returns the export path for the given day.
func (p *Poller) dayFile(now time.Time) string {
	name := fmt.Sprintf("%s.%s.%s.csv", p.cfg.Prefix, p.cfg.Strategy, now.Format("20060102"))
	return filepath.Join(p.cfg.Dir, name)
}

func (p *Poller) poll(ctx context.Context) error {
	path := p.dayFile(p.now())
	if path != p.file {
		logs.Infof("switching to alert file: %s", filepath.Base(path))
		p.file = path
		p.offset = 0
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Not created until the scanner fires its first alert.
			logs.Debugf("alert file not present yet: %s", filepath.Base(path))
			return nil
		}
		return errors.Wrap(err, "open alert file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read alert header")
	}
	cols := indexColumns(header)

	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A row mid-write is picked up whole on the next pass.
			logs.Debugf("alert row unreadable at %d: %v", row, err)
			return nil
		}
		row++
		if row <= p.offset {
			continue
		}

		sig, ok := p.parseRow(cols, record)
		if ok {
			if err := p.sink(ctx, sig); err != nil {
				return errors.Wrap(err, "deliver signal")
			}
		}
		p.offset = row
	}
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return cols
}

func (p *Poller) parseRow(cols map[string]int, record []string) (schema.Signal, bool) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	symbol := field("Symbol")
	if symbol == "" {
		return schema.Signal{}, false
	}
	price, err := strconv.ParseFloat(field("Price"), 64)
	if err != nil || price <= 0 {
		logs.Debugf("alert without usable price: symbol=%s", symbol)
		return schema.Signal{}, false
	}

	sig := schema.Signal{
		Timestamp:   parseStamp(field("TimeStamp"), p.now()),
		Symbol:      symbol,
		Kind:        field("Type"),
		Description: field("Description"),
		Price:       price,
	}
	if rv, err := strconv.ParseFloat(field("Relative Volume"), 64); err == nil {
		sig.RelativeVolume = rv
	}
	return sig, true
}

// parseStamp accepts the export's M/D/YYYY clock formats and falls back
// to the observation time.
func parseStamp(s string, fallback time.Time) time.Time {
	for _, layout := range []string{"1/2/2006 15:04:05", "1/2/2006 15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return fallback
}
