package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/schema"
)

const header = "TimeStamp,Type,Time,Symbol,Description,Price,Relative Volume\n"

func testPoller(t *testing.T, dir string) (*Poller, *[]schema.Signal) {
	t.Helper()
	var got []schema.Signal
	p := NewPoller(
		Config{Dir: dir, Prefix: "alertlogging", Strategy: "Breaking out on Volume"},
		func(_ context.Context, sig schema.Signal) error {
			got = append(got, sig)
			return nil
		},
	)
	p.now = func() time.Time { return time.Date(2025, 7, 1, 10, 0, 0, 0, time.Local) }
	return p, &got
}

func writeAlerts(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "alertlogging.Breaking out on Volume.20250701.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPollParsesRows(t *testing.T) {
	dir := t.TempDir()
	writeAlerts(t, dir, header+
		`7/1/2025 9:31,NHP,1.75E+09,IONX,New High: +0.01. Next resistance 74.6452 from 6/11/2025.,70.8,2.568092`+"\n")

	p, got := testPoller(t, dir)
	require.NoError(t, p.poll(context.Background()))

	require.Len(t, *got, 1)
	sig := (*got)[0]
	assert.Equal(t, "IONX", sig.Symbol)
	assert.Equal(t, "NHP", sig.Kind)
	assert.InDelta(t, 70.8, sig.Price, 1e-9)
	assert.InDelta(t, 2.568092, sig.RelativeVolume, 1e-9)
	assert.Equal(t, time.Date(2025, 7, 1, 9, 31, 0, 0, time.Local), sig.Timestamp)
}

func TestPollDeliversOnlyNewRows(t *testing.T) {
	dir := t.TempDir()
	path := writeAlerts(t, dir, header+"7/1/2025 9:31,NHP,0,AAA,d,10.0,1.0\n")

	p, got := testPoller(t, dir)
	require.NoError(t, p.poll(context.Background()))
	require.Len(t, *got, 1)

	// Re-polling an unchanged file delivers nothing.
	require.NoError(t, p.poll(context.Background()))
	require.Len(t, *got, 1)

	// Appended rows are picked up from the offset.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("7/1/2025 9:32,NHP,0,BBB,d,11.0,1.2\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, p.poll(context.Background()))
	require.Len(t, *got, 2)
	assert.Equal(t, "BBB", (*got)[1].Symbol)
}

func TestPollMissingFileIsNotAnError(t *testing.T) {
	p, got := testPoller(t, t.TempDir())
	require.NoError(t, p.poll(context.Background()))
	assert.Empty(t, *got)
}

func TestPollSkipsUnusableRows(t *testing.T) {
	dir := t.TempDir()
	writeAlerts(t, dir, header+
		"7/1/2025 9:31,NHP,0,,no symbol,10.0,1.0\n"+
		"7/1/2025 9:31,NHP,0,AAA,bad price,not-a-number,1.0\n"+
		"7/1/2025 9:32,NHP,0,BBB,good,12.5,1.0\n")

	p, got := testPoller(t, dir)
	require.NoError(t, p.poll(context.Background()))
	require.Len(t, *got, 1)
	assert.Equal(t, "BBB", (*got)[0].Symbol)
}

func TestPollSwitchesFileOnNewDay(t *testing.T) {
	dir := t.TempDir()
	writeAlerts(t, dir, header+"7/1/2025 9:31,NHP,0,AAA,d,10.0,1.0\n")
	nextDay := filepath.Join(dir, "alertlogging.Breaking out on Volume.20250702.csv")
	require.NoError(t, os.WriteFile(nextDay, []byte(header+"7/2/2025 9:31,NHP,0,CCC,d,20.0,1.0\n"), 0o644))

	p, got := testPoller(t, dir)
	require.NoError(t, p.poll(context.Background()))
	require.Len(t, *got, 1)

	p.now = func() time.Time { return time.Date(2025, 7, 2, 10, 0, 0, 0, time.Local) }
	require.NoError(t, p.poll(context.Background()))
	require.Len(t, *got, 2)
	assert.Equal(t, "CCC", (*got)[1].Symbol)
}

func TestPollOffsetResetsWithReplay(t *testing.T) {
	// A fresh poller re-reads the whole day: at-least-once, with dedup
	// downstream.
	dir := t.TempDir()
	writeAlerts(t, dir, header+
		"7/1/2025 9:31,NHP,0,AAA,d,10.0,1.0\n"+
		"7/1/2025 9:32,NHP,0,BBB,d,11.0,1.0\n")

	p1, got1 := testPoller(t, dir)
	require.NoError(t, p1.poll(context.Background()))
	require.Len(t, *got1, 2)

	p2, got2 := testPoller(t, dir)
	require.NoError(t, p2.poll(context.Background()))
	require.Len(t, *got2, 2)
}

func TestDayFileName(t *testing.T) {
	p := NewPoller(Config{Dir: "/data/alerts"}, nil)
	name := p.dayFile(time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC))
	assert.Equal(t,
		filepath.Join("/data/alerts", fmt.Sprintf("alertlogging.Breaking out on Volume.%s.csv", "20250804")),
		name)
}
