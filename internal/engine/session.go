package engine

import (
	"time"

	"github.com/yanun0323/errors"
)

// Session restricts signal admission to exchange hours. Weekends are
// always excluded when the window is enabled.
type Session struct {
	Enabled  bool   `json:"enabled"`
	Open     string `json:"open"`
	Close    string `json:"close"`
	Timezone string `json:"timezone"`
}

type sessionWindow struct {
	loc      *time.Location
	openMin  int
	closeMin int
}

// compile parses the session once at startup; a nil window means no
// gating.
func (s Session) compile() (*sessionWindow, error) {
	if !s.Enabled {
		return nil, nil
	}
	tz := s.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrap(err, "load session timezone")
	}
	openMin, err := parseClock(s.Open, 9*60+30)
	if err != nil {
		return nil, errors.Wrap(err, "parse session open")
	}
	closeMin, err := parseClock(s.Close, 16*60)
	if err != nil {
		return nil, errors.Wrap(err, "parse session close")
	}
	return &sessionWindow{loc: loc, openMin: openMin, closeMin: closeMin}, nil
}

func (w *sessionWindow) contains(t time.Time) bool {
	local := t.In(w.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.openMin && minute < w.closeMin
}

func parseClock(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
