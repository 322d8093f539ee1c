// Package ops loads the JSON runtime configuration and resolves it into
// the typed configs the components consume. Limits are read once at
// startup; there is no live reload, so risk quotas cannot drift mid-day.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"breakout/internal/broker"
	"breakout/internal/engine"
	"breakout/internal/feed"
	"breakout/internal/reconcile"
	"breakout/internal/risk"
	"breakout/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Feed     FeedConfig     `json:"feed"`
	Risk     risk.Config    `json:"risk"`
	Engine   EngineConfig   `json:"engine"`
	Broker   BrokerConfig   `json:"broker"`
	State    StateConfig    `json:"state"`
	Journal  JournalConfig  `json:"journal"`
	Archive  ArchiveConfig  `json:"archive"`
	Observer ObserverConfig `json:"observer"`
	Profile  ProfileConfig  `json:"profile"`
	Session  engine.Session `json:"session"`
}

// FeedConfig locates the scanner's alert export.
type FeedConfig struct {
	Dir         string `json:"dir"`
	Prefix      string `json:"prefix"`
	Strategy    string `json:"strategy"`
	PollSeconds int    `json:"pollSeconds"`
}

// EngineConfig holds lifecycle timing in operator units.
type EngineConfig struct {
	TimeExitMinutes      int     `json:"timeExitMinutes"`
	ExitTickSeconds      int     `json:"exitTickSeconds"`
	ReconcileMinutes     int     `json:"reconcileMinutes"`
	SubmitTimeoutSeconds int     `json:"submitTimeoutSeconds"`
	StaleSubmitMinutes   int     `json:"staleSubmitMinutes"`
	DedupRetentionDays   int     `json:"dedupRetentionDays"`
	FallbackEquity       float64 `json:"fallbackEquity"`
	FlattenOnExit        bool    `json:"flattenOnExit"`
	QueueDepth           int     `json:"queueDepth"`
}

// BrokerConfig selects the gateway.
type BrokerConfig struct {
	Mode   string              `json:"mode"`
	Alpaca broker.AlpacaConfig `json:"alpaca"`
}

// StateConfig locates the snapshot file.
type StateConfig struct {
	Path    string `json:"path"`
	Backups int    `json:"backups"`
}

// JournalConfig locates the closed-trade log.
type JournalConfig struct {
	Path string `json:"path"`
}

// ArchiveConfig enables the Postgres closed-trade archive.
type ArchiveConfig struct {
	Enabled  bool        `json:"enabled"`
	Postgres conn.Option `json:"postgres"`
}

// ObserverConfig binds the read-only HTTP endpoint.
type ObserverConfig struct {
	Listen string `json:"listen"`
}

// ProfileConfig enables continuous profiling when a server is set.
type ProfileConfig struct {
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Feed      feed.Config
	Risk      risk.Config
	Engine    engine.Config
	Reconcile reconcile.Config
	Broker    BrokerConfig
	State     StateConfig
	Journal   JournalConfig
	Archive   ArchiveConfig
	Observer  ObserverConfig
	Profile   ProfileConfig
}

// Load reads and resolves a JSON config file.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	return Resolve(cfg)
}

// Resolve applies defaults, overlays broker credentials from the
// environment, and validates what cannot be defaulted.
func Resolve(cfg FileConfig) (Loaded, error) {
	out := Loaded{
		Feed: feed.Config{
			Dir:      cfg.Feed.Dir,
			Prefix:   cfg.Feed.Prefix,
			Strategy: cfg.Feed.Strategy,
			Poll:     seconds(cfg.Feed.PollSeconds, 5*time.Second),
		},
		Risk: cfg.Risk,
		Engine: engine.Config{
			Horizon:           minutes(cfg.Engine.TimeExitMinutes, 10*time.Minute),
			ExitTick:          seconds(cfg.Engine.ExitTickSeconds, 5*time.Second),
			ReconcileInterval: minutes(cfg.Engine.ReconcileMinutes, 5*time.Minute),
			SubmitTimeout:     seconds(cfg.Engine.SubmitTimeoutSeconds, 10*time.Second),
			DedupRetention:    days(cfg.Engine.DedupRetentionDays, 7*24*time.Hour),
			FallbackEquity:    cfg.Engine.FallbackEquity,
			FlattenOnExit:     cfg.Engine.FlattenOnExit,
			QueueDepth:        cfg.Engine.QueueDepth,
			Session:           cfg.Session,
		},
		Reconcile: reconcile.Config{
			StaleSubmitAfter: minutes(cfg.Engine.StaleSubmitMinutes, 2*time.Minute),
		},
		Broker:   cfg.Broker,
		State:    cfg.State,
		Journal:  cfg.Journal,
		Archive:  cfg.Archive,
		Observer: cfg.Observer,
		Profile:  cfg.Profile,
	}

	if out.Risk.MaxConcurrentPositions <= 0 {
		out.Risk.MaxConcurrentPositions = 3
	}
	if out.Risk.MaxDailyTrades <= 0 {
		out.Risk.MaxDailyTrades = 30
	}
	if out.Risk.PositionSizePct <= 0 {
		out.Risk.PositionSizePct = 3.0
	}
	if out.Risk.StopLossPct <= 0 {
		out.Risk.StopLossPct = 1.0
	}
	if out.Engine.FallbackEquity <= 0 {
		out.Engine.FallbackEquity = 50000
	}
	if out.State.Path == "" {
		out.State.Path = "data/trading_state.json"
	}
	if out.State.Backups <= 0 {
		out.State.Backups = 3
	}
	if out.Journal.Path == "" {
		out.Journal.Path = "data/closed_trades.jsonl"
	}
	if out.Feed.Dir == "" {
		out.Feed.Dir = "data/alerts"
	}

	switch out.Broker.Mode {
	case "", "sim":
		out.Broker.Mode = "sim"
	case "alpaca":
		if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
			out.Broker.Alpaca.Key = v
		}
		if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
			out.Broker.Alpaca.Secret = v
		}
		if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
			out.Broker.Alpaca.BaseURL = v
		}
		if out.Broker.Alpaca.Key == "" || out.Broker.Alpaca.Secret == "" {
			return Loaded{}, errors.New("alpaca mode requires key and secret")
		}
	default:
		return Loaded{}, errors.Errorf("unknown broker mode: %q", out.Broker.Mode)
	}

	return out, nil
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func minutes(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Minute
}

func days(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * 24 * time.Hour
}
