package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"breakout/internal/broker"
	"breakout/internal/engine"
	"breakout/internal/feed"
	"breakout/internal/journal"
	"breakout/internal/obs"
	"breakout/internal/ops"
	"breakout/internal/risk"
	"breakout/internal/state"
	"breakout/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config/config.json", "Path to JSON config")
	listenOverride := flag.String("listen", "", "Observer listen address (overrides config)")
	flatten := flag.Bool("flatten-on-exit", false, "Close all open positions on shutdown")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %+v", err)
	}
	if *flatten {
		loaded.Engine.FlattenOnExit = true
	}
	if *listenOverride != "" {
		loaded.Observer.Listen = *listenOverride
	}

	if loaded.Profile.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "breakout.trader",
			ServerAddress:   loaded.Profile.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	if err := run(ctx, loaded); err != nil {
		log.Fatalf("trader stopped: %+v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded) error {
	store := state.NewStore(loaded.State.Path, loaded.State.Backups)
	snap, found, err := store.Load()
	if err != nil {
		// A corrupt or unreadable snapshot must stop the process: trading
		// blind against unknown prior state risks duplicate positions.
		return err
	}
	if found {
		logs.Infof("state recovered: trades=%d processed_alerts=%d", len(snap.Trades), len(snap.ProcessedAlerts))
	} else {
		logs.Info("no prior state, starting clean")
		snap = state.NewSnapshot()
	}
	snap.Normalize(time.Now())

	gateway, err := buildGateway(ctx, loaded)
	if err != nil {
		return err
	}
	defer gateway.Close()
	logs.Infof("gateway: %s", gateway.Name())

	var db *gorm.DB
	if loaded.Archive.Enabled {
		pg, err := conn.New(loaded.Archive.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		db = pg.DB()
	}
	jw, err := journal.NewWriter(loaded.Journal.Path, db)
	if err != nil {
		return err
	}
	defer jw.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := obs.NewMetrics(registry)

	eng, err := engine.New(loaded.Engine, snap, engine.Deps{
		Gateway:   gateway,
		Store:     store,
		Risk:      risk.NewEngine(loaded.Risk),
		Reconcile: loaded.Reconcile,
		Journal:   jw,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	poller := feed.NewPoller(loaded.Feed, feed.Sink(eng.OfferSignal))
	go poller.Run(ctx)

	if loaded.Observer.Listen != "" {
		server := obs.NewServer(loaded.Observer.Listen,
			func() any { return eng.View() }, jw.Stats, registry)
		go server.Run(ctx)
	}

	// The engine gets its own context so queued work can drain after the
	// process signal arrives.
	engCtx, engCancel := context.WithCancel(context.Background())
	defer engCancel()
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(engCtx) }()

	select {
	case <-ctx.Done():
		logs.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		eng.Shutdown(shutdownCtx)
		engCancel()
		return <-runDone
	case err := <-runDone:
		return err
	}
}

func buildGateway(ctx context.Context, loaded ops.Loaded) (broker.Gateway, error) {
	switch loaded.Broker.Mode {
	case "alpaca":
		return broker.NewAlpacaGateway(ctx, loaded.Broker.Alpaca), nil
	default:
		return broker.NewSimGateway(loaded.Engine.FallbackEquity), nil
	}
}
