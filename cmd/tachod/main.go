// tachod is the wheel tachometer daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tacho/internal/loader"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/meter"
	"github.com/xtxerr/tacho/internal/metrics"
	"github.com/xtxerr/tacho/internal/pulse"
	"github.com/xtxerr/tacho/internal/reporter"
	"github.com/xtxerr/tacho/internal/server"
	"github.com/xtxerr/tacho/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

// rideHoursPerDay sizes the storage estimate logged at startup.
const rideHoursPerDay = 2

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	feedListen := flag.String("listen", "", "feed listen address (overrides config)")
	metricsListen := flag.String("metrics", "", "metrics listen address (overrides config)")
	dataDir := flag.String("data", "", "ride log directory (overrides config)")
	sourceType := flag.String("source", "", "pulse source: simulate, lines, snmp (overrides config)")
	linesPath := flag.String("lines", "", "pulse file for the lines source, - for stdin")
	speed := flag.Float64("speed", 0, "simulated speed in km/h (overrides config)")
	ride := flag.String("ride", "", "ride name (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	noStorage := flag.Bool("no-storage", false, "disable the ride log")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Printf("tachod %s starting...", Version)

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("No config file found, using defaults")
			cfg = loader.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *feedListen != "" {
		cfg.Feed.Listen = *feedListen
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *sourceType != "" {
		cfg.Source.Type = *sourceType
	}
	if *linesPath != "" {
		cfg.Source.Lines.Path = *linesPath
	}
	if *speed > 0 {
		cfg.Source.Simulate.SpeedKmh = *speed
	}
	if *ride != "" {
		cfg.Reporter.Ride = *ride
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *noStorage {
		cfg.Storage.Enabled = false
	}

	if err := loader.Validate(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logging.Init(level, cfg.Log.Format == "json")

	if err := run(cfg); err != nil {
		logging.Error("tachod failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *loader.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reporter.Ride == "" {
		cfg.Reporter.Ride = time.Now().Format("2006-01-02T15-04-05")
	}
	ctx = logging.ContextWithRide(ctx, cfg.Reporter.Ride)

	// =========================================================================
	// Meter and Pulse Source
	// =========================================================================

	wheel, err := loader.ToTachometerConfig(&cfg.Wheel)
	if err != nil {
		return err
	}

	var opts []meter.Option
	if cfg.Wheel.StrictOrdering {
		opts = append(opts, meter.WithStrictOrdering())
	}
	m, err := meter.New(wheel, opts...)
	if err != nil {
		return fmt.Errorf("create meter: %w", err)
	}

	clock := pulse.NewMonotonicClock(wheel.TimeUnit)

	src, err := pulse.NewSource(&cfg.Source, wheel, clock)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	debouncer := pulse.NewDebouncer(m, m.Ticks(cfg.Source.Debounce.Duration()))

	logging.Info("meter ready",
		"tire_circumference_m", wheel.Tire.Circumference().Meters(),
		"pointers_per_wheel", wheel.PointersPerWheel,
		"gear_ratio", wheel.GearRatio,
		"capacity", wheel.Capacity,
		"source", src.Name(),
		"debounce", cfg.Source.Debounce.Duration())

	// =========================================================================
	// Reporter and Sinks
	// =========================================================================

	rep, err := reporter.New(reporter.Config{
		Window:  cfg.Reporter.Window.Duration(),
		Refresh: cfg.Reporter.Refresh.Duration(),
		Ride:    cfg.Reporter.Ride,
		Source:  src.Name(),
	}, m, clock, reporter.NewLogSink(slog.LevelInfo))
	if err != nil {
		return fmt.Errorf("create reporter: %w", err)
	}

	var store *storage.Service
	if cfg.Storage.Enabled {
		storageCfg := loader.ToStorageConfig(&cfg.Storage, cfg.Reporter.Ride)

		store, err = storage.New(storageCfg)
		if err != nil {
			return fmt.Errorf("create storage: %w", err)
		}
		if err := store.Start(); err != nil {
			return fmt.Errorf("start storage: %w", err)
		}
		defer stopStorage(store, cfg.Shutdown.DrainTimeout.Duration())

		req := storageCfg.CalculateRequirements(cfg.Reporter.Refresh.Duration(), rideHoursPerDay)
		logging.Info("storage started", "data_dir", cfg.Storage.DataDir, "retention", cfg.Storage.Retention.Duration())
		logging.Debug("storage requirements\n" + req.FormatRequirements())
		rep.AddSink(store)
	} else {
		logging.Info("storage disabled")
	}

	var feed *server.Server
	if cfg.Feed.Enabled {
		feed = server.New(server.Config{
			Listen:         cfg.Feed.Listen,
			MaxMessageSize: int(cfg.Feed.MaxMessageSize.Bytes()),
			SendBufferSize: cfg.Feed.SendBufferSize,
		}, m, clock)
		if err := feed.Listen(); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		rep.AddSink(feed)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		reg := metrics.New()
		if err := registerMetrics(reg, m, debouncer, rep, feed, store); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		rep.AddSink(reg)

		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           reg.Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// =========================================================================
	// Run
	// =========================================================================

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sctx := logging.ContextWithSource(gctx, src.Name())
		if err := src.Run(sctx, debouncer); err != nil {
			return fmt.Errorf("source %s: %w", src.Name(), err)
		}
		if gctx.Err() == nil {
			logging.WithContext(sctx).Info("pulse source finished")
		}
		return nil
	})

	g.Go(func() error {
		return rep.Run(gctx)
	})

	if feed != nil {
		g.Go(func() error {
			return feed.Run(gctx)
		})
	}

	if metricsSrv != nil {
		g.Go(func() error {
			logging.Info("metrics listening", "address", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	logging.Info("tachod running", "ride", cfg.Reporter.Ride, "sinks", rep.Sinks())

	err = g.Wait()
	logging.Info("shutting down")

	// Final reading so the ride log ends on the last pulse
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout.Duration())
	defer cancel()
	rep.Tick(drainCtx)

	if total := m.TotalDistance(); total.Meters() > 0 {
		logging.Info("ride finished", "ride", cfg.Reporter.Ride, "distance_m", total.Meters())
	}
	return err
}

// stopStorage flushes and stops the ride log, giving up after timeout.
func stopStorage(store *storage.Service, timeout time.Duration) {
	done := make(chan error, 1)
	go func() {
		done <- store.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			logging.Warn("storage stop", "error", err)
			return
		}
		logging.Info("storage stopped")
	case <-time.After(timeout):
		logging.Warn("storage stop timed out", "timeout", timeout)
	}
}

// statFunc is one component statistic exposed on /metrics.
type statFunc struct {
	subsystem, name, help string
	fn                    func() float64
}

// registerMetrics exposes component statistics on the registry. feed and
// store may be nil.
func registerMetrics(reg *metrics.Registry, m *meter.Meter, d *pulse.Debouncer, rep *reporter.Reporter, feed *server.Server, store *storage.Service) error {
	counters := []statFunc{
		{"meter", "pulses_total", "Trigger timestamps inserted into the meter.",
			func() float64 { return float64(m.Stats().PulsesInserted) }},
		{"meter", "pulses_out_of_order_total", "Trigger timestamps older than the previous one.",
			func() float64 { return float64(m.Stats().PulsesOutOfOrder) }},
		{"meter", "pulses_rejected_total", "Trigger timestamps dropped by strict ordering.",
			func() float64 { return float64(m.Stats().PulsesRejected) }},
		{"meter", "queries_rejected_total", "Window queries rejected for an invalid threshold.",
			func() float64 { return float64(m.Stats().QueriesRejected) }},
		{"source", "pulses_debounced_total", "Pulses rejected as contact bounce.",
			func() float64 { return float64(d.Stats().Rejected) }},
		{"reporter", "ticks_total", "Reporter refresh ticks.",
			func() float64 { return float64(rep.Stats().Ticks) }},
		{"reporter", "read_errors_total", "Meter reads that failed.",
			func() float64 { return float64(rep.Stats().ReadErrors) }},
		{"reporter", "sink_errors_total", "Readings a sink failed to publish.",
			func() float64 { return float64(rep.Stats().SinkErrors) }},
	}
	var gauges []statFunc

	if feed != nil {
		counters = append(counters,
			statFunc{"feed", "connections_total", "Feed connections accepted.",
				func() float64 { return float64(feed.Stats().ConnectionsTotal) }},
			statFunc{"feed", "events_dropped_total", "Readings dropped for slow subscribers.",
				func() float64 { return float64(feed.Stats().EventsDropped) }},
		)
		gauges = append(gauges, statFunc{"feed", "subscribers", "Connected feed subscribers.",
			func() float64 { return float64(feed.Stats().Subscribers) }})
	}

	if store != nil {
		counters = append(counters,
			statFunc{"storage", "readings_written_total", "Readings written to the ride log.",
				func() float64 { return float64(store.Stats().Ingestion.ReadingsWritten) }},
			statFunc{"storage", "readings_dropped_total", "Readings dropped by the ride log.",
				func() float64 { return float64(store.Stats().Ingestion.ReadingsDropped) }},
		)
		gauges = append(gauges, statFunc{"storage", "pending_ratio", "Fill ratio of the unflushed reading buffer.",
			func() float64 { return store.Stats().Ingestion.PendingUsage }})
	}

	for _, c := range counters {
		if err := reg.CounterFunc(c.subsystem, c.name, c.help, c.fn); err != nil {
			return err
		}
	}
	for _, g := range gauges {
		if err := reg.GaugeFunc(g.subsystem, g.name, g.help, g.fn); err != nil {
			return err
		}
	}
	return nil
}
