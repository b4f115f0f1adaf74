package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/config"
	"github.com/dbehnke/ysf-nexus/pkg/database"
	"github.com/dbehnke/ysf-nexus/pkg/logger"
	"github.com/dbehnke/ysf-nexus/pkg/metrics"
	"github.com/dbehnke/ysf-nexus/pkg/reflector"
	"github.com/dbehnke/ysf-nexus/pkg/scheduler"
	"github.com/dbehnke/ysf-nexus/pkg/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("YSF-Nexus %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
	})

	// Validate only mode
	if *validate {
		log.Info("Configuration is valid")
		os.Exit(0)
	}

	log.Info("Starting YSF-Nexus",
		logger.String("version", version),
		logger.String("build_time", buildTime),
		logger.String("config_file", *configFile))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)

	var wg sync.WaitGroup

	// Metrics collector shared by the reflector and the exposition server
	metricsCollector := metrics.NewCollector()

	// Start Prometheus metrics server if enabled
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsServer := metrics.NewPrometheusServer(
				metrics.PrometheusConfig{
					Enabled: cfg.Metrics.Prometheus.Enabled,
					Port:    cfg.Metrics.Prometheus.Port,
					Path:    cfg.Metrics.Prometheus.Path,
				},
				metricsCollector,
				log,
			)
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Prometheus metrics server error", logger.Error(err))
			}
		}()
	}

	// Persistence for the transmission log and gateway directory
	var (
		db     *database.DB
		txRepo *database.TransmissionRepository
		gwRepo *database.GatewayRepository
	)
	var writer *dbWriter
	if cfg.Database.Enabled {
		db, err = database.NewDB(database.Config{Path: cfg.Database.Path}, log.WithComponent("database"))
		if err != nil {
			log.Error("Failed to open database", logger.Error(err))
			os.Exit(1)
		}
		txRepo = database.NewTransmissionRepository(db.GetDB())
		gwRepo = database.NewGatewayRepository(db.GetDB())

		writer = newDBWriter(log.WithComponent("database"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.run(ctx)
		}()
	}

	// Housekeeping scheduler shared with the reflector
	tasks := scheduler.New(cfg.Limits.MaxTasks, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tasks.Run(ctx)
	}()

	// The reflector core
	srv := reflector.NewServer(cfg, log).
		WithCollector(metricsCollector).
		WithScheduler(tasks)

	// Web dashboard fed by reflector snapshots
	var hub *web.WebSocketHub
	if cfg.Web.Enabled {
		webServer := web.NewServer(cfg.Web, webProviders(srv, txRepo), log.WithComponent("web"))
		hub = webServer.GetHub()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Web server error", logger.Error(err))
			}
		}()
	}

	srv.SetHooks(reflectorHooks(hub, writer, txRepo, gwRepo, log))

	// Resource monitor sheds idle load under memory pressure
	if cfg.Resource.Enabled {
		monitor := reflector.NewMonitor(cfg.Resource, srv, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Run(ctx)
		}()
	}

	// Run the reflector itself
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			log.Error("Reflector error", logger.Error(err))
			cancel()
		}
	}()

	// Prune old transmission records once a day
	if txRepo != nil {
		if err := tasks.Add("prune-transmissions", 24*time.Hour, time.Minute, func(context.Context) error {
			deleted, err := txRepo.DeleteOlderThan(time.Now().AddDate(0, 0, -30))
			if deleted > 0 {
				log.Info("Pruned old transmissions", logger.Int("deleted", int(deleted)))
			}
			return err
		}); err != nil {
			log.Warn("Failed to schedule transmission pruning", logger.Error(err))
		}
	}

	// Wait for shutdown, reloading ACLs on SIGHUP
	for {
		select {
		case <-hupChan:
			log.Info("Received SIGHUP, reloading access lists")
			_ = srv.ReloadLists()
			continue
		case sig := <-sigChan:
			log.Info("Received shutdown signal",
				logger.String("signal", sig.String()))
		case <-ctx.Done():
		}
		break
	}

	cancel()
	wg.Wait()

	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn("Database close error", logger.Error(err))
		}
	}

	log.Info("YSF-Nexus stopped")
}

// webProviders wires reflector state into the dashboard API
func webProviders(srv *reflector.Server, txRepo *database.TransmissionRepository) web.Providers {
	return web.Providers{
		Status: func() map[string]interface{} {
			queueLen, queueDrops := srv.QueueDepth()
			return map[string]interface{}{
				"version":       version,
				"clients":       srv.Registry().Count(),
				"streams":       srv.Streams().Count(),
				"queue_length":  queueLen,
				"queue_dropped": queueDrops,
			}
		},
		Clients: func() []web.ClientInfo {
			all := srv.Registry().All()
			out := make([]web.ClientInfo, 0, len(all))
			for _, c := range all {
				out = append(out, web.ClientInfo{
					Callsign:  c.Callsign,
					Address:   c.Key(),
					TalkGroup: c.TalkGroup(),
					State:     c.State().String(),
					LastHeard: c.LastHeard(),
				})
			}
			return out
		},
		Streams: func() []web.StreamInfo {
			all := srv.Streams().All()
			out := make([]web.StreamInfo, 0, len(all))
			for _, st := range all {
				out = append(out, web.StreamInfo{
					TalkGroup: st.TalkGroup,
					Gateway:   st.Gateway,
					Source:    st.Source,
					StartedAt: st.StartedAt,
					Frames:    st.Frames(),
				})
			}
			return out
		},
		Transmissions: func(limit int) []web.TransmissionInfo {
			if txRepo == nil {
				return nil
			}
			records, err := txRepo.GetRecent(limit)
			if err != nil {
				return nil
			}
			out := make([]web.TransmissionInfo, 0, len(records))
			for _, rec := range records {
				out = append(out, web.TransmissionInfo{
					Gateway:   rec.Gateway,
					Source:    rec.Source,
					TalkGroup: rec.TalkGroup,
					Duration:  rec.Duration,
					EndReason: rec.EndReason,
					StartTime: rec.StartTime,
				})
			}
			return out
		},
	}
}

// dbWriter serializes database writes on its own goroutine so a slow
// sqlite write never runs inside a reflector hook.
type dbWriter struct {
	ops chan func()
	log *logger.Logger
}

func newDBWriter(log *logger.Logger) *dbWriter {
	return &dbWriter{
		ops: make(chan func(), 256),
		log: log,
	}
}

// run executes queued writes until ctx is cancelled, then drains what is
// already queued before returning
func (w *dbWriter) run(ctx context.Context) {
	for {
		select {
		case op := <-w.ops:
			op()
		case <-ctx.Done():
			for {
				select {
				case op := <-w.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// enqueue hands a write to the writer goroutine without blocking. A full
// queue drops the record and logs it.
func (w *dbWriter) enqueue(op func()) {
	select {
	case w.ops <- op:
	default:
		w.log.Warn("Database write queue full, dropping record")
	}
}

// reflectorHooks fans reflector events out to the dashboard and the database
func reflectorHooks(hub *web.WebSocketHub, writer *dbWriter, txRepo *database.TransmissionRepository, gwRepo *database.GatewayRepository, log *logger.Logger) reflector.Hooks {
	return reflector.Hooks{
		ClientConnected: func(callsign, addr string) {
			if hub != nil {
				hub.BroadcastClientConnected(callsign, addr)
			}
			if writer != nil && gwRepo != nil {
				seen := time.Now()
				writer.enqueue(func() {
					if err := gwRepo.RecordSeen(callsign, addr, seen); err != nil {
						log.Warn("Failed to record gateway", logger.Error(err))
					}
				})
			}
		},
		ClientDisconnected: func(callsign, addr string) {
			if hub != nil {
				hub.BroadcastClientDisconnected(callsign, addr)
			}
		},
		StreamStarted: func(tg uint8, gateway, source string) {
			if hub != nil {
				hub.BroadcastStreamStarted(tg, gateway, source)
			}
		},
		StreamEnded: func(rec reflector.StreamRecord) {
			duration := rec.EndedAt.Sub(rec.StartedAt).Seconds()
			if hub != nil {
				hub.BroadcastStreamEnded(rec.TalkGroup, rec.Gateway, duration, rec.Reason)
			}
			if writer != nil && txRepo != nil {
				writer.enqueue(func() {
					if err := txRepo.Create(&database.Transmission{
						Gateway:   rec.Gateway,
						Source:    rec.Source,
						TalkGroup: rec.TalkGroup,
						Duration:  duration,
						Frames:    rec.Frames,
						EndReason: rec.Reason,
						StartTime: rec.StartedAt,
						EndTime:   rec.EndedAt,
					}); err != nil {
						log.Warn("Failed to record transmission", logger.Error(err))
					}
				})
			}
		},
	}
}
