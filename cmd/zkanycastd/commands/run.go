package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hightoxicity/zkanycastd/internal/bgp"
	"github.com/hightoxicity/zkanycastd/internal/config"
	"github.com/hightoxicity/zkanycastd/internal/controlloop"
	"github.com/hightoxicity/zkanycastd/internal/flags"
	"github.com/hightoxicity/zkanycastd/internal/metrics"
	"github.com/hightoxicity/zkanycastd/internal/probe"
	"github.com/hightoxicity/zkanycastd/internal/routetable"
	"github.com/hightoxicity/zkanycastd/internal/version"
	"github.com/hightoxicity/zkanycastd/internal/zkcoord"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain connections once a shutdown signal arrives.
const shutdownTimeout = 10 * time.Second

// runCmd returns the cobra command that starts the daemon. A bare
// positional argument is accepted as a drop-in for --config,
// mirroring the original single-argument invocation.
func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run [config-path]",
		Short: "Start the anycast health controller",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" && len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("config path is required: pass --config or a positional argument")
			}
			return runDaemon(path)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	return cmd
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", "err", err)
		return err
	}

	logger := newLogger(cfg.Log)
	logger.Info("zkanycastd starting",
		"version", version.Version,
		"zk_hosts", cfg.ZKHosts,
		"service_dir", cfg.ServiceDir(),
		"membership_path", cfg.MembershipPath(),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := flags.New()

	conn, events, err := zkcoord.DialConn(cfg.ZKHosts, cfg.SessionTimeout)
	if err != nil {
		return fmt.Errorf("connect to zookeeper ensemble: %w", err)
	}

	if err := zkcoord.EnsurePath(conn, cfg.ServiceDir()); err != nil {
		return fmt.Errorf("ensure service directory: %w", err)
	}

	emitter := bgp.New(os.Stdout)
	store := routetable.NewStore()

	sup := zkcoord.NewSupervisor(
		conn, events,
		cfg.ServiceDir(), cfg.SrvAuthIP, cfg.SrvNonAuthIPs,
		f, emitter, store, collector, logger,
	)

	logger.Info("checking for stale membership node before startup")
	if err := sup.AwaitStaleNodeGone(ctx); err != nil {
		sup.Stop()
		return fmt.Errorf("await stale node: %w", err)
	}

	watcher := zkcoord.NewWatcher(conn, cfg.ServiceDir(), f, logger)

	healthProbe := probe.New(cfg.LocalCheck, cfg.LocalCheckTimeout, logger)
	loop := controlloop.New(
		f, healthProbe, sup, emitter, store, collector, logger,
		cfg.SrvAuthIP, cfg.SrvNonAuthIPs, cfg.LongSleep, cfg.ShortSleep,
	)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watcher.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		f.ShouldStop.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return loop.Run(gCtx)
	})

	runErr := g.Wait()
	// No withdraw lines are emitted for this node's routes on shutdown:
	// closing the session lets the ensemble delete the membership znode,
	// and peers reconverge from that.
	sup.Stop()

	if runErr != nil {
		logger.Error("zkanycastd exited with error", "err", runErr)
		return runErr
	}
	logger.Info("zkanycastd stopped")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
