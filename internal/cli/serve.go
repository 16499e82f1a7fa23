package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ratingsync/internal/assetcache"
	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/config"
	"github.com/roach88/ratingsync/internal/connectivity"
	"github.com/roach88/ratingsync/internal/engine"
	"github.com/roach88/ratingsync/internal/identity"
	"github.com/roach88/ratingsync/internal/server"
	"github.com/roach88/ratingsync/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
	Origin string

	// Ready receives the listen address once the server accepts
	// connections (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local agent",
		Long: `Run the local agent next to the browser.

The agent serves the rating form through its asset cache, accepts ratings on
its local API, stores them durably and delivers them to the server whenever
the device is online.

Example:
  ratingsync serve --origin https://ratings.example.com
  ratingsync serve --config /etc/ratingsync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "local listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "origin server URL (overrides config)")

	return cmd
}

func (o *ServeOptions) config() (config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if o.Listen != "" {
		cfg.Listen = o.Listen
	}
	if o.Origin != "" {
		// An API base derived from the old origin follows the new one.
		if cfg.APIBase == apiBaseFor(cfg.Origin) {
			cfg.APIBase = apiBaseFor(o.Origin)
		}
		cfg.Origin = o.Origin
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func apiBaseFor(origin string) string {
	return strings.TrimSuffix(origin, "/") + "/api"
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.setupLogging(cmd)

	cfg, err := opts.config()
	if err != nil {
		return err
	}

	manifest := assetcache.DefaultManifest()
	if cfg.Manifest != "" {
		if manifest, err = assetcache.LoadManifest(cfg.Manifest); err != nil {
			return WrapExitError(ExitCommandError, "failed to load manifest", err)
		}
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ag, err := openAgent(cfg, logger, store.WithNotifier(func() { b.Notify(bus.NewData) }))
	if err != nil {
		return err
	}
	defer ag.Close()
	ag.recover(ctx)

	var coord *connectivity.Coordinator
	client := engine.NewClient(cfg.APIBase, ag.deviceID,
		engine.WithTabletNumber(func() string { return identity.TabletNumber(ag.profile) }))
	eng := engine.New(ag.records, client,
		engine.WithConfig(cfg.Engine()),
		engine.WithBus(b),
		engine.WithOnline(func() bool { return coord.IsOnline() }),
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)))
	coord = connectivity.New(eng,
		connectivity.WithBus(b),
		connectivity.WithProfile(ag.profile),
		connectivity.WithSettleDelay(cfg.Connectivity.SettleDelay),
		connectivity.WithStatusSink(connectivity.NewGauge(reg)),
		connectivity.WithLogger(logger))

	// Without the record store the cache still proxies the origin and falls
	// back to the offline page, but stores nothing.
	primary := ag.records.Primary()
	if primary == nil {
		logger.Error("asset cache running uncached: record store unavailable", "error", ag.records.Degraded())
	}
	cache, err := assetcache.New(primary, cfg.Origin, manifest,
		assetcache.WithBus(b),
		assetcache.WithOnline(coord.IsOnline),
		assetcache.WithLogger(logger),
		assetcache.WithMetrics(assetcache.NewMetrics(reg)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create asset cache", err)
	}
	defer cache.Wait()

	handler := server.New(server.Deps{
		Records:      ag.records,
		Engine:       eng,
		Connectivity: coord,
		Cache:        cache,
		Bus:          b,
		Profile:      ag.profile,
		Gatherer:     reg,
		Logger:       logger,
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return engine.BackgroundSync(gctx, b, cfg.Sync.BackgroundInterval) })
	g.Go(func() error { return coord.Run(gctx) })
	if url := cfg.HealthURL(); url != "" {
		prober := connectivity.NewProber(url, coord,
			connectivity.WithProbeInterval(cfg.Connectivity.ProbeInterval),
			connectivity.WithProbeTimeout(cfg.Connectivity.ProbeTimeout),
			connectivity.WithFailureThreshold(cfg.Connectivity.FailureThreshold),
			connectivity.WithProbeLogger(logger))
		g.Go(func() error { return prober.Run(gctx) })
	}
	if primary != nil {
		g.Go(func() error {
			if err := cache.Start(gctx); err != nil && gctx.Err() == nil {
				logger.Error("asset cache install failed", "error", err)
			}
			return nil
		})
		if cfg.Manifest != "" {
			w, err := assetcache.NewWatcher(cfg.Manifest, cache, 0, logger)
			if err != nil {
				logger.Warn("manifest watch disabled", "error", err)
			} else {
				g.Go(func() error { return w.Run(gctx) })
			}
		}
	}
	g.Go(func() error {
		if _, err := eng.SyncData(gctx); err != nil {
			logger.Error("startup sync failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	logger.Info("agent started",
		"listen", ln.Addr().String(),
		"origin", cfg.Origin,
		"api_base", cfg.APIBase,
		"device_id", ag.deviceID,
		"data_dir", cfg.DataDir)
	fmt.Fprintf(cmd.OutOrStdout(), "Agent listening on http://%s\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "agent error", err)
	}
	logger.Info("agent stopped gracefully")
	return nil
}
