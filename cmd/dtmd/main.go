// Command dtmd runs a long-lived DTM instance: it opens its FOL store,
// discovers peers, serves the one-way notice listener, and
// exposes the read-only introspection HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cortx-motr/dtm/internal/dtm"
	"github.com/cortx-motr/dtm/internal/logger"
	"github.com/cortx-motr/dtm/pkg/dtmapi"
	"github.com/cortx-motr/dtm/pkg/dtmconfig"
	"github.com/cortx-motr/dtm/pkg/dtmfol/badgerfol"
	"github.com/cortx-motr/dtm/pkg/dtmpeers/postgres"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dtmd",
	Short: "Distributed transaction manager daemon",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to dtmd config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := dtmconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("dtmd: load config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return fmt.Errorf("dtmd: init logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := dtm.InitTelemetry(ctx, dtm.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dtmd",
		ServiceVersion: "dev",
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("dtmd: init telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("dtmd: telemetry shutdown", logger.Err(err))
		}
	}()

	profilingShutdown, err := dtm.InitProfiling(dtm.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "dtmd",
		ServiceVersion: "dev",
		Endpoint:       cfg.Profiling.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("dtmd: init profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("dtmd: profiling shutdown", logger.Err(err))
		}
	}()

	instanceID := dtm.NewID()
	if cfg.InstanceID != "" {
		parsed, err := uuid.Parse(cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("dtmd: invalid instance_id %q: %w", cfg.InstanceID, err)
		}
		instanceID = parsed
	}

	d := dtm.NewDTM(instanceID)
	d.RegisterType(dtm.FolHistoryType())
	d.RegisterType(dtm.SlotHistoryType())

	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		d.SetMetrics(dtm.NewMetrics(registry))
	}

	folStore, err := badgerfol.Open(cfg.FOLPath, d.OpenOwned(dtm.KindFOL, dtm.NewID()))
	if err != nil {
		return fmt.Errorf("dtmd: open fol store: %w", err)
	}
	defer folStore.Close()

	peerSource, err := postgres.Open(ctx, cfg.PeersDSN)
	if err != nil {
		return fmt.Errorf("dtmd: connect peer source: %w", err)
	}
	defer peerSource.Close()

	client := dtm.NewClient(d, peerSource, func(p dtm.PeerInfo) dtm.Backend {
		return dtm.NewTCPBackend(p.Addr, 0)
	})
	if err := client.Init(ctx); err != nil {
		return fmt.Errorf("dtmd: init client: %w", err)
	}

	listener := dtm.NewListener(d, client)
	listenerErrCh := make(chan error, 1)
	go func() {
		listenerErrCh <- listener.Serve(ctx, cfg.ListenAddr)
	}()
	defer listener.Stop()

	apiMux := http.NewServeMux()
	apiMux.Handle("/", dtmapi.NewHandler(d).Router())
	if cfg.Metrics.Enabled {
		apiMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: apiMux}
	apiErrCh := make(chan error, 1)
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			apiErrCh <- err
		}
	}()

	logger.Info("dtmd: started", logger.Instance(d.ID()), "notice_addr", cfg.ListenAddr, "api_addr", cfg.APIAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("dtmd: shutdown signal received")
	case err := <-listenerErrCh:
		if err != nil {
			logger.Error("dtmd: notice listener exited", logger.Err(err))
		}
	case err := <-apiErrCh:
		logger.Error("dtmd: api server exited", logger.Err(err))
	}

	cancel()
	_ = apiSrv.Shutdown(context.Background())
	return nil
}
