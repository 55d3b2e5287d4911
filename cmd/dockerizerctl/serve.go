package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dockerizer/pkg/containerizer"
	"github.com/cuemby/dockerizer/pkg/dockerclient"
	"github.com/cuemby/dockerizer/pkg/fetcher"
	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/reaper"
	"github.com/cuemby/dockerizer/pkg/recoverjournal"
	"github.com/cuemby/dockerizer/pkg/rpc"
	"github.com/cuemby/dockerizer/pkg/usage"
)

// reaperPollInterval is how often the polling reaper signal-0s a forked
// executor's pid to detect its exit; no flag exposes this, matching the
// teacher's pattern of only surfacing genuinely operator-relevant knobs.
const reaperPollInterval = 500 * time.Millisecond

// healthCheckInterval is how often the docker and recoverjournal health
// watchers re-probe; independent of reaperPollInterval since it covers a
// much cheaper, much less time-sensitive check.
const healthCheckInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the containerizer's command loop, metrics server, and control socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	logger := log.WithComponent("dockerizerctl")

	journal, err := recoverjournal.Open(cfg.Containerizer.WorkDir)
	if err != nil {
		return fmt.Errorf("open recovery journal: %w", err)
	}
	defer journal.Close()

	docker := dockerclient.New(cfg.Containerizer.Docker)
	f := fetcher.New()
	r := reaper.New(reaperPollInterval)

	engine := containerizer.New(cfg.Containerizer, docker, f, r, journal)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go engine.Run(ctx)

	metrics.WatchComponent(ctx, "docker", healthCheckInterval, func(checkCtx context.Context) error {
		_, err := docker.Ps(checkCtx, "")
		return err
	})
	metrics.WatchComponent(ctx, "recoverjournal", healthCheckInterval, func(context.Context) error {
		_, err := journal.All()
		return err
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("serving metrics and health endpoints")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	socketPath := socketFlag(cmd.Flags())
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	usageHelperPath, _ := cmd.Flags().GetString("usage-helper")
	server := &rpc.Server{Engine: engine, UsageHelper: usage.NewHelperCommand(usageHelperPath)}

	logger.Info().Str("socket", socketPath).Msg("serving control socket")
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ctx, ln) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		_ = metricsSrv.Close()
		return nil
	case err := <-errCh:
		return err
	}
}
