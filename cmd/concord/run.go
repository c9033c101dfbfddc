package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"concord/internal/agent"
	"concord/internal/authority"
	"concord/internal/contextstate"
	"concord/internal/messaging"
	"concord/internal/orchestrator"
	"concord/internal/registry"
	"concord/internal/telemetry"
)

var watchDir string

// runCmd starts the platform and blocks until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the coordination platform",
	Long: `Starts the context state manager, the message router, the agent
registry with the built-in agent set, and the workflow orchestrator.
With metrics enabled in the config, a Prometheus /metrics endpoint is
served as well. Runs until SIGINT or SIGTERM.`,
	RunE: runPlatform,
}

func init() {
	runCmd.Flags().StringVar(&watchDir, "watch-dir", "", "directory to watch for workflow YAML files (overrides config)")
}

func runPlatform(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := messaging.NewRouter(logger, messaging.WithQueueBound(cfg.Messaging.QueueBound))
	csm := contextstate.NewManager(logger,
		contextstate.WithCacheTTL(cfg.GetCacheTTL()),
		contextstate.WithAuthority(authority.NewDefaultMatrix()))
	defer csm.Close()

	reg := registry.New(router, logger)
	defer reg.Close()
	orch := orchestrator.New(reg, logger,
		orchestrator.WithTickInterval(cfg.GetTickInterval()))

	var agents []*agent.ContextAware
	if cfg.Registry.DemoAgents {
		agents = []*agent.ContextAware{
			agent.NewQAAgent("qa-engineer-1", csm, logger),
			agent.NewArchitectAgent("system-architect-1", csm, logger),
			agent.NewDeveloperAgent("backend-developer-1", csm, logger),
			agent.NewDeveloperAgent("backend-developer-2", csm, logger),
		}
		for _, a := range agents {
			if err := reg.Register(a); err != nil {
				return err
			}
		}
		defer func() {
			for _, a := range agents {
				_ = reg.Unregister(a.ID())
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	// Each agent keeps its own heartbeat going so the health checks
	// never mark an idle agent stale.
	for _, a := range agents {
		a := a
		g.Go(func() error {
			a.RunHeartbeats(gctx, router, registry.RouterID, cfg.GetHeartbeatInterval())
			return nil
		})
	}
	g.Go(func() error {
		csm.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reg.RunHealthChecks(gctx)
		return nil
	})
	g.Go(func() error {
		orch.Run(gctx)
		return nil
	})

	dir := watchDir
	if dir == "" {
		dir = cfg.Orchestrator.WatchDir
	}
	if dir != "" {
		g.Go(func() error {
			return orch.WatchDirectory(gctx, dir)
		})
		logger.Info("watching for workflow definitions", zap.String("dir", dir))
	}

	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		if err := telemetry.Register(promReg, csm, reg, orch, router); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}

		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("concord running", zap.String("name", cfg.Name))
	return g.Wait()
}
