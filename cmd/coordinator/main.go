// Package main implements the geocache coordinator: the control plane that
// tracks where every cached entry lives, schedules query jobs onto cache
// nodes, answers client queries with a delivery handle, and periodically
// rebalances entries across the cluster.
//
// The coordinator speaks two TCP roles over plain framed connections
// (internal/protocol), never HTTP, for anything on the query path:
//   - control: one persistent, multiplexed connection per node, carrying
//     HELLO/WELCOME, CREATE/PUZZLE/DELIVER job commands and their replies,
//     REORG/REORG_DONE, STATS_REQUEST/STATS.
//   - client: one connection per QUERY, answered with DELIVERY or ERROR.
//
// A small HTTP surface (/healthz, /nodes, /metrics) is kept alongside for
// operational visibility, in the teacher's admin-endpoint style.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/config"
	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/metrics"
	"github.com/dreamware/geocache/internal/placement"
	"github.com/dreamware/geocache/internal/querymgr"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "geocache coordinator: index, query scheduler, and reorg driver",
		RunE:  run,
	}
	root.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.Flags().String("control-addr", "", "control listen address (overrides config)")
	root.Flags().String("client-addr", "", "client listen address (overrides config)")
	root.Flags().String("admin-addr", "", "admin HTTP listen address (overrides config)")
	root.Flags().String("reorg-strategy", "", "capacity, geographic, or graph (overrides config)")
	viper.BindPFlag("control_addr", root.Flags().Lookup("control-addr"))
	viper.BindPFlag("client_addr", root.Flags().Lookup("client-addr"))
	viper.BindPFlag("admin_addr", root.Flags().Lookup("admin-addr"))
	viper.BindPFlag("reorg_strategy", root.Flags().Lookup("reorg-strategy"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadCoordinatorConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	strategy, err := placement.NewReorgStrategy(cfg.ReorgStrategy)
	if err != nil {
		return err
	}
	relevance, err := placement.NewRelevanceFunction(cfg.RelevanceFunction)
	if err != nil {
		return err
	}

	mx := metrics.NewCoordinator()
	directory := index.NewDirectory()

	srv := newServer(cfg, directory, strategy, relevance, mx, logger)
	srv.manager = querymgr.NewManager(directory, srv, strategy, cfg.FinishedGrace)
	go srv.manager.Run()
	defer srv.manager.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.startControlListener(ctx, cfg.ControlAddr); err != nil {
		return fmt.Errorf("control listener: %w", err)
	}
	if err := srv.startClientListener(ctx, cfg.ClientAddr); err != nil {
		return fmt.Errorf("client listener: %w", err)
	}

	go srv.runReorgLoop(ctx, cfg.ReorgInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/nodes", srv.handleListNodes)
	mux.Handle("/metrics", promhttp.Handler())
	admin := &http.Server{Addr: cfg.AdminAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("admin http listening", zap.String("addr", cfg.AdminAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin http", zap.Error(err))
		}
	}()

	logger.Info("coordinator started",
		zap.String("control_addr", cfg.ControlAddr),
		zap.String("client_addr", cfg.ClientAddr),
		zap.String("reorg_strategy", cfg.ReorgStrategy),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("coordinator shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	admin.Shutdown(shutdownCtx)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}
