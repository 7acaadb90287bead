// Package main implements a geocache cache node: the process that holds
// typed cache entries in memory, executes CREATE/PUZZLE/DELIVER job
// commands the coordinator schedules onto it, serves reserved payloads
// over its delivery port, and carries out the moves a REORG instructs.
//
// A node speaks two TCP roles (internal/protocol): a single persistent
// control connection it dials to the coordinator at startup, multiplexing
// job commands, reorg instructions, and stats in both directions; and a
// delivery listener answering one-shot GET/GET_CACHED/MOVE_ITEM requests
// from clients and peer nodes. A small HTTP surface (/healthz, /metrics)
// rounds it out for operational visibility.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/config"
	"github.com/dreamware/geocache/internal/delivery"
	"github.com/dreamware/geocache/internal/metrics"
	"github.com/dreamware/geocache/internal/placement"
	"github.com/dreamware/geocache/internal/producer"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/store"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "node",
		Short: "geocache cache node: local store, job worker pool, and delivery service",
		RunE:  run,
	}
	root.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.Flags().String("node-name", "", "node name (overrides config)")
	root.Flags().String("coordinator-addr", "", "coordinator control address (overrides config)")
	root.Flags().String("delivery-addr", "", "delivery listen address (overrides config)")
	root.Flags().String("admin-addr", "", "admin HTTP listen address (overrides config)")
	viper.BindPFlag("node_name", root.Flags().Lookup("node-name"))
	viper.BindPFlag("coordinator_addr", root.Flags().Lookup("coordinator-addr"))
	viper.BindPFlag("delivery_addr", root.Flags().Lookup("delivery-addr"))
	viper.BindPFlag("admin_addr", root.Flags().Lookup("admin-addr"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cacheNode is the node process's runtime state: one typed store per
// cachetype.CacheType, the delivery service backing them, the dialed
// control connection to the coordinator, and the bookkeeping a worker
// pool and reorg handler need to correlate wire messages.
type cacheNode struct {
	cfg      *config.NodeConfig
	logger   *zap.Logger
	metrics  *metrics.Node
	producer producer.Producer

	stores map[cachetype.CacheType]*store.Store

	deliveryMgr    *delivery.Manager
	deliveryClient *delivery.Client

	conn    net.Conn
	writeMu sync.Mutex

	nodeID cacheid.NodeID
	host   string

	jobs chan job

	pendingMu sync.Mutex
	pending   map[uint64]chan uint32
}

func newCacheNode(cfg *config.NodeConfig, mx *metrics.Node, logger *zap.Logger) *cacheNode {
	n := &cacheNode{
		cfg:            cfg,
		logger:         logger,
		metrics:        mx,
		producer:       producer.NewFake(),
		stores:         make(map[cachetype.CacheType]*store.Store),
		deliveryMgr:    delivery.NewManager(cfg.DeliverySweep),
		deliveryClient: delivery.NewClient(),
		jobs:           make(chan job, cfg.WorkerCount*4),
		pending:        make(map[uint64]chan uint32),
	}

	for _, ct := range cachetype.All {
		budget := cfg.Budgets[ct.String()]
		if budget <= 0 {
			budget = defaultBudget
		}
		relName := cfg.Relevance[ct.String()]
		if relName == "" {
			relName = "cost_lru"
		}
		rel, err := placement.NewRelevanceFunction(relName)
		if err != nil {
			// validate() already rejected unknown names; this can only
			// happen for a name introduced after config load.
			logger.Fatal("relevance function", zap.String("cache_type", ct.String()), zap.Error(err))
		}
		n.stores[ct] = store.New(ct, budget, rel)
	}

	return n
}

// defaultBudget is the per-CacheType byte budget used when a deployment's
// config omits an entry from NodeConfig.Budgets.
const defaultBudget int64 = 256 << 20 // 256 MiB

func (n *cacheNode) storeFor(ct cachetype.CacheType) *store.Store {
	return n.stores[ct]
}

// send writes one frame on the control connection, serialized against
// concurrent worker and reorg goroutines.
func (n *cacheNode) send(kind protocol.Kind, body []byte) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return protocol.WriteFrame(n.conn, kind, body)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadNodeConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	mx := metrics.NewNode()
	n := newCacheNode(cfg, mx, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveryLn, err := net.Listen("tcp", cfg.DeliveryAddr)
	if err != nil {
		return fmt.Errorf("delivery listener: %w", err)
	}
	deliverySvc := delivery.NewService(n.deliveryMgr, n.lookupCached)
	go func() {
		if err := deliverySvc.Serve(ctx, deliveryLn); err != nil {
			logger.Warn("delivery service stopped", zap.Error(err))
		}
	}()
	go n.deliveryMgr.Run()
	defer n.deliveryMgr.Stop()

	if err := n.dialAndHandshake(ctx, deliveryLn.Addr()); err != nil {
		return fmt.Errorf("control handshake: %w", err)
	}
	logger.Info("joined coordinator", zap.Uint32("node_id", uint32(n.nodeID)), zap.String("node_name", cfg.NodeName))

	for i := 0; i < cfg.WorkerCount; i++ {
		go n.runWorker(ctx)
	}

	go n.runControlLoop(ctx)
	go n.runStatsLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	admin := &http.Server{Addr: cfg.AdminAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("admin http listening", zap.String("addr", cfg.AdminAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin http", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("node shutting down")
	cancel()
	n.conn.Close()
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
