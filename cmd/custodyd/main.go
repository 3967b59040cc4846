package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/openvault/custody/pkg/api"
	"github.com/openvault/custody/pkg/audit"
	"github.com/openvault/custody/pkg/metrics"
	"github.com/openvault/custody/pkg/vault"
	"github.com/openvault/custody/pkg/websocket"
)

const (
	defaultDataDir     = ".custodyd"
	defaultPort        = 8080
	defaultWSPort      = 8081
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	HTTPPort    int
	WSPort      int
	MetricsPort int
	NATSUrl     string

	// Fund identity
	Asset            string
	FundAddress      string
	EngineAddress    string
	Admin            string
	FeeRecipient     string
	MinDeposit       string
	MaxAllocationBps uint64
	ManagementFeeBps uint64
	WithdrawalFeeBps uint64

	// Features
	EnableMetrics bool
	EnableDebug   bool
}

type CustodyNode struct {
	config *Config
	db     database.Database
	nc     *nats.Conn
	logger log.Logger

	ledger       *vault.TokenLedger
	fund         *vault.Fund
	engine       *vault.SettlementEngine
	trail        *audit.Trail
	feed         *websocket.Server
	stats        *metrics.Metrics
	runtimeStats *metrics.RuntimeStats

	events chan vault.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCustodyNode(config *Config) (*CustodyNode, error) {
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing custody node")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "custodyd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized",
			"path", filepath.Join(dataPath, "badgerdb"))
	}

	var nc *nats.Conn
	if config.NATSUrl != "" {
		nc, err = nats.Connect(config.NATSUrl)
		if err != nil {
			logger.Warn("NATS unavailable, events stay local", "error", err)
			nc = nil
		} else {
			logger.Info("NATS connected", "url", config.NATSUrl)
		}
	}

	minDeposit, ok := new(big.Int).SetString(config.MinDeposit, 10)
	if !ok {
		return nil, fmt.Errorf("invalid min deposit %q", config.MinDeposit)
	}

	events := make(chan vault.Event, 4096)
	ledger := vault.NewTokenLedger()

	fund, err := vault.NewFund(ledger, vault.FundConfig{
		Address:          config.FundAddress,
		Asset:            config.Asset,
		Admin:            config.Admin,
		FeeRecipient:     config.FeeRecipient,
		MinDeposit:       minDeposit,
		MaxAllocationBps: config.MaxAllocationBps,
		ManagementFeeBps: config.ManagementFeeBps,
		WithdrawalFeeBps: config.WithdrawalFeeBps,
	}, logger.New("module", "fund"), events)
	if err != nil {
		return nil, fmt.Errorf("failed to create fund: %w", err)
	}

	engine, err := vault.NewSettlementEngine(ledger, config.EngineAddress, logger.New("module", "settlement"), events)
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement engine: %w", err)
	}

	trail, err := audit.New(db, nc, "custody.events", logger.New("module", "audit"))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	feed := websocket.NewServer(logger.New("module", "websocket"))
	trail.Subscribe(feed.Publish)

	var stats *metrics.Metrics
	var runtimeStats *metrics.RuntimeStats
	if config.EnableMetrics {
		stats, err = metrics.New("custody")
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		trail.Subscribe(stats.Observe)

		runtimeStats, err = metrics.NewRuntimeStats("custody", stats.Registry())
		if err != nil {
			return nil, fmt.Errorf("failed to register runtime metrics: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CustodyNode{
		config:       config,
		db:           db,
		nc:           nc,
		logger:       logger,
		ledger:       ledger,
		fund:         fund,
		engine:       engine,
		trail:        trail,
		feed:         feed,
		stats:        stats,
		runtimeStats: runtimeStats,
		events:       events,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (n *CustodyNode) Start() error {
	n.logger.Info("Starting custody node",
		"asset", n.config.Asset,
		"fund", n.config.FundAddress,
		"engine", n.config.EngineAddress,
		"httpPort", n.config.HTTPPort,
		"wsPort", n.config.WSPort)

	n.feed.Start()
	// Background context so the trail drains the channel on shutdown
	// instead of dropping queued events.
	n.trail.Run(context.Background(), n.events)

	n.wg.Add(1)
	go n.runJSONRPCServer()

	n.wg.Add(1)
	go n.runWSServer()

	if n.config.EnableMetrics {
		n.wg.Add(1)
		go n.runMetricsServer()

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runtimeStats.Collect(n.ctx, 10*time.Second)
		}()
	}

	n.wg.Add(1)
	go n.printStats()

	n.logger.Info("Custody node started successfully")
	return nil
}

func (n *CustodyNode) runJSONRPCServer() {
	defer n.wg.Done()

	server := api.NewJSONRPCServer(n.fund, n.engine, n.logger.New("module", "api"))

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"events": n.trail.Len(),
			"asset":  n.config.Asset,
		})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("JSON-RPC server started", "port", n.config.HTTPPort, "endpoint", "/rpc")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("JSON-RPC server error", "error", err)
	}
}

func (n *CustodyNode) runWSServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/ws", n.feed)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.WSPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("WebSocket feed started", "port", n.config.WSPort, "endpoint", "/ws")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("WebSocket server error", "error", err)
	}
}

func (n *CustodyNode) runMetricsServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", n.stats.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("Metrics server started", "port", n.config.MetricsPort)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("Metrics server error", "error", err)
	}
}

func (n *CustodyNode) printStats() {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			snap := n.fund.Snapshot()
			n.logger.Info("Custody node status",
				"uptime", fmt.Sprintf("%.0fs", time.Since(startTime).Seconds()),
				"events", n.trail.Len(),
				"clients", n.feed.ClientCount(),
				"grossAssets", snap.GrossAssets,
				"netAssets", snap.NetAssets,
				"totalShares", snap.TotalShares,
				"totalAllocated", snap.TotalAllocated,
				"paused", snap.Paused)
		}
	}
}

func (n *CustodyNode) Shutdown() {
	n.logger.Info("Shutting down custody node...")

	n.cancel()
	n.wg.Wait()

	close(n.events)
	n.trail.Wait()
	n.feed.Stop()

	if n.nc != nil {
		n.nc.Close()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info("Custody node shutdown complete")
}

func main() {
	config := &Config{
		DataDir: defaultDataDir,
	}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.IntVar(&config.HTTPPort, "http-port", defaultPort, "HTTP API port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket feed port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")
	flag.StringVar(&config.NATSUrl, "nats-url", "", "NATS URL for event publishing (empty disables)")

	flag.StringVar(&config.Asset, "asset", "USDC", "Custody asset symbol")
	flag.StringVar(&config.FundAddress, "fund-address", "0xfund", "Fund ledger identity")
	flag.StringVar(&config.EngineAddress, "engine-address", "0xsettlement", "Settlement engine ledger identity")
	flag.StringVar(&config.Admin, "admin", "", "Admin principal (required)")
	flag.StringVar(&config.FeeRecipient, "fee-recipient", "", "Fee recipient principal")
	flag.StringVar(&config.MinDeposit, "min-deposit", "0", "Minimum deposit in base units")
	flag.Uint64Var(&config.MaxAllocationBps, "max-allocation-bps", 10000, "Allocation ceiling in basis points")
	flag.Uint64Var(&config.ManagementFeeBps, "management-fee-bps", 0, "Annual management fee in basis points")
	flag.Uint64Var(&config.WithdrawalFeeBps, "withdrawal-fee-bps", 0, "Withdrawal fee in basis points")

	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")
	flag.BoolVar(&config.EnableDebug, "debug", false, "Enable debug logging")

	flag.Parse()

	rootLogger := log.Root()

	if config.Admin == "" {
		rootLogger.Crit("Admin principal is required (-admin)")
		os.Exit(1)
	}

	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir))

	node, err := NewCustodyNode(config)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}
