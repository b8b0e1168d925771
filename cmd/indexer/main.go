package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/0xmhha/explorer-indexer/api"
	"github.com/0xmhha/explorer-indexer/api/websocket"
	"github.com/0xmhha/explorer-indexer/client"
	"github.com/0xmhha/explorer-indexer/events"
	"github.com/0xmhha/explorer-indexer/fetch"
	"github.com/0xmhha/explorer-indexer/internal/config"
	"github.com/0xmhha/explorer-indexer/internal/logger"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/0xmhha/explorer-indexer/token"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type flags struct {
	configFile     string
	showVersion    bool
	rpcEndpoint    string
	dbPath         string
	startHeight    *uint64 // nil unless -start-height was given
	batchSize      int
	txWorkers      int
	logLevel       string
	logFormat      string
	disableMonitor bool
	followHeads    bool

	enableAPI       bool
	apiHost         string
	apiPort         int
	enableWebSocket bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&f.rpcEndpoint, "rpc", "", "Chain RPC endpoint URL")
	flag.StringVar(&f.dbPath, "db", "", "Database path")
	flag.Func("start-height", "Height the startup backfill begins at (default: resume from store)", parseHeight(&f.startHeight))
	flag.IntVar(&f.batchSize, "batch-size", 0, "Heights normalized concurrently per batch")
	flag.IntVar(&f.txWorkers, "tx-workers", 0, "Concurrent transaction normalizations per block")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	flag.BoolVar(&f.disableMonitor, "no-monitor", false, "Run the startup backfill only")
	flag.BoolVar(&f.followHeads, "follow-heads", false, "Wake the monitor on newHeads notifications (ws/ipc endpoints)")

	flag.BoolVar(&f.enableAPI, "api", false, "Enable API server")
	flag.StringVar(&f.apiHost, "api-host", "", "API server host")
	flag.IntVar(&f.apiPort, "api-port", 0, "API server port")
	flag.BoolVar(&f.enableWebSocket, "websocket", false, "Enable WebSocket subscriptions")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	if f.showVersion {
		fmt.Printf("explorer-indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}
	api.Version = version

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithConfig(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Format == "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("db_path", cfg.Database.Path),
		zap.Int("batch_size", cfg.Sync.BatchSize),
		zap.Int("tx_workers", cfg.Sync.TxWorkers),
	)

	if err := run(cfg, f.followHeads, log); err != nil {
		log.Error("Indexer stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Indexer stopped")
}

func run(cfg *config.Config, followHeads bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	chain, err := client.NewClient(&client.Config{
		Endpoint:  cfg.RPC.Endpoint,
		Timeout:   cfg.RPC.Timeout,
		RateLimit: cfg.RPC.RateLimit,
		RateBurst: cfg.RPC.RateBurst,
		Logger:    logger.WithComponent(log, "client"),
	})
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}
	defer chain.Close()

	storageConfig := storage.DefaultConfig(cfg.Database.Path)
	storageConfig.ReadOnly = cfg.Database.ReadOnly
	store, err := storage.NewPebbleStorage(storageConfig)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	store.SetLogger(logger.WithComponent(log, "storage"))
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	if latest, err := store.GetLatestHeight(ctx); err == nil {
		log.Info("Resuming from latest indexed block", zap.Uint64("latest_height", latest))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read latest indexed height: %w", err)
	}

	publisher := events.NewMultiPublisher(logger.WithComponent(log, "publisher"))
	publisher.SetMetrics(events.NewMetrics(reg))

	relays, err := startRelays(ctx, cfg.EventBus, publisher, log)
	if err != nil {
		return err
	}
	defer closeRelays(relays, log)

	syncCfg := &fetch.Config{
		BatchSize:       cfg.Sync.BatchSize,
		TxWorkers:       cfg.Sync.TxWorkers,
		BootstrapWindow: cfg.Sync.BootstrapWindow,
		MonitorInterval: cfg.Sync.MonitorInterval,
		StatsWindow:     fetch.DefaultConfig().StatsWindow,
	}
	engine, err := fetch.NewEngine(chain, store, publisher, syncCfg, logger.WithComponent(log, "sync"))
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}
	engine.SetMetrics(fetch.NewMetrics(reg))
	if cfg.Sync.ResolveTokenMetadata {
		engine.SetTokenResolver(token.NewResolver(chain, cfg.Sync.TokenCacheSize, logger.WithComponent(log, "token")))
	}
	defer engine.Stop()

	// The hub joins the publisher before the engine produces anything
	var apiServer *api.Server
	serveErr := make(chan error, 1)
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(api.ConfigFrom(cfg.API), logger.WithComponent(log, "api"), engine, reg)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		if ws := apiServer.WebSocket(); ws != nil {
			ws.Hub().SetMetrics(websocket.NewMetrics(reg))
			publisher.Add(ws.Hub())
		}
		go func() {
			serveErr <- apiServer.Start()
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := apiServer.Stop(shutdownCtx); err != nil {
				log.Error("Failed to stop API server gracefully", zap.Error(err))
			}
		}()
	}

	if err := engine.BackfillAsync(cfg.Sync.StartHeight); err != nil {
		return fmt.Errorf("failed to start backfill: %w", err)
	}

	if !cfg.Sync.DisableMonitor {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
		if followHeads {
			go followNewHeads(ctx, chain, engine, log)
		}
	}

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down gracefully...")
	// Drain the engine first; the deferred calls then close the API and
	// hub, the relays, storage and the client in that order.
	engine.Stop()
	return nil
}

type relay interface {
	events.Publisher
	Close() error
}

// startRelays connects the enabled Redis and Kafka relays and adds them
// to the publisher
func startRelays(ctx context.Context, cfg config.EventBusConfig, publisher *events.MultiPublisher, log *zap.Logger) ([]relay, error) {
	var relays []relay

	if cfg.Redis.Enabled {
		redisPub, err := events.NewRedisPublisher(cfg.Redis, logger.WithComponent(log, "redis"))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis relay: %w", err)
		}
		if err := redisPub.Connect(ctx); err != nil {
			_ = redisPub.Close()
			return nil, fmt.Errorf("failed to connect redis relay: %w", err)
		}
		relays = append(relays, redisPub)
	}

	if cfg.Kafka.Enabled {
		kafkaPub, err := events.NewKafkaPublisher(cfg.Kafka, logger.WithComponent(log, "kafka"))
		if err != nil {
			closeRelays(relays, log)
			return nil, fmt.Errorf("failed to create kafka relay: %w", err)
		}
		relays = append(relays, kafkaPub)
	}

	for _, r := range relays {
		publisher.Add(r)
	}
	return relays, nil
}

func closeRelays(relays []relay, log *zap.Logger) {
	for _, r := range relays {
		if err := r.Close(); err != nil {
			log.Warn("Failed to close relay", zap.Error(err))
		}
	}
}

// followNewHeads forwards newHeads notifications to the monitor. Polling
// continues if the subscription is unavailable or drops.
func followNewHeads(ctx context.Context, chain *client.Client, engine *fetch.Engine, log *zap.Logger) {
	heads := make(chan *types.Header, 16)
	sub, err := chain.SubscribeNewHead(ctx, heads)
	if err != nil {
		log.Warn("newHeads subscription unavailable, relying on polling", zap.Error(err))
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				log.Warn("newHeads subscription dropped, relying on polling", zap.Error(err))
			}
			return
		case head := <-heads:
			engine.NotifyTip(head.Number.Uint64())
		}
	}
}

// loadConfig layers file, environment and flags, then applies defaults
// and validates
func loadConfig(f *flags) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if f.configFile != "" {
		if err := cfg.LoadFromFile(f.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// parseHeight returns a flag.Func setter that records an explicit height,
// so that 0 (genesis) is distinguishable from an absent flag
func parseHeight(dst **uint64) func(string) error {
	return func(value string) error {
		height, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid height %q", value)
		}
		*dst = &height
		return nil
	}
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, f *flags) {
	if f.rpcEndpoint != "" {
		cfg.RPC.Endpoint = f.rpcEndpoint
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	if f.startHeight != nil {
		height := *f.startHeight
		cfg.Sync.StartHeight = &height
	}
	if f.batchSize > 0 {
		cfg.Sync.BatchSize = f.batchSize
	}
	if f.txWorkers > 0 {
		cfg.Sync.TxWorkers = f.txWorkers
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.disableMonitor {
		cfg.Sync.DisableMonitor = true
	}

	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
	if f.enableWebSocket {
		cfg.API.EnableWebSocket = true
	}
}
