package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"lendingScope/internal/chain"
	"lendingScope/internal/config"
	"lendingScope/internal/decoder"
	"lendingScope/internal/indexer"
	"lendingScope/internal/metrics"
	"lendingScope/internal/storage"
	"lendingScope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Starknet lending protocol indexer and liquidation scheduler",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index contract events into Postgres",
		RunE:  runIndexer,
	}

	runCmd.Flags().String("rpc", "", "Starknet JSON-RPC URL")
	runCmd.Flags().Duration("rpc-timeout", 30*time.Second, "timeout per RPC call")
	runCmd.Flags().String("contract", "", "lending contract address")
	runCmd.Flags().Uint64("from", 0, "start block (inclusive) when no cursor is stored")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means follow the head")
	runCmd.Flags().Uint64("max-block-range", 500, "maximum blocks per iteration")
	runCmd.Flags().Int("chunk-size", 100, "events per getEvents page")
	runCmd.Flags().Duration("poll-interval", 10*time.Second, "wait between polls once caught up")
	runCmd.Flags().Bool("follow", true, "keep polling after reaching the head")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("selector-map", "", "extra selector->event mappings (comma-separated key=value)")
	runCmd.Flags().Bool("resolve-terms", true, "read agreement terms with get_inscription")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().Int32("pg-max-conns", 4, "maximum Postgres connections")
	runCmd.Flags().Duration("store-timeout", 15*time.Second, "timeout per store transaction")
	runCmd.Flags().String("cursor-name", "lending", "cursor row name")
	runCmd.Flags().Bool("migrate", true, "create tables on start")
	runCmd.Flags().Bool("dry-run", false, "reconcile into memory instead of Postgres")
	runCmd.Flags().String("archive", "", "optional JSONL archive of committed event records")
	runCmd.Flags().String("metrics-addr", ":9100", "metrics listen address, empty disables")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)
	root.AddCommand(newLiquidateCmd())
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newQueryCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	contract, err := indexer.ParseContract(cfg.Contract)
	if err != nil {
		return err
	}
	dec, err := decoder.New(cfg.SelectorMap)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := newRegistry()
	opts := []indexer.Option{indexer.WithMetrics(metrics.NewIndexer(reg))}
	if cfg.ResolveTerms {
		opts = append(opts, indexer.WithTerms(chainClient))
	}
	if cfg.Archive != "" {
		opts = append(opts, indexer.WithArchive(storage.NewJsonlArchive(cfg.Archive)))
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		Contract:      contract,
		FromBlock:     cfg.FromBlock,
		ToBlock:       cfg.ToBlock,
		MaxBlockRange: cfg.MaxBlockRange,
		ChunkSize:     cfg.ChunkSize,
		PollInterval:  cfg.PollInterval,
		Follow:        cfg.Follow && cfg.ToBlock == 0,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		StoreTimeout:  cfg.StoreTimeout,
	}, chainClient, store, dec, logger, opts...)

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", contract),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("max_block_range", cfg.MaxBlockRange),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("archive", cfg.Archive),
	)

	return runWithMetrics(ctx, cfg.MetricsAddr, reg, logger, runner.Run)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.DryRun {
		logger.Warn("dry run: state is kept in memory and discarded on exit")
		return storage.NewMemory(), nil
	}
	store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{MaxConns: cfg.PGMaxConns, CursorName: cfg.CursorName})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runWithMetrics runs work alongside the metrics server; the server stops
// when work returns. Cancellation by signal is a clean exit.
func runWithMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger, work func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return work(gctx)
	})
	if addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, metrics.NewHandler(reg), logger)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
