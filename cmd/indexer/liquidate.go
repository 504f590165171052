package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lendingScope/internal/chain"
	"lendingScope/internal/config"
	"lendingScope/internal/indexer"
	"lendingScope/internal/liquidation"
	"lendingScope/internal/metrics"
	"lendingScope/internal/storage/postgres"
)

func newLiquidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liquidate",
		Short: "Periodically liquidate overdue agreements",
		RunE:  runLiquidate,
	}

	cmd.Flags().String("rpc", "", "Starknet JSON-RPC URL")
	cmd.Flags().Duration("rpc-timeout", 30*time.Second, "timeout per RPC call")
	cmd.Flags().String("contract", "", "lending contract address")
	cmd.Flags().String("relay-url", "", "signing relayer JSON-RPC URL")
	cmd.Flags().String("relay-method", chain.DefaultRelayMethod, "relayer method that submits an invoke")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Int32("pg-max-conns", 3, "maximum Postgres connections")
	cmd.Flags().Duration("store-timeout", 15*time.Second, "timeout for the overdue query")
	cmd.Flags().Duration("interval", 2*time.Minute, "time between ticks")
	cmd.Flags().Int("batch-size", 50, "maximum candidates per tick")
	cmd.Flags().Duration("tx-timeout", 120*time.Second, "time allowed for submit and confirmation")
	cmd.Flags().Duration("receipt-poll", 5*time.Second, "receipt polling interval")
	cmd.Flags().Bool("dry-run", false, "log candidates without submitting")
	cmd.Flags().Bool("once", false, "run a single tick and exit")
	cmd.Flags().String("metrics-addr", ":9101", "metrics listen address, empty disables")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runLiquidate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadLiquidate(cfgFile, cmd.Flags())
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var (
		exec   liquidation.Executor
		waiter liquidation.Waiter
	)
	if !cfg.DryRun {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCTimeout)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		relayer, err := chain.NewRelayer(ctx, cfg.RelayURL, cfg.RelayMethod, cfg.RPCTimeout)
		if err != nil {
			return fmt.Errorf("connect relayer: %w", err)
		}
		defer relayer.Close()
		exec, waiter = relayer, chainClient
	}

	reg := newRegistry()
	scheduler := liquidation.New(liquidation.Config{
		Contract:     contract,
		Interval:     cfg.Interval,
		BatchSize:    cfg.BatchSize,
		TxTimeout:    cfg.TxTimeout,
		ReceiptEvery: cfg.ReceiptPoll,
		QueryTimeout: cfg.StoreTimeout,
		DryRun:       cfg.DryRun,
	}, store, exec, waiter, logger, liquidation.WithMetrics(metrics.NewLiquidation(reg)))

	logger.Info("liquidation start",
		zap.String("contract", contract),
		zap.Duration("interval", cfg.Interval),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("tx_timeout", cfg.TxTimeout),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("once", cfg.Once),
	)

	if cfg.Once {
		results, err := scheduler.Tick(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), resultViews(results))
	}
	return runWithMetrics(ctx, cfg.MetricsAddr, reg, logger, scheduler.Run)
}

type resultView struct {
	ID     string             `json:"id"`
	TxHash string             `json:"tx_hash,omitempty"`
	Status liquidation.Status `json:"status"`
	Error  string             `json:"error,omitempty"`
}

func resultViews(results []liquidation.Result) []resultView {
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		view := resultView{ID: res.ID, TxHash: res.TxHash, Status: res.Status}
		if res.Err != nil {
			view.Error = res.Err.Error()
		}
		views = append(views, view)
	}
	return views
}
