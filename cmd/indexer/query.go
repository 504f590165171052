package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"lendingScope/internal/config"
	"lendingScope/internal/felt"
	"lendingScope/internal/storage"
	"lendingScope/internal/storage/postgres"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read reconciled state as JSON",
	}

	cmd.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().Int32("pg-max-conns", 2, "maximum Postgres connections")
	cmd.PersistentFlags().String("cursor-name", "lending", "cursor row name")
	cmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "agreement <id>",
		Short: "Show one agreement",
		Args:  cobra.ExactArgs(1),
		RunE: withReader(func(ctx context.Context, r storage.Reader, _ config.QueryConfig, args []string, w io.Writer) error {
			id, err := felt.Normalize(args[0])
			if err != nil {
				return err
			}
			a, ok, err := r.GetAgreement(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("agreement %s not found", id)
			}
			return writeJSON(w, a)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "inscription <id>",
		Short: "Show one inscription",
		Args:  cobra.ExactArgs(1),
		RunE: withReader(func(ctx context.Context, r storage.Reader, _ config.QueryConfig, args []string, w io.Writer) error {
			id, err := felt.Normalize(args[0])
			if err != nil {
				return err
			}
			i, ok, err := r.GetInscription(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("inscription %s not found", id)
			}
			return writeJSON(w, i)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "events <id>",
		Short: "List the event history of an id",
		Args:  cobra.ExactArgs(1),
		RunE: withReader(func(ctx context.Context, r storage.Reader, _ config.QueryConfig, args []string, w io.Writer) error {
			id, err := felt.Normalize(args[0])
			if err != nil {
				return err
			}
			records, err := r.Events(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(w, records)
		}),
	})

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "List filled agreements past their due time",
		Args:  cobra.NoArgs,
		RunE: withReader(func(ctx context.Context, r storage.Reader, cfg config.QueryConfig, _ []string, w io.Writer) error {
			now := cfg.Now
			if now == 0 {
				now = uint64(time.Now().Unix())
			}
			agreements, err := r.Overdue(ctx, now, cfg.Limit)
			if err != nil {
				return err
			}
			return writeJSON(w, agreements)
		}),
	}
	overdue.Flags().Int("limit", 50, "maximum rows")
	overdue.Flags().Uint64("now", 0, "reference time in unix seconds, 0 means now")
	cmd.AddCommand(overdue)

	cmd.AddCommand(&cobra.Command{
		Use:   "cursor",
		Short: "Show the last reconciled block",
		Args:  cobra.NoArgs,
		RunE: withReader(func(ctx context.Context, r storage.Reader, _ config.QueryConfig, _ []string, w io.Writer) error {
			block, ok, err := r.Cursor(ctx)
			if err != nil {
				return err
			}
			return writeJSON(w, map[string]any{"block": block, "set": ok})
		}),
	})

	return cmd
}

type queryFunc func(ctx context.Context, r storage.Reader, cfg config.QueryConfig, args []string, w io.Writer) error

func withReader(fn queryFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadQuery(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{MaxConns: cfg.PGMaxConns, CursorName: cfg.CursorName})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		return fn(ctx, store, cfg, args, cmd.OutOrStdout())
	}
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
