// Command kvlite is a thin demonstration shell over the Settings/Engine/
// Maintenance stack; it exists to give that stack a process boundary to
// be invoked from, not as a standalone product.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvlite/kvlite/internal/clock"
	"github.com/kvlite/kvlite/internal/engine"
	"github.com/kvlite/kvlite/internal/maintenance"
	"github.com/kvlite/kvlite/internal/pipeline"
	"github.com/kvlite/kvlite/internal/settings"
	"github.com/kvlite/kvlite/internal/storage"

	_ "github.com/kvlite/kvlite/internal/storage/dialect/mssql"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/mysql"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/oracle"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/postgres"
	_ "github.com/kvlite/kvlite/internal/storage/dialect/sqlite"
)

var (
	dialectName string
	dsn         string
	partition   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvlite",
		Short: "Demonstration CLI for the kvlite cache engine",
	}
	root.PersistentFlags().StringVar(&dialectName, "dialect", "sqlite", "backend dialect: sqlite|mysql|postgres|mssql|oracle")
	root.PersistentFlags().StringVar(&dsn, "dsn", "file:kvlite.db", "connection string for the selected dialect")
	root.PersistentFlags().StringVar(&partition, "partition", "", "partition name (empty uses the default partition)")

	root.AddCommand(newSetCmd(), newGetCmd(), newStatsCmd())
	return root
}

func openEngine(ctx context.Context) (*engine.Engine, error) {
	s, err := settings.New(settings.Dialect(dialectName), dsn)
	if err != nil {
		return nil, err
	}

	cf, err := storage.Open(ctx, dialectName, dsn, s.SchemaName, s.EntriesTableName, storage.Options{
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxIdleTime: s.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	clk := clock.System{}
	pipe := pipeline.NewFromName(s.Serializer, s.CompressionThreshold)
	e := engine.New(cf, clk, pipe, s, nil, nil)

	m, err := maintenance.New(e, clk, nil, maintenance.WithRetryPolicy(s.RetryAttempts, s.RetryBaseDelay))
	if err != nil {
		return nil, err
	}
	e.SetAutoClean(m.Run)

	return e, nil
}

func newSetCmd() *cobra.Command {
	var expirySeconds int64
	var interval int64
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a string value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Dispose()

			key, value := args[0], args[1]
			switch {
			case interval > 0:
				return e.SetSliding(cmd.Context(), partition, key, value, interval)
			case expirySeconds > 0:
				return e.SetTimed(cmd.Context(), partition, key, value, expirySeconds)
			default:
				return e.SetStatic(cmd.Context(), partition, key, value)
			}
		},
	}
	cmd.Flags().Int64Var(&expirySeconds, "expiry", 0, "absolute utc_expiry unix seconds (timed entry)")
	cmd.Flags().Int64Var(&interval, "interval", 0, "sliding interval seconds (sliding entry)")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Dispose()

			value, ok, err := e.Get(cmd.Context(), partition, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(absent)")
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row count, size, and partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Dispose()

			stats, err := e.Stats(cmd.Context())
			if err != nil {
				return err
			}
			partitions, err := e.Partitions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("rows=%d size_bytes=%d insertions=%d partitions=%v\n",
				stats.RowCount, stats.SizeBytes, stats.Insertions, partitions)
			return nil
		},
	}
}
