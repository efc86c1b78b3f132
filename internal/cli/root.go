// Package cli implements the splitledger command line: the API server and
// the operator commands that run against the same store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitledger/internal/cache"
	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/postgres"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/pkg/logging"
)

// app is the state shared by every subcommand once the root has run.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "splitledger",
		Short:         "Shared-expense ledger server",
		Long:          "Records group expenses and settlements, keeps per-member balances and an append-only audit chain.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: text or json (overrides config)")

	root.AddCommand(
		newServeCmd(a),
		newVerifyAuditCmd(a),
		newCheckBalancesCmd(a),
		newPurgeIdempotencyCmd(a),
		newCreateGroupCmd(a),
		newTokenCmd(a),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
	slog.SetDefault(a.logger)
	return nil
}

// openStore connects the configured storage backend.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	sc := a.cfg.Storage
	switch sc.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, sc.PostgresDSN, postgres.Options{
			MaxConns:        int32(sc.MaxConns),
			MinConns:        int32(sc.MinConns),
			MaxConnLifetime: sc.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Info("storage initialized", "driver", sc.Driver)
		return store, nil
	default:
		store, err := sqlite.New(sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.logger.Info("storage initialized", "driver", sc.Driver, "database", sc.SQLitePath)
		return store, nil
	}
}

// newLedger wires the ledger core with the configured guard and cache. The
// returned cache must be drained with Wait before the store closes.
func (a *app) newLedger(store storage.Store, m *metrics.Metrics) (*ledger.Service, *cache.Cache, error) {
	c, err := cache.New(cache.Options{
		TTL:            a.cfg.Cache.TTL,
		NearExpiry:     a.cfg.Cache.NearExpiry,
		Capacity:       a.cfg.Cache.Capacity,
		RefreshWorkers: int64(a.cfg.Cache.RefreshWorkers),
		Logger:         a.logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, nil, err
	}

	guard := idempotency.New(store,
		idempotency.WithTTL(a.cfg.Idempotency.TTL),
		idempotency.WithLease(a.cfg.Idempotency.Lease),
		idempotency.WithLogger(a.logger),
		idempotency.WithMetrics(m),
	)

	l, err := ledger.New(store, ledger.Options{
		Guard:   guard,
		Cache:   c,
		Logger:  a.logger,
		Metrics: m,
	})
	if err != nil {
		return nil, nil, err
	}
	return l, c, nil
}

// withLedger opens the store, runs fn and closes everything again. Used by
// the one-shot operator commands.
func (a *app) withLedger(ctx context.Context, fn func(l *ledger.Service) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	l, c, err := a.newLedger(store, nil)
	if err != nil {
		return err
	}
	defer c.Wait()

	return fn(l)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
