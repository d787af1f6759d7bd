package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"BobaOrders/internal/config"
	"BobaOrders/internal/db"
	"BobaOrders/internal/events"
	"BobaOrders/internal/gateway"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/notify"
	"BobaOrders/internal/services"
	"BobaOrders/internal/store"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "shopctl",
		Short:         "Operator tools for the boba order backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	open := func(ctx context.Context) (*env, error) { return openEnv(ctx, configPath) }
	rootCmd.AddCommand(reconcileCmd(open))
	rootCmd.AddCommand(auditPointsCmd(open))
	rootCmd.AddCommand(orderCmd(open))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg        *config.Config
	pool       *db.Pool
	store      *store.Store
	reconciler *services.Reconciler
	logger     *slog.Logger
}

type opener func(ctx context.Context) (*env, error)

func openEnv(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(os.Stderr)

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	st := store.New(pool)

	// Manual runs never email the customer; the webhook or worker owns that.
	return &env{
		cfg:   cfg,
		pool:  pool,
		store: st,
		reconciler: &services.Reconciler{
			Gateway:  gateway.NewClient(cfg.Payments.BaseURL, cfg.Payments.APIKey, cfg.Payments.Currency, cfg.PaymentTimeout()),
			Store:    services.PGOrderStore{Store: st},
			Ledger:   loyalty.Ledger{},
			Notifier: notify.Nop{Logger: logger},
			Events:   events.Nop{},
			Logger:   logger,
		},
		logger: logger,
	}, nil
}

func (e *env) Close() {
	e.pool.Close()
}
