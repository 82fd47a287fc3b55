package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/em"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/inference"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/postgres"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	metrics    *metrics.Metrics

	// openPostgres defaults to postgres.New.
	openPostgres func(context.Context, config.PostgresConfig) (*postgres.Client, error)
	db           *postgres.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "miner",
		Short:         "Mine probabilistic sequence dictionaries with hard EM",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "configs/development.yaml", "path to config file")

	root.AddCommand(
		newMineCmd(a),
		newTrialCmd(a),
		newServeCmd(a),
	)
	return root
}

// startMetrics registers the collectors and, when enabled, serves them.
// The returned function stops the metrics server.
func (a *app) startMetrics() func(context.Context) error {
	a.metrics = metrics.New()
	if !a.cfg.Metrics.Enabled {
		return func(context.Context) error { return nil }
	}
	return metrics.StartServer(a.cfg.Metrics.Port)
}

func (a *app) newEngine() *em.Engine {
	return em.NewEngine(
		inference.NewGreedy(a.cfg.Mining.SmoothingFloor),
		em.WithWorkers(a.cfg.Mining.Workers),
		em.WithMetrics(a.metrics),
	)
}

// postgresClient returns the command's Postgres client, opening the pool on
// first use. The corpus loader and the dictionary store share it.
func (a *app) postgresClient(ctx context.Context) (*postgres.Client, error) {
	if a.db != nil {
		return a.db, nil
	}
	open := a.openPostgres
	if open == nil {
		open = postgres.New
	}
	db, err := open(ctx, a.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// closePostgres closes the shared client if one was opened.
func (a *app) closePostgres() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("closing postgres", "error", err)
	}
	a.db = nil
}

// newLoader opens the configured transaction source. The returned closer
// releases any connection it opened.
func (a *app) newLoader(ctx context.Context, source string, target int) (corpus.Loader, func(), error) {
	switch source {
	case "postgres":
		db, err := a.postgresClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		loader := corpus.NewPostgresLoader(db.DB, a.metrics)
		if err := loader.EnsureSchema(ctx); err != nil {
			a.closePostgres()
			return nil, nil, err
		}
		return loader, a.closePostgres, nil
	case "kafka":
		if target <= 0 {
			return nil, nil, fmt.Errorf("--target must be positive for the kafka source")
		}
		slog.Info("collecting transactions from kafka", "topic", a.cfg.Kafka.Topics.Transactions, "target", target)
		return corpus.NewKafkaLoader(a.cfg.Kafka, target, a.metrics), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q (want postgres or kafka)", source)
	}
}
