package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/miner"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/redis"
)

func newMineCmd(a *app) *cobra.Command {
	var (
		source  string
		target  int
		save    bool
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Run hard EM over a corpus and store the resulting dictionary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			shutdownMetrics := a.startMetrics()
			defer shutdownMetrics(context.Background())

			runID := uuid.NewString()
			ctx = logger.WithRunID(ctx, runID)
			log := logger.FromContext(ctx)
			log.Info("starting mining run", "source", source, "save", save, "publish", publish)

			defer a.closePostgres()
			loader, closeLoader, err := a.newLoader(ctx, source, target)
			if err != nil {
				return err
			}
			defer closeLoader()

			opts := []miner.Option{miner.WithTracing(a.cfg.Tracing)}
			if save {
				db, err := a.postgresClient(ctx)
				if err != nil {
					return err
				}
				store := dictionary.NewStore(db)
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
				opts = append(opts, miner.WithSaver(store))

				if rc, err := pkgredis.NewClient(ctx, a.cfg.Redis); err != nil {
					log.Warn("redis unavailable, cached dictionaries will expire on their own", "error", err)
				} else {
					defer rc.Close()
					opts = append(opts, miner.WithInvalidator(dictionary.NewCache(rc, a.cfg.Redis.CacheTTL, a.metrics)))
				}
			}
			if publish {
				producer := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.Dictionary)
				defer producer.Close()
				opts = append(opts, miner.WithPublisher(dictionary.NewPublisher(producer, 0)))
			}

			start := time.Now()
			snap, err := miner.New(loader, a.newEngine(), a.cfg.Mining, opts...).Mine(ctx)
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			slog.Info("mining run finished", "run_id", runID, "duration", time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "postgres", "transaction source: postgres or kafka")
	cmd.Flags().IntVar(&target, "target", 0, "number of transactions to collect from kafka")
	cmd.Flags().BoolVar(&save, "save", true, "store the snapshot in postgres")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the snapshot to kafka")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap *dictionary.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "snapshot %s (run %s)\n", snap.ID, snap.RunID)
	fmt.Fprintf(out, "transactions=%d iterations=%d converged=%t average_cost=%.6f\n",
		snap.Transactions, snap.Iterations, snap.Converged, snap.AverageCost)
	for _, e := range snap.Entries {
		fmt.Fprintf(out, "%v\t%.6f\n", e.Sequence, e.Probability)
	}
}
