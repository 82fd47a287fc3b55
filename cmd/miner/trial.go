package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/miner"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
)

func newTrialCmd(a *app) *cobra.Command {
	var (
		source string
		target int
	)
	cmd := &cobra.Command{
		Use:   "trial CANDIDATE...",
		Short: "Score candidate sequences against the converged model without accepting them",
		Long: `Runs hard EM to convergence and then one structural EM trial per
candidate. Candidates are comma-separated item lists, e.g. "1,2,3".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := parseCandidates(args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithRunID(ctx, uuid.NewString())

			loader, closeLoader, err := a.newLoader(ctx, source, target)
			if err != nil {
				return err
			}
			defer closeLoader()

			report, err := miner.New(loader, a.newEngine(), a.cfg.Mining, miner.WithTracing(a.cfg.Tracing)).Trial(ctx, candidates)
			if err != nil {
				return err
			}
			printTrials(cmd, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "postgres", "transaction source: postgres or kafka")
	cmd.Flags().IntVar(&target, "target", 0, "number of transactions to collect from kafka")
	return cmd
}

func parseCandidates(args []string) ([]sequence.Sequence, error) {
	out := make([]sequence.Sequence, 0, len(args))
	for _, arg := range args {
		s, err := sequence.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("candidate %q: %w", arg, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func printTrials(cmd *cobra.Command, report *miner.TrialReport) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "baseline average cost\t%.6f\n", report.BaselineCost)
	fmt.Fprintln(w, "CANDIDATE\tSUPPORT\tPROBABILITY\tAVERAGE COST\tDELTA")
	for _, t := range report.Trials {
		fmt.Fprintf(w, "%s\t%d\t%.6f\t%.6f\t%+.6f\n",
			t.Candidate, t.Supported, t.Probability, t.AverageCost, t.AverageCost-report.BaselineCost)
	}
	w.Flush()
}
