package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{method: "GET", repeat: 1}
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "watch <path> [path...]",
		Short: "Fetch paths on an interval until interrupted",
		Long: `Fetch paths on an interval until interrupted.

Combine with --metrics-addr to watch hit rates and dedup counts on /metrics
while the cache expires and refills.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if every <= 0 {
				return errors.New("--every must be positive")
			}
			if opts.concurrency < 1 {
				return errors.New("--concurrency must be at least 1")
			}
			p, err := root.newProbe()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(every)
			defer ticker.Stop()

			out := cmd.OutOrStdout()
			for {
				runFetches(ctx, p, args, opts, out)
				select {
				case <-ctx.Done():
					printStats(out, p.orch)
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&every, "every", 15*time.Second, "interval between rounds")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 1, "identical requests sent at once in each round")
	cmd.Flags().BoolVar(&opts.skipCache, "skip-cache", false, "bypass the response cache")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", true, "print status lines only")

	return cmd
}
