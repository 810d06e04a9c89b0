package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
	"github.com/budgetly/orchestrator/orchestrator"
)

type fetchOptions struct {
	method      string
	data        string
	headers     []string
	repeat      int
	concurrency int
	skipCache   bool
	quiet       bool
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <path> [path...]",
		Short: "Fetch one or more API paths and print the responses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.repeat < 1 || opts.concurrency < 1 {
				return errors.New("--repeat and --concurrency must be at least 1")
			}
			p, err := root.newProbe()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			failed := runFetches(ctx, p, args, opts, cmd.OutOrStdout())
			printStats(cmd.OutOrStdout(), p.orch)
			if failed > 0 {
				return fmt.Errorf("%d request(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "request body (sent as application/json)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "extra header, \"Name: value\" (repeatable)")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "rounds of requests to send")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 1, "identical requests sent at once in each round")
	cmd.Flags().BoolVar(&opts.skipCache, "skip-cache", false, "bypass the response cache")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print status lines only")

	return cmd
}

// runFetches sends every path repeat times, concurrency copies at once, and
// returns the number of requests that ended in an error.
func runFetches(ctx context.Context, p *probe, paths []string, opts *fetchOptions, out io.Writer) int {
	var mu sync.Mutex
	failed := 0

	for round := 0; round < opts.repeat; round++ {
		var wg sync.WaitGroup
		for _, path := range paths {
			for i := 0; i < opts.concurrency; i++ {
				req, err := buildRequest(p.url(path), opts)
				if err != nil {
					mu.Lock()
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
					mu.Unlock()
					continue
				}

				wg.Add(1)
				go func(path string, req *orchestrator.Request) {
					defer wg.Done()
					start := time.Now()
					resp, err := p.orch.Fetch(ctx, req)
					elapsed := time.Since(start)

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failed++
						fmt.Fprintf(out, "%-6s %s  error: %v (%s)\n", req.Method, path, err, elapsed.Round(time.Millisecond))
						return
					}
					source := "network"
					if resp.Header.Get(orchestrator.CacheStatusHeader) == "HIT" {
						source = "cache"
					}
					fmt.Fprintf(out, "%-6s %s  %d %s  [%s, %s]\n", req.Method, path, resp.Status, resp.StatusText, source, elapsed.Round(time.Millisecond))
					if !opts.quiet {
						body := strings.TrimSpace(string(resp.Bytes()))
						if body != "" {
							fmt.Fprintln(out, body)
						}
					}
				}(path, req)
			}
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}
	return failed
}

func buildRequest(rawURL string, opts *fetchOptions) (*orchestrator.Request, error) {
	var body interface{}
	if opts.data != "" {
		body = []byte(opts.data)
	}
	req, err := orchestrator.NewRequest(strings.ToUpper(opts.method), rawURL, body)
	if err != nil {
		return nil, err
	}
	if opts.data != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range opts.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if opts.skipCache {
		req.Header.Set(cachemanager.SkipCacheHeader, "1")
	}
	return req, nil
}

func printStats(out io.Writer, o *orchestrator.Orchestrator) {
	s := o.Stats()
	fmt.Fprintln(out, "---")
	fmt.Fprintf(out, "network calls: %d  cache hits: %d  misses: %d  dedup joins: %d  rate limited: %d\n",
		s.NetworkCalls, s.CacheHits, s.CacheMisses, s.DedupJoins, s.RateLimited)
	fmt.Fprintf(out, "refreshes: %d  throttled: %d  upgrade prompts: %d  invalidations: %d  failures: %d\n",
		s.Refreshes, s.Throttled, s.UpgradePrompts, s.Invalidations, s.Failures)
	if s.Latency.Count > 0 {
		fmt.Fprintf(out, "latency p50: %s  p95: %s  max: %s\n",
			s.Latency.P50.Round(time.Millisecond), s.Latency.P95.Round(time.Millisecond), s.Latency.Max.Round(time.Millisecond))
	}
}
