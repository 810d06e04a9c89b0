package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
	"github.com/budgetly/orchestrator/invalidation"
	"github.com/budgetly/orchestrator/orchestrator"
)

// Environment fallbacks for the persistent flags.
const (
	envBaseURL  = "ORCHPROBE_BASE_URL"
	envBasePath = "ORCHPROBE_BASE_PATH"
	envToken    = "ORCHPROBE_TOKEN"
	envLogLevel = "ORCHPROBE_LOG_LEVEL"
	envRedis    = "ORCHPROBE_REDIS_ADDR"
	envMirror   = "ORCHPROBE_MIRROR_DIR"
)

type rootOptions struct {
	baseURL     string
	basePath    string
	token       string
	logLevel    string
	mirrorDir   string
	redisAddr   string
	metricsAddr string
	rateCeiling int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "orchprobe",
		Short:         "Send API requests through the request orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", envOr(envBaseURL, "http://localhost:8080"), "API origin, e.g. https://api.example.com")
	flags.StringVar(&opts.basePath, "base-path", envOr(envBasePath, ""), "path prefix shared by every API route, e.g. /api/v1")
	flags.StringVar(&opts.token, "token", os.Getenv(envToken), "bearer access token")
	flags.StringVar(&opts.logLevel, "log-level", envOr(envLogLevel, "info"), "debug, info, warn or error")
	flags.StringVar(&opts.mirrorDir, "mirror-dir", os.Getenv(envMirror), "persist cached responses in this directory")
	flags.StringVar(&opts.redisAddr, "redis-addr", os.Getenv(envRedis), "persist cached responses in Redis (host:port)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.IntVar(&opts.rateCeiling, "rate-ceiling", 0, "override the requests-per-minute budget")

	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))

	return cmd
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// probe is a running orchestrator plus the resources the CLI opened for it.
type probe struct {
	orch    *orchestrator.Orchestrator
	logger  zerolog.Logger
	baseURL string
	closers []func() error
}

func (o *rootOptions) newProbe() (*probe, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(o.logLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()

	if o.mirrorDir != "" && o.redisAddr != "" {
		return nil, errors.New("--mirror-dir and --redis-addr are mutually exclusive")
	}

	p := &probe{logger: logger, baseURL: strings.TrimRight(o.baseURL, "/")}

	cfg := orchestrator.DefaultConfig()
	cfg.Logger = logger
	cfg.Resources = invalidation.NewResourceTable(o.basePath, invalidation.DefaultResources())
	if o.rateCeiling > 0 {
		cfg.RateCeiling = o.rateCeiling
	}

	clock := clockwork.NewRealClock()
	switch {
	case o.redisAddr != "":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{o.redisAddr}})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", o.redisAddr, err)
		}
		cfg.Mirror = cachemanager.NewRedisMirror(client, "orchprobe:", clock)
		p.closers = append(p.closers, client.Close)
		logger.Info().Str("addr", o.redisAddr).Msg("mirroring cache to redis")
	case o.mirrorDir != "":
		mirror, err := cachemanager.NewFileMirror(o.mirrorDir, clock)
		if err != nil {
			return nil, fmt.Errorf("failed to open mirror directory: %w", err)
		}
		cfg.Mirror = mirror
		logger.Info().Str("dir", o.mirrorDir).Msg("mirroring cache to disk")
	}

	var orchOpts []orchestrator.Option
	if o.token != "" {
		orchOpts = append(orchOpts, orchestrator.WithTokenProvider(newEnvTokens(o.token)))
	}
	orchOpts = append(orchOpts, orchestrator.WithUpgradePrompter(orchestrator.UpgradePrompterFunc(func(message string) {
		logger.Warn().Str("message", message).Msg("upgrade required")
	})))

	p.orch = orchestrator.New(cfg, orchOpts...)
	p.orch.Logout().OnLogout("orchprobe", func(reason string) {
		logger.Error().Str("reason", reason).Msg("session ended")
	})

	if o.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(p.orch.Collector())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		p.closers = append(p.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		logger.Info().Str("addr", o.metricsAddr).Msg("serving metrics")
	}

	return p, nil
}

// url resolves an API path against the base URL. Absolute URLs pass through.
func (p *probe) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return p.baseURL + path
}

func (p *probe) Close() {
	p.orch.Close()
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.logger.Debug().Err(err).Msg("close failed")
		}
	}
}

// envTokens holds a static access token. A refresh re-reads the token from
// the environment, so a user can rotate it while watch is running.
type envTokens struct {
	mu    sync.Mutex
	token string
}

func newEnvTokens(token string) *envTokens {
	return &envTokens{token: token}
}

func (e *envTokens) GetAccessToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

func (e *envTokens) RefreshTokens(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := os.Getenv(envToken)
	if next == "" || next == e.token {
		return "", fmt.Errorf("no new token in %s", envToken)
	}
	e.token = next
	return next, nil
}

func (e *envTokens) ClearTokens() {
	e.mu.Lock()
	e.token = ""
	e.mu.Unlock()
}
