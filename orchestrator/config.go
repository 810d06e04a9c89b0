package orchestrator

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
	"github.com/budgetly/orchestrator/invalidation"
	"github.com/budgetly/orchestrator/pkg/middleware"
	"github.com/budgetly/orchestrator/scheduler"
)

// Reference values for the settings not owned by a sub-package.
const (
	DefaultRetryAfter     = 10 * time.Second
	DefaultUpgradeMessage = "Upgrade to Premium to unlock this feature."
	PremiumRequiredCode   = "PREMIUM_REQUIRED"
)

// DefaultAuthPaths are the endpoints that never get an automatic bearer
// token and never trigger a refresh on 401.
var DefaultAuthPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/auth/forgot-password",
	"/auth/reset-password",
}

// Config holds the orchestrator settings. Values are fixed for the lifetime
// of an Orchestrator.
type Config struct {
	Scheduler scheduler.Config
	Cache     cachemanager.Config

	RateCeiling int           // novel requests allowed per RateWindow
	RateWindow  time.Duration // sliding window length

	DefaultRetryAfter time.Duration // 429 backoff when Retry-After is absent
	UpgradeMessage    string        // shown when a premium 403 carries no message
	AuthPaths         []string      // path suffixes treated as auth endpoints

	// Resources maps write URLs to the cached reads they invalidate.
	// Nil uses invalidation.DefaultResourceTable.
	Resources *invalidation.ResourceTable

	// HTTPClient performs the network calls. Nil uses a client whose
	// transport logs every exchange through Logger.
	HTTPClient *http.Client

	// Mirror persists cache entries. Nil keeps the cache in memory only.
	Mirror cachemanager.Mirror

	Logger zerolog.Logger
	Clock  clockwork.Clock
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Scheduler:         scheduler.DefaultConfig(),
		Cache:             cachemanager.DefaultConfig(),
		RateCeiling:       middleware.DefaultRateCeiling,
		RateWindow:        middleware.DefaultRateWindow,
		DefaultRetryAfter: DefaultRetryAfter,
		UpgradeMessage:    DefaultUpgradeMessage,
		AuthPaths:         append([]string(nil), DefaultAuthPaths...),
		Logger:            zerolog.Nop(),
		Clock:             clockwork.NewRealClock(),
	}
}

// withDefaults fills zero values a caller may leave out of a hand-built Config.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RateCeiling <= 0 {
		c.RateCeiling = def.RateCeiling
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = def.DefaultRetryAfter
	}
	if c.UpgradeMessage == "" {
		c.UpgradeMessage = def.UpgradeMessage
	}
	if c.AuthPaths == nil {
		c.AuthPaths = def.AuthPaths
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.Resources == nil {
		c.Resources = invalidation.DefaultResourceTable()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Transport: middleware.NewLoggingTransport(nil, c.Logger)}
	}
	return c
}
