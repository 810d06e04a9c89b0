// Package orchestrator sits between application code and the network and
// decides, for every outgoing API request, whether it is served from cache,
// joined to an identical call already in flight, rejected by the local rate
// budget, or dispatched on a scheduler lane.
//
// Request path:
//
//	Fetch -> RequestKey -> cache (GET) -> in-flight registry -> rate budget -> lane
//
// The lane task performs the network call and handles the recovery flows
// inline:
//   - 401: single-flight token refresh, then one retry with the new token
//   - 403 carrying PREMIUM_REQUIRED: one profile refresh and retry, then the
//     upgrade prompt
//   - 429: back off for Retry-After (default 10s), then fail with
//     *TooManyRequestsError
//
// The outcome is captured once as a models.ResponseSnapshot and every waiter
// receives its own view. Successful cacheable GETs populate the cache;
// successful writes invalidate the reads they make stale.
//
// Concurrency Model:
//   - One Orchestrator per process, constructed explicitly and shared
//   - Every shared structure (cache, registry, rate window, refresh state,
//     premium counters) is guarded by its own lock; no global state
//   - A caller's context only detaches that caller; the network call is
//     cancelled once every attached caller has gone
//
// Trade-offs:
//   - The bearer token is attached when Fetch is called, so a request queued
//     across a refresh goes out with the old token and is retried with the
//     current one on 401 without a second refresh
//   - The 429 backoff holds its lane slot, throttling that lane as a whole
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
	"github.com/budgetly/orchestrator/invalidation"
	"github.com/budgetly/orchestrator/monitoring"
	"github.com/budgetly/orchestrator/pkg/middleware"
	"github.com/budgetly/orchestrator/pkg/models"
	"github.com/budgetly/orchestrator/pkg/pubsub"
	"github.com/budgetly/orchestrator/scheduler"
)

// CacheStatusHeader is set to "HIT" on responses served from the cache.
const CacheStatusHeader = "X-Cache"

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTokenProvider enables bearer tokens and the 401 refresh flow.
func WithTokenProvider(p TokenProvider) Option {
	return func(o *Orchestrator) { o.tokens = p }
}

// WithLogoutNotifier replaces the default pubsub.LogoutBroadcaster.
func WithLogoutNotifier(n LogoutNotifier) Option {
	return func(o *Orchestrator) { o.logout = n }
}

// WithProfileRefresher enables the silent retry of premium-gated requests.
func WithProfileRefresher(p ProfileRefresher) Option {
	return func(o *Orchestrator) { o.profile = p }
}

// WithUpgradePrompter sets the initial upgrade prompter.
func WithUpgradePrompter(p UpgradePrompter) Option {
	return func(o *Orchestrator) { o.prompter = p }
}

// Orchestrator is the client-side request orchestrator.
type Orchestrator struct {
	config Config
	clock  clockwork.Clock
	logger zerolog.Logger
	client *http.Client

	policy      cachemanager.CachePolicy
	cache       *cachemanager.Service
	registry    *cachemanager.Registry
	budget      *middleware.RateBudget
	sched       *scheduler.Scheduler
	invalidator *invalidation.Service
	metrics     *monitoring.MetricsCollector
	refresh     *refreshCoordinator
	premium     *premiumAttempts

	tokens  TokenProvider
	logout  LogoutNotifier
	profile ProfileRefresher

	promptMu sync.RWMutex
	prompter UpgradePrompter

	invalidations *pubsub.Topic[*pubsub.InvalidationEvent]
	upgrades      *pubsub.Topic[*pubsub.UpgradePromptEvent]

	closed    atomic.Bool
	closeOnce sync.Once
}

// exchange is one request as sent and the response it produced.
type exchange struct {
	req  *Request
	snap *models.ResponseSnapshot
}

// New builds an Orchestrator and starts its scheduler and cache sweep.
// Call Close to stop them.
func New(config Config, opts ...Option) *Orchestrator {
	config = config.withDefaults()

	o := &Orchestrator{
		config:        config,
		clock:         config.Clock,
		logger:        config.Logger.With().Str("component", "orchestrator").Logger(),
		client:        config.HTTPClient,
		policy:        cachemanager.DefaultPolicy{},
		registry:      cachemanager.NewRegistry(),
		premium:       newPremiumAttempts(),
		invalidations: pubsub.NewTopic[*pubsub.InvalidationEvent](pubsub.TopicCacheInvalidate),
		upgrades:      pubsub.NewTopic[*pubsub.UpgradePromptEvent](pubsub.TopicPremiumUpgrade),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logout == nil {
		o.logout = pubsub.NewLogoutBroadcaster()
	}
	o.refresh = &refreshCoordinator{o: o}

	cacheOpts := []cachemanager.Option{
		cachemanager.WithClock(config.Clock),
		cachemanager.WithLogger(config.Logger),
	}
	if config.Mirror != nil {
		cacheOpts = append(cacheOpts, cachemanager.WithMirror(config.Mirror))
	}
	o.cache = cachemanager.NewService(config.Cache, cacheOpts...)

	o.budget = middleware.NewRateBudget(config.RateCeiling, config.RateWindow, config.Clock)
	o.sched = scheduler.New(config.Scheduler,
		scheduler.WithClock(config.Clock),
		scheduler.WithLogger(config.Logger),
	)
	o.invalidator = invalidation.NewService(o.cache, config.Resources,
		invalidation.WithTopic(o.invalidations),
		invalidation.WithLogger(config.Logger),
		invalidation.WithClock(config.Clock),
	)
	o.metrics = monitoring.NewMetricsCollector(gauges{o}, config.Clock)

	return o
}

// Fetch performs req. Non-2xx responses that no recovery flow owns are
// returned as responses, not errors, like a plain HTTP fetch.
//
// Errors: *RateLimitError, ErrUnauthorized, *TooManyRequestsError,
// ErrUpgradePrompted, an ErrAborted wrap of ctx.Err() when the caller
// cancels, ErrClosed, or the transport error unchanged.
func (o *Orchestrator) Fetch(ctx context.Context, request *Request) (*models.Response, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		o.metrics.Record(monitoring.MetricAborted)
		return nil, aborted(err)
	}

	req, err := normalize(request)
	if err != nil {
		return nil, err
	}
	o.attachToken(req)
	mode := o.policy.Mode(req.Method, req.Header)
	stripInternalHeaders(req.Header)
	key := RequestKey(req, mode)

	log := o.logger.With().Str("method", req.Method).Str("url", req.URL).Logger()

	if mode == cachemanager.ModeCache {
		if value, ok := o.cache.Get(ctx, key); ok {
			if resp, err := cachedResponse(value); err == nil {
				o.metrics.Record(monitoring.MetricCacheHit)
				log.Debug().Msg("cache hit")
				return resp, nil
			}
		}
		o.metrics.Record(monitoring.MetricCacheMiss)
	}

	call, exists := o.registry.Join(key)
	if exists {
		o.metrics.Record(monitoring.MetricDedupJoin)
		log.Debug().Msg("joined in-flight request")
	} else {
		o.start(call, req, key, mode)
	}

	snap, err := call.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			o.metrics.Record(monitoring.MetricAborted)
			log.Debug().Msg("request aborted by caller")
			return nil, aborted(ctxErr)
		}
		return nil, err
	}
	return snap.View(), nil
}

// Get is Fetch for a plain GET.
func (o *Orchestrator) Get(ctx context.Context, rawURL string) (*models.Response, error) {
	return o.Fetch(ctx, &Request{Method: http.MethodGet, URL: rawURL})
}

// start admits a novel request and queues it on its lane.
func (o *Orchestrator) start(call *cachemanager.Call, req *Request, key string, mode cachemanager.CacheMode) {
	if !o.budget.TryAdmit() {
		o.metrics.Record(monitoring.MetricRateLimited)
		err := &RateLimitError{RetryIn: o.budget.RetryIn()}
		o.logger.Warn().
			Str("method", req.Method).
			Str("url", req.URL).
			Dur("retry_in", err.RetryIn).
			Msg("rate budget exhausted")
		call.Resolve(nil, err)
		return
	}

	t := &task{
		o:         o,
		call:      call,
		req:       req,
		key:       key,
		mode:      mode,
		requestID: middleware.NewRequestID(),
	}
	if err := o.sched.Submit(call.Context(), scheduler.LaneFor(req.Method), t); err != nil {
		if !errors.Is(err, ErrClosed) {
			err = aborted(err)
		}
		call.Resolve(nil, err)
	}
}

// task is one novel request on a scheduler lane.
type task struct {
	o         *Orchestrator
	call      *cachemanager.Call
	req       *Request
	key       string
	mode      cachemanager.CacheMode
	requestID string
}

// Run implements scheduler.Task. The call is always settled, even if
// execution panics, so the key can never stay in flight.
func (t *task) Run(ctx context.Context) {
	o := t.o
	ctx = middleware.WithRequestID(ctx, t.requestID)

	defer func() {
		if r := recover(); r != nil {
			o.metrics.Record(monitoring.MetricFailure)
			o.logger.Error().
				Str("request_id", t.requestID).
				Str("key", t.key).
				Interface("panic", r).
				Msg("request task panicked")
			t.call.Resolve(nil, fmt.Errorf("orchestrator: request panicked: %v", r))
		}
	}()

	snap, err := o.execute(ctx, t)
	t.call.Resolve(snap, err)
}

// Abandon implements scheduler.Task.
func (t *task) Abandon(err error) {
	t.call.Resolve(nil, err)
}

func (o *Orchestrator) execute(ctx context.Context, t *task) (*models.ResponseSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, t, aborted(err))
	}

	ex, err := o.send(ctx, t.req)
	if err != nil {
		return nil, o.fail(ctx, t, err)
	}

	if ex.snap.Status() == http.StatusUnauthorized && !o.isAuthPath(t.req.URL) {
		if ex, err = o.handleUnauthorized(ctx, ex); err != nil {
			return nil, o.fail(ctx, t, err)
		}
	}

	if isPremiumRequired(ex.snap.Status(), ex.snap.BodyBytes()) {
		if ex, err = o.handlePremium(ctx, t.key, ex); err != nil {
			return nil, o.fail(ctx, t, err)
		}
	}

	if ex.snap.Status() == http.StatusTooManyRequests {
		return nil, o.fail(ctx, t, o.backoff(ctx, ex.snap))
	}

	if ex.snap.OK() {
		o.onSuccess(ctx, t, ex.snap)
	}
	return ex.snap, nil
}

// send performs one network call and captures the response.
func (o *Orchestrator) send(ctx context.Context, req *Request) (*exchange, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	if id := middleware.RequestIDFromCtx(ctx); id != "" {
		httpReq.Header.Set(middleware.RequestIDHeader, id)
	}

	o.metrics.Record(monitoring.MetricNetworkCall)
	start := o.clock.Now()

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, aborted(ctxErr)
		}
		return nil, err
	}

	snap, err := models.CaptureResponse(resp)
	o.metrics.ObserveLatency(o.clock.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, aborted(ctxErr)
		}
		return nil, err
	}
	return &exchange{req: req, snap: snap}, nil
}

// backoff sleeps for the server's Retry-After and returns the 429 error.
func (o *Orchestrator) backoff(ctx context.Context, snap *models.ResponseSnapshot) error {
	wait := retryAfter(snap.HeaderValue("Retry-After"), o.clock.Now(), o.config.DefaultRetryAfter)
	o.metrics.Record(monitoring.MetricThrottled)
	o.logger.Warn().
		Str("request_id", middleware.RequestIDFromCtx(ctx)).
		Dur("retry_after", wait).
		Msg("server throttled request, backing off")

	if wait > 0 {
		select {
		case <-o.clock.After(wait):
		case <-ctx.Done():
			return aborted(ctx.Err())
		}
	}
	return &TooManyRequestsError{RetryAfter: wait}
}

// retryAfter parses a Retry-After value (delta seconds or HTTP date).
func retryAfter(value string, now time.Time, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

// onSuccess populates the cache for cacheable reads and invalidates after
// writes. Failures here never affect the response.
func (o *Orchestrator) onSuccess(ctx context.Context, t *task, snap *models.ResponseSnapshot) {
	// The response is already in hand; finish even if every waiter left.
	ctx = context.WithoutCancel(ctx)

	if t.mode == cachemanager.ModeCache {
		var value interface{}
		if err := json.Unmarshal(snap.BodyBytes(), &value); err != nil {
			o.logger.Debug().Str("key", t.key).Msg("response is not JSON, not cached")
			return
		}
		if err := o.cache.Put(ctx, t.key, value); err != nil {
			o.logger.Debug().Err(err).Str("key", t.key).Msg("cache write failed")
		}
		return
	}

	if scheduler.LaneFor(t.req.Method) == scheduler.LaneWrite {
		if res := o.invalidator.OnWriteSuccess(ctx, t.req.Method, t.req.URL); len(res.Prefixes) > 0 {
			o.metrics.Record(monitoring.MetricInvalidation)
		}
	}
}

// fail records a terminal error for t and returns it unchanged. Aborts are
// logged at Debug and never counted as failures.
func (o *Orchestrator) fail(ctx context.Context, t *task, err error) error {
	ev := o.logger.Error()
	switch {
	case IsAborted(err):
		ev = o.logger.Debug()
	case errors.Is(err, ErrUpgradePrompted), errors.Is(err, ErrTooManyRequests):
		// Counted and logged by their own flows
		return err
	default:
		o.metrics.Record(monitoring.MetricFailure)
	}
	ev.Err(err).
		Str("request_id", middleware.RequestIDFromCtx(ctx)).
		Str("method", t.req.Method).
		Str("url", t.req.URL).
		Msg("request failed")
	return err
}

// cachedResponse synthesizes a 200 from a cached JSON value.
func cachedResponse(value interface{}) (*models.Response, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return models.NewResponseSnapshot(http.StatusOK, "", []models.HeaderField{
		{Name: "Content-Type", Value: "application/json"},
		{Name: CacheStatusHeader, Value: "HIT"},
	}, body).View(), nil
}

// stripInternalHeaders removes directives meant for the orchestrator only.
func stripInternalHeaders(h http.Header) {
	for k := range h {
		if strings.EqualFold(k, cachemanager.SkipCacheHeader) {
			delete(h, k)
		}
	}
}

// SetUpgradePrompter replaces the upgrade prompter. Last writer wins; nil
// removes it.
func (o *Orchestrator) SetUpgradePrompter(p UpgradePrompter) {
	o.promptMu.Lock()
	o.prompter = p
	o.promptMu.Unlock()
}

// Logout returns the notifier that fires when the session ends.
func (o *Orchestrator) Logout() LogoutNotifier { return o.logout }

// InvalidationTopic publishes one event per successful write.
func (o *Orchestrator) InvalidationTopic() *pubsub.Topic[*pubsub.InvalidationEvent] {
	return o.invalidations
}

// UpgradeTopic publishes one event per upgrade prompt.
func (o *Orchestrator) UpgradeTopic() *pubsub.Topic[*pubsub.UpgradePromptEvent] {
	return o.upgrades
}

// RecentInvalidations returns up to n invalidation records, newest first.
func (o *Orchestrator) RecentInvalidations(ctx context.Context, n int) ([]invalidation.AuditLog, error) {
	return o.invalidator.Recent(ctx, n)
}

// Stats returns a snapshot of the orchestrator counters.
func (o *Orchestrator) Stats() models.MetricSnapshot {
	return o.metrics.Snapshot()
}

// CacheStats returns the response cache counters.
func (o *Orchestrator) CacheStats() cachemanager.Stats {
	return o.cache.Stats()
}

// LaneStats returns per-lane scheduler statistics.
func (o *Orchestrator) LaneStats() map[scheduler.Lane]scheduler.LaneStats {
	return o.sched.Stats()
}

// Collector exports the counters to Prometheus.
func (o *Orchestrator) Collector() prometheus.Collector {
	return monitoring.NewPrometheusCollector(o.metrics)
}

// Close stops the scheduler (queued requests fail with ErrClosed), waits
// for running requests and stops the cache. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.sched.Shutdown()
		o.cache.Shutdown()
		o.logger.Debug().Msg("orchestrator closed")
	})
}

// gauges exposes live sizes to the metrics collector.
type gauges struct{ o *Orchestrator }

func (g gauges) CacheSize() int { return g.o.cache.Size() }
func (g gauges) InFlight() int  { return g.o.registry.InFlight() }
