// Package cachemanager implements the orchestrator's response cache and
// in-flight registry: a bounded in-memory store (LRU + TTL) keyed by
// RequestKey, prefix invalidation after writes, a best-effort durable mirror,
// and the registry that collapses concurrent identical requests.
//
// Design Choices:
//   - L1 is a mutex-protected map plus LRU list; expiry is checked lazily on
//     read and by a periodic sweep.
//   - Time comes from a clockwork.Clock so TTL boundaries are testable.
//   - The mirror is abstracted via the Mirror interface (file or Redis).
//     Mirror writes are queued to a single worker so they apply in order;
//     prefix deletes wait for the queue to drain, which keeps a post-write
//     read from resurrecting an invalidated entry out of the mirror.
//   - Mirror failures are counted and logged, never returned to callers.
//
// Performance Characteristics:
//   - Get/Put: O(1) average
//   - InvalidateByPrefix: O(n) over the bounded L1 plus the mirror's scan
package cachemanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/budgetly/orchestrator/pkg/models"
)

// Reference configuration.
const (
	DefaultMaxEntries      = 500
	DefaultCleanupInterval = 60 * time.Second
	DefaultMirrorQueueSize = 64
)

// ErrServiceClosed is returned by operations that need the mirror worker after Shutdown.
var ErrServiceClosed = errors.New("cache service closed")

// Config holds runtime configuration for the response cache.
type Config struct {
	MaxEntries      int           // Maximum L1 entries before LRU eviction (0 = unbounded)
	TTL             time.Duration // Lifetime of every cached response
	CleanupInterval time.Duration // How often to sweep expired entries (0 disables)
	MirrorQueueSize int           // Pending mirror writes before new ones are dropped
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      DefaultMaxEntries,
		TTL:             models.DefaultTTL,
		CleanupInterval: DefaultCleanupInterval,
		MirrorQueueSize: DefaultMirrorQueueSize,
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the clock used for TTL and sweeping.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMirror attaches a durable mirror.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Metrics tracks cache performance counters.
type Metrics struct {
	Hits          atomic.Int64
	Misses        atomic.Int64
	Sets          atomic.Int64
	Evictions     atomic.Int64 // expired or LRU-evicted
	Invalidated   atomic.Int64 // removed by prefix
	MirrorHits    atomic.Int64
	MirrorErrors  atomic.Int64
	MirrorDropped atomic.Int64
}

// Stats is a point-in-time copy of Metrics plus the L1 size.
type Stats struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Evictions     int64
	Invalidated   int64
	MirrorHits    int64
	MirrorErrors  int64
	MirrorDropped int64
	Size          int
}

type opKind int

const (
	opSet opKind = iota
	opDeletePrefix
	opBarrier
)

type mirrorOp struct {
	kind   opKind
	entry  *models.CacheEntry
	prefix string
	done   chan error // nil for fire-and-forget
}

// Service is the response cache.
type Service struct {
	l1      *L1Cache
	mirror  Mirror
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *Metrics
	config  Config

	opsMu  sync.RWMutex
	ops    chan mirrorOp
	closed bool

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService creates the cache and starts its background goroutines.
// Call Shutdown to stop them.
func NewService(config Config, opts ...Option) *Service {
	if config.TTL <= 0 {
		config.TTL = models.DefaultTTL
	}
	if config.MirrorQueueSize <= 0 {
		config.MirrorQueueSize = DefaultMirrorQueueSize
	}

	s := &Service{
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
		metrics:  &Metrics{},
		config:   config,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "cache").Logger()
	s.l1 = NewL1Cache(config.MaxEntries, s.clock)

	if s.mirror != nil {
		s.ops = make(chan mirrorOp, config.MirrorQueueSize)
		s.wg.Add(1)
		go s.runMirrorWriter()
	}

	if config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.runTTLCleanup()
	}

	return s
}

// Get returns the cached value for key.
// A key is a miss once the clock reaches its expiresAt; expired entries are
// evicted on the way out. Memory misses read through the mirror.
func (s *Service) Get(ctx context.Context, key string) (interface{}, bool) {
	entry, expired := s.l1.Get(key)
	if entry != nil {
		s.metrics.Hits.Add(1)
		return entry.Value, true
	}
	if expired {
		// The mirror copy shares the same expiresAt, no point asking it
		s.metrics.Evictions.Add(1)
		s.metrics.Misses.Add(1)
		return nil, false
	}

	if s.mirror != nil {
		if entry, ok := s.loadFromMirror(ctx, key); ok {
			s.metrics.Hits.Add(1)
			return entry.Value, true
		}
	}

	s.metrics.Misses.Add(1)
	return nil, false
}

func (s *Service) loadFromMirror(ctx context.Context, key string) (*models.CacheEntry, bool) {
	entry, err := s.mirror.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMirrorMiss) {
			s.metrics.MirrorErrors.Add(1)
			s.logger.Debug().Err(err).Str("key", key).Msg("mirror read failed")
		}
		return nil, false
	}
	if entry.IsExpired(s.clock.Now()) {
		return nil, false
	}

	s.l1.Set(entry)
	s.metrics.MirrorHits.Add(1)
	return entry, true
}

// Put stores value under key for the configured TTL. Only encoding errors
// are returned; mirror failures are absorbed.
func (s *Service) Put(ctx context.Context, key string, value interface{}) error {
	entry, err := models.NewCacheEntry(key, value, s.clock.Now(), s.config.TTL)
	if err != nil {
		return err
	}

	if s.l1.Set(entry) {
		s.metrics.Evictions.Add(1)
	}
	s.metrics.Sets.Add(1)

	if s.mirror != nil {
		s.enqueue(mirrorOp{kind: opSet, entry: entry})
	}
	return nil
}

// InvalidateByPrefix deletes every entry whose key starts with prefix, in
// memory and in the mirror. Returns the number of in-memory entries removed.
func (s *Service) InvalidateByPrefix(ctx context.Context, prefix string) int {
	removed := s.l1.DeletePrefix(prefix)
	s.metrics.Invalidated.Add(int64(removed))

	if s.mirror != nil {
		if err := s.submitAndWait(ctx, mirrorOp{kind: opDeletePrefix, prefix: prefix}); err != nil {
			s.metrics.MirrorErrors.Add(1)
			s.logger.Warn().Err(err).Str("prefix", prefix).Msg("mirror invalidation failed")
		}
	}

	return removed
}

// Flush blocks until every queued mirror write has been applied.
func (s *Service) Flush(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	return s.submitAndWait(ctx, mirrorOp{kind: opBarrier})
}

// enqueue submits a fire-and-forget op, dropping it when the queue is full.
func (s *Service) enqueue(op mirrorOp) {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()

	if s.closed {
		s.metrics.MirrorDropped.Add(1)
		return
	}
	select {
	case s.ops <- op:
	default:
		s.metrics.MirrorDropped.Add(1)
		s.logger.Debug().Str("key", op.entry.Key).Msg("mirror queue full, write dropped")
	}
}

// submitAndWait queues op behind pending writes and waits for its result.
func (s *Service) submitAndWait(ctx context.Context, op mirrorOp) error {
	op.done = make(chan error, 1)

	s.opsMu.RLock()
	if s.closed {
		s.opsMu.RUnlock()
		// Worker is gone; apply directly so invalidation still reaches the mirror
		return s.apply(ctx, op)
	}
	select {
	case s.ops <- op:
		s.opsMu.RUnlock()
	case <-ctx.Done():
		s.opsMu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runMirrorWriter applies mirror ops in submission order.
func (s *Service) runMirrorWriter() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.ops:
			s.handle(op)
		case <-s.stopChan:
			// Drain what was accepted before shutdown
			for {
				select {
				case op := <-s.ops:
					s.handle(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) handle(op mirrorOp) {
	err := s.apply(context.Background(), op)
	if op.done != nil {
		op.done <- err
		return
	}
	if err != nil {
		s.metrics.MirrorErrors.Add(1)
		s.logger.Debug().Err(err).Msg("mirror write failed")
	}
}

func (s *Service) apply(ctx context.Context, op mirrorOp) error {
	switch op.kind {
	case opSet:
		return s.mirror.Set(ctx, op.entry)
	case opDeletePrefix:
		_, err := s.mirror.DeletePrefix(ctx, op.prefix)
		return err
	default:
		return nil
	}
}

// runTTLCleanup periodically removes expired entries from L1.
func (s *Service) runTTLCleanup() {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.Chan():
			if evicted := s.l1.CleanupExpired(); evicted > 0 {
				s.metrics.Evictions.Add(int64(evicted))
				s.logger.Debug().Int("evicted", evicted).Msg("swept expired entries")
			}
		}
	}
}

// Size returns the number of entries held in memory.
func (s *Service) Size() int {
	return s.l1.Size()
}

// Stats returns current cache statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:          s.metrics.Hits.Load(),
		Misses:        s.metrics.Misses.Load(),
		Sets:          s.metrics.Sets.Load(),
		Evictions:     s.metrics.Evictions.Load(),
		Invalidated:   s.metrics.Invalidated.Load(),
		MirrorHits:    s.metrics.MirrorHits.Load(),
		MirrorErrors:  s.metrics.MirrorErrors.Load(),
		MirrorDropped: s.metrics.MirrorDropped.Load(),
		Size:          s.l1.Size(),
	}
}

// Shutdown gracefully stops the sweep and flushes the mirror queue.
// Safe to call more than once.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() {
		s.opsMu.Lock()
		s.closed = true
		s.opsMu.Unlock()

		close(s.stopChan)
		s.wg.Wait()
	})
}
