// Package scheduler implements the bounded dual scheduler that dispatches
// outbound network calls.
//
// Design Philosophy:
//   - Two independent lanes: reads (GET) and writes (everything else), so
//     mutations never queue behind bulk read traffic
//   - Each lane has a concurrency cap and an "N dispatches per interval"
//     limiter (golang.org/x/time/rate)
//   - Every dispatch, from either lane, also honours a global minimum spacing
//     from the previous dispatch
//   - FIFO within a lane: a single dispatcher goroutine per lane paces tasks
//     in submission order and hands them to the lane's worker slots
//
// Lifecycle:
//   - New starts both dispatchers
//   - Shutdown stops accepting tasks, abandons queued ones with ErrClosed and
//     waits for running tasks to return
//
// Trade-offs:
//   - Pacing is computed against an injected clockwork.Clock; the rate limiter
//     is driven through ReserveN/DelayFrom so tests can use a fake clock
//   - A task whose context is cancelled while queued is still handed to Run
//     (immediately, without pacing) so it can settle its own waiters
package scheduler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Submit after Shutdown and passed to Abandon for
// tasks still queued at shutdown.
var ErrClosed = errors.New("scheduler closed")

// Lane identifies a scheduling lane.
type Lane string

const (
	LaneRead  Lane = "read"
	LaneWrite Lane = "write"
)

// Reference lane settings.
const (
	DefaultReadConcurrency  = 2
	DefaultReadInterval     = 2000 * time.Millisecond
	DefaultWriteConcurrency = 2
	DefaultWriteInterval    = 1000 * time.Millisecond
	DefaultMinSpacing       = 500 * time.Millisecond
	DefaultQueueSize        = 1000
)

// LaneFor returns the lane a request method is dispatched on.
func LaneFor(method string) Lane {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return LaneRead
	default:
		return LaneWrite
	}
}

// LaneConfig bounds one lane.
type LaneConfig struct {
	Concurrency int           // tasks running at once
	Interval    time.Duration // zero disables the per-lane limiter
	PerInterval int           // dispatches allowed per Interval, default 1
}

// Config configures a Scheduler.
type Config struct {
	Read       LaneConfig
	Write      LaneConfig
	MinSpacing time.Duration // between any two dispatches, zero disables
	QueueSize  int           // buffered tasks per lane
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Read:       LaneConfig{Concurrency: DefaultReadConcurrency, Interval: DefaultReadInterval, PerInterval: 1},
		Write:      LaneConfig{Concurrency: DefaultWriteConcurrency, Interval: DefaultWriteInterval, PerInterval: 1},
		MinSpacing: DefaultMinSpacing,
		QueueSize:  DefaultQueueSize,
	}
}

// Task is a unit of work dispatched on a lane.
type Task interface {
	// Run performs the work. ctx is the context given to Submit.
	Run(ctx context.Context)
	// Abandon is called instead of Run when the scheduler shuts down before
	// the task was dispatched.
	Abandon(err error)
}

// TaskFunc adapts a function to Task. Abandon calls the function with a
// context already cancelled with err as its cause.
type TaskFunc func(ctx context.Context)

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

// Abandon calls f with a cancelled context.
func (f TaskFunc) Abandon(err error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(err)
	f(ctx)
}

// Scheduler owns the two lanes and the global spacer.
type Scheduler struct {
	lanes  map[Lane]*lane
	spacer *spacer
	clock  clockwork.Clock
	logger zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	stopChan chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for pacing.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a scheduler and starts its dispatchers.
func New(config Config, opts ...Option) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	s := &Scheduler{
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "scheduler").Logger()
	s.spacer = newSpacer(config.MinSpacing)

	s.lanes = map[Lane]*lane{
		LaneRead:  newLane(LaneRead, config.Read, config.QueueSize, s),
		LaneWrite: newLane(LaneWrite, config.Write, config.QueueSize, s),
	}
	for _, l := range s.lanes {
		l.start()
	}
	return s
}

// Submit queues task on lane. It blocks while the lane's queue is full and
// returns ctx.Err() if ctx ends first, or ErrClosed after Shutdown.
func (s *Scheduler) Submit(ctx context.Context, lane Lane, task Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	l, ok := s.lanes[lane]
	if !ok {
		return errors.New("unknown lane: " + string(lane))
	}

	select {
	case l.queue <- job{ctx: ctx, task: task}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopChan:
		return ErrClosed
	}
}

// Shutdown stops both lanes. Queued tasks are abandoned with ErrClosed and
// running tasks are waited for. Safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopChan)
	s.mu.Unlock()

	for _, l := range s.lanes {
		l.wait()
	}
	s.logger.Debug().Msg("scheduler stopped")
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Lane       Lane
	Queued     int
	Active     int
	Dispatched int64
	Abandoned  int64
	Delayed    int64         // dispatches that had to wait for pacing
	WaitTotal  time.Duration // cumulative pacing delay
}

// Stats returns per-lane statistics.
func (s *Scheduler) Stats() map[Lane]LaneStats {
	out := make(map[Lane]LaneStats, len(s.lanes))
	for name, l := range s.lanes {
		out[name] = l.stats()
	}
	return out
}

// QueueSize returns the number of tasks waiting across both lanes.
func (s *Scheduler) QueueSize() int {
	n := 0
	for _, l := range s.lanes {
		n += len(l.queue)
	}
	return n
}

// ActiveCount returns the number of running tasks across both lanes.
func (s *Scheduler) ActiveCount() int {
	n := 0
	for _, l := range s.lanes {
		n += int(l.active.Load())
	}
	return n
}
