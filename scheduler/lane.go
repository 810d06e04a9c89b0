package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type job struct {
	ctx  context.Context
	task Task
}

// lane is one FIFO queue with its own concurrency cap and dispatch rate.
type lane struct {
	name    Lane
	owner   *Scheduler
	queue   chan job
	slots   chan struct{} // one token per running task
	limiter *rate.Limiter

	active     atomic.Int32
	dispatched atomic.Int64
	abandoned  atomic.Int64
	delayed    atomic.Int64
	waitNanos  atomic.Int64

	wg sync.WaitGroup
}

func newLane(name Lane, cfg LaneConfig, queueSize int, owner *Scheduler) *lane {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PerInterval <= 0 {
		cfg.PerInterval = 1
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval / time.Duration(cfg.PerInterval))
	}

	return &lane{
		name:    name,
		owner:   owner,
		queue:   make(chan job, queueSize),
		slots:   make(chan struct{}, cfg.Concurrency),
		limiter: rate.NewLimiter(limit, cfg.PerInterval),
	}
}

func (l *lane) start() {
	l.wg.Add(1)
	go l.runDispatcher()
}

func (l *lane) wait() {
	l.wg.Wait()
}

// runDispatcher is the lane's main loop: take the next task, wait for a free
// slot, pace, then run it on its own goroutine.
func (l *lane) runDispatcher() {
	defer l.wg.Done()

	stop := l.owner.stopChan
	for {
		select {
		case <-stop:
			l.drain()
			return

		case j := <-l.queue:
			select {
			case l.slots <- struct{}{}:
			case <-stop:
				l.abandon(j)
				l.drain()
				return
			}

			if j.ctx.Err() == nil {
				if !l.pace(j.ctx, stop) && j.ctx.Err() == nil {
					// Stopped while pacing
					<-l.slots
					l.abandon(j)
					l.drain()
					return
				}
			}

			l.active.Add(1)
			l.dispatched.Add(1)
			l.wg.Add(1)
			go l.runTask(j)
		}
	}
}

func (l *lane) runTask(j job) {
	defer l.wg.Done()
	defer func() {
		l.active.Add(-1)
		<-l.slots
	}()
	j.task.Run(j.ctx)
}

// pace waits for the lane limiter and the global spacer. It returns false if
// ctx or stop ended the wait early.
func (l *lane) pace(ctx context.Context, stop <-chan struct{}) bool {
	clock := l.owner.clock
	now := clock.Now()

	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return true
	}
	at := l.owner.spacer.reserve(now.Add(r.DelayFrom(now)))
	delay := at.Sub(now)
	if delay <= 0 {
		return true
	}

	l.delayed.Add(1)
	l.waitNanos.Add(int64(delay))

	select {
	case <-clock.After(delay):
		return true
	case <-ctx.Done():
		r.CancelAt(clock.Now())
		return false
	case <-stop:
		r.CancelAt(clock.Now())
		return false
	}
}

func (l *lane) abandon(j job) {
	l.abandoned.Add(1)
	j.task.Abandon(ErrClosed)
}

// drain abandons everything still queued.
func (l *lane) drain() {
	for {
		select {
		case j := <-l.queue:
			l.abandon(j)
		default:
			return
		}
	}
}

func (l *lane) stats() LaneStats {
	return LaneStats{
		Lane:       l.name,
		Queued:     len(l.queue),
		Active:     int(l.active.Load()),
		Dispatched: l.dispatched.Load(),
		Abandoned:  l.abandoned.Load(),
		Delayed:    l.delayed.Load(),
		WaitTotal:  time.Duration(l.waitNanos.Load()),
	}
}
