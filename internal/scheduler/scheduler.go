package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/sms-router/internal/lock"
	"github.com/LeventeLantos/sms-router/internal/model"
)

// Task is the periodic job.
type Task func(ctx context.Context) error

// Options make each tick cluster-singleton: a tick runs only while holding
// the named lease. A nil Locker runs every tick.
type Options struct {
	Locker    lock.Locker
	LeaseName string
	LeaseTTL  time.Duration
}

type Status struct {
	Running  bool       `json:"running"`
	Interval string     `json:"interval"`
	Runs     int64      `json:"runs"`
	Skipped  int64      `json:"skipped"`
	Failures int64      `json:"failures"`
	LastRun  *time.Time `json:"lastRun,omitempty"`
}

type Scheduler struct {
	interval time.Duration
	task     Task
	opts     Options

	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	lastRun  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, task Task, opts Options) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if task == nil {
		return nil, errors.New("task must not be nil")
	}
	if opts.Locker != nil {
		if opts.LeaseName == "" {
			return nil, errors.New("lease name must be set with a locker")
		}
		if opts.LeaseTTL <= 0 {
			opts.LeaseTTL = lock.DefaultSweepTTL
		}
	}
	return &Scheduler{
		interval: interval,
		task:     task,
		opts:     opts,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "interval", s.interval.String(), "lease", s.opts.LeaseName)

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Runs:     s.runs.Load(),
		Skipped:  s.skipped.Load(),
		Failures: s.failures.Load(),
	}
	if ns := s.lastRun.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		st.LastRun = &t
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			slog.Error("scheduler tick panic recovered", "panic", r)
		}
	}()

	if s.opts.Locker != nil {
		lease, err := s.opts.Locker.Acquire(ctx, s.opts.LeaseName, s.opts.LeaseTTL)
		if errors.Is(err, model.ErrLockUnavailable) {
			s.skipped.Add(1)
			slog.Debug("scheduler tick skipped, lease held elsewhere", "lease", s.opts.LeaseName)
			return
		}
		if err != nil {
			s.failures.Add(1)
			slog.Error("scheduler lease acquire failed", "lease", s.opts.LeaseName, "err", err)
			return
		}
		defer func() {
			if err := s.opts.Locker.Release(context.WithoutCancel(ctx), lease); err != nil {
				slog.Warn("scheduler lease release failed", "lease", s.opts.LeaseName, "err", err)
			}
		}()
	}

	start := time.Now()
	s.lastRun.Store(start.UnixNano())
	s.runs.Add(1)

	if err := s.task(ctx); err != nil {
		s.failures.Add(1)
		slog.Error("scheduler tick failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
