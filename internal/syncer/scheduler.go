package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/sideline/internal/connectivity"
)

// Drainer runs a drain pass
type Drainer interface {
	Drain(ctx context.Context) (Result, error)
}

// Scheduler triggers drains on a timer while online and whenever the
// device comes back online. It can run standalone via Start/Stop or under
// a supervisor via Serve.
type Scheduler struct {
	drainer  Drainer
	conn     connectivity.Signal
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler
func NewScheduler(drainer Drainer, conn connectivity.Signal, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		drainer:  drainer,
		conn:     conn,
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start runs the scheduler in the background; it is a no-op when running
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		_ = s.Serve(ctx)
	}()
}

// Stop cancels the scheduler and waits for it to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning reports whether Start has been called without a matching Stop
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// String names the service for the supervisor
func (s *Scheduler) String() string { return "sync-scheduler" }

// Serve blocks until ctx is done
func (s *Scheduler) Serve(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	unsubscribe := s.conn.Subscribe(func(online bool) {
		if online {
			kick()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Drain anything recovered from a previous run
	if s.conn.Online() {
		kick()
	}

	s.logger.Info("sync scheduler started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if s.conn.Online() {
				s.run(ctx)
			}
		case <-trigger:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	_, err := s.drainer.Drain(ctx)
	switch {
	case err == nil, errors.Is(err, ErrOffline), errors.Is(err, context.Canceled):
	default:
		s.logger.Warn("scheduled drain halted", slog.Any("error", err))
	}
}
