// Package scheduler decides when a replica syncs. It owns no sync logic
// itself; it periodically invokes a caller-supplied sync function and
// retries transient failures with exponential backoff.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/syncerr"
)

const (
	defaultInterval       = time.Minute
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxRetries     = 5
)

// SyncFunc performs one sync round. Returning an error triggers a retry
// unless the error is non-retriable (integrity, divergence, manual
// resolution), which aborts the round until the next tick.
type SyncFunc func(ctx context.Context) error

// Config holds scheduler configuration
type Config struct {
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     uint64
}

// Scheduler drives periodic sync rounds
type Scheduler struct {
	cfg    Config
	fn     SyncFunc
	logger *zap.Logger

	trigger  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rounds uint64
	failed uint64
}

// New creates a scheduler in the stopped state
func New(cfg Config, fn SyncFunc, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		fn:      fn,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop cancels the loop and waits for an in-flight round to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info("Sync scheduler stopped")
	})
}

// TriggerNow requests an immediate round without waiting for the next tick.
// Requests arriving while a trigger is already queued are coalesced.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Rounds returns the number of completed sync rounds
func (s *Scheduler) Rounds() uint64 { return atomic.LoadUint64(&s.rounds) }

// Failed returns the number of rounds that exhausted their retries
func (s *Scheduler) Failed() uint64 { return atomic.LoadUint64(&s.failed) }

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runRound()
		case <-s.trigger:
			s.runRound()
		}
	}
}

// runRound executes one round with exponential backoff. Integrity and
// divergence errors are never retried with the same inputs; they abort the
// round and wait for the next tick, by which time the caller's state has
// moved on (resynced or resolved).
func (s *Scheduler) runRound() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	policy.MaxInterval = s.cfg.MaxBackoff

	operation := func() error {
		err := s.fn(ctx)
		if err == nil {
			return nil
		}
		if !retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, s.cfg.MaxRetries), ctx))
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		s.logger.Warn("Sync round failed", zap.Error(err))
		return
	}
	atomic.AddUint64(&s.rounds, 1)
}

func retriable(err error) bool {
	if syncerr.IsIntegrity(err) || syncerr.IsCausality(err) {
		return false
	}
	return syncerr.GetCode(err) != syncerr.ErrCodeManualResolutionRequired
}
