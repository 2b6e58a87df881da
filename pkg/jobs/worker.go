package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// ErrSweepRunning is returned when a sweep is requested while one is in
// progress.
var ErrSweepRunning = errors.New("a verification sweep is already running")

// ChainVerifier verifies every chain. It is satisfied by *ledger.Engine.
type ChainVerifier interface {
	VerifyAll(ctx context.Context, concurrency int) ([]*ledger.VerifyReport, error)
}

// Sweeper runs at most one sweep at a time, on a schedule or on request.
type Sweeper struct {
	verifier ChainVerifier
	store    *RunStore
	cfg      *Config
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewSweeper creates a Sweeper.
func NewSweeper(verifier ChainVerifier, store *RunStore, cfg *Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Sweeper{
		verifier: verifier,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every cfg.Interval until ctx is cancelled, then waits for any
// sweep in flight, including manually triggered ones.
func (s *Sweeper) Run(ctx context.Context) {
	defer s.wg.Wait()
	if !s.cfg.Enabled || s.cfg.Interval <= 0 {
		s.logger.Info("verification sweeps disabled")
		return
	}

	if n, err := s.store.MarkInterrupted(ctx, s.now().UTC()); err != nil {
		s.logger.Error("failed to recover interrupted sweeps", "error", err)
	} else if n > 0 {
		s.logger.Warn("marked interrupted sweeps as failed", "count", n)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("verification sweeps started",
		"interval", s.cfg.Interval.String(),
		"concurrency", s.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("verification sweeps stopped")
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx, TriggerSchedule, "scheduler"); err != nil && !errors.Is(err, ErrSweepRunning) {
				s.logger.Error("scheduled sweep failed", "error", err)
			}
			s.cleanup(ctx)
		}
	}
}

// RunNow runs one sweep synchronously and returns the finished run. A run
// whose VerifyAll failed is returned along with that error.
func (s *Sweeper) RunNow(ctx context.Context, trigger Trigger, actor string) (*SweepRun, error) {
	run, err := s.begin(ctx, trigger, actor)
	if err != nil {
		return nil, err
	}
	if err := s.execute(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Trigger starts a sweep in the background and returns the run as started.
// The sweep outlives ctx.
func (s *Sweeper) Trigger(ctx context.Context, actor string) (*SweepRun, error) {
	run, err := s.begin(ctx, TriggerManual, actor)
	if err != nil {
		return nil, err
	}
	started := *run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.execute(context.WithoutCancel(ctx), run)
	}()
	return &started, nil
}

func (s *Sweeper) begin(ctx context.Context, trigger Trigger, actor string) (*SweepRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepRunning
	}
	run := &SweepRun{
		ID:            uuid.NewString(),
		Trigger:       trigger,
		RequestedBy:   actor,
		State:         RunStateRunning,
		StartedAt:     s.now().UTC(),
		InvalidChains: []string{},
	}
	if err := s.store.Create(ctx, run); err != nil {
		s.running.Store(false)
		return nil, err
	}
	return run, nil
}

func (s *Sweeper) execute(ctx context.Context, run *SweepRun) error {
	defer s.running.Store(false)

	start := time.Now()
	reports, verr := s.verifier.VerifyAll(ctx, s.cfg.Concurrency)

	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.DurationMs = time.Since(start).Milliseconds()
	if verr != nil {
		run.State = RunStateFailed
		run.LastError = verr.Error()
		s.logger.Error("verification sweep failed", "runID", run.ID, "error", verr)
	} else {
		run.State = RunStateSucceeded
		run.ChainsChecked = len(reports)
		for _, r := range reports {
			if r.Valid {
				continue
			}
			key := ledger.ChainKey(r.ProjectID, r.ArtifactID)
			run.InvalidChains = append(run.InvalidChains, key)
			s.logger.Warn("chain failed verification",
				"runID", run.ID,
				"chain", key,
				"firstMismatchIndex", r.FirstMismatchIndex,
				"reason", r.Reason)
		}
		s.logger.Info("verification sweep completed",
			"runID", run.ID,
			"chains", run.ChainsChecked,
			"invalid", len(run.InvalidChains),
			"durationMs", run.DurationMs)
	}

	// Record the outcome even when shutdown cancelled ctx mid-sweep.
	if err := s.store.Finish(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("failed to record sweep result", "runID", run.ID, "error", err)
		if verr == nil {
			return err
		}
	}
	return verr
}

func (s *Sweeper) cleanup(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to delete old sweep runs", "error", err)
	} else if deleted > 0 {
		s.logger.Info("deleted old sweep runs", "count", deleted)
	}
}
