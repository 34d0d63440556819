package arena

import (
	"context"
	"log/slog"
	"time"
)

type recomputer interface {
	Recompute(ctx context.Context) (int, error)
}

// Scheduler batches ranking recomputes. Any number of Notify calls between
// runs collapse into one run, runs are at least MinGap apart, and a run
// happens on every Interval tick regardless.
type Scheduler struct {
	ranker   recomputer
	interval time.Duration
	minGap   time.Duration
	trigger  chan struct{}
	log      *slog.Logger
}

func NewScheduler(r recomputer, interval, minGap time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if minGap < 0 {
		minGap = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ranker:   r,
		interval: interval,
		minGap:   minGap,
		trigger:  make(chan struct{}, 1),
		log:      logger,
	}
}

// Notify never blocks.
func (s *Scheduler) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		last time.Time
		wait <-chan time.Time
	)
	run := func() {
		s.recompute(ctx)
		last = time.Now()
		wait = nil
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		case <-s.trigger:
			if wait != nil {
				continue
			}
			if gap := s.minGap - time.Since(last); gap > 0 {
				wait = time.After(gap)
				continue
			}
			run()
		case <-wait:
			run()
		}
	}
}

func (s *Scheduler) recompute(ctx context.Context) {
	start := time.Now()
	n, err := s.ranker.Recompute(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("arena recompute failed", "err", err)
		}
		return
	}
	s.log.Debug("arena recomputed", "accounts", n, "took", time.Since(start))
}
