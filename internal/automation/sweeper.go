package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/znz-systems/mailpilot/internal/mail"
)

type SweeperOptions struct {
	Interval   time.Duration
	BatchSize  int
	MaxAge     time.Duration
	MaxTracked int
}

// Sweeper periodically offers recent threads to the orchestrator.
type Sweeper struct {
	runner     runner
	mail       mail.Client
	interval   time.Duration
	batchSize  int
	maxAge     time.Duration
	maxTracked int
	now        func() time.Time

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string // insertion order of seen, oldest first
}

type runner interface {
	Run(ctx context.Context, threadID string) (*Result, error)
}

func NewSweeper(o *Orchestrator, client mail.Client, opts SweeperOptions) *Sweeper {
	return newSweeper(o, client, opts)
}

func newSweeper(r runner, client mail.Client, opts SweeperOptions) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 15
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	maxTracked := opts.MaxTracked
	if maxTracked <= 0 {
		maxTracked = 1000
	}
	return &Sweeper{
		runner:     r,
		mail:       client,
		interval:   interval,
		batchSize:  batch,
		maxAge:     maxAge,
		maxTracked: maxTracked,
		now:        time.Now,
		seen:       make(map[string]struct{}),
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		sent, err := s.sweepOnce(ctx)
		if err != nil {
			slog.Error("auto-reply sweep failed", "error", err)
		} else if sent > 0 {
			slog.Info("auto-reply sweep finished", "sent", sent)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepOnce runs the orchestrator over unseen recent threads. It stops early
// when automation cannot proceed for any thread.
func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	threads, err := s.mail.ListRecentThreads(ctx, s.batchSize)
	if errors.Is(err, ErrNotConnected) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list recent threads: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	sent := 0
	for _, th := range threads {
		if ctx.Err() != nil {
			return sent, nil
		}
		if !th.Date.IsZero() && th.Date.Before(cutoff) {
			continue
		}
		if s.wasSeen(th.ID) {
			continue
		}

		_, err := s.runner.Run(ctx, th.ID)
		switch {
		case err == nil:
			sent++
			s.markSeen(th.ID)
		case errors.Is(err, ErrDisabled), errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrNotConnected):
			return sent, nil
		case errors.Is(err, ErrPolicyRejected), errors.Is(err, ErrThreadNotFound):
			s.markSeen(th.ID)
		default:
			slog.Warn("auto-reply sweep skipped thread", "thread_id", th.ID, "reason", Reason(err), "error", err)
		}
	}
	return sent, nil
}

func (s *Sweeper) wasSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// markSeen records id, evicting the oldest entries once maxTracked is reached.
func (s *Sweeper) markSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return
	}
	for len(s.order) >= s.maxTracked {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
}
