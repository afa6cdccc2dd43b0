package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/znz-systems/mailpilot/internal/models"
)

type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]error
	calls   []string
}

func (r *scriptedRunner) Run(_ context.Context, threadID string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, threadID)
	if err := r.results[threadID]; err != nil {
		return nil, err
	}
	return &Result{ThreadID: threadID}, nil
}

type listOnlyClient struct {
	mockMailClient
	threads []models.Thread
	listErr error
}

func (c *listOnlyClient) ListRecentThreads(_ context.Context, limit int) ([]models.Thread, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	if len(c.threads) > limit {
		return c.threads[:limit], nil
	}
	return c.threads, nil
}

func threadsAt(now time.Time, ids ...string) []models.Thread {
	out := make([]models.Thread, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.Thread{ID: id, Date: now.Add(-time.Duration(i+1) * time.Minute)})
	}
	return out
}

func TestSweepOnce_RunsEachThreadOnce(t *testing.T) {
	r := &scriptedRunner{results: map[string]error{"b": ErrPolicyRejected}}
	client := &listOnlyClient{threads: threadsAt(fixedNow, "a", "b", "c")}
	s := newSweeper(r, client, SweeperOptions{})
	s.now = func() time.Time { return fixedNow }

	sent, err := s.sweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweepOnce: %v", err)
	}
	if sent != 2 {
		t.Errorf("expected 2 sends, got %d", sent)
	}

	sent, _ = s.sweepOnce(context.Background())
	if sent != 0 {
		t.Errorf("expected nothing new on second sweep, got %d", sent)
	}
	if len(r.calls) != 3 {
		t.Errorf("expected 3 runner calls in total, got %v", r.calls)
	}
}

func TestSweepOnce_StopsWhenQuotaExhausted(t *testing.T) {
	r := &scriptedRunner{results: map[string]error{"b": ErrQuotaExceeded}}
	client := &listOnlyClient{threads: threadsAt(fixedNow, "a", "b", "c")}
	s := newSweeper(r, client, SweeperOptions{})
	s.now = func() time.Time { return fixedNow }

	sent, err := s.sweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweepOnce: %v", err)
	}
	if sent != 1 || len(r.calls) != 2 {
		t.Errorf("expected to stop after b: sent=%d calls=%v", sent, r.calls)
	}

	// b was not marked seen and is retried next cycle.
	r.results = nil
	sent, _ = s.sweepOnce(context.Background())
	if sent != 2 {
		t.Errorf("expected b and c on the next sweep, got %d", sent)
	}
}

func TestSweepOnce_TransientFailureIsRetried(t *testing.T) {
	r := &scriptedRunner{results: map[string]error{"a": ErrDispatchFailed}}
	client := &listOnlyClient{threads: threadsAt(fixedNow, "a")}
	s := newSweeper(r, client, SweeperOptions{})
	s.now = func() time.Time { return fixedNow }

	s.sweepOnce(context.Background())
	r.results = nil
	sent, _ := s.sweepOnce(context.Background())
	if sent != 1 {
		t.Errorf("expected retry to send, got %d", sent)
	}
}

func TestSweepOnce_SkipsOldThreads(t *testing.T) {
	r := &scriptedRunner{}
	client := &listOnlyClient{threads: []models.Thread{
		{ID: "old", Date: fixedNow.Add(-48 * time.Hour)},
		{ID: "new", Date: fixedNow.Add(-time.Hour)},
	}}
	s := newSweeper(r, client, SweeperOptions{MaxAge: 24 * time.Hour})
	s.now = func() time.Time { return fixedNow }

	s.sweepOnce(context.Background())
	if len(r.calls) != 1 || r.calls[0] != "new" {
		t.Errorf("expected only the recent thread, got %v", r.calls)
	}
}

func TestSweepOnce_ListError(t *testing.T) {
	client := &listOnlyClient{listErr: errors.New("imap down")}
	s := newSweeper(&scriptedRunner{}, client, SweeperOptions{})

	if _, err := s.sweepOnce(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func TestSweepOnce_NotConnectedIsQuiet(t *testing.T) {
	client := &listOnlyClient{listErr: ErrNotConnected}
	r := &scriptedRunner{}
	s := newSweeper(r, client, SweeperOptions{})

	sent, err := s.sweepOnce(context.Background())
	if err != nil || sent != 0 {
		t.Fatalf("expected quiet no-op, got %d %v", sent, err)
	}
	if len(r.calls) != 0 {
		t.Errorf("expected no runs, got %v", r.calls)
	}
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	r := &scriptedRunner{}
	client := &listOnlyClient{}
	s := newSweeper(r, client, SweeperOptions{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestMarkSeen_EvictsOldestFirst(t *testing.T) {
	s := newSweeper(&scriptedRunner{}, &listOnlyClient{}, SweeperOptions{MaxTracked: 3})

	for _, id := range []string{"a", "b", "c", "b", "d"} {
		s.markSeen(id)
	}

	if s.wasSeen("a") {
		t.Error("expected oldest entry a evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !s.wasSeen(id) {
			t.Errorf("expected %s still tracked", id)
		}
	}
	if len(s.seen) != 3 || len(s.order) != 3 {
		t.Errorf("expected 3 tracked entries, got seen=%d order=%d", len(s.seen), len(s.order))
	}
}

func TestSweepOnce_FullSeenSetDoesNotRetryRecentThreads(t *testing.T) {
	r := &scriptedRunner{}
	client := &listOnlyClient{threads: threadsAt(fixedNow, "a", "b", "c")}
	s := newSweeper(r, client, SweeperOptions{MaxTracked: 3})
	s.now = func() time.Time { return fixedNow }

	if _, err := s.sweepOnce(context.Background()); err != nil {
		t.Fatalf("sweepOnce: %v", err)
	}
	client.threads = threadsAt(fixedNow, "d", "c")
	if _, err := s.sweepOnce(context.Background()); err != nil {
		t.Fatalf("sweepOnce: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	if len(r.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, r.calls)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Errorf("expected calls %v, got %v", want, r.calls)
			break
		}
	}
}
