package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/mailpilot/internal/account"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

// --- Mock store ---

type mockAccountStore struct {
	mu      sync.Mutex
	account *models.Account
	writes  int
}

func (m *mockAccountStore) GetAccount(_ context.Context) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.account
	return &cp, nil
}

func (m *mockAccountStore) SaveAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.account = &cp
	return nil
}

func (m *mockAccountStore) UpdateAutoReply(_ context.Context, id uuid.UUID, fn func(*models.AutoReplyConfig) error) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil || m.account.ID != id {
		return nil, store.ErrNotFound
	}
	cfg := m.account.AutoReply
	if err := fn(&cfg); err != nil {
		return nil, err
	}
	m.account.AutoReply = cfg
	m.writes++
	cp := *m.account
	return &cp, nil
}

func (m *mockAccountStore) DeleteAccounts(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = nil
	return nil
}

func (m *mockAccountStore) ReplaceAccount(ctx context.Context, a *models.Account) error {
	return m.SaveAccount(ctx, a)
}

func (m *mockAccountStore) config() models.AutoReplyConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account.AutoReply
}

func newFixture(cfg models.AutoReplyConfig, now time.Time) (*Manager, *mockAccountStore, *models.Account) {
	a := &models.Account{ID: uuid.New(), Email: "owner@example.com", AutoReply: cfg}
	ms := &mockAccountStore{}
	ms.SaveAccount(context.Background(), a)
	m := NewManager(ms, time.UTC).WithClock(func() time.Time { return now })
	return m, ms, a
}

var oct18 = time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

// --- Tests ---

func TestCheckAndConsume_AllowedDoesNotChargeUntilCommit(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 5, SentToday: 2, LastReset: "2026-10-18",
	}, oct18)

	r, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if got := ms.config().SentToday; got != 2 {
		t.Fatalf("expected sentToday 2 before commit, got %d", got)
	}
	if ms.writes != 0 {
		t.Errorf("expected no writes on a same-day check, got %d", ms.writes)
	}

	if err := r.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := ms.config().SentToday; got != 3 {
		t.Errorf("expected sentToday 3 after commit, got %d", got)
	}
	if r.Config().SentToday != 3 {
		t.Errorf("expected reservation config to reflect commit, got %+v", r.Config())
	}
}

func TestCheckAndConsume_Disabled(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: false, Label: "x", MaxPerDay: 5, SentToday: 0, LastReset: "2026-10-18",
	}, oct18)

	_, err := m.CheckAndConsume(context.Background(), a)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if ms.config().SentToday != 0 {
		t.Errorf("expected nothing charged")
	}
}

func TestCheckAndConsume_AccountClearedMeanwhile(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 5, LastReset: "2026-10-18",
	}, oct18)
	ms.DeleteAccounts(context.Background())

	_, err := m.CheckAndConsume(context.Background(), a)
	if !errors.Is(err, account.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestCheckAndConsume_QuotaExhausted(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 5, SentToday: 5, LastReset: "2026-10-18",
	}, oct18)

	_, err := m.CheckAndConsume(context.Background(), a)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if ms.config().SentToday != 5 {
		t.Errorf("expected sentToday unchanged at 5, got %d", ms.config().SentToday)
	}
}

func TestCheckAndConsume_NewDayResetsBeforeDeciding(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 5, SentToday: 5, LastReset: "2026-10-17",
	}, oct18)

	r, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("expected allowed after reset, got %v", err)
	}
	if err := r.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	cfg := ms.config()
	if cfg.SentToday != 1 || cfg.LastReset != "2026-10-18" {
		t.Errorf("expected sentToday 1 on 2026-10-18, got %+v", cfg)
	}
}

func TestCheckAndConsume_ResetPersistsEvenWhenDisabled(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: false, Label: "x", MaxPerDay: 5, SentToday: 3, LastReset: "2026-10-17",
	}, oct18)

	_, err := m.CheckAndConsume(context.Background(), a)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	cfg := ms.config()
	if cfg.SentToday != 0 || cfg.LastReset != "2026-10-18" {
		t.Errorf("expected reset persisted, got %+v", cfg)
	}
}

func TestCheckAndConsume_ResetHappensOncePerDay(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 5, SentToday: 4, LastReset: "2026-10-17",
	}, oct18)

	for i := 0; i < 3; i++ {
		r, err := m.CheckAndConsume(context.Background(), a)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := r.Commit(context.Background()); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	if got := ms.config().SentToday; got != 3 {
		t.Errorf("expected sentToday 3, got %d", got)
	}
}

func TestCheckAndConsume_UsesConfiguredTimeZone(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	a := &models.Account{ID: uuid.New(), AutoReply: models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 1, SentToday: 1, LastReset: "2026-10-18",
	}}
	ms := &mockAccountStore{}
	ms.SaveAccount(context.Background(), a)
	// 15:00 UTC on the 18th is already the 19th at UTC+10.
	m := NewManager(ms, loc).WithClock(func() time.Time { return oct18 })

	if _, err := m.CheckAndConsume(context.Background(), a); err != nil {
		t.Fatalf("expected allowed on the new local day, got %v", err)
	}
	if got := ms.config().LastReset; got != "2026-10-19" {
		t.Errorf("expected lastReset 2026-10-19, got %s", got)
	}
}

func TestReservation_ReleaseDoesNotCharge(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 1, SentToday: 0, LastReset: "2026-10-18",
	}, oct18)

	r, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := m.CheckAndConsume(context.Background(), a); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected in-flight slot to count, got %v", err)
	}

	r.Release()
	r.Release()

	if ms.config().SentToday != 0 {
		t.Errorf("expected nothing charged after release")
	}
	r2, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("expected slot available after release, got %v", err)
	}
	r2.Release()
}

func TestReservation_ReleaseAfterCommitIsNoop(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 2, SentToday: 0, LastReset: "2026-10-18",
	}, oct18)

	r, _ := m.CheckAndConsume(context.Background(), a)
	if err := r.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	r.Release()

	r2, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("expected one slot left, got %v", err)
	}
	if err := r2.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := m.CheckAndConsume(context.Background(), a); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	if got := ms.config().SentToday; got != 2 {
		t.Errorf("expected sentToday 2, got %d", got)
	}
}

func TestReservation_CommitAcrossMidnightResetsFirst(t *testing.T) {
	now := oct18
	a := &models.Account{ID: uuid.New(), AutoReply: models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 3, SentToday: 2, LastReset: "2026-10-18",
	}}
	ms := &mockAccountStore{}
	ms.SaveAccount(context.Background(), a)
	m := NewManager(ms, time.UTC).WithClock(func() time.Time { return now })

	r, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	now = oct18.Add(12 * time.Hour)

	if err := r.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	cfg := ms.config()
	if cfg.SentToday != 1 || cfg.LastReset != "2026-10-19" {
		t.Errorf("expected sentToday 1 on 2026-10-19, got %+v", cfg)
	}
}

func TestReservation_CommitRefusesToExceedMax(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 3, SentToday: 1, LastReset: "2026-10-18",
	}, oct18)

	r, err := m.CheckAndConsume(context.Background(), a)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// Another process used up the remaining quota meanwhile.
	ms.mu.Lock()
	ms.account.AutoReply.SentToday = 3
	ms.mu.Unlock()

	if err := r.Commit(context.Background()); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if got := ms.config().SentToday; got != 3 {
		t.Errorf("expected sentToday to stay at 3, got %d", got)
	}
}

func TestCheckAndConsume_ConcurrentGrantsExactlyRemaining(t *testing.T) {
	m, ms, a := newFixture(models.AutoReplyConfig{
		Enabled: true, Label: "x", MaxPerDay: 5, SentToday: 2, LastReset: "2026-10-18",
	}, oct18)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		denied  atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.CheckAndConsume(context.Background(), a)
			if err != nil {
				if !errors.Is(err, ErrQuotaExceeded) {
					t.Errorf("unexpected error: %v", err)
				}
				denied.Add(1)
				return
			}
			granted.Add(1)
			if err := r.Commit(context.Background()); err != nil {
				t.Errorf("commit: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 3 {
		t.Errorf("expected exactly 3 grants, got %d", granted.Load())
	}
	if denied.Load() != 17 {
		t.Errorf("expected 17 denials, got %d", denied.Load())
	}
	if got := ms.config().SentToday; got != 5 {
		t.Errorf("expected sentToday 5, got %d", got)
	}
}
