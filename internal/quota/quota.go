// Package quota enforces the daily auto-reply cap. A check hands out a
// Reservation; the durable counter only moves when the reservation is
// committed after a successful dispatch.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/mailpilot/internal/account"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/store"
)

var (
	ErrDisabled      = errors.New("automation disabled")
	ErrQuotaExceeded = errors.New("daily quota exceeded")
)

const (
	ReasonDisabled      = "disabled"
	ReasonQuotaExceeded = "quota_exceeded"
)

// errUnchanged aborts an UpdateAutoReply callback that only needed to read.
var errUnchanged = errors.New("unchanged")

type Manager struct {
	accounts store.AccountStore
	loc      *time.Location
	now      func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*accountLock
}

type accountLock struct {
	mu       sync.Mutex
	inFlight int
}

// NewManager creates a Manager that resolves calendar days in loc.
func NewManager(accounts store.AccountStore, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		accounts: accounts,
		loc:      loc,
		now:      time.Now,
		locks:    make(map[uuid.UUID]*accountLock),
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Today returns the current calendar date in the quota time zone.
func (m *Manager) Today() string {
	return m.now().In(m.loc).Format(models.DateLayout)
}

func (m *Manager) lockFor(id uuid.UUID) *accountLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &accountLock{}
		m.locks[id] = l
	}
	return l
}

// CheckAndConsume decides whether one more automatic reply may be sent today.
// A pending day reset is persisted even when the answer is no.
func (m *Manager) CheckAndConsume(ctx context.Context, acct *models.Account) (*Reservation, error) {
	l := m.lockFor(acct.ID)
	l.mu.Lock()
	defer l.mu.Unlock()

	today := m.Today()
	var cfg models.AutoReplyConfig
	_, err := m.accounts.UpdateAutoReply(ctx, acct.ID, func(c *models.AutoReplyConfig) error {
		if c.LastReset != today {
			c.SentToday = 0
			c.LastReset = today
			cfg = *c
			return nil
		}
		cfg = *c
		return errUnchanged
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, account.ErrNotConnected
	}
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, fmt.Errorf("load quota state: %w", err)
	}
	if err == nil {
		slog.InfoContext(ctx, "daily quota reset", "account_id", acct.ID, "date", today)
	}

	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.SentToday+l.inFlight >= cfg.MaxPerDay {
		return nil, fmt.Errorf("%w: %d of %d sent, %d in flight",
			ErrQuotaExceeded, cfg.SentToday, cfg.MaxPerDay, l.inFlight)
	}

	l.inFlight++
	return &Reservation{m: m, accountID: acct.ID, lock: l, cfg: cfg}, nil
}

// Reservation is one granted auto-reply slot.
type Reservation struct {
	m         *Manager
	accountID uuid.UUID
	lock      *accountLock
	cfg       models.AutoReplyConfig
	done      bool
}

// Config returns the quota state as of the check, or as of the commit once
// Commit has succeeded.
func (r *Reservation) Config() models.AutoReplyConfig {
	return r.cfg
}

// Commit records the send. The day reset is applied again in case midnight
// passed during dispatch, and the counter is never pushed past MaxPerDay.
// The slot is released whatever the outcome.
func (r *Reservation) Commit(ctx context.Context) error {
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()
	if r.done {
		return errors.New("reservation already settled")
	}
	defer r.settle()

	today := r.m.Today()
	a, err := r.m.accounts.UpdateAutoReply(ctx, r.accountID, func(c *models.AutoReplyConfig) error {
		if c.LastReset != today {
			c.SentToday = 0
			c.LastReset = today
		}
		if c.SentToday >= c.MaxPerDay {
			return ErrQuotaExceeded
		}
		c.SentToday++
		return nil
	})
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	r.cfg = a.AutoReply
	return nil
}

// Release gives the slot back without charging quota. It is safe to call
// more than once and after Commit.
func (r *Reservation) Release() {
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()
	if r.done {
		return
	}
	r.settle()
}

// settle must be called with r.lock.mu held.
func (r *Reservation) settle() {
	r.done = true
	r.lock.inFlight--
}
