package detection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// barrier holds the first n callers until all n have arrived. Later callers pass.
func barrier(n int) func() {
	var wg sync.WaitGroup
	wg.Add(n)
	var arrived atomic.Int32
	return func() {
		if int(arrived.Add(1)) > n {
			return
		}
		wg.Done()
		wg.Wait()
	}
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	calls     map[string]*domain.Call
	alerts    map[string]*domain.FraudAlert
	blacklist map[string]*domain.BlacklistEntry
	now       func() time.Time

	failSaveAlert bool
	// afterFindAlert runs after FindAlertByID reads, outside the lock.
	afterFindAlert func()
	// onWindowQuery runs once per FindCallsInWindow, outside the lock.
	onWindowQuery func()
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{
		calls:     make(map[string]*domain.Call),
		alerts:    make(map[string]*domain.FraudAlert),
		blacklist: make(map[string]*domain.BlacklistEntry),
		now:       now,
	}
}

func (r *memRepo) SaveCall(_ context.Context, c *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.calls[c.CallID] = &cp
	return nil
}

func (r *memRepo) FindCallByID(_ context.Context, id string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) FindCallBySignalID(_ context.Context, callID string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) FindCallsInWindow(_ context.Context, bNumber string, start, end time.Time) ([]*domain.Call, error) {
	if r.onWindowQuery != nil {
		r.onWindowQuery()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Call
	for _, c := range r.calls {
		if c.BNumber == bNumber && !c.StartedAt.Before(start) && !c.StartedAt.After(end) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *memRepo) CountDistinctCallers(ctx context.Context, bNumber string, start, end time.Time) (int, error) {
	calls, _ := r.FindCallsInWindow(ctx, bNumber, start, end)
	return distinctANumbers(calls), nil
}

func (r *memRepo) FlagAsFraud(_ context.Context, callIDs []string, alertID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range callIDs {
		c, ok := r.calls[id]
		if !ok || c.AlertID != "" {
			continue
		}
		if err := c.FlagFraud(alertID, r.now()); err == nil {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SaveAlert(_ context.Context, a *domain.FraudAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaveAlert {
		return errors.New("connection refused")
	}
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *memRepo) CreateAlert(_ context.Context, a *domain.FraudAlert, since time.Time) (*domain.FraudAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaveAlert {
		return nil, errors.New("connection refused")
	}
	var newest *domain.FraudAlert
	for _, e := range r.alerts {
		if e.BNumber == a.BNumber && e.Status == domain.AlertPending && e.CreatedAt.After(since) {
			if newest == nil || e.CreatedAt.After(newest.CreatedAt) {
				newest = e
			}
		}
	}
	if newest != nil {
		cp := *newest
		return &cp, nil
	}
	cp := *a
	r.alerts[a.ID] = &cp
	return nil, nil
}

func (r *memRepo) UpdateAlertStatus(_ context.Context, a *domain.FraudAlert, from domain.AlertStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != from {
		return &domain.InvalidStateTransitionError{Entity: "alert", From: string(stored.Status), To: string(a.Status)}
	}
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *memRepo) FindAlertByID(_ context.Context, id string) (*domain.FraudAlert, error) {
	r.mu.Lock()
	a, ok := r.alerts[id]
	var cp domain.FraudAlert
	if ok {
		cp = *a
	}
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	if r.afterFindAlert != nil {
		r.afterFindAlert()
	}
	return &cp, nil
}

func (r *memRepo) FindPendingAlerts(ctx context.Context) ([]*domain.FraudAlert, error) {
	return r.FindAlertsByStatus(ctx, domain.AlertPending)
}

func (r *memRepo) FindPendingAlertByBNumber(_ context.Context, bNumber string) (*domain.FraudAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *domain.FraudAlert
	for _, a := range r.alerts {
		if a.BNumber != bNumber || a.Status != domain.AlertPending {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (r *memRepo) FindAlertsByStatus(_ context.Context, status domain.AlertStatus) ([]*domain.FraudAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.FraudAlert
	for _, a := range r.alerts {
		if a.Status == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) CountPendingAlerts(ctx context.Context) (int, error) {
	a, err := r.FindPendingAlerts(ctx)
	return len(a), err
}

func (r *memRepo) SaveBlacklistEntry(_ context.Context, e *domain.BlacklistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.blacklist[e.Value] = &cp
	return nil
}

func (r *memRepo) FindBlacklistByValue(_ context.Context, value string) (*domain.BlacklistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.blacklist[value]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepo) IsBlacklisted(_ context.Context, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.blacklist[value]
	return ok && e.Active(r.now()), nil
}

func (r *memRepo) DeleteBlacklistEntry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for v, e := range r.blacklist {
		if e.ID == id {
			delete(r.blacklist, v)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memRepo) CleanupExpired(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for v, e := range r.blacklist {
		if !e.Active(r.now()) {
			delete(r.blacklist, v)
			n++
		}
	}
	return n, nil
}

// recordingBus keeps every published event in order.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Subscribe(domain.EventKind, domain.EventHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Publish(ctx context.Context, e domain.Event) error {
	return b.PublishAll(ctx, []domain.Event{e})
}

func (b *recordingBus) PublishAll(_ context.Context, events []domain.Event) error {
	b.mu.Lock()
	b.events = append(b.events, events...)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) Kinds() []domain.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]domain.EventKind, len(b.events))
	for i, e := range b.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (b *recordingBus) Count(kind domain.EventKind) int {
	n := 0
	for _, k := range b.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// brokenWindow fails every call, like an unreachable Redis.
type brokenWindow struct{}

var errWindowDown = errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")

func (brokenWindow) AddCaller(context.Context, string, string, string, string, int) (bool, error) {
	return false, errWindowDown
}
func (brokenWindow) DistinctCallerCount(context.Context, string) (int, error) {
	return 0, errWindowDown
}
func (brokenWindow) DistinctCallers(context.Context, string) ([]domain.CallerEntry, error) {
	return nil, errWindowDown
}
func (brokenWindow) ClearWindow(context.Context, string) error { return errWindowDown }
func (brokenWindow) Ping(context.Context) error                { return errWindowDown }
func (brokenWindow) Close() error                              { return nil }
