package waitlist

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/platform/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type memLocker struct{}

func (memLocker) Acquire(ctx context.Context, key string, holdTTL, waitBudget time.Duration) (string, error) {
	return "token", nil
}
func (memLocker) Release(ctx context.Context, key, token string) error { return nil }
func (memLocker) Extend(ctx context.Context, key, token string, additionalTTL time.Duration) error {
	return nil
}

type memLedger struct {
	mu   sync.Mutex
	rows map[uuid.UUID]domain.EventAvailability
}

func newMemLedger() *memLedger { return &memLedger{rows: map[uuid.UUID]domain.EventAvailability{}} }

func (l *memLedger) Get(ctx context.Context, eventID uuid.UUID) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.rows[eventID]
	if !ok {
		return domain.EventAvailability{}, domain.ErrEventNotFound
	}
	return a, nil
}
func (l *memLedger) Reserve(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return domain.EventAvailability{}, nil
}
func (l *memLedger) Confirm(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return domain.EventAvailability{}, nil
}
func (l *memLedger) ReleaseReserved(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return domain.EventAvailability{}, nil
}
func (l *memLedger) ReleaseConfirmed(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return domain.EventAvailability{}, nil
}
func (l *memLedger) Create(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, _ := decimal.NewFromString(price)
	a := domain.EventAvailability{EventID: eventID, EventName: name, TotalCapacity: total, Available: 0, Price: p, Version: 1}
	l.rows[eventID] = a
	return a, nil
}
func (l *memLedger) CreateCapacity(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (domain.EventAvailability, error) {
	l.mu.Lock()
	if _, exists := l.rows[eventID]; exists {
		l.mu.Unlock()
		return domain.EventAvailability{}, domain.ErrLedgerAlreadyExists
	}
	l.mu.Unlock()
	return l.Create(ctx, eventID, total, price, name)
}
func (l *memLedger) setAvailable(eventID uuid.UUID, available int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	a.Available = available
	l.rows[eventID] = a
}
func (l *memLedger) UpdateTotal(ctx context.Context, eventID uuid.UUID, newTotal int) (domain.EventAvailability, error) {
	return domain.EventAvailability{}, nil
}
func (l *memLedger) UpdateDetails(ctx context.Context, eventID uuid.UUID, newTotal int, price, name string) (domain.EventAvailability, error) {
	return domain.EventAvailability{}, nil
}
func (l *memLedger) Delete(ctx context.Context, eventID uuid.UUID) error { return nil }

type memRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]domain.WaitlistEntry
	nextPri int
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[uuid.UUID]domain.WaitlistEntry{}}
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return domain.WaitlistEntry{}, domain.ErrWaitlistNotFound
	}
	return e, nil
}

func (r *memRepo) GetAuditLog(ctx context.Context, entryID uuid.UUID) ([]domain.WaitlistAuditLog, error) {
	return nil, nil
}

func (r *memRepo) GetActiveForUserEvent(ctx context.Context, userID, eventID uuid.UUID) (domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.UserID == userID && e.EventID == eventID && domain.IsActiveWaitlistStatus(e.Status) {
			return e, nil
		}
	}
	return domain.WaitlistEntry{}, domain.ErrWaitlistNotFound
}

func (r *memRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	return nil, nil, nil
}

func (r *memRepo) ListForEvent(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	return nil, nil, nil
}

func (r *memRepo) Position(ctx context.Context, entryID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.byID[entryID]
	if !ok {
		return 0, domain.ErrWaitlistNotFound
	}
	var active []domain.WaitlistEntry
	for _, e := range r.byID {
		if e.EventID == target.EventID && domain.IsActiveWaitlistStatus(e.Status) {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })
	for i, e := range active {
		if e.ID == entryID {
			return i + 1, nil
		}
	}
	return 0, domain.ErrWaitlistNotFound
}

func (r *memRepo) Join(ctx context.Context, e domain.WaitlistEntry) (domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPri++
	e.Priority = r.nextPri
	e.Status = domain.WaitlistPending
	e.JoinedAt = time.Now().UTC()
	r.byID[e.ID] = e
	return e, nil
}

func (r *memRepo) Cancel(ctx context.Context, entryID uuid.UUID) (domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[entryID]
	if !ok {
		return domain.WaitlistEntry{}, domain.ErrWaitlistNotFound
	}
	e.Status = domain.WaitlistCancelled
	r.byID[entryID] = e
	return e, nil
}

func (r *memRepo) NotifyNext(ctx context.Context, eventID uuid.UUID, availableQty int, notificationWindow time.Duration, now time.Time) ([]domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []domain.WaitlistEntry
	for _, e := range r.byID {
		if e.EventID == eventID && e.Status == domain.WaitlistPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Priority < pending[j].Priority })

	var notified []domain.WaitlistEntry
	remaining := availableQty
	for _, e := range pending {
		if remaining < e.Quantity {
			continue
		}
		expiresAt := now.Add(notificationWindow)
		e.Status = domain.WaitlistNotified
		e.NotifiedAt = &now
		e.ExpiresAt = &expiresAt
		r.byID[e.ID] = e
		notified = append(notified, e)
		remaining -= e.Quantity
	}
	return notified, nil
}

func (r *memRepo) ExpireNotified(ctx context.Context, now time.Time) ([]domain.WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WaitlistEntry
	for id, e := range r.byID {
		if e.Status == domain.WaitlistNotified && e.ExpiresAt != nil && now.After(*e.ExpiresAt) {
			e.Status = domain.WaitlistExpired
			r.byID[id] = e
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *memLedger, *clock.Fake) {
	t.Helper()
	repo := newMemRepo()
	ledger := newMemLedger()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, ledger, memLocker{}, fc, 30*time.Minute, 5*time.Second, 2*time.Second)
	return svc, repo, ledger, fc
}

func TestService_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects out-of-bounds quantity", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		_, err := svc.Join(ctx, JoinInput{EventID: uuid.New(), Quantity: 0})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	})

	t.Run("rejects joining when the event still has availability", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		ledger.setAvailable(eventID, 5)

		_, err := svc.Join(ctx, JoinInput{UserID: uuid.New(), EventID: eventID, Quantity: 1})
		assert.ErrorIs(t, err, domain.ErrHasAvailability)
	})

	t.Run("joins when sold out", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		ledger.setAvailable(eventID, 0)

		e, err := svc.Join(ctx, JoinInput{UserID: uuid.New(), EventID: eventID, Quantity: 2})
		require.NoError(t, err)
		assert.Equal(t, domain.WaitlistPending, e.Status)
	})

	t.Run("rejects a second active entry for the same user/event", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		ledger.setAvailable(eventID, 0)
		userID := uuid.New()

		_, err := svc.Join(ctx, JoinInput{UserID: userID, EventID: eventID, Quantity: 1})
		require.NoError(t, err)

		_, err = svc.Join(ctx, JoinInput{UserID: userID, EventID: eventID, Quantity: 1})
		assert.ErrorIs(t, err, domain.ErrDuplicateActiveEntry)
	})
}

func TestService_NotifyNext_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, fc := newTestService(t)
	eventID := uuid.New()
	ledger.Create(ctx, eventID, 10, "10.00", "Show")
	ledger.setAvailable(eventID, 0)

	first, err := svc.Join(ctx, JoinInput{UserID: uuid.New(), EventID: eventID, Quantity: 3})
	require.NoError(t, err)
	second, err := svc.Join(ctx, JoinInput{UserID: uuid.New(), EventID: eventID, Quantity: 2})
	require.NoError(t, err)

	err = svc.NotifyNext(ctx, eventID, 3)
	require.NoError(t, err)

	got, err := svc.GetByID(ctx, first.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistNotified, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, fc.Now().Add(30*time.Minute), *got.ExpiresAt)

	stillPending, err := svc.GetByID(ctx, second.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistPending, stillPending.Status)
}

func TestService_Cancel_Forbidden(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, _ := newTestService(t)
	eventID := uuid.New()
	ledger.Create(ctx, eventID, 10, "10.00", "Show")
	ledger.setAvailable(eventID, 0)
	owner := uuid.New()
	e, err := svc.Join(ctx, JoinInput{UserID: owner, EventID: eventID, Quantity: 1})
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = svc.Cancel(ctx, e.ID, &stranger, false)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := svc.Cancel(ctx, e.ID, &owner, false)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistCancelled, cancelled.Status)
}

func TestService_ExpireNotified(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, fc := newTestService(t)
	eventID := uuid.New()
	ledger.Create(ctx, eventID, 10, "10.00", "Show")
	ledger.setAvailable(eventID, 0)

	e, err := svc.Join(ctx, JoinInput{UserID: uuid.New(), EventID: eventID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, svc.NotifyNext(ctx, eventID, 1))

	n, err := svc.ExpireNotified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	fc.Advance(31 * time.Minute)
	n, err = svc.ExpireNotified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.GetByID(ctx, e.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistExpired, got.Status)
}

func TestService_CheckEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("ineligible when the event has availability", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		ledger.setAvailable(eventID, 5)

		el, err := svc.CheckEligibility(ctx, eventID, uuid.New(), 1)
		require.NoError(t, err)
		assert.False(t, el.CanJoin)
	})

	t.Run("eligible when sold out and no active entry exists", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		ledger.setAvailable(eventID, 0)

		el, err := svc.CheckEligibility(ctx, eventID, uuid.New(), 1)
		require.NoError(t, err)
		assert.True(t, el.CanJoin)
	})

	t.Run("ineligible when the user already has an active entry", func(t *testing.T) {
		svc, _, ledger, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		ledger.setAvailable(eventID, 0)
		userID := uuid.New()
		_, err := svc.Join(ctx, JoinInput{UserID: userID, EventID: eventID, Quantity: 1})
		require.NoError(t, err)

		el, err := svc.CheckEligibility(ctx, eventID, userID, 1)
		require.NoError(t, err)
		assert.False(t, el.CanJoin)
	})
}
