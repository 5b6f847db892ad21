package booking

import (
	"context"
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
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	if a.Available < qty {
		return domain.EventAvailability{}, domain.ErrInsufficientCapacity
	}
	a.Available -= qty
	a.Reserved += qty
	l.rows[eventID] = a
	return a, nil
}

func (l *memLedger) Confirm(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	a.Reserved -= qty
	a.Confirmed += qty
	l.rows[eventID] = a
	return a, nil
}

func (l *memLedger) ReleaseReserved(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	a.Reserved -= qty
	a.Available += qty
	l.rows[eventID] = a
	return a, nil
}

func (l *memLedger) ReleaseConfirmed(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	a.Confirmed -= qty
	a.Available += qty
	l.rows[eventID] = a
	return a, nil
}

func (l *memLedger) Create(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, _ := decimal.NewFromString(price)
	a := domain.EventAvailability{EventID: eventID, EventName: name, TotalCapacity: total, Available: total, Price: p, Version: 1}
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

func (l *memLedger) UpdateTotal(ctx context.Context, eventID uuid.UUID, newTotal int) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	delta := newTotal - a.TotalCapacity
	a.TotalCapacity = newTotal
	a.Available += delta
	l.rows[eventID] = a
	return a, nil
}

func (l *memLedger) UpdateDetails(ctx context.Context, eventID uuid.UUID, newTotal int, price, name string) (domain.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.rows[eventID]
	delta := newTotal - a.TotalCapacity
	a.TotalCapacity = newTotal
	a.Available += delta
	a.EventName = name
	if p, err := decimal.NewFromString(price); err == nil {
		a.Price = p
	}
	l.rows[eventID] = a
	return a, nil
}

func (l *memLedger) Delete(ctx context.Context, eventID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rows, eventID)
	return nil
}

type memRepo struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]domain.Booking
	auditByBook map[uuid.UUID][]domain.BookingAuditLog
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[uuid.UUID]domain.Booking{}, auditByBook: map[uuid.UUID][]domain.BookingAuditLog{}}
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (r *memRepo) GetAuditLog(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingAuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auditByBook[bookingID], nil
}

func (r *memRepo) ListForUser(ctx context.Context, userID uuid.UUID, statuses []domain.BookingStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	return nil, nil, nil
}

func (r *memRepo) ListAdmin(ctx context.Context, statuses []domain.BookingStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	return nil, nil, nil
}

func (r *memRepo) Stats(ctx context.Context, periodDays int) (domain.BookingStats, error) {
	return domain.BookingStats{}, nil
}

func (r *memRepo) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[b.ID] = b
	r.auditByBook[b.ID] = append(r.auditByBook[b.ID], domain.BookingAuditLog{ID: uuid.New(), BookingID: b.ID, Action: domain.BookingAuditCreate})
	return b, nil
}

func (r *memRepo) Confirm(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.byID[bookingID]
	b.Status = domain.BookingConfirmed
	r.byID[bookingID] = b
	return b, nil
}

func (r *memRepo) Cancel(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.byID[bookingID]
	b.Status = domain.BookingCancelled
	b.CancellationReason = reason
	r.byID[bookingID] = b
	return b, nil
}

func (r *memRepo) ExpirePending(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for id, b := range r.byID {
		if b.Status == domain.BookingPending && b.ExpiresAt != nil && now.After(*b.ExpiresAt) {
			b.Status = domain.BookingExpired
			r.byID[id] = b
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, bookingID, actorID uuid.UUID, to domain.BookingStatus, reason string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.byID[bookingID]
	b.Status = to
	r.byID[bookingID] = b
	return b, nil
}

func (r *memRepo) Delete(ctx context.Context, bookingID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, bookingID)
	return nil
}

type spyNotifier struct {
	mu    sync.Mutex
	calls []struct {
		eventID uuid.UUID
		qty     int
	}
}

func (n *spyNotifier) NotifyNext(ctx context.Context, eventID uuid.UUID, availableQty int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, struct {
		eventID uuid.UUID
		qty     int
	}{eventID, availableQty})
	return nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *memLedger, *spyNotifier, *clock.Fake) {
	t.Helper()
	repo := newMemRepo()
	ledger := newMemLedger()
	notifier := &spyNotifier{}
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, ledger, memLocker{}, notifier, fc, 15*time.Minute, 5*time.Second, 2*time.Second, "USD")
	return svc, repo, ledger, notifier, fc
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects out-of-bounds quantity", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)
		_, err := svc.Create(ctx, CreateInput{EventID: uuid.New(), Quantity: 0})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

		_, err = svc.Create(ctx, CreateInput{EventID: uuid.New(), Quantity: 11})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	})

	t.Run("rejects unknown event", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)
		_, err := svc.Create(ctx, CreateInput{EventID: uuid.New(), Quantity: 1})
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("reserves capacity and creates a pending booking", func(t *testing.T) {
		svc, _, ledger, _, fc := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "25.00", "Concert")

		b, err := svc.Create(ctx, CreateInput{UserID: uuid.New(), EventID: eventID, Quantity: 2})
		require.NoError(t, err)
		assert.Equal(t, domain.BookingPending, b.Status)
		assert.Equal(t, 2, b.Quantity)
		assert.True(t, b.TotalAmount.Equal(decimal.RequireFromString("50.00")))
		assert.Equal(t, fc.Now().Add(15*time.Minute), *b.ExpiresAt)

		a, _ := ledger.Get(ctx, eventID)
		assert.Equal(t, 8, a.Available)
		assert.Equal(t, 2, a.Reserved)
	})

	t.Run("surfaces insufficient capacity", func(t *testing.T) {
		svc, _, ledger, _, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 1, "10.00", "Small Show")

		_, err := svc.Create(ctx, CreateInput{UserID: uuid.New(), EventID: eventID, Quantity: 2})
		assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
	})
}

func TestService_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms a pending booking owned by the caller", func(t *testing.T) {
		svc, _, ledger, _, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		userID := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 1})
		require.NoError(t, err)

		confirmed, err := svc.Confirm(ctx, b.ID, &userID, false)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingConfirmed, confirmed.Status)

		a, _ := ledger.Get(ctx, eventID)
		assert.Equal(t, 0, a.Reserved)
		assert.Equal(t, 1, a.Confirmed)
	})

	t.Run("forbids a non-owner, non-admin caller", func(t *testing.T) {
		svc, _, ledger, _, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		owner := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: owner, EventID: eventID, Quantity: 1})
		require.NoError(t, err)

		stranger := uuid.New()
		_, err = svc.Confirm(ctx, b.ID, &stranger, false)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("rejects confirming an already-confirmed booking", func(t *testing.T) {
		svc, _, ledger, _, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		userID := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 1})
		require.NoError(t, err)
		_, err = svc.Confirm(ctx, b.ID, &userID, false)
		require.NoError(t, err)

		_, err = svc.Confirm(ctx, b.ID, &userID, false)
		assert.ErrorIs(t, err, domain.ErrNotPending)
	})

	t.Run("expires a booking whose hold has lapsed", func(t *testing.T) {
		svc, _, ledger, _, fc := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		userID := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 1})
		require.NoError(t, err)

		fc.Advance(16 * time.Minute)
		_, err = svc.Confirm(ctx, b.ID, &userID, false)
		assert.ErrorIs(t, err, domain.ErrBookingExpired)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("releases reserved capacity and notifies the waitlist", func(t *testing.T) {
		svc, _, ledger, notifier, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		userID := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 3})
		require.NoError(t, err)

		cancelled, err := svc.Cancel(ctx, b.ID, &userID, false, "")
		require.NoError(t, err)
		assert.Equal(t, domain.BookingCancelled, cancelled.Status)
		assert.Equal(t, "Booking cancelled", cancelled.CancellationReason)

		a, _ := ledger.Get(ctx, eventID)
		assert.Equal(t, 10, a.Available)

		require.Len(t, notifier.calls, 1)
		assert.Equal(t, eventID, notifier.calls[0].eventID)
		assert.Equal(t, 3, notifier.calls[0].qty)
	})

	t.Run("releases confirmed capacity when already confirmed", func(t *testing.T) {
		svc, _, ledger, _, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		userID := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 2})
		require.NoError(t, err)
		_, err = svc.Confirm(ctx, b.ID, &userID, false)
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, b.ID, &userID, false, "change of plans")
		require.NoError(t, err)

		a, _ := ledger.Get(ctx, eventID)
		assert.Equal(t, 10, a.Available)
		assert.Equal(t, 0, a.Confirmed)
	})

	t.Run("rejects cancelling an already-cancelled booking", func(t *testing.T) {
		svc, _, ledger, _, _ := newTestService(t)
		eventID := uuid.New()
		ledger.Create(ctx, eventID, 10, "10.00", "Show")
		userID := uuid.New()
		b, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 1})
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, b.ID, &userID, false, "")
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, b.ID, &userID, false, "")
		assert.ErrorIs(t, err, domain.ErrNotCancellable)
	})
}

func TestService_ExpirePending(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, notifier, fc := newTestService(t)
	eventID := uuid.New()
	ledger.Create(ctx, eventID, 5, "10.00", "Show")
	userID := uuid.New()
	_, err := svc.Create(ctx, CreateInput{UserID: userID, EventID: eventID, Quantity: 2})
	require.NoError(t, err)

	fc.Advance(16 * time.Minute)
	n, err := svc.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, _ := ledger.Get(ctx, eventID)
	assert.Equal(t, 5, a.Available)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, 2, notifier.calls[0].qty)
}

func TestService_GetByID_Forbidden(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, _, _ := newTestService(t)
	eventID := uuid.New()
	ledger.Create(ctx, eventID, 5, "10.00", "Show")
	owner := uuid.New()
	b, err := svc.Create(ctx, CreateInput{UserID: owner, EventID: eventID, Quantity: 1})
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = svc.GetByID(ctx, b.ID, &stranger, false)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Admins bypass the ownership check.
	got, err := svc.GetByID(ctx, b.ID, &stranger, true)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}
