// Package ledger implements the Capacity Ledger (SPEC_FULL §4.2): the
// transactional, optimistically-versioned store of per-event capacity
// counters. Every mutation is a single conditional UPDATE whose WHERE
// clause pins both `version = expected` and the domain precondition
// (e.g. `available >= qty`). The precondition is first checked against
// the freshly read row and surfaces as the insufficient-capacity error;
// a zero-row UPDATE result means another writer won the race and
// surfaces as ErrConflict, matching availability_service.py's reserve_capacity/confirm_capacity/
// release_capacity.
package ledger

import (
	"context"
	"errors"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	pool  *pgxpool.Pool
	cache *Cache // may be nil; Get falls back to DB-only reads
}

func NewPostgres(pool *pgxpool.Pool, cache *Cache) *Postgres {
	return &Postgres{pool: pool, cache: cache}
}

var _ domain.CapacityLedger = (*Postgres)(nil)

func scanAvailability(row pgx.Row) (domain.EventAvailability, error) {
	var a domain.EventAvailability
	var priceStr string
	err := row.Scan(&a.EventID, &a.EventName, &a.TotalCapacity, &a.Available,
		&a.Reserved, &a.Confirmed, &priceStr, &a.Version, &a.LastUpdated, &a.CreatedAt)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	a.Price, err = decimal.NewFromString(priceStr)
	return a, err
}

func (p *Postgres) Get(ctx context.Context, eventID uuid.UUID) (domain.EventAvailability, error) {
	if p.cache != nil {
		if a, ok, _ := p.cache.Get(ctx, eventID); ok {
			return a, nil
		}
	}

	a, err := p.fetchUncached(ctx, eventID)
	if err != nil {
		return domain.EventAvailability{}, err
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, a)
	}
	return a, nil
}

// fetchUncached reads straight from Postgres, bypassing the cache. Used
// both by Get on a cache miss and to read the current version/counters
// immediately before issuing a conditional UPDATE.
func (p *Postgres) fetchUncached(ctx context.Context, eventID uuid.UUID) (domain.EventAvailability, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT event_id, event_name, total_capacity, available, reserved, confirmed, price, version, last_updated, created_at
		FROM event_availability
		WHERE event_id = $1
	`, eventID)
	a, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EventAvailability{}, domain.ErrEventNotFound
	}
	return a, err
}

func (p *Postgres) invalidate(ctx context.Context, eventID uuid.UUID) {
	if p.cache != nil {
		_ = p.cache.Invalidate(ctx, eventID)
	}
}

// mutate reads the current row, checks precondition(current), then runs
// buildSQL(current.Version) as a version-guarded UPDATE. A zero-row
// UPDATE result means a concurrent writer advanced the version between
// the read and the UPDATE, and surfaces as ErrConflict (SPEC_FULL §9,
// Design Note "Optimistic retry versus lock" — no internal retry here).
func (p *Postgres) mutate(ctx context.Context, eventID uuid.UUID, precondition func(domain.EventAvailability) bool, insufficientErr error, buildSQL func(version int) (string, []any)) (domain.EventAvailability, error) {
	current, err := p.fetchUncached(ctx, eventID)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if precondition != nil && !precondition(current) {
		return domain.EventAvailability{}, insufficientErr
	}

	sql, args := buildSQL(current.Version)
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.EventAvailability{}, domain.ErrConflict
	}

	p.invalidate(ctx, eventID)
	return p.Get(ctx, eventID)
}

// BeginTx opens a transaction against the shared pool so the booking
// service can compose ReserveTx with BookingRepository.CreateTx in one
// commit (SPEC_FULL §4.3 step 4-6 / §5).
func (p *Postgres) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

// InvalidateCache evicts the cached row for eventID; callers that mutated
// availability via ReserveTx must call this themselves once their shared
// transaction has committed, since ReserveTx cannot safely invalidate a
// cache entry for a change that might still be rolled back.
func (p *Postgres) InvalidateCache(ctx context.Context, eventID uuid.UUID) {
	p.invalidate(ctx, eventID)
}

// ReserveTx is Reserve's equivalent run against an already-open
// transaction, so a caller can compose it with another repository's
// insert in one commit instead of Reserve's own standalone pool.Exec.
// It does not touch the cache; the caller invalidates it after commit.
func (p *Postgres) ReserveTx(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	row := tx.QueryRow(ctx, `
		SELECT event_id, event_name, total_capacity, available, reserved, confirmed, price, version, last_updated, created_at
		FROM event_availability
		WHERE event_id = $1
	`, eventID)
	current, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EventAvailability{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if current.Available < qty {
		return domain.EventAvailability{}, domain.ErrInsufficientCapacity
	}

	tag, err := tx.Exec(ctx, `
		UPDATE event_availability
		SET available = available - $2, reserved = reserved + $2, version = version + 1, last_updated = NOW()
		WHERE event_id = $1 AND version = $3 AND available >= $2
	`, eventID, qty, current.Version)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.EventAvailability{}, domain.ErrConflict
	}

	row = tx.QueryRow(ctx, `
		SELECT event_id, event_name, total_capacity, available, reserved, confirmed, price, version, last_updated, created_at
		FROM event_availability
		WHERE event_id = $1
	`, eventID)
	return scanAvailability(row)
}

func (p *Postgres) Reserve(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return p.mutate(ctx, eventID,
		func(a domain.EventAvailability) bool { return a.Available >= qty },
		domain.ErrInsufficientCapacity,
		func(version int) (string, []any) {
			return `
				UPDATE event_availability
				SET available = available - $2, reserved = reserved + $2, version = version + 1, last_updated = NOW()
				WHERE event_id = $1 AND version = $3 AND available >= $2
			`, []any{eventID, qty, version}
		})
}

func (p *Postgres) Confirm(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return p.mutate(ctx, eventID,
		func(a domain.EventAvailability) bool { return a.Reserved >= qty },
		domain.ErrLedgerInsufficient,
		func(version int) (string, []any) {
			return `
				UPDATE event_availability
				SET reserved = reserved - $2, confirmed = confirmed + $2, version = version + 1, last_updated = NOW()
				WHERE event_id = $1 AND version = $3 AND reserved >= $2
			`, []any{eventID, qty, version}
		})
}

func (p *Postgres) ReleaseReserved(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return p.mutate(ctx, eventID,
		func(a domain.EventAvailability) bool { return a.Reserved >= qty },
		domain.ErrLedgerInsufficient,
		func(version int) (string, []any) {
			return `
				UPDATE event_availability
				SET reserved = reserved - $2, available = available + $2, version = version + 1, last_updated = NOW()
				WHERE event_id = $1 AND version = $3 AND reserved >= $2
			`, []any{eventID, qty, version}
		})
}

func (p *Postgres) ReleaseConfirmed(ctx context.Context, eventID uuid.UUID, qty int) (domain.EventAvailability, error) {
	return p.mutate(ctx, eventID,
		func(a domain.EventAvailability) bool { return a.Confirmed >= qty },
		domain.ErrLedgerInsufficient,
		func(version int) (string, []any) {
			return `
				UPDATE event_availability
				SET confirmed = confirmed - $2, available = available + $2, version = version + 1, last_updated = NOW()
				WHERE event_id = $1 AND version = $3 AND confirmed >= $2
			`, []any{eventID, qty, version}
		})
}

func (p *Postgres) Create(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (domain.EventAvailability, error) {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO event_availability (event_id, event_name, total_capacity, available, reserved, confirmed, price, version, last_updated, created_at)
		VALUES ($1, $2, $3, $3, 0, 0, $4, 1, NOW(), NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, name, total, price)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	p.invalidate(ctx, eventID)
	return p.Get(ctx, eventID)
}

// CreateCapacity is Create's strict counterpart: it fails with
// ErrLedgerAlreadyExists rather than silently returning the existing row.
func (p *Postgres) CreateCapacity(ctx context.Context, eventID uuid.UUID, total int, price string, name string) (domain.EventAvailability, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO event_availability (event_id, event_name, total_capacity, available, reserved, confirmed, price, version, last_updated, created_at)
		VALUES ($1, $2, $3, $3, 0, 0, $4, 1, NOW(), NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, name, total, price)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.EventAvailability{}, domain.ErrLedgerAlreadyExists
	}
	p.invalidate(ctx, eventID)
	return p.Get(ctx, eventID)
}

func (p *Postgres) UpdateTotal(ctx context.Context, eventID uuid.UUID, newTotal int) (domain.EventAvailability, error) {
	current, err := p.fetchUncached(ctx, eventID)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	newAvailable := newTotal - current.Reserved - current.Confirmed
	if newAvailable < 0 {
		newAvailable = 0
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE event_availability
		SET total_capacity = $2, available = $3, version = version + 1, last_updated = NOW()
		WHERE event_id = $1 AND version = $4
	`, eventID, newTotal, newAvailable, current.Version)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.EventAvailability{}, domain.ErrConflict
	}
	p.invalidate(ctx, eventID)
	return p.Get(ctx, eventID)
}

// UpdateDetails re-syncs total capacity, price, and name from an
// upstream catalog update in one conditional UPDATE, per SPEC_FULL §4.5
// "EventUpdated ⇒ update_total and refresh price/name".
func (p *Postgres) UpdateDetails(ctx context.Context, eventID uuid.UUID, newTotal int, price, name string) (domain.EventAvailability, error) {
	current, err := p.fetchUncached(ctx, eventID)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	newAvailable := newTotal - current.Reserved - current.Confirmed
	if newAvailable < 0 {
		newAvailable = 0
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE event_availability
		SET total_capacity = $2, available = $3, price = $4, event_name = $5, version = version + 1, last_updated = NOW()
		WHERE event_id = $1 AND version = $6
	`, eventID, newTotal, newAvailable, price, name, current.Version)
	if err != nil {
		return domain.EventAvailability{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.EventAvailability{}, domain.ErrConflict
	}
	p.invalidate(ctx, eventID)
	return p.Get(ctx, eventID)
}

func (p *Postgres) Delete(ctx context.Context, eventID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM event_availability WHERE event_id = $1`, eventID)
	p.invalidate(ctx, eventID)
	return err
}
