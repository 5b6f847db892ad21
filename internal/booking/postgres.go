// Package booking implements the Booking Service and its Postgres-backed
// repository (SPEC_FULL §4.3), grounded on
// original_source/bookings_service/app/services/booking_service.py and
// app/models/booking.py, using the same conditional-UPDATE/version-bump
// discipline as internal/ledger/postgres.go and the same outbox-enqueue
// pattern used across this service's repositories.
package booking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/evently/bookings-core/internal/eventbus"
	"github.com/evently/bookings-core/internal/eventbus/contracts"
	appCtx "github.com/evently/bookings-core/internal/platform/context"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ domain.BookingRepository = (*Postgres)(nil)

func traceID(ctx context.Context) string {
	return appCtx.GetRequestID(ctx)
}

func bookingPayload(b domain.Booking, reason string) contracts.BookingEventPayload {
	return contracts.BookingEventPayload{
		BookingID:   b.ID.String(),
		UserID:      b.UserID.String(),
		EventID:     b.EventID.String(),
		Reference:   b.BookingReference,
		Quantity:    b.Quantity,
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount.String(),
		Currency:    b.Currency,
		Reason:      reason,
	}
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var totalAmountStr string
	err := row.Scan(
		&b.ID, &b.UserID, &b.EventID, &b.BookingReference, &b.Quantity,
		&totalAmountStr, &b.Currency, &b.Status, &b.PaymentStatus, &b.BookingDate,
		&b.ExpiresAt, &b.ConfirmedAt, &b.CancelledAt, &b.Version, &b.Notes,
		&b.IPAddress, &b.UserAgent, &b.CancellationReason,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	b.TotalAmount, err = decimal.NewFromString(totalAmountStr)
	return b, err
}

const bookingColumns = `
	id, user_id, event_id, booking_reference, quantity,
	total_amount, currency, status, payment_status, booking_date,
	expires_at, confirmed_at, cancelled_at, version, notes,
	ip_address, user_agent, cancellation_reason
`

func (p *Postgres) loadItems(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, bookingID uuid.UUID) ([]domain.BookingItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, booking_id, ticket_type, price_per_item, quantity, total_price
		FROM booking_items WHERE booking_id = $1
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.BookingItem
	for rows.Next() {
		var it domain.BookingItem
		var priceStr, totalStr string
		if err := rows.Scan(&it.ID, &it.BookingID, &it.TicketType, &priceStr, &it.Quantity, &totalStr); err != nil {
			return nil, err
		}
		it.PricePerItem, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, err
		}
		it.TotalPrice, err = decimal.NewFromString(totalStr)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByID eagerly loads the booking plus its items in one round trip per
// table, mirroring the original's explicit `_ = booking.booking_items`
// touch to avoid a lazy-load after the session that created it closes
// (SPEC_FULL §9 "eagerly materialized aggregate").
func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	b.Items, err = p.loadItems(ctx, p.pool, id)
	return b, err
}

func (p *Postgres) GetAuditLog(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingAuditLog, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, booking_id, action, field_name, old_value, new_value, changed_by, changed_at, reason
		FROM booking_audit_logs WHERE booking_id = $1 ORDER BY changed_at ASC
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.BookingAuditLog
	for rows.Next() {
		var l domain.BookingAuditLog
		if err := rows.Scan(&l.ID, &l.BookingID, &l.Action, &l.FieldName, &l.OldValue, &l.NewValue, &l.ChangedBy, &l.ChangedAt, &l.Reason); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (p *Postgres) listKeyset(ctx context.Context, whereClause string, args []any, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sql := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + whereClause
	if cursor != nil {
		sql += ` AND (booking_date, id) < ($` + placeholder(len(args)+1) + `, $` + placeholder(len(args)+2) + `)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	sql += ` ORDER BY booking_date DESC, id DESC LIMIT $` + placeholder(len(args)+1)
	args = append(args, limit+1)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var results []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.KeysetCursor
	if len(results) > limit {
		last := results[limit-1]
		next = &domain.KeysetCursor{CreatedAt: last.BookingDate, ID: last.ID}
		results = results[:limit]
	}

	for i := range results {
		items, err := p.loadItems(ctx, p.pool, results[i].ID)
		if err != nil {
			return nil, nil, err
		}
		results[i].Items = items
	}

	return results, next, nil
}

func (p *Postgres) ListForUser(ctx context.Context, userID uuid.UUID, statuses []domain.BookingStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	where := "user_id = $1"
	args := []any{userID}
	if len(statuses) > 0 {
		where += " AND status = ANY($2)"
		args = append(args, statusStrings(statuses))
	}
	return p.listKeyset(ctx, where, args, limit, cursor)
}

func (p *Postgres) ListAdmin(ctx context.Context, statuses []domain.BookingStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Booking, *domain.KeysetCursor, error) {
	where := "TRUE"
	var args []any
	if len(statuses) > 0 {
		where = "status = ANY($1)"
		args = append(args, statusStrings(statuses))
	}
	return p.listKeyset(ctx, where, args, limit, cursor)
}

func (p *Postgres) Stats(ctx context.Context, periodDays int) (domain.BookingStats, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	stats := domain.BookingStats{PeriodDays: periodDays, ByStatus: map[domain.BookingStatus]int{}}

	rows, err := p.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM bookings
		WHERE booking_date >= NOW() - ($1 || ' days')::interval
		GROUP BY status
	`, periodDays)
	if err != nil {
		return domain.BookingStats{}, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var status domain.BookingStatus
		var count int
		var sumStr string
		if err := rows.Scan(&status, &count, &sumStr); err != nil {
			return domain.BookingStats{}, err
		}
		sum, err := decimal.NewFromString(sumStr)
		if err != nil {
			return domain.BookingStats{}, err
		}
		stats.ByStatus[status] = count
		stats.TotalBookings += count
		total = total.Add(sum)
	}
	stats.TotalRevenue = total.String()
	return stats, rows.Err()
}

// BeginTx opens a transaction against the shared pool so the booking
// service can compose CreateTx with the Capacity Ledger's ReserveTx in
// one commit (SPEC_FULL §4.3 step 4-6 / §5).
func (p *Postgres) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

// CreateTx inserts a PENDING booking + items + CREATE audit row + outbox
// entry against an already-open transaction, without committing it. The
// caller (normally the booking service, composing this with
// ledger.Postgres.ReserveTx) owns the commit/rollback.
func (p *Postgres) CreateTx(ctx context.Context, tx pgx.Tx, b domain.Booking) (domain.Booking, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (
			id, user_id, event_id, booking_reference, quantity, total_amount, currency,
			status, payment_status, booking_date, expires_at, version, notes, ip_address, user_agent
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, b.ID, b.UserID, b.EventID, b.BookingReference, b.Quantity, b.TotalAmount.String(), b.Currency,
		b.Status, b.PaymentStatus, b.BookingDate, b.ExpiresAt, b.Version, b.Notes, b.IPAddress, b.UserAgent)
	if err != nil {
		return domain.Booking{}, err
	}

	for _, it := range b.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO booking_items (id, booking_id, ticket_type, price_per_item, quantity, total_price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, it.ID, b.ID, it.TicketType, it.PricePerItem.String(), it.Quantity, it.TotalPrice.String())
		if err != nil {
			return domain.Booking{}, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_audit_logs (id, booking_id, action, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,NOW(),$5)
	`, uuid.New(), b.ID, domain.BookingAuditCreate, b.UserID, "Booking created")
	if err != nil {
		return domain.Booking{}, err
	}

	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.bookings.created", bookingPayload(b, "")); err != nil {
		return domain.Booking{}, err
	}

	return b, nil
}

// Create persists a PENDING booking, its line items, a CREATE audit
// row, and a BookingCreated outbox row in one transaction of its own.
// The caller (internal/booking/service.go) has already reserved capacity
// on the ledger before calling this.
func (p *Postgres) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := p.CreateTx(ctx, tx, b)
	if err != nil {
		return domain.Booking{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Booking{}, err
	}
	return created, nil
}

func (p *Postgres) Confirm(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2, payment_status = $3, confirmed_at = NOW(), version = version + 1
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+bookingColumns, bookingID, domain.BookingConfirmed, domain.PaymentCompleted)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotPending
	}
	if err != nil {
		return domain.Booking{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_audit_logs (id, booking_id, action, old_value, new_value, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),$7)
	`, uuid.New(), bookingID, domain.BookingAuditConfirm, domain.BookingPending, domain.BookingConfirmed, b.UserID, "Booking confirmed")
	if err != nil {
		return domain.Booking{}, err
	}

	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.bookings.confirmed", bookingPayload(b, "")); err != nil {
		return domain.Booking{}, err
	}
	emailJob := contracts.EmailJobPayload{Template: "BookingConfirmationEmail", UserID: b.UserID.String(), RefID: b.ID.String()}
	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.notifications.email", emailJob); err != nil {
		return domain.Booking{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Booking{}, err
	}
	b.Items, err = p.loadItems(ctx, p.pool, bookingID)
	return b, err
}

func (p *Postgres) Cancel(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (domain.Booking, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := p.txGetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if existing.Status == domain.BookingCancelled || existing.Status == domain.BookingCompleted {
		return domain.Booking{}, domain.ErrNotCancellable
	}

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2, cancelled_at = NOW(), cancellation_reason = $3, version = version + 1
		WHERE id = $1
		RETURNING `+bookingColumns, bookingID, domain.BookingCancelled, reason)
	b, err := scanBooking(row)
	if err != nil {
		return domain.Booking{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_audit_logs (id, booking_id, action, old_value, new_value, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),$7)
	`, uuid.New(), bookingID, domain.BookingAuditCancel, existing.Status, domain.BookingCancelled, actorID, reason)
	if err != nil {
		return domain.Booking{}, err
	}

	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.bookings.cancelled", bookingPayload(b, reason)); err != nil {
		return domain.Booking{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Booking{}, err
	}
	b.Items, err = p.loadItems(ctx, p.pool, bookingID)
	return b, err
}

func (p *Postgres) txGetForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (domain.Booking, error) {
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, err
}

// ExpirePending sweeps every PENDING booking whose hold window has
// elapsed, grounded on expire_pending_bookings in booking_service.py.
func (p *Postgres) ExpirePending(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= $1
		FOR UPDATE SKIP LOCKED
	`, now)
	if err != nil {
		return nil, err
	}
	var candidates []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, tx.Commit(ctx)
	}

	var expired []domain.Booking
	for _, b := range candidates {
		_, err = tx.Exec(ctx, `UPDATE bookings SET status = 'EXPIRED', version = version + 1 WHERE id = $1`, b.ID)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO booking_audit_logs (id, booking_id, action, old_value, new_value, changed_by, changed_at, reason)
			VALUES ($1,$2,$3,$4,$5,$6,NOW(),$7)
		`, uuid.New(), b.ID, domain.BookingAuditExpire, domain.BookingPending, domain.BookingExpired, b.UserID, "Booking hold expired")
		if err != nil {
			return nil, err
		}
		b.Status = domain.BookingExpired
		if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.bookings.expired", bookingPayload(b, "hold expired")); err != nil {
			return nil, err
		}
		expired = append(expired, b)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

// UpdateStatus is the admin-only manual transition (SPEC_FULL §4.3
// supplement), validated against the same state machine as the
// service-level operations.
func (p *Postgres) UpdateStatus(ctx context.Context, bookingID, actorID uuid.UUID, to domain.BookingStatus, reason string) (domain.Booking, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := p.txGetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !domain.CanTransitionBooking(existing.Status, to) {
		return domain.Booking{}, domain.ErrNotPending
	}

	row := tx.QueryRow(ctx, `
		UPDATE bookings SET status = $2, version = version + 1 WHERE id = $1
		RETURNING `+bookingColumns, bookingID, to)
	b, err := scanBooking(row)
	if err != nil {
		return domain.Booking{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_audit_logs (id, booking_id, action, old_value, new_value, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),$7)
	`, uuid.New(), bookingID, domain.BookingAuditStatus, existing.Status, to, actorID, reason)
	if err != nil {
		return domain.Booking{}, err
	}

	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.bookings.status_changed", bookingPayload(b, reason)); err != nil {
		return domain.Booking{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Booking{}, err
	}
	b.Items, err = p.loadItems(ctx, p.pool, bookingID)
	return b, err
}

func (p *Postgres) Delete(ctx context.Context, bookingID uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM booking_items WHERE booking_id = $1`, bookingID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM booking_audit_logs WHERE booking_id = $1`, bookingID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return tx.Commit(ctx)
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func placeholder(n int) string {
	return strconv.Itoa(n)
}
