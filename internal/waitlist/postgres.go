// Package waitlist implements the Waitlist Service and its Postgres
// repository (SPEC_FULL §4.4), grounded on
// original_source/bookings_service/app/services/waitlist_service.py,
// reusing the same conditional-UPDATE/version-bump and outbox-enqueue
// discipline as internal/booking/postgres.go.
package waitlist

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
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ domain.WaitlistRepository = (*Postgres)(nil)

func traceID(ctx context.Context) string {
	return appCtx.GetRequestID(ctx)
}

func entryPayload(e domain.WaitlistEntry) contracts.WaitlistEventPayload {
	return contracts.WaitlistEventPayload{
		EntryID:  e.ID.String(),
		UserID:   e.UserID.String(),
		EventID:  e.EventID.String(),
		Quantity: e.Quantity,
		Status:   string(e.Status),
	}
}

const entryColumns = `
	id, user_id, event_id, quantity, priority, status,
	joined_at, notified_at, expires_at, cancelled_at, version, notes
`

func scanEntry(row pgx.Row) (domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	err := row.Scan(
		&e.ID, &e.UserID, &e.EventID, &e.Quantity, &e.Priority, &e.Status,
		&e.JoinedAt, &e.NotifiedAt, &e.ExpiresAt, &e.CancelledAt, &e.Version, &e.Notes,
	)
	return e, err
}

func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WaitlistEntry{}, domain.ErrWaitlistNotFound
	}
	return e, err
}

func (p *Postgres) GetAuditLog(ctx context.Context, entryID uuid.UUID) ([]domain.WaitlistAuditLog, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, waitlist_entry_id, action, field_name, old_value, new_value, changed_by, changed_at, reason
		FROM waitlist_audit_logs WHERE waitlist_entry_id = $1 ORDER BY changed_at ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.WaitlistAuditLog
	for rows.Next() {
		var l domain.WaitlistAuditLog
		if err := rows.Scan(&l.ID, &l.EntryID, &l.Action, &l.FieldName, &l.OldValue, &l.NewValue, &l.ChangedBy, &l.ChangedAt, &l.Reason); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (p *Postgres) GetActiveForUserEvent(ctx context.Context, userID, eventID uuid.UUID) (domain.WaitlistEntry, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE user_id = $1 AND event_id = $2 AND status = ANY($3)
	`, userID, eventID, []string{string(domain.WaitlistPending), string(domain.WaitlistNotified)})
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WaitlistEntry{}, domain.ErrWaitlistNotFound
	}
	return e, err
}

func (p *Postgres) listKeyset(ctx context.Context, whereClause string, args []any, orderBy string, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sql := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE ` + whereClause
	if cursor != nil {
		sql += ` AND (joined_at, id) < ($` + itoa(len(args)+1) + `, $` + itoa(len(args)+2) + `)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	sql += ` ORDER BY ` + orderBy + ` LIMIT $` + itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var results []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.KeysetCursor
	if len(results) > limit {
		last := results[limit-1]
		next = &domain.KeysetCursor{CreatedAt: last.JoinedAt, ID: last.ID}
		results = results[:limit]
	}
	return results, next, nil
}

func (p *Postgres) ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	return p.listKeyset(ctx, "user_id = $1", []any{userID}, "joined_at DESC, id DESC", limit, cursor)
}

func (p *Postgres) ListForEvent(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.WaitlistEntry, *domain.KeysetCursor, error) {
	return p.listKeyset(ctx, "event_id = $1", []any{eventID}, "priority ASC, id ASC", limit, cursor)
}

// Position counts active entries with a strictly lower priority number,
// grounded on get_waitlist_position.
func (p *Postgres) Position(ctx context.Context, entryID uuid.UUID) (int, error) {
	e, err := p.GetByID(ctx, entryID)
	if err != nil {
		return 0, err
	}
	var count int
	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM waitlist_entries
		WHERE event_id = $1 AND priority < $2 AND status = ANY($3)
	`, e.EventID, e.Priority, []string{string(domain.WaitlistPending), string(domain.WaitlistNotified)}).Scan(&count)
	return count + 1, err
}

func (p *Postgres) nextPriority(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) (int, error) {
	var maxPriority *int
	err := tx.QueryRow(ctx, `
		SELECT MAX(priority) FROM waitlist_entries
		WHERE event_id = $1 AND status = ANY($2)
	`, eventID, []string{string(domain.WaitlistPending), string(domain.WaitlistNotified)}).Scan(&maxPriority)
	if err != nil {
		return 0, err
	}
	if maxPriority == nil {
		return 1, nil
	}
	return *maxPriority + 1, nil
}

// Join inserts a PENDING entry with the next priority number, a JOIN
// audit row, a WaitlistJoined outbox row and a WaitlistJoinedEmail job,
// grounded on join_waitlist.
// The service layer has already checked for a duplicate active entry
// and insufficient-availability-to-join before calling this.
func (p *Postgres) Join(ctx context.Context, e domain.WaitlistEntry) (domain.WaitlistEntry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	priority, err := p.nextPriority(ctx, tx, e.EventID)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	e.Priority = priority
	e.Status = domain.WaitlistPending

	_, err = tx.Exec(ctx, `
		INSERT INTO waitlist_entries (id, user_id, event_id, quantity, priority, status, joined_at, version, notes)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),1,$7)
	`, e.ID, e.UserID, e.EventID, e.Quantity, e.Priority, e.Status, e.Notes)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO waitlist_audit_logs (id, waitlist_entry_id, action, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,NOW(),$5)
	`, uuid.New(), e.ID, domain.WaitlistAuditJoin, e.UserID, "User joined waitlist")
	if err != nil {
		return domain.WaitlistEntry{}, err
	}

	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.waitlist.joined", entryPayload(e)); err != nil {
		return domain.WaitlistEntry{}, err
	}
	emailJob := contracts.EmailJobPayload{Template: "WaitlistJoinedEmail", UserID: e.UserID.String(), RefID: e.ID.String()}
	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.notifications.email", emailJob); err != nil {
		return domain.WaitlistEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WaitlistEntry{}, err
	}
	return p.GetByID(ctx, e.ID)
}

func (p *Postgres) Cancel(ctx context.Context, entryID uuid.UUID) (domain.WaitlistEntry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1 FOR UPDATE`, entryID)
	existing, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WaitlistEntry{}, domain.ErrWaitlistNotFound
	}
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	if existing.Status == domain.WaitlistCancelled || existing.Status == domain.WaitlistBooked {
		return domain.WaitlistEntry{}, domain.ErrWaitlistNotCancelable
	}

	_, err = tx.Exec(ctx, `
		UPDATE waitlist_entries SET status = $2, cancelled_at = NOW(), version = version + 1 WHERE id = $1
	`, entryID, domain.WaitlistCancelled)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO waitlist_audit_logs (id, waitlist_entry_id, action, field_name, old_value, new_value, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),$8)
	`, uuid.New(), entryID, domain.WaitlistAuditCancel, "status", existing.Status, domain.WaitlistCancelled, existing.UserID, "Waitlist entry cancelled")
	if err != nil {
		return domain.WaitlistEntry{}, err
	}

	existing.Status = domain.WaitlistCancelled
	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.waitlist.cancelled", entryPayload(existing)); err != nil {
		return domain.WaitlistEntry{}, err
	}
	emailJob := contracts.EmailJobPayload{Template: "WaitlistCancellationEmail", UserID: existing.UserID.String(), RefID: entryID.String()}
	if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.notifications.email", emailJob); err != nil {
		return domain.WaitlistEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WaitlistEntry{}, err
	}
	return p.GetByID(ctx, entryID)
}

// NotifyNext walks PENDING entries ordered by priority ascending,
// notifying (not blocking) while skipping any entry whose quantity
// exceeds what remains — the skip-not-block rule of SPEC_FULL §4.4,
// grounded verbatim on notify_next_waitlist_entries.
func (p *Postgres) NotifyNext(ctx context.Context, eventID uuid.UUID, availableQty int, notificationWindow time.Duration, now time.Time) ([]domain.WaitlistEntry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE event_id = $1 AND status = $2
		ORDER BY priority ASC
		FOR UPDATE SKIP LOCKED
	`, eventID, domain.WaitlistPending)
	if err != nil {
		return nil, err
	}
	var candidates []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	expiresAt := now.Add(notificationWindow)
	remaining := availableQty
	var notified []domain.WaitlistEntry

	for _, e := range candidates {
		if remaining <= 0 {
			break
		}
		if e.Quantity > remaining {
			continue // skip, don't block: a later, smaller request may still fit
		}

		_, err = tx.Exec(ctx, `
			UPDATE waitlist_entries SET status = $2, notified_at = $3, expires_at = $4, version = version + 1 WHERE id = $1
		`, e.ID, domain.WaitlistNotified, now, expiresAt)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO waitlist_audit_logs (id, waitlist_entry_id, action, field_name, old_value, new_value, reason, changed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		`, uuid.New(), e.ID, domain.WaitlistAuditNotify, "status", domain.WaitlistPending, domain.WaitlistNotified, "Notified of availability")
		if err != nil {
			return nil, err
		}

		e.Status = domain.WaitlistNotified
		e.NotifiedAt = &now
		e.ExpiresAt = &expiresAt
		notified = append(notified, e)
		remaining -= e.Quantity
	}

	if len(notified) > 0 {
		if err := eventbus.EnqueueTx(ctx, tx, traceID(ctx), "evently.waitlist.notifications_sent", struct {
			EventID string `json:"event_id"`
			Count   int    `json:"count"`
		}{eventID.String(), len(notified)}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return notified, nil
}

// ExpireNotified marks NOTIFIED entries whose notification window has
// elapsed as EXPIRED, grounded on expire_notifications.
func (p *Postgres) ExpireNotified(ctx context.Context, now time.Time) ([]domain.WaitlistEntry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		FOR UPDATE SKIP LOCKED
	`, domain.WaitlistNotified, now)
	if err != nil {
		return nil, err
	}
	var candidates []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []domain.WaitlistEntry
	for _, e := range candidates {
		_, err = tx.Exec(ctx, `UPDATE waitlist_entries SET status = $2, version = version + 1 WHERE id = $1`, e.ID, domain.WaitlistExpired)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO waitlist_audit_logs (id, waitlist_entry_id, action, field_name, old_value, new_value, reason, changed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		`, uuid.New(), e.ID, domain.WaitlistAuditExpire, "status", domain.WaitlistNotified, domain.WaitlistExpired, "Notification expired")
		if err != nil {
			return nil, err
		}
		e.Status = domain.WaitlistExpired
		expired = append(expired, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
