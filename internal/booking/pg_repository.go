package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/ledger"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"

	activeBookingIndex = "bookings_slot_phone_active"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const slotColumns = `slot_date, slot_time, total_capacity, booked_capacity`

const bookingColumns = `id, confirmation_code, slot_date, slot_time, party_size, customer_name,
	customer_phone, customer_email, special_requests, status, created_at, updated_at`

func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func pgTime(t civil.Time) pgtype.Time {
	us := (int64(t.Hour)*3600 + int64(t.Minute)*60 + int64(t.Second)) * 1_000_000
	return pgtype.Time{Microseconds: us, Valid: true}
}

func fromPgTime(t pgtype.Time) civil.Time {
	secs := t.Microseconds / 1_000_000
	return civil.Time{Hour: int(secs / 3600), Minute: int(secs % 3600 / 60), Second: int(secs % 60)}
}

func scanSlot(row pgx.Row) (*ledger.Slot, error) {
	var s ledger.Slot
	var date time.Time
	var tm pgtype.Time

	err := row.Scan(&date, &tm, &s.TotalCapacity, &s.BookedCapacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, classify("scan slot", err)
	}

	s.Date = civil.DateOf(date)
	s.Time = fromPgTime(tm)
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var date time.Time
	var tm pgtype.Time

	err := row.Scan(
		&b.ID,
		&b.ConfirmationCode,
		&date,
		&tm,
		&b.PartySize,
		&b.CustomerName,
		&b.CustomerPhone,
		&b.CustomerEmail,
		&b.SpecialRequests,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, classify("scan booking", err)
	}

	b.Date = civil.DateOf(date)
	b.Time = fromPgTime(tm)
	return &b, nil
}

// classify maps driver errors onto the error taxonomy so the resilience layer
// knows what may be retried.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			if pgErr.ConstraintName == activeBookingIndex {
				return ErrDuplicateBooking
			}
			return apperr.Transient(op, ErrSlotExists)
		case serializationFailure, deadlockDetected:
			return apperr.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func listSlots(ctx context.Context, q querier, date civil.Date) ([]ledger.Slot, error) {
	rows, err := q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE slot_date = $1
		ORDER BY slot_time
	`, pgDate(date))
	if err != nil {
		return nil, classify("list slots", err)
	}
	defer rows.Close()

	var result []ledger.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list slots", err)
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetSlot(ctx context.Context, key ledger.Key) (*ledger.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE slot_date = $1 AND slot_time = $2
	`, pgDate(key.Date), pgTime(key.Time))
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, date civil.Date) ([]ledger.Slot, error) {
	return listSlots(ctx, r.pool, date)
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []ledger.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO time_slots (slot_date, slot_time, total_capacity, booked_capacity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (slot_date, slot_time) DO NOTHING
		`, pgDate(s.Date), pgTime(s.Time), s.TotalCapacity, s.BookedCapacity)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range slots {
		tag, err := results.Exec()
		if err != nil {
			return created, classify("insert slots", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetSlotForUpdate(ctx context.Context, key ledger.Key) (*ledger.Slot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE slot_date = $1 AND slot_time = $2
		FOR UPDATE
	`, pgDate(key.Date), pgTime(key.Time))
	return scanSlot(row)
}

func (t *pgTx) CreateSlot(ctx context.Context, s ledger.Slot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO time_slots (slot_date, slot_time, total_capacity, booked_capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, pgDate(s.Date), pgTime(s.Time), s.TotalCapacity, s.BookedCapacity)
	if err != nil {
		return classify("create slot", err)
	}
	return nil
}

func (t *pgTx) UpdateSlot(ctx context.Context, s ledger.Slot) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_slots
		SET booked_capacity = $3,
		    updated_at = now()
		WHERE slot_date = $1 AND slot_time = $2
	`, pgDate(s.Date), pgTime(s.Time), s.BookedCapacity)
	if err != nil {
		return classify("update slot", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO bookings (id, confirmation_code, slot_date, slot_time, party_size, customer_name,
			customer_phone, customer_email, special_requests, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING created_at, updated_at
	`, b.ID, b.ConfirmationCode, pgDate(b.Date), pgTime(b.Time), b.PartySize, b.CustomerName,
		b.CustomerPhone, b.CustomerEmail, b.SpecialRequests, b.Status, b.CreatedAt)

	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return classify("insert booking", err)
	}
	return nil
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanBooking(row)
}

func (t *pgTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)

	return scanBooking(row)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
