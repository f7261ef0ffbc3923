package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const slotColumns = `id, doctor_id, start_time, end_time, status, created_at, updated_at`

const appointmentColumns = `id, slot_id, patient_id, patient_name, patient_email, doctor_name, status, created_at, updated_at`

const detailSelect = `
	SELECT a.id, a.slot_id, a.patient_id, a.patient_name, a.patient_email, a.doctor_name, a.status, a.created_at, a.updated_at,
	       s.id, s.doctor_id, s.start_time, s.end_time, s.status, s.created_at, s.updated_at
	FROM appointments a
	JOIN slots s ON s.id = a.slot_id`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var email *string

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.PatientName,
		&email,
		&a.DoctorName,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if email != nil {
		a.PatientEmail = *email
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var email *string

	err := row.Scan(
		&d.ID,
		&d.SlotID,
		&d.PatientID,
		&d.PatientName,
		&email,
		&d.DoctorName,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Slot.ID,
		&d.Slot.DoctorID,
		&d.Slot.StartTime,
		&d.Slot.EndTime,
		&d.Slot.Status,
		&d.Slot.CreatedAt,
		&d.Slot.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if email != nil {
		d.PatientEmail = *email
	}
	return &d, nil
}

func collectDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// whereBuilder numbers placeholders as conditions are added.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// Interface methods

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return getSlot(ctx, r.pool, id)
}

func getSlot(ctx context.Context, q querier, id uuid.UUID) (*Slot, error) {
	row := q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func slotQuery(filter SlotFilter) (string, []any) {
	var w whereBuilder
	if filter.DoctorID != nil {
		w.add("doctor_id = $%d", *filter.DoctorID)
	}
	if filter.From != nil {
		w.add("start_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("start_time < $%d", *filter.To)
	}
	if filter.Status != "" {
		w.add("status = $%d", filter.Status)
	}
	return `SELECT ` + slotColumns + ` FROM slots` + w.String() + ` ORDER BY start_time, id`, w.args
}

func (r *PgRepository) ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error) {
	sql, args := slotQuery(filter)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id)
	return scanDetail(row)
}

// appointmentQuery numbers LIMIT and OFFSET after the filter arguments.
func appointmentQuery(filter AppointmentFilter) (string, []any) {
	var w whereBuilder
	if filter.DoctorID != nil {
		w.add("s.doctor_id = $%d", *filter.DoctorID)
	}
	if filter.PatientID != nil {
		w.add("a.patient_id = $%d", *filter.PatientID)
	}
	if filter.SlotFrom != nil {
		w.add("s.start_time >= $%d", *filter.SlotFrom)
	}
	if filter.SlotTo != nil {
		w.add("s.start_time < $%d", *filter.SlotTo)
	}

	sql := detailSelect + w.String() + ` ORDER BY s.start_time, a.created_at, a.id`
	args := w.args
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return sql, args
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]AppointmentDetail, error) {
	sql, args := appointmentQuery(filter)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func (r *PgRepository) FindConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE a.status = 'confirmed'
		  AND s.end_time < $1
		ORDER BY s.end_time
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID.String())
	if err != nil {
		return fmt.Errorf("lock doctor %s: %w", doctorID, err)
	}
	return nil
}

func (t *pgTx) CountOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM slots
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
	`, doctorID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overlapping slots: %w", err)
	}
	return n, nil
}

func (t *pgTx) InsertSlots(ctx context.Context, slots []Slot) ([]Slot, error) {
	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO slots (id, doctor_id, start_time, end_time, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			RETURNING `+slotColumns,
			s.ID, s.DoctorID, s.StartTime, s.EndTime, s.Status)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	inserted := make([]Slot, 0, len(slots))
	for range slots {
		s, err := scanSlot(br.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("insert slot: %w", err)
		}
		inserted = append(inserted, *s)
	}

	return inserted, nil
}

func (t *pgTx) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return getSlot(ctx, t.tx, id)
}

func (t *pgTx) ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return t.swapSlotStatus(ctx, id, SlotFree, SlotBooked, ErrSlotUnavailable)
}

func (t *pgTx) ReleaseSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return t.swapSlotStatus(ctx, id, SlotBooked, SlotFree, fmt.Errorf("release slot %s: slot is not booked", id))
}

// swapSlotStatus returns lost when the row exists but is not in status from.
func (t *pgTx) swapSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus, lost error) (*Slot, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+slotColumns,
		id, to, from)

	s, err := scanSlot(row)
	if !errors.Is(err, ErrSlotNotFound) {
		return s, err
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, lost
	}
	return nil, ErrSlotNotFound
}

func (t *pgTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, patient_name, patient_email, doctor_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.SlotID, a.PatientID, a.PatientName, nullableString(a.PatientEmail), a.DoctorName, a.Status)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapConstraintError(err)
	}
	return created, nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    patient_name = $3,
		    patient_email = $4,
		    doctor_name = $5,
		    status = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.SlotID, a.PatientName, nullableString(a.PatientEmail), a.DoctorName, a.Status)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapConstraintError(err)
	}
	return updated, nil
}

// mapConstraintError translates the one-active-appointment-per-slot index and
// the slot foreign key into domain errors.
func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return ErrSlotUnavailable
	case pgForeignKeyViolation:
		return ErrSlotNotFound
	}
	return err
}
