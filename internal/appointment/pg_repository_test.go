package appointment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestAppointmentQuery_NumbersPlaceholders(t *testing.T) {
	doctor := uuid.New()
	patient := uuid.New()
	from := clinicDay
	to := clinicDay.Add(24 * time.Hour)

	tests := []struct {
		name     string
		filter   AppointmentFilter
		contains []string
		args     []any
	}{
		{
			name:     "no filter",
			filter:   AppointmentFilter{},
			contains: []string{"ORDER BY s.start_time, a.created_at, a.id"},
			args:     nil,
		},
		{
			name:     "limit only",
			filter:   AppointmentFilter{Limit: 20},
			contains: []string{" LIMIT $1"},
			args:     []any{20},
		},
		{
			name:     "offset only",
			filter:   AppointmentFilter{Offset: 40},
			contains: []string{" OFFSET $1"},
			args:     []any{40},
		},
		{
			name: "all filters with paging",
			filter: AppointmentFilter{
				DoctorID:  &doctor,
				PatientID: &patient,
				SlotFrom:  &from,
				SlotTo:    &to,
				Limit:     10,
				Offset:    30,
			},
			contains: []string{
				" WHERE s.doctor_id = $1 AND a.patient_id = $2 AND s.start_time >= $3 AND s.start_time < $4",
				" LIMIT $5 OFFSET $6",
			},
			args: []any{doctor, patient, from, to, 10, 30},
		},
		{
			name:     "patient and limit",
			filter:   AppointmentFilter{PatientID: &patient, Limit: 5},
			contains: []string{" WHERE a.patient_id = $1", " LIMIT $2"},
			args:     []any{patient, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := appointmentQuery(tt.filter)
			for _, c := range tt.contains {
				assert.Contains(t, sql, c)
			}
			assert.Equal(t, tt.args, args)
			if tt.filter.DoctorID == nil && tt.filter.PatientID == nil && tt.filter.SlotFrom == nil && tt.filter.SlotTo == nil {
				assert.NotContains(t, sql, "WHERE")
			}
		})
	}
}

func TestSlotQuery_NumbersPlaceholders(t *testing.T) {
	doctor := uuid.New()
	from := clinicDay
	to := clinicDay.Add(24 * time.Hour)

	sql, args := slotQuery(SlotFilter{DoctorID: &doctor, From: &from, To: &to, Status: SlotFree})
	assert.Contains(t, sql, " WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3 AND status = $4 ORDER BY start_time, id")
	assert.Equal(t, []any{doctor, from, to, SlotFree}, args)

	sql, args = slotQuery(SlotFilter{Status: SlotBooked})
	assert.Contains(t, sql, " WHERE status = $1 ")
	assert.Equal(t, []any{SlotBooked}, args)
}

func TestMapConstraintError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"active appointment index", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "uq_appointments_active_slot"}, ErrSlotUnavailable},
		{"slot foreign key", &pgconn.PgError{Code: pgForeignKeyViolation}, ErrSlotNotFound},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation}), ErrSlotUnavailable},
		{"check violation passes through", &pgconn.PgError{Code: "23514"}, nil},
		{"plain error passes through", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapConstraintError(tt.err)
			if tt.want == nil {
				assert.Same(t, tt.err, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
