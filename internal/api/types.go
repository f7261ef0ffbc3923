package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-scheduling/internal/appointment"
)

type CreateShiftRequest struct {
	DoctorID    string    `json:"doctor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SlotMinutes int       `json:"slot_minutes,omitempty"`
}

type CreateAppointmentRequest struct {
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id"`
}

type UpdateAppointmentRequest struct {
	PatientName  *string `json:"patient_name,omitempty"`
	PatientEmail *string `json:"patient_email,omitempty"`
	DoctorName   *string `json:"doctor_name,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleAppointmentRequest struct {
	SlotID string `json:"slot_id"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}

type SlotListResponse struct {
	Slots []SlotResponse `json:"slots"`
	Count int            `json:"count"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	SlotID       uuid.UUID `json:"slot_id"`
	PatientID    uuid.UUID `json:"patient_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	PatientName  string    `json:"patient_name"`
	PatientEmail string    `json:"patient_email,omitempty"`
	DoctorName   string    `json:"doctor_name"`
	Status       string    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
	}
}

func toSlotListResponse(slots []appointment.Slot) SlotListResponse {
	resp := SlotListResponse{Slots: make([]SlotResponse, 0, len(slots)), Count: len(slots)}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, toSlotResponse(s))
	}
	return resp
}

func toAppointmentResponse(d *appointment.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:           d.ID,
		SlotID:       d.SlotID,
		PatientID:    d.PatientID,
		DoctorID:     d.Slot.DoctorID,
		PatientName:  d.PatientName,
		PatientEmail: d.PatientEmail,
		DoctorName:   d.DoctorName,
		Status:       string(d.Status),
		StartTime:    d.Slot.StartTime,
		EndTime:      d.Slot.EndTime,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
