package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/appointment"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeJSON rejects unknown fields. When optional is set an empty body
// leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}

var errorCodes = []struct {
	err  error
	code string
}{
	{appointment.ErrSlotNotFound, "slot_not_found"},
	{appointment.ErrAppointmentNotFound, "appointment_not_found"},
	{appointment.ErrPatientNotFound, "patient_not_found"},
	{appointment.ErrDoctorNotFound, "doctor_not_found"},
	{appointment.ErrSlotUnavailable, "slot_unavailable"},
	{appointment.ErrShiftOverlap, "shift_overlap"},
	{appointment.ErrInvalidTransition, "invalid_status_transition"},
	{appointment.ErrAppointmentClosed, "appointment_closed"},
}

func errorCode(err error, fallback string) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return fallback
}

// writeServiceError maps the booking engine's error categories onto HTTP.
// Internal failures are logged with the request id and answered generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, errorCode(err, "not_found"), err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, errorCode(err, "conflict"), err.Error())
	case errors.Is(err, appointment.ErrInvalidState):
		writeError(w, http.StatusBadRequest, errorCode(err, "invalid_state"), err.Error())
	case errors.Is(err, appointment.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, appointment.ErrDependency):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("dependency failure")
		writeError(w, http.StatusBadGateway, "dependency_unavailable", "an upstream directory service is unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
