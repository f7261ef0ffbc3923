package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-scheduling/internal/appointment"
)

func pathID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional UUID query parameter.
func queryID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return nil, false
	}
	return &id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), patientID, slotID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			q  appointment.AppointmentQuery
			ok bool
		)
		if q.DoctorID, ok = queryID(w, r, "doctor_id"); !ok {
			return
		}
		if q.PatientID, ok = queryID(w, r, "patient_id"); !ok {
			return
		}
		if q.Limit, ok = queryInt(w, r, "limit"); !ok {
			return
		}
		if q.Offset, ok = queryInt(w, r, "offset"); !ok {
			return
		}
		if raw := r.URL.Query().Get("date"); raw != "" {
			day, err := svc.ParseDay(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
				return
			}
			q.Day = &day
		}

		appointments, err := svc.ListAppointments(r.Context(), q)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appointments)),
			Count:        len(appointments),
		}
		for i := range appointments {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, appointment.AppointmentUpdate{
			PatientName:  req.PatientName,
			PatientEmail: req.PatientEmail,
			DoctorName:   req.DoctorName,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

type transitionFunc func(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.AppointmentDetail, error)

// transitionHandler serves the body-less lifecycle endpoints.
func transitionHandler(svc *appointment.Service, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := fn(svc, r, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirm(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	return svc.ConfirmAppointment(r.Context(), id)
}

func complete(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	return svc.CompleteAppointment(r.Context(), id)
}

func noShow(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	return svc.MarkNoShow(r.Context(), id)
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), id, slotID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
