package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-scheduling/internal/appointment"
)

// createShiftHandler receives the staff directory's shift-created webhook.
func createShiftHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateShiftRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		if req.SlotMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid_slot_minutes", "slot_minutes must be positive")
			return
		}

		slots, err := svc.GenerateSlots(r.Context(), appointment.Shift{
			DoctorID:     doctorID,
			Start:        req.StartTime,
			End:          req.EndTime,
			SlotDuration: time.Duration(req.SlotMinutes) * time.Minute,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotListResponse(slots))
	}
}

func getSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(*slot))
	}
}

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := queryID(w, r, "doctor_id")
		if !ok {
			return
		}
		if doctorID == nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id is required")
			return
		}

		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "invalid_date", "date is required (YYYY-MM-DD)")
			return
		}
		day, err := svc.ParseDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		status := appointment.SlotStatus(r.URL.Query().Get("status"))

		slots, err := svc.ListSlots(r.Context(), *doctorID, day, status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotListResponse(slots))
	}
}
