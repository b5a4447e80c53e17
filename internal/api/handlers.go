package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/appointment"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/meeting"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

func listSlotsHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		from, ok := dateQuery(w, r, "from")
		if !ok {
			return
		}
		to, ok := dateQuery(w, r, "to")
		if !ok {
			return
		}

		if flat, _ := strconv.ParseBool(r.URL.Query().Get("flat")); flat {
			slots, err := svc.OpenSlots(r.Context(), doctorID, from, to)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, FlatSlotsResponse{DoctorID: doctorID, From: from, To: to, Slots: slots})
			return
		}

		days, err := svc.ComputeAvailableSlots(r.Context(), doctorID, from, to)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, From: from, To: to, Days: days})
	}
}

func getTemplateHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		tpl, err := svc.GetTemplate(r.Context(), doctorID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	}
}

func saveTemplateHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		var req SaveTemplateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		tpl, err := svc.SaveTemplate(r.Context(), schedule.WeeklyTemplate{DoctorID: doctorID, Days: req.Days})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	}
}

func addExceptionHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		var req AddExceptionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		exc, err := svc.AddDateException(r.Context(), schedule.DateException{
			DoctorID:    doctorID,
			Date:        req.Date,
			Blocked:     req.Blocked,
			Start:       req.StartTime,
			End:         req.EndTime,
			SlotMinutes: req.SlotMinutes,
			Reason:      req.Reason,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, exc)
	}
}

func removeExceptionHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.RemoveDateException(r.Context(), doctorID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listDoctorDayHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		date, ok := dateQuery(w, r, "date")
		if !ok {
			return
		}

		appts, err := svc.ListDoctorDay(r.Context(), doctorID, date)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if appts == nil {
			appts = []appointment.Appointment{}
		}
		writeJSON(w, http.StatusOK, appts)
	}
}

func reserveAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReserveAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.ReserveSlot(r.Context(), appointment.ReserveRequest{
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Date:      req.Date,
			Start:     req.StartTime,
			Type:      req.Type,
			Notes:     req.Notes,
			Reason:    req.Reason,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func requestAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.RequestAppointment(r.Context(), appointment.RequestInput{
			DoctorID:        req.DoctorID,
			PatientID:       req.PatientID,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			Reason:          req.Reason,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func scheduleAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req ScheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.ScheduleAppointment(r.Context(), id, req.Date, req.StartTime)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

type statusChangeFunc func(r *http.Request, id uuid.UUID, note string) (*appointment.Appointment, error)

// statusChangeHandler serves cancel, complete and no-show, which differ only
// in the service call.
func statusChangeHandler(change statusChangeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req StatusChangeRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}

		appt, err := change(r, id, req.Note)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func createMeetingHandler(svc MeetingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMeetingRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}

		session, err := svc.CreateSession(r.Context(), req.AppointmentID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

func getMeetingHandler(svc MeetingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		session, err := svc.GetSession(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func joinMeetingHandler(svc MeetingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req JoinMeetingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Identity == "" {
			writeError(w, http.StatusBadRequest, "invalid_identity", "identity is required")
			return
		}

		joined, err := svc.JoinSession(r.Context(), id, req.Identity)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, joined)
	}
}

func endMeetingHandler(svc MeetingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req EndMeetingRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}

		var summary *meeting.Summary
		if req.Notes != "" || len(req.DocumentRefs) > 0 {
			summary = &meeting.Summary{Notes: req.Notes, DocumentRefs: req.DocumentRefs}
		}

		session, err := svc.EndSession(r.Context(), id, summary)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func reconcileHandler(svc MeetingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.ReconcileState(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateQuery(w http.ResponseWriter, r *http.Request, name string) (civil.Date, bool) {
	d, err := civil.ParseDate(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a date in YYYY-MM-DD form")
		return civil.Date{}, false
	}
	return d, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body and leaves v untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}
