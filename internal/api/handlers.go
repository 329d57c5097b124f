package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	svc *scheduling.Service
	log *zap.Logger
	loc *time.Location
}

func NewHandlers(svc *scheduling.Service, log *zap.Logger, loc *time.Location) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handlers{svc: svc, log: log, loc: loc}
}

// decodeBody decodes JSON into v. An empty body is accepted when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func doctorIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseInstant accepts RFC 3339 or a bare date in the clinic's zone. A bare date used
// as the end of a range includes that whole day.
func (h *Handlers) parseInstant(value string, endOfRange bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(availability.DateLayout, value, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", value)
	}
	if endOfRange {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

func (h *Handlers) rangeParams(w http.ResponseWriter, r *http.Request, fromKey, toKey string) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := h.parseInstant(q.Get(fromKey), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+fromKey, err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := h.parseInstant(q.Get(toKey), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+toKey, err.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func durationParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	d, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
		return 0, false
	}
	return d, true
}

func (h *Handlers) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	appt, err := h.svc.BookAppointment(r.Context(), scheduling.BookRequest{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Start:           req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Direct:          req.Direct,
		ResourceID:      req.ResourceID,
		Notes:           req.Notes,
		BookedBy:        ActorFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, scheduling.Summarize(appt))
}

func (h *Handlers) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentIDParam(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, scheduling.Summarize(appt))
}

func (h *Handlers) ValidNextStates(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentIDParam(w, r)
	if !ok {
		return
	}

	states, err := h.svc.ValidNextStates(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": id, "valid_next_states": states})
}

func (h *Handlers) MoveAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentIDParam(w, r)
	if !ok {
		return
	}
	var req MoveAppointmentRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	res, err := h.svc.MoveAppointment(r.Context(), scheduling.MoveRequest{
		AppointmentID:   id,
		NewStart:        req.NewStartTime,
		ExpectedVersion: req.ExpectedVersion,
		ResourceID:      req.ResourceID,
		MovedBy:         ActorFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, MoveAppointmentResponse{
		Success:       true,
		AppointmentID: res.AppointmentID,
		NewVersion:    res.NewVersion,
		ScheduledAt:   res.ScheduledAt,
		EndsAt:        res.EndsAt,
	})
}

// Decide handles confirm and reject. The fixed-action routes pass the action in.
func (h *Handlers) Decide(action scheduling.DecisionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}
		var req DecisionRequest
		if !decodeBody(w, r, &req, action != "") {
			return
		}
		act := action
		if act == "" {
			act = scheduling.DecisionAction(req.Action)
		}

		sum, err := h.svc.DecideAppointment(r.Context(), scheduling.DecisionRequest{
			AppointmentID:   id,
			Action:          act,
			ActorID:         ActorFromContext(r.Context()),
			Method:          appointment.ConfirmationMethod(req.Method),
			Notes:           req.Notes,
			RejectionReason: appointment.RejectionReason(req.RejectionReason),
			Details:         req.Details,
			SuggestedStart:  req.SuggestedStartTime,
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}

		writeJSON(w, http.StatusOK, sum)
	}
}

// lifecycleOp is a method expression such as (*scheduling.Service).CheckInPatient.
type lifecycleOp func(*scheduling.Service, context.Context, scheduling.LifecycleRequest) (*scheduling.Summary, error)

// Lifecycle serves the single-step status changes that share a request shape.
func (h *Handlers) Lifecycle(op lifecycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}
		var req LifecycleRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		sum, err := op(h.svc, r.Context(), scheduling.LifecycleRequest{
			AppointmentID:   id,
			ExpectedVersion: req.ExpectedVersion,
			ActorID:         ActorFromContext(r.Context()),
			CheckInMethod:   appointment.CheckInMethod(req.Method),
			Reason:          req.Reason,
		})
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}

		writeJSON(w, http.StatusOK, sum)
	}
}

func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(w, r, "start", "end")
	if !ok {
		return
	}

	sched, err := h.svc.GetDoctorSchedule(r.Context(), doctorID, start, end)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (h *Handlers) FindSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	from, to, ok := h.rangeParams(w, r, "from", "to")
	if !ok {
		return
	}
	duration, ok := durationParam(w, r)
	if !ok {
		return
	}

	slots, err := h.svc.FindAvailableSlots(r.Context(), scheduling.SlotSearch{
		DoctorID:        doctorID,
		From:            from,
		To:              to,
		DurationMinutes: duration,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, DurationMinutes: duration, Slots: slots})
}

func (h *Handlers) NextSlot(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	duration, ok := durationParam(w, r)
	if !ok {
		return
	}
	var from time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := h.parseInstant(v, false)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
			return
		}
		from = t
	}

	next, err := h.svc.NextAvailableSlot(r.Context(), doctorID, from, duration)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, NextSlotResponse{DoctorID: doctorID, Found: next != nil, Slot: next})
}

func (h *Handlers) Utilization(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(w, r, "start", "end")
	if !ok {
		return
	}

	busy, err := h.svc.Utilization(r.Context(), doctorID, start, end)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, busy)
}

func (h *Handlers) CreateBlock(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	var req CreateBlockRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	block, err := h.svc.CreateBlock(r.Context(), scheduling.CreateBlockRequest{
		DoctorID:  doctorID,
		Start:     req.StartTime,
		End:       req.EndTime,
		Type:      availability.BlockType(req.BlockType),
		Reason:    req.Reason,
		CreatedBy: actorPtr(ActorFromContext(r.Context())),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, SuccessResponse{Success: true, Data: block})
}

func (h *Handlers) CreateOverride(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	var req CreateOverrideRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	startDate, err := availability.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_date", "start_date must be YYYY-MM-DD")
		return
	}
	endDate := startDate
	if req.EndDate != "" {
		if endDate, err = availability.ParseDate(req.EndDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", "end_date must be YYYY-MM-DD")
			return
		}
	}

	o, err := h.svc.CreateOverride(r.Context(), scheduling.CreateOverrideRequest{
		DoctorID:  doctorID,
		StartDate: startDate,
		EndDate:   endDate,
		IsBlocked: req.IsBlocked,
		Start:     req.StartTime,
		End:       req.EndTime,
		Reason:    req.Reason,
		CreatedBy: actorPtr(ActorFromContext(r.Context())),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, SuccessResponse{Success: true, Data: o})
}

func (h *Handlers) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateAvailabilityRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	slots := make([]availability.Slot, len(req.Slots))
	for i, s := range req.Slots {
		slots[i] = availability.Slot{
			DayOfWeek: s.DayOfWeek,
			Start:     s.StartTime,
			End:       s.EndTime,
			Type:      availability.SlotType(s.SlotType),
		}
	}

	tmpl, err := h.svc.UpdateAvailability(r.Context(), scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: req.TemplateName,
		Slots:        slots,
		UpdatedBy:    actorPtr(ActorFromContext(r.Context())),
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: tmpl})
}

func actorPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
