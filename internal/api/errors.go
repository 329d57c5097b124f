package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps the scheduling error taxonomy onto HTTP. Internal errors
// are logged and never echoed to the client.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := scheduling.KindOf(err)
	resp := ErrorResponse{Error: string(kind), Details: err.Error(), Retryable: kind.Retryable()}

	var (
		vc *scheduling.VersionConflictError
		bl *scheduling.BlockedError
		bc *scheduling.BookingConflictError
		te *appointment.TransitionError
		ve *scheduling.ValidationError
	)

	status := http.StatusInternalServerError
	switch kind {
	case scheduling.KindNotFound:
		status = http.StatusNotFound
	case scheduling.KindVersionConflict:
		status = http.StatusConflict
		if errors.As(err, &vc) {
			resp.CurrentVersion = vc.Actual
		}
	case scheduling.KindHardBlock:
		status = http.StatusConflict
		if errors.As(err, &bl) {
			resp.BlockType = string(bl.Type)
			resp.BlockReason = bl.Reason
		}
	case scheduling.KindBookingConflict:
		status = http.StatusConflict
		if errors.As(err, &bc) {
			resp.ConflictingIDs = bc.AppointmentIDs
		}
	case scheduling.KindInvalidTransition:
		status = http.StatusUnprocessableEntity
		if errors.As(err, &te) {
			resp.CurrentStatus = string(te.From)
			resp.TargetStatus = string(te.To)
		}
	case scheduling.KindValidation:
		status = http.StatusUnprocessableEntity
		if errors.As(err, &ve) {
			resp.Fields = ve.Fields
		}
	default:
		log.Error("request failed", zap.Error(err))
		resp = ErrorResponse{Error: "internal_error", Details: "an unexpected error occurred"}
	}

	writeJSON(w, status, resp)
}
