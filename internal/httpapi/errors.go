package httpapi

import (
	"errors"
	"net/http"

	"foursight.local/orchestrator/internal/orchestrator"
	"foursight.local/orchestrator/internal/qa"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/synth"
	"foursight.local/orchestrator/internal/types"
)

var errUnsupportedAction = errors.New("unsupported chat action")

// errorResponse maps a controller error to a status and a worded body.
// Unknown errors never leak their text to the caller.
func errorResponse(err error) (int, types.ErrorResponse) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return http.StatusBadRequest, types.ErrorResponse{Error: "empty_message", Message: "Please send some text."}
	case errors.Is(err, orchestrator.ErrInvalidSessionID):
		return http.StatusBadRequest, types.ErrorResponse{Error: "invalid_session_id", Message: err.Error()}
	case errors.Is(err, orchestrator.ErrInvalidSelection):
		return http.StatusBadRequest, types.ErrorResponse{Error: "invalid_selection", Message: err.Error()}
	case errors.Is(err, qa.ErrUnexpectedAnswer):
		return http.StatusConflict, types.ErrorResponse{Error: "unexpected_answer", Message: err.Error()}
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, types.ErrorResponse{Error: "not_found", Message: "No session with that id."}
	case errors.Is(err, session.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, types.ErrorResponse{Error: "store_unavailable", Message: "Your saved session can't be reached right now. Nothing was changed; please try again shortly."}
	case errors.Is(err, session.ErrSessionQueueFull):
		return http.StatusTooManyRequests, types.ErrorResponse{Error: "session_busy", Message: "This session is still working on earlier messages. Try again shortly."}
	case errors.Is(err, errUnsupportedAction):
		return http.StatusBadRequest, types.ErrorResponse{Error: "unsupported_action", Message: err.Error()}
	case errors.Is(err, synth.ErrSynthesisFailure):
		return http.StatusBadGateway, types.ErrorResponse{Error: "synthesis_failed", Message: "The framework analyses are saved, but combining them into a recommendation failed. Send any message to retry."}
	default:
		return http.StatusInternalServerError, types.ErrorResponse{Error: "internal", Message: "Something went wrong while processing your request."}
	}
}
