package handler

import (
	"errors"
	"net/http"

	"collab-sync-server/internal/service"
	"collab-sync-server/pkg/response"
)

// writeServiceError maps service errors onto the HTTP surface. A
// contested conflict is a 409 carrying both divergent change sets; it
// is an expected protocol outcome, not a server fault.
func writeServiceError(w http.ResponseWriter, err error) {
	var manual *service.ManualResolutionError

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		response.Unauthorized(w, err.Error())

	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrOperationNotFound),
		errors.Is(err, service.ErrConflictNotFound):
		response.NotFound(w, err.Error())

	case errors.Is(err, service.ErrNotParticipant):
		response.Forbidden(w, err.Error())

	case errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, service.ErrConflictInProgress),
		errors.Is(err, service.ErrConflictResolved):
		response.Conflict(w, err.Error())

	case errors.As(err, &manual):
		response.ErrorWithData(w, http.StatusConflict, "manual_resolution_required", manual.Conflict)

	case errors.Is(err, service.ErrStoreUnavailable):
		response.ServiceUnavailable(w, err.Error())

	default:
		response.InternalError(w, err.Error())
	}
}
