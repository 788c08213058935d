package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/service"
	"collab-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type OperationHandler struct {
	operations *service.OperationService
	validate   *validator.Validate
}

func NewOperationHandler(operations *service.OperationService) *OperationHandler {
	return &OperationHandler{
		operations: operations,
		validate:   validator.New(),
	}
}

func (h *OperationHandler) Append(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	sessionID := mux.Vars(r)["id"]
	deviceID := r.URL.Query().Get("device_id")

	var req domain.AppendOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	op, err := h.operations.Append(r.Context(), actorID, deviceID, sessionID, req.Kind, req.Payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, op)
}

// Since serves catch-up: committed operations strictly after the given
// sequence, ascending and gap-free.
func (h *OperationHandler) Since(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	after := int64(0)
	if afterParam := r.URL.Query().Get("after"); afterParam != "" {
		var err error
		after, err = strconv.ParseInt(afterParam, 10, 64)
		if err != nil || after < 0 {
			response.BadRequest(w, "invalid after parameter")
			return
		}
	}

	ops, err := h.operations.Since(r.Context(), sessionID, after)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"operations": ops,
		"after":      after,
	})
}

func (h *OperationHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	operationID := mux.Vars(r)["id"]

	if err := h.operations.Acknowledge(r.Context(), actorID, operationID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{"message": "acknowledged"})
}

func (h *OperationHandler) WaitForAcks(w http.ResponseWriter, r *http.Request) {
	operationID := mux.Vars(r)["id"]

	var req domain.AckWaitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.operations.WaitForAcks(r.Context(), operationID, req.MinActors, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}
