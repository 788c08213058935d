package handler

import (
	"encoding/json"
	"net/http"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/service"
	"collab-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SettingsHandler struct {
	conflicts *service.ConflictService
	validate  *validator.Validate
}

func NewSettingsHandler(conflicts *service.ConflictService) *SettingsHandler {
	return &SettingsHandler{
		conflicts: conflicts,
		validate:  validator.New(),
	}
}

func (h *SettingsHandler) Propose(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)

	var req domain.ProposeSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.conflicts.Propose(r.Context(), actorID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *SettingsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	conflictID := mux.Vars(r)["id"]

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.conflicts.ApplyResolution(r.Context(), actorID, conflictID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *SettingsHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]

	conflict, err := h.conflicts.Get(conflictID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, conflict)
}

func (h *SettingsHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		response.BadRequest(w, "entity_id is required")
		return
	}

	conflicts, err := h.conflicts.ListOpen(entityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, conflicts)
}

func (h *SettingsHandler) History(w http.ResponseWriter, r *http.Request) {
	settingType := r.URL.Query().Get("setting_type")
	entityID := r.URL.Query().Get("entity_id")
	if settingType == "" || entityID == "" {
		response.BadRequest(w, "setting_type and entity_id are required")
		return
	}

	eventLog, err := h.conflicts.History(settingType, entityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, eventLog)
}
