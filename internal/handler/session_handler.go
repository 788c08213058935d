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

type SessionHandler struct {
	sessions *service.SessionService
	validate *validator.Validate
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		validate: validator.New(),
	}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)

	var req domain.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	session, err := h.sessions.Create(actorID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, session)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := h.sessions.Get(sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, session)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		response.BadRequest(w, "scope_id is required")
		return
	}

	sessions, err := h.sessions.ListByScope(scopeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, sessions)
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	sessionID := mux.Vars(r)["id"]

	session, err := h.sessions.Join(actorID, sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, session)
}

func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	sessionID := mux.Vars(r)["id"]

	if err := h.sessions.Leave(actorID, sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{"message": "left session"})
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	sessionID := mux.Vars(r)["id"]

	if err := h.sessions.Close(actorID, sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{"message": "session closed"})
}

func (h *SessionHandler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	sessionID := mux.Vars(r)["id"]

	var req domain.PresenceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.sessions.UpdatePresence(actorID, sessionID, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{"message": "presence updated"})
}

func (h *SessionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r)
	sessionID := mux.Vars(r)["id"]

	var req domain.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.sessions.SetStatus(actorID, sessionID, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{"message": "status updated"})
}
