package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/service"
	"collab-sync-server/internal/websocket"
	"collab-sync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	sessions  *service.SessionService
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, sessions *service.SessionService, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		sessions:  sessions,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection authenticates, joins the actor to the session, and
// subscribes the connection to the session's fan-out.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	actorID := claims.ActorID

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = "default"
	}

	if _, err := h.sessions.Join(actorID, sessionID); err != nil {
		log.Printf("[WebSocket] Join failed for actor %s session %s: %v", actorID, sessionID, err)
		http.Error(w, "cannot join session", http.StatusConflict)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, actorID, deviceID, sessionID, conn, h.manager)

	if err := h.manager.RegisterClient(client); err != nil {
		log.Printf("[WebSocket] Registration rejected for session %s: %v", sessionID, err)
		conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler routes inbound socket messages: operation
// appends, acks, presence heartbeats, and catch-up requests. Every
// inbound message is an activity signal for its sender.
type WebSocketMessageHandler struct {
	operations *service.OperationService
	sessions   *service.SessionService
}

func NewWebSocketMessageHandler(operations *service.OperationService, sessions *service.SessionService) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		operations: operations,
		sessions:   sessions,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeAppendOperation:
		return h.handleAppend(client, msg)

	case websocket.TypeAck:
		return h.handleAck(client, msg)

	case websocket.TypePresence:
		return h.handlePresence(client, msg)

	case websocket.TypeCatchupRequest:
		return h.handleCatchup(client, msg)

	case websocket.TypePing:
		h.sessions.RecordActivity(client.ActorID, client.SessionID)
		return h.send(client, websocket.TypePong, nil)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleAppend(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.AppendOperationPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	op, err := h.operations.Append(context.Background(), client.ActorID, client.DeviceID, client.SessionID, domain.OperationKind(payload.Kind), payload.Payload)
	if err != nil {
		return h.sendError(client, err)
	}

	// Echo the committed operation back so the author learns its
	// assigned sequence; other subscribers get it through the fan-out.
	return h.send(client, websocket.TypeOperation, operationToPayload(op))
}

func (h *WebSocketMessageHandler) handleAck(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.AckPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	if err := h.operations.Acknowledge(context.Background(), client.ActorID, payload.OperationID); err != nil {
		return h.sendError(client, err)
	}

	return nil
}

func (h *WebSocketMessageHandler) handlePresence(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.PresencePayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	req := &domain.PresenceUpdateRequest{
		Location:  payload.Location,
		UpdateSeq: payload.UpdateSeq,
	}
	if payload.CursorX != nil && payload.CursorY != nil {
		req.Cursor = &domain.CursorPosition{X: *payload.CursorX, Y: *payload.CursorY}
	}

	if err := h.sessions.UpdatePresence(client.ActorID, client.SessionID, req); err != nil {
		return h.sendError(client, err)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleCatchup(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.CatchupRequestPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	ops, err := h.operations.Since(context.Background(), client.SessionID, payload.AfterSequence)
	if err != nil {
		return h.sendError(client, err)
	}

	wsOps := make([]websocket.OperationPayload, len(ops))
	for i, op := range ops {
		wsOps[i] = operationToPayload(op)
	}

	return h.send(client, websocket.TypeCatchupResponse, &websocket.CatchupResponsePayload{Operations: wsOps})
}

func (h *WebSocketMessageHandler) send(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	// Never block the hub's dispatch goroutine on a slow client; a
	// full buffer drops the echo, the client recovers via catch-up.
	msgBytes, _ := json.Marshal(msg)
	select {
	case client.Send <- msgBytes:
	default:
		log.Printf("client %s send buffer full, dropping %s", client.ID, msgType)
	}

	return nil
}

func (h *WebSocketMessageHandler) sendError(client *websocket.Client, cause error) error {
	return h.send(client, websocket.TypeError, &websocket.ErrorPayload{Error: cause.Error()})
}

func operationToPayload(op *domain.Operation) websocket.OperationPayload {
	return websocket.OperationPayload{
		OperationID: op.ID,
		SessionID:   op.SessionID,
		Sequence:    op.Sequence,
		ActorID:     op.ActorID,
		Kind:        string(op.Kind),
		Data:        op.Payload,
		CommittedAt: op.CommittedAt,
	}
}
