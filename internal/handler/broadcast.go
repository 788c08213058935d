package handler

import (
	"encoding/json"
	"log"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/events"
	"collab-sync-server/internal/service"
	"collab-sync-server/internal/websocket"
)

// BindBroadcast wires the in-process gateway to the websocket hub.
// Committed operations and roster changes fan out to the session's
// connected clients, excluding the originating device. Settings events
// are keyed by entity, not session; they reach the active sessions of
// the matching scope so collaborators see the change land.
func BindBroadcast(gateway *events.Gateway, manager *websocket.Manager, sessions *service.SessionService) []*events.Subscription {
	opSub := gateway.Subscribe(events.KindOperationCommitted, func(ev events.Event) {
		op, ok := ev.Payload.(*domain.Operation)
		if !ok {
			return
		}

		msg, err := websocket.NewMessage(websocket.TypeOperation, operationToPayload(op))
		if err != nil {
			log.Printf("[Broadcast] failed to build operation message: %v", err)
			return
		}

		manager.BroadcastToSession(ev.SessionID, msg, ev.DeviceID)
	})

	rosterSub := gateway.Subscribe(events.KindRosterChanged, func(ev events.Event) {
		session, ok := ev.Payload.(*domain.Session)
		if !ok {
			return
		}

		data, err := json.Marshal(session.Participants)
		if err != nil {
			return
		}

		msg, err := websocket.NewMessage(websocket.TypeRoster, json.RawMessage(data))
		if err != nil {
			log.Printf("[Broadcast] failed to build roster message: %v", err)
			return
		}

		manager.BroadcastToSession(ev.SessionID, msg, "")
	})

	settingsFanout := func(ev events.Event) {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return
		}

		msg, err := websocket.NewMessage(websocket.TypeSettingsEvent, &websocket.SettingsEventPayload{
			Kind:        string(ev.Kind),
			SettingType: ev.SettingType,
			EntityID:    ev.EntityID,
			Data:        data,
		})
		if err != nil {
			log.Printf("[Broadcast] failed to build settings message: %v", err)
			return
		}

		scoped, err := sessions.ListByScope(ev.EntityID)
		if err != nil {
			log.Printf("[Broadcast] failed to list sessions for scope %s: %v", ev.EntityID, err)
			return
		}
		for _, session := range scoped {
			if session.Active {
				manager.BroadcastToSession(session.ID, msg, ev.DeviceID)
			}
		}
	}

	subs := []*events.Subscription{opSub, rosterSub}
	for _, kind := range []events.Kind{
		events.KindSettingsPropagated,
		events.KindSettingsConflict,
		events.KindSettingsResolved,
	} {
		subs = append(subs, gateway.Subscribe(kind, settingsFanout))
	}

	return subs
}
