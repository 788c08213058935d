package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeAppendOperation MessageType = "append_operation"
	TypeOperation       MessageType = "operation"
	TypeAck             MessageType = "ack"
	TypePresence        MessageType = "presence"
	TypeRoster          MessageType = "roster"
	TypeCatchupRequest  MessageType = "catchup_request"
	TypeCatchupResponse MessageType = "catchup_response"
	TypeSettingsEvent   MessageType = "settings_event"
	TypeError           MessageType = "error"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type AppendOperationPayload struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OperationPayload carries one committed operation to subscribers.
type OperationPayload struct {
	OperationID string          `json:"operation_id"`
	SessionID   string          `json:"session_id"`
	Sequence    int64           `json:"sequence"`
	ActorID     string          `json:"actor_id"`
	Kind        string          `json:"kind"`
	Data        json.RawMessage `json:"data,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

type AckPayload struct {
	OperationID string `json:"operation_id"`
}

type PresencePayload struct {
	Location  *string  `json:"location,omitempty"`
	CursorX   *float64 `json:"cursor_x,omitempty"`
	CursorY   *float64 `json:"cursor_y,omitempty"`
	UpdateSeq int64    `json:"update_seq"`
}

type CatchupRequestPayload struct {
	AfterSequence int64 `json:"after_sequence"`
}

type CatchupResponsePayload struct {
	Operations []OperationPayload `json:"operations"`
}

type SettingsEventPayload struct {
	Kind        string          `json:"kind"`
	SettingType string          `json:"setting_type"`
	EntityID    string          `json:"entity_id"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
