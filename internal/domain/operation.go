package domain

import (
	"encoding/json"
	"time"
)

type OperationKind string

const (
	OpContentChange OperationKind = "content_change"
	OpCursorMove    OperationKind = "cursor_move"
	OpSelection     OperationKind = "selection"
	OpAnnotation    OperationKind = "annotation"
	OpResourceShare OperationKind = "resource_share"
)

// Operation is one committed, sequenced action within a session.
// Sequence numbers are gapless from 1 per session. Once committed an
// operation is immutable except for appends to its acknowledgment set.
type Operation struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Sequence    int64           `json:"sequence"`
	ActorID     string          `json:"actor_id"`
	Kind        OperationKind   `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	AckedBy     []string        `json:"acked_by"`
	CommittedAt time.Time       `json:"committed_at"`
}

// AckedByActor reports whether the actor is in the acknowledgment set.
func (o *Operation) AckedByActor(actorID string) bool {
	for _, id := range o.AckedBy {
		if id == actorID {
			return true
		}
	}
	return false
}

type AppendOperationRequest struct {
	Kind    OperationKind   `json:"kind" validate:"required,oneof=content_change cursor_move selection annotation resource_share"`
	Payload json.RawMessage `json:"payload"`
}

type AckWaitRequest struct {
	MinActors int `json:"min_actors" validate:"required,gt=0"`
	TimeoutMS int `json:"timeout_ms" validate:"required,gt=0"`
}

// AckWaitResult reports how an acknowledgment wait ended. A timeout is a
// normal outcome carrying the partial count, not an error.
type AckWaitResult struct {
	OperationID string `json:"operation_id"`
	AckCount    int    `json:"ack_count"`
	TimedOut    bool   `json:"timed_out"`
}
