package domain

import "time"

type ParticipantStatus string

const (
	StatusOnline  ParticipantStatus = "online"
	StatusAway    ParticipantStatus = "away"
	StatusBusy    ParticipantStatus = "busy"
	StatusOffline ParticipantStatus = "offline"
)

type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is a roster entry inside a session. UpdateSeq is a
// per-participant monotonic counter; an update carrying a lower or equal
// value than the recorded one is stale and must be dropped.
type Participant struct {
	ActorID    string            `json:"actor_id"`
	Status     ParticipantStatus `json:"status"`
	Location   string            `json:"location,omitempty"`
	Cursor     *CursorPosition   `json:"cursor,omitempty"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	UpdateSeq  int64             `json:"update_seq"`
}

// Session is the live collaboration context for one shared resource.
// At most one active session exists per (scope, resource id, resource type);
// closed sessions are deactivated, never deleted.
type Session struct {
	ID           string         `json:"id"`
	ScopeID      string         `json:"scope_id"`
	ResourceID   string         `json:"resource_id"`
	ResourceType string         `json:"resource_type"`
	Name         string         `json:"name,omitempty"`
	Active       bool           `json:"active"`
	Data         map[string]any `json:"data,omitempty"`
	Participants []Participant  `json:"participants"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Participant returns the roster entry for the actor, or nil.
func (s *Session) Participant(actorID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ActorID == actorID {
			return &s.Participants[i]
		}
	}
	return nil
}

type CreateSessionRequest struct {
	ScopeID      string `json:"scope_id" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	Name         string `json:"name"`
}

type PresenceUpdateRequest struct {
	Location  *string         `json:"location"`
	Cursor    *CursorPosition `json:"cursor"`
	UpdateSeq int64           `json:"update_seq" validate:"required,gt=0"`
}

type StatusUpdateRequest struct {
	Status    ParticipantStatus `json:"status" validate:"required,oneof=online away busy offline"`
	UpdateSeq int64             `json:"update_seq" validate:"required,gt=0"`
}
