package domain

import "time"

type SyncEventKind string

const (
	SyncEventPropagate SyncEventKind = "propagate"
	SyncEventConflict  SyncEventKind = "conflict"
	SyncEventResolve   SyncEventKind = "resolve"
)

// SyncEvent is an append-only audit record of a settings propagation,
// conflict, or resolution for one (setting type, entity) pair.
type SyncEvent struct {
	ID          string         `json:"id"`
	SettingType string         `json:"setting_type"`
	EntityID    string         `json:"entity_id"`
	Kind        SyncEventKind  `json:"kind"`
	ActorID     string         `json:"actor_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
