package domain

import "time"

type ResolutionStrategy string

const (
	ResolutionUserWins   ResolutionStrategy = "user_wins"
	ResolutionServerWins ResolutionStrategy = "server_wins"
	ResolutionMerge      ResolutionStrategy = "merge"
	ResolutionManual     ResolutionStrategy = "manual"
)

type ConflictClass string

const (
	ConflictMergeable ConflictClass = "mergeable"
	ConflictContested ConflictClass = "contested"
)

// ChangeSet is a flat set of setting keys and their proposed values.
type ChangeSet map[string]any

// Overlaps reports whether the two change sets share at least one key.
func (c ChangeSet) Overlaps(other ChangeSet) bool {
	for k := range c {
		if _, ok := other[k]; ok {
			return true
		}
	}
	return false
}

// Merge returns a new change set with other applied on top of c.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := make(ChangeSet, len(c)+len(other))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// SettingsConflict records two divergent change sets for the same
// (setting type, entity) pair. Only one conflict may be open per pair;
// it is closed exclusively through a resolution.
type SettingsConflict struct {
	ID          string             `json:"id"`
	SettingType string             `json:"setting_type"`
	EntityID    string             `json:"entity_id"`
	Proposed    ChangeSet          `json:"proposed"`
	Committed   ChangeSet          `json:"committed"`
	ProposedBy  string             `json:"proposed_by"`
	DetectedAt  time.Time          `json:"detected_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
	Resolution  ResolutionStrategy `json:"resolution,omitempty"`
}

// Classify returns mergeable when the two change sets touch disjoint
// keys, contested otherwise. Only mergeable conflicts may be merged
// automatically.
func (c *SettingsConflict) Classify() ConflictClass {
	if c.Proposed.Overlaps(c.Committed) {
		return ConflictContested
	}
	return ConflictMergeable
}

func (c *SettingsConflict) Resolved() bool {
	return c.ResolvedAt != nil
}

type ProposeSettingsRequest struct {
	SettingType string             `json:"setting_type" validate:"required"`
	EntityID    string             `json:"entity_id" validate:"required"`
	BaseVersion int64              `json:"base_version" validate:"gte=0"`
	Changes     ChangeSet          `json:"changes" validate:"required,min=1"`
	Override    ResolutionStrategy `json:"override,omitempty" validate:"omitempty,oneof=user_wins server_wins"`
}

type ResolveConflictRequest struct {
	Strategy ResolutionStrategy `json:"strategy" validate:"required,oneof=user_wins server_wins merge manual"`
	Values   ChangeSet          `json:"values,omitempty"`
}

// ProposeResult is the outcome of a settings proposal that was applied,
// either directly or through an automatic resolution.
type ProposeResult struct {
	Values     ChangeSet          `json:"values"`
	Version    int64              `json:"version"`
	Strategy   ResolutionStrategy `json:"strategy,omitempty"`
	ConflictID string             `json:"conflict_id,omitempty"`
}
