package domain

import "time"

// SettingsDocument is the committed key/value state of one
// (setting type, entity) pair in the external settings store. Version
// increments on every committed change; LastChange keeps the change set
// of the most recent commit so a diverging proposal can be classified
// against it.
type SettingsDocument struct {
	SettingType  string    `json:"setting_type"`
	EntityID     string    `json:"entity_id"`
	Values       ChangeSet `json:"values"`
	Version      int64     `json:"version"`
	LastChange   ChangeSet `json:"last_change,omitempty"`
	LastChangeBy string    `json:"last_change_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
