package service

import (
	"errors"
	"fmt"

	"collab-sync-server/internal/domain"
)

var (
	ErrUnauthenticated    = errors.New("no authenticated actor")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionClosed      = errors.New("session is closed")
	ErrOperationNotFound  = errors.New("operation not found")
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrNotParticipant     = errors.New("actor is not a session participant")
	ErrConflictInProgress = errors.New("a conflict is already open for this setting")
	ErrConflictResolved   = errors.New("conflict is already resolved")
	ErrStoreUnavailable   = errors.New("durable store unavailable")
)

// ManualResolutionError is a normal protocol outcome, not a failure: a
// contested conflict needs a human decision, so both divergent change
// sets ride along for the caller to surface.
type ManualResolutionError struct {
	Conflict *domain.SettingsConflict
}

func (e *ManualResolutionError) Error() string {
	return fmt.Sprintf("manual resolution required for %s/%s", e.Conflict.SettingType, e.Conflict.EntityID)
}
