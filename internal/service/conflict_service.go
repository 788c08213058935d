package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/events"
	"collab-sync-server/internal/repository"

	"github.com/google/uuid"
)

// ConflictService routes settings changes: clean proposals write
// through, diverging ones are classified and resolved (merge, override,
// or escalated to a human). Conflicts are serial per (setting type,
// entity) pair: a second one is rejected while the first is open, and
// every check-then-write section holds the pair's lock so racing
// proposals cannot both open a conflict.
type ConflictService struct {
	conflictRepo repository.ConflictRepository
	settingsRepo repository.SettingsRepository
	eventRepo    repository.SyncEventRepository
	gateway      *events.Gateway

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewConflictService(
	conflictRepo repository.ConflictRepository,
	settingsRepo repository.SettingsRepository,
	eventRepo repository.SyncEventRepository,
	gateway *events.Gateway,
) *ConflictService {
	return &ConflictService{
		conflictRepo: conflictRepo,
		settingsRepo: settingsRepo,
		eventRepo:    eventRepo,
		gateway:      gateway,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *ConflictService) pairLock(settingType, entityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := settingType + "/" + entityID
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Propose submits a settings change for (setting type, entity).
//
// A proposal based on the current version writes through. A proposal
// based on a stale version diverges from the last committed change and
// is classified by key sets: disjoint merges automatically, overlapping
// escalates with ManualResolutionError unless the caller forced
// user_wins or server_wins. Overrides skip classification entirely.
func (s *ConflictService) Propose(ctx context.Context, actorID string, req *domain.ProposeSettingsRequest) (*domain.ProposeResult, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}

	lock := s.pairLock(req.SettingType, req.EntityID)
	lock.Lock()
	defer lock.Unlock()

	open, err := s.conflictRepo.FindOpenByPair(req.SettingType, req.EntityID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, ErrConflictInProgress
	}

	doc, err := s.settingsRepo.Get(ctx, req.SettingType, req.EntityID)
	if err != nil {
		return nil, err
	}

	if req.BaseVersion >= doc.Version {
		return s.propagate(ctx, actorID, doc, req.Changes)
	}

	conflict := &domain.SettingsConflict{
		ID:          uuid.New().String(),
		SettingType: req.SettingType,
		EntityID:    req.EntityID,
		Proposed:    req.Changes,
		Committed:   doc.LastChange,
		ProposedBy:  actorID,
		DetectedAt:  time.Now(),
	}

	if err := s.conflictRepo.Create(conflict); err != nil {
		return nil, err
	}

	if err := s.logEvent(actorID, domain.SyncEventConflict, req.SettingType, req.EntityID, map[string]any{
		"conflict_id": conflict.ID,
		"proposed":    conflict.Proposed,
		"committed":   conflict.Committed,
		"class":       conflict.Classify(),
	}); err != nil {
		return nil, err
	}

	s.publish(events.KindSettingsConflict, actorID, conflict.SettingType, conflict.EntityID, conflict)

	switch {
	case req.Override == domain.ResolutionUserWins:
		return s.finishResolution(ctx, actorID, conflict, doc, domain.ResolutionUserWins, doc.Values.Merge(req.Changes), req.Changes)

	case req.Override == domain.ResolutionServerWins:
		return s.finishResolution(ctx, actorID, conflict, doc, domain.ResolutionServerWins, doc.Values, doc.LastChange)

	case conflict.Classify() == domain.ConflictMergeable:
		return s.finishResolution(ctx, actorID, conflict, doc, domain.ResolutionMerge, doc.Values.Merge(req.Changes), req.Changes)

	default:
		return nil, &ManualResolutionError{Conflict: conflict}
	}
}

// ApplyResolution closes an open conflict with the chosen strategy.
// This is the only path that closes a conflict. The settings store
// write happens first; if it fails the conflict stays open and no
// resolve event is written, so the caller can retry.
func (s *ConflictService) ApplyResolution(ctx context.Context, actorID, conflictID string, req *domain.ResolveConflictRequest) (*domain.ProposeResult, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}

	conflict, err := s.conflictRepo.Get(conflictID)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, ErrConflictNotFound
	}

	lock := s.pairLock(conflict.SettingType, conflict.EntityID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a racing resolution may have closed it.
	conflict, err = s.conflictRepo.Get(conflictID)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, ErrConflictNotFound
	}
	if conflict.Resolved() {
		return nil, ErrConflictResolved
	}

	doc, err := s.settingsRepo.Get(ctx, conflict.SettingType, conflict.EntityID)
	if err != nil {
		return nil, err
	}

	var values domain.ChangeSet
	var change domain.ChangeSet

	switch req.Strategy {
	case domain.ResolutionUserWins:
		change = conflict.Proposed
		values = doc.Values.Merge(conflict.Proposed)

	case domain.ResolutionServerWins:
		change = doc.LastChange
		values = doc.Values

	case domain.ResolutionMerge:
		if conflict.Classify() == domain.ConflictContested {
			return nil, &ManualResolutionError{Conflict: conflict}
		}
		change = conflict.Proposed
		values = doc.Values.Merge(conflict.Proposed)

	case domain.ResolutionManual:
		if len(req.Values) == 0 {
			return nil, fmt.Errorf("manual resolution requires explicit values")
		}
		change = req.Values
		values = doc.Values.Merge(req.Values)

	default:
		return nil, fmt.Errorf("unknown resolution strategy: %s", req.Strategy)
	}

	return s.finishResolution(ctx, actorID, conflict, doc, req.Strategy, values, change)
}

// propagate is the conflict-free path: commit the change, bump the
// version, log a propagate event, and notify.
func (s *ConflictService) propagate(ctx context.Context, actorID string, doc *domain.SettingsDocument, changes domain.ChangeSet) (*domain.ProposeResult, error) {
	doc.Values = doc.Values.Merge(changes)
	doc.Version++
	doc.LastChange = changes
	doc.LastChangeBy = actorID
	doc.UpdatedAt = time.Now()

	if err := s.settingsRepo.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("propagate settings change: %w: %v", ErrStoreUnavailable, err)
	}

	if err := s.logEvent(actorID, domain.SyncEventPropagate, doc.SettingType, doc.EntityID, map[string]any{
		"changes": changes,
		"version": doc.Version,
	}); err != nil {
		return nil, err
	}

	s.publish(events.KindSettingsPropagated, actorID, doc.SettingType, doc.EntityID, doc)

	return &domain.ProposeResult{
		Values:  doc.Values,
		Version: doc.Version,
	}, nil
}

// finishResolution persists the final value, then records the resolve
// event and closes the conflict. Ordering matters: a failed store write
// must leave the conflict open with no resolve event.
func (s *ConflictService) finishResolution(
	ctx context.Context,
	actorID string,
	conflict *domain.SettingsConflict,
	doc *domain.SettingsDocument,
	strategy domain.ResolutionStrategy,
	values domain.ChangeSet,
	change domain.ChangeSet,
) (*domain.ProposeResult, error) {
	doc.Values = values
	doc.Version++
	doc.LastChange = change
	doc.LastChangeBy = actorID
	doc.UpdatedAt = time.Now()

	if err := s.settingsRepo.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("apply resolution: %w: %v", ErrStoreUnavailable, err)
	}

	if err := s.logEvent(actorID, domain.SyncEventResolve, conflict.SettingType, conflict.EntityID, map[string]any{
		"conflict_id": conflict.ID,
		"strategy":    strategy,
		"values":      values,
	}); err != nil {
		return nil, err
	}

	if err := s.conflictRepo.MarkResolved(conflict.ID, strategy); err != nil {
		return nil, err
	}

	s.publish(events.KindSettingsResolved, actorID, conflict.SettingType, conflict.EntityID, doc)

	return &domain.ProposeResult{
		Values:     doc.Values,
		Version:    doc.Version,
		Strategy:   strategy,
		ConflictID: conflict.ID,
	}, nil
}

func (s *ConflictService) Get(conflictID string) (*domain.SettingsConflict, error) {
	conflict, err := s.conflictRepo.Get(conflictID)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, ErrConflictNotFound
	}
	return conflict, nil
}

func (s *ConflictService) ListOpen(entityID string) ([]*domain.SettingsConflict, error) {
	return s.conflictRepo.ListOpenByEntity(entityID)
}

// History returns the ordered sync event log for one pair, for audit
// and replay.
func (s *ConflictService) History(settingType, entityID string) ([]*domain.SyncEvent, error) {
	return s.eventRepo.ListByPair(settingType, entityID)
}

func (s *ConflictService) logEvent(actorID string, kind domain.SyncEventKind, settingType, entityID string, metadata map[string]any) error {
	event := &domain.SyncEvent{
		ID:          uuid.New().String(),
		SettingType: settingType,
		EntityID:    entityID,
		Kind:        kind,
		ActorID:     actorID,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}

	if err := s.eventRepo.Append(event); err != nil {
		return fmt.Errorf("log sync event: %w", err)
	}

	return nil
}

func (s *ConflictService) publish(kind events.Kind, actorID, settingType, entityID string, payload any) {
	if s.gateway == nil {
		return
	}
	s.gateway.Publish(events.Event{
		Kind:        kind,
		SettingType: settingType,
		EntityID:    entityID,
		ActorID:     actorID,
		Payload:     payload,
	})
}
