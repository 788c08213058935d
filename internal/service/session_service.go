package service

import (
	"sync"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/events"
	"collab-sync-server/internal/repository"

	"github.com/google/uuid"
)

// SessionService owns the session lifecycle and the roster. Roster
// mutations are serialized per session and creation per resource;
// independent sessions share no locks.
type SessionService struct {
	sessionRepo repository.SessionRepository
	gateway     *events.Gateway

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSessionService(sessionRepo repository.SessionRepository, gateway *events.Gateway) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		gateway:     gateway,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *SessionService) keyedLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *SessionService) sessionLock(sessionID string) *sync.Mutex {
	return s.keyedLock("session:" + sessionID)
}

func (s *SessionService) resourceLock(scopeID, resourceID, resourceType string) *sync.Mutex {
	return s.keyedLock("resource:" + scopeID + "/" + resourceID + "/" + resourceType)
}

// Create starts a collaboration session on a resource with the creator
// as the sole online participant. If an active session already exists
// for the same (scope, resource) it is returned instead; the resource
// invariant allows at most one. The check and the insert hold the
// resource lock so racing creators cannot both pass the check.
func (s *SessionService) Create(actorID string, req *domain.CreateSessionRequest) (*domain.Session, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}

	lock := s.resourceLock(req.ScopeID, req.ResourceID, req.ResourceType)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.sessionRepo.FindActiveByResource(req.ScopeID, req.ResourceID, req.ResourceType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	session := &domain.Session{
		ID:           uuid.New().String(),
		ScopeID:      req.ScopeID,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Name:         req.Name,
		Active:       true,
		Data:         map[string]any{},
		Participants: []domain.Participant{
			{
				ActorID:    actorID,
				Status:     domain.StatusOnline,
				LastSeenAt: now,
				UpdateSeq:  1,
			},
		},
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}

	s.publishRoster(session, actorID)

	return session, nil
}

func (s *SessionService) Get(sessionID string) (*domain.Session, error) {
	session, err := s.sessionRepo.FindByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionService) ListByScope(scopeID string) ([]*domain.Session, error) {
	return s.sessionRepo.ListByScope(scopeID)
}

// Join adds the actor to the roster, or resets an existing entry to
// online with a refreshed last-seen. Returns the full session so the
// caller can reconcile local state.
func (s *SessionService) Join(actorID, sessionID string) (*domain.Session, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, ErrSessionClosed
	}

	now := time.Now()
	if p := session.Participant(actorID); p != nil {
		p.Status = domain.StatusOnline
		p.LastSeenAt = now
		p.UpdateSeq++
	} else {
		session.Participants = append(session.Participants, domain.Participant{
			ActorID:    actorID,
			Status:     domain.StatusOnline,
			LastSeenAt: now,
			UpdateSeq:  1,
		})
	}
	session.UpdatedAt = now

	if err := s.sessionRepo.Update(session); err != nil {
		return nil, err
	}

	s.publishRoster(session, actorID)

	return session, nil
}

// Leave marks the actor's roster entry offline, keeping the entry so
// last-seen history survives. Leaving without an entry, or twice, is a
// no-op rather than an error.
func (s *SessionService) Leave(actorID, sessionID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}

	p := session.Participant(actorID)
	if p == nil || p.Status == domain.StatusOffline {
		return nil
	}

	now := time.Now()
	p.Status = domain.StatusOffline
	p.LastSeenAt = now
	p.UpdateSeq++
	session.UpdatedAt = now

	if err := s.sessionRepo.Update(session); err != nil {
		return err
	}

	s.publishRoster(session, actorID)

	return nil
}

// UpdatePresence upserts the actor's location/cursor/last-seen without
// touching status, except that activity pulls an away participant back
// online. Field-level last-write-wins: only fields present in the
// request are overwritten. Updates carrying a stale UpdateSeq are
// dropped, not applied.
func (s *SessionService) UpdatePresence(actorID, sessionID string, req *domain.PresenceUpdateRequest) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}

	p := session.Participant(actorID)
	if p == nil {
		return ErrNotParticipant
	}

	if req.UpdateSeq <= p.UpdateSeq {
		return nil
	}

	now := time.Now()
	if req.Location != nil {
		p.Location = *req.Location
	}
	if req.Cursor != nil {
		p.Cursor = req.Cursor
	}
	if p.Status == domain.StatusAway {
		p.Status = domain.StatusOnline
	}
	p.LastSeenAt = now
	p.UpdateSeq = req.UpdateSeq
	session.UpdatedAt = now

	if err := s.sessionRepo.Update(session); err != nil {
		return err
	}

	s.publishRoster(session, actorID)

	return nil
}

// SetStatus applies an explicit status change. This is the only
// transition out of busy besides leave; stale requests are dropped.
func (s *SessionService) SetStatus(actorID, sessionID string, req *domain.StatusUpdateRequest) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}

	p := session.Participant(actorID)
	if p == nil {
		return ErrNotParticipant
	}

	if req.UpdateSeq <= p.UpdateSeq {
		return nil
	}

	now := time.Now()
	p.Status = req.Status
	p.LastSeenAt = now
	p.UpdateSeq = req.UpdateSeq
	session.UpdatedAt = now

	if err := s.sessionRepo.Update(session); err != nil {
		return err
	}

	s.publishRoster(session, actorID)

	return nil
}

// RecordActivity refreshes the actor's last-seen on any inbound signal
// (operation append, heartbeat). Activity clears away but never busy.
// Unknown actors are ignored; activity is opportunistic, not an error
// path.
func (s *SessionService) RecordActivity(actorID, sessionID string) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return
	}

	p := session.Participant(actorID)
	if p == nil || p.Status == domain.StatusOffline {
		return
	}

	p.LastSeenAt = time.Now()
	if p.Status == domain.StatusAway {
		p.Status = domain.StatusOnline
		p.UpdateSeq++
		if err := s.sessionRepo.Update(session); err == nil {
			s.publishRoster(session, actorID)
		}
		return
	}

	s.sessionRepo.Update(session)
}

// Close deactivates the session. The record and its operation log
// survive; only the active flag drops.
func (s *SessionService) Close(actorID, sessionID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if !session.Active {
		return nil
	}

	session.Active = false
	session.UpdatedAt = time.Now()

	if err := s.sessionRepo.Update(session); err != nil {
		return err
	}

	s.publishRoster(session, actorID)

	return nil
}

func (s *SessionService) publishRoster(session *domain.Session, actorID string) {
	if s.gateway == nil {
		return
	}
	s.gateway.Publish(events.Event{
		Kind:      events.KindRosterChanged,
		SessionID: session.ID,
		ActorID:   actorID,
		Payload:   session,
	})
}
