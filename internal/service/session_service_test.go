package service

import (
	"sync"
	"testing"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/events"
)

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{
		sessions: make(map[string]*domain.Session),
	}
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	c.Participants = make([]domain.Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	return &c
}

func (m *mockSessionRepo) Create(session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *mockSessionRepo) FindByID(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, exists := m.sessions[id]; exists {
		return copySession(s), nil
	}
	return nil, nil
}

func (m *mockSessionRepo) FindActiveByResource(scopeID, resourceID, resourceType string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Active && s.ScopeID == scopeID && s.ResourceID == resourceID && s.ResourceType == resourceType {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (m *mockSessionRepo) ListByScope(scopeID string) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.ScopeID == scopeID {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (m *mockSessionRepo) ListActive() ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.Active {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (m *mockSessionRepo) Update(session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copySession(session)
	return nil
}

func newTestSessionService() (*SessionService, *mockSessionRepo) {
	repo := newMockSessionRepo()
	return NewSessionService(repo, events.NewGateway()), repo
}

func TestSessionService_Create(t *testing.T) {
	service, _ := newTestSessionService()

	session, err := service.Create("actor1", &domain.CreateSessionRequest{
		ScopeID:      "team1",
		ResourceID:   "doc1",
		ResourceType: "document",
		Name:         "editing doc1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if session.ID == "" {
		t.Error("expected session ID to be generated")
	}
	if !session.Active {
		t.Error("expected session to be active")
	}
	if len(session.Participants) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(session.Participants))
	}
	if session.Participants[0].Status != domain.StatusOnline {
		t.Errorf("expected creator online, got %s", session.Participants[0].Status)
	}
}

func TestSessionService_Create_Unauthenticated(t *testing.T) {
	service, _ := newTestSessionService()

	_, err := service.Create("", &domain.CreateSessionRequest{
		ScopeID:      "team1",
		ResourceID:   "doc1",
		ResourceType: "document",
	})
	if err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSessionService_Create_ConcurrentSameResource(t *testing.T) {
	service, repo := newTestSessionService()

	req := &domain.CreateSessionRequest{
		ScopeID:      "team1",
		ResourceID:   "doc1",
		ResourceType: "document",
	}

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := service.Create("actor1", req)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- session.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := ""
	for id := range ids {
		if first == "" {
			first = id
		} else if id != first {
			t.Errorf("racing creators landed on different sessions: %s and %s", first, id)
		}
	}

	repo.mu.Lock()
	active := 0
	for _, s := range repo.sessions {
		if s.Active && s.ScopeID == "team1" && s.ResourceID == "doc1" && s.ResourceType == "document" {
			active++
		}
	}
	repo.mu.Unlock()

	if active != 1 {
		t.Errorf("expected a single active session for the resource, got %d", active)
	}
}

func TestSessionService_Create_ReusesActiveSession(t *testing.T) {
	service, _ := newTestSessionService()

	req := &domain.CreateSessionRequest{
		ScopeID:      "team1",
		ResourceID:   "doc1",
		ResourceType: "document",
	}

	first, _ := service.Create("actor1", req)
	second, err := service.Create("actor2", req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("expected the existing active session to be returned, got %s and %s", first.ID, second.ID)
	}
}

func TestSessionService_Join(t *testing.T) {
	service, _ := newTestSessionService()

	session, _ := service.Create("actor1", &domain.CreateSessionRequest{
		ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
	})

	joined, err := service.Join("actor2", session.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(joined.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(joined.Participants))
	}

	p := joined.Participant("actor2")
	if p == nil || p.Status != domain.StatusOnline {
		t.Error("expected actor2 online after join")
	}
}

func TestSessionService_Join_NotFound(t *testing.T) {
	service, _ := newTestSessionService()

	_, err := service.Join("actor1", "missing")
	if err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionService_Rejoin_ResetsStatus(t *testing.T) {
	service, _ := newTestSessionService()

	session, _ := service.Create("actor1", &domain.CreateSessionRequest{
		ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
	})
	service.Join("actor2", session.ID)
	service.Leave("actor2", session.ID)

	rejoined, err := service.Join("actor2", session.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(rejoined.Participants) != 2 {
		t.Fatalf("expected roster entry to be reused, got %d entries", len(rejoined.Participants))
	}
	if rejoined.Participant("actor2").Status != domain.StatusOnline {
		t.Error("expected actor2 back online after rejoin")
	}
}

func TestSessionService_Leave_Idempotent(t *testing.T) {
	service, repo := newTestSessionRepoWithParticipants(t)

	if err := service.Leave("actor2", "s1"); err != nil {
		t.Fatalf("first leave: %v", err)
	}
	if err := service.Leave("actor2", "s1"); err != nil {
		t.Fatalf("second leave should be a no-op, got %v", err)
	}
	// Leaving without ever joining must not error either.
	if err := service.Leave("stranger", "s1"); err != nil {
		t.Fatalf("leave without roster entry should be a no-op, got %v", err)
	}

	session, _ := repo.FindByID("s1")
	if len(session.Participants) != 2 {
		t.Errorf("expected roster intact with 2 entries, got %d", len(session.Participants))
	}
	if session.Participant("actor2").Status != domain.StatusOffline {
		t.Error("expected actor2 offline after leave")
	}
}

func newTestSessionRepoWithParticipants(t *testing.T) (*SessionService, *mockSessionRepo) {
	t.Helper()
	repo := newMockSessionRepo()
	now := time.Now()
	repo.Create(&domain.Session{
		ID: "s1", ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
		Active: true,
		Participants: []domain.Participant{
			{ActorID: "actor1", Status: domain.StatusOnline, LastSeenAt: now, UpdateSeq: 1},
			{ActorID: "actor2", Status: domain.StatusOnline, LastSeenAt: now, UpdateSeq: 1},
		},
		CreatedBy: "actor1", CreatedAt: now, UpdatedAt: now,
	})
	return NewSessionService(repo, events.NewGateway()), repo
}

func TestSessionService_UpdatePresence_StaleDropped(t *testing.T) {
	service, repo := newTestSessionRepoWithParticipants(t)

	locA := "page-a"
	locB := "page-b"

	// The newer update (seq 3) lands first; the delayed older one
	// (seq 2) must not overwrite it.
	if err := service.UpdatePresence("actor1", "s1", &domain.PresenceUpdateRequest{Location: &locB, UpdateSeq: 3}); err != nil {
		t.Fatalf("newer update: %v", err)
	}
	if err := service.UpdatePresence("actor1", "s1", &domain.PresenceUpdateRequest{Location: &locA, UpdateSeq: 2}); err != nil {
		t.Fatalf("stale update should be silently dropped, got %v", err)
	}

	session, _ := repo.FindByID("s1")
	p := session.Participant("actor1")
	if p.Location != locB {
		t.Errorf("expected location %q from the newer update, got %q", locB, p.Location)
	}
	if p.UpdateSeq != 3 {
		t.Errorf("expected update seq 3, got %d", p.UpdateSeq)
	}
}

func TestSessionService_UpdatePresence_FieldLevelLWW(t *testing.T) {
	service, repo := newTestSessionRepoWithParticipants(t)

	loc := "editor"
	service.UpdatePresence("actor1", "s1", &domain.PresenceUpdateRequest{Location: &loc, UpdateSeq: 2})
	service.UpdatePresence("actor1", "s1", &domain.PresenceUpdateRequest{Cursor: &domain.CursorPosition{X: 10, Y: 20}, UpdateSeq: 3})

	session, _ := repo.FindByID("s1")
	p := session.Participant("actor1")
	if p.Location != loc {
		t.Errorf("cursor-only update must not clear location, got %q", p.Location)
	}
	if p.Cursor == nil || p.Cursor.X != 10 {
		t.Error("expected cursor from the second update")
	}
}

func TestSessionService_BusyNotClearedByActivity(t *testing.T) {
	service, repo := newTestSessionRepoWithParticipants(t)

	service.SetStatus("actor1", "s1", &domain.StatusUpdateRequest{Status: domain.StatusBusy, UpdateSeq: 2})
	service.RecordActivity("actor1", "s1")

	loc := "somewhere"
	service.UpdatePresence("actor1", "s1", &domain.PresenceUpdateRequest{Location: &loc, UpdateSeq: 3})

	session, _ := repo.FindByID("s1")
	if got := session.Participant("actor1").Status; got != domain.StatusBusy {
		t.Errorf("activity must not clear busy, got %s", got)
	}

	service.SetStatus("actor1", "s1", &domain.StatusUpdateRequest{Status: domain.StatusOnline, UpdateSeq: 4})
	session, _ = repo.FindByID("s1")
	if got := session.Participant("actor1").Status; got != domain.StatusOnline {
		t.Errorf("explicit status change must clear busy, got %s", got)
	}
}

func TestSessionService_ActivityClearsAway(t *testing.T) {
	repo := newMockSessionRepo()
	stale := time.Now().Add(-time.Hour)
	repo.Create(&domain.Session{
		ID: "s1", ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
		Active: true,
		Participants: []domain.Participant{
			{ActorID: "actor1", Status: domain.StatusOnline, LastSeenAt: stale, UpdateSeq: 1},
		},
		CreatedBy: "actor1", CreatedAt: stale, UpdatedAt: stale,
	})
	service := NewSessionService(repo, events.NewGateway())

	service.MarkIdleAway(5 * time.Minute)

	session, _ := repo.FindByID("s1")
	if got := session.Participant("actor1").Status; got != domain.StatusAway {
		t.Fatalf("expected actor1 away after idle sweep, got %s", got)
	}

	service.RecordActivity("actor1", "s1")

	session, _ = repo.FindByID("s1")
	if got := session.Participant("actor1").Status; got != domain.StatusOnline {
		t.Errorf("expected activity to pull actor1 back online, got %s", got)
	}
}

func TestSessionService_IdleSweepSkipsBusy(t *testing.T) {
	service, repo := newTestSessionRepoWithParticipants(t)

	service.SetStatus("actor2", "s1", &domain.StatusUpdateRequest{Status: domain.StatusBusy, UpdateSeq: 2})
	service.MarkIdleAway(-time.Minute)

	session, _ := repo.FindByID("s1")
	if got := session.Participant("actor2").Status; got != domain.StatusBusy {
		t.Errorf("idle sweep must not touch busy, got %s", got)
	}
}

func TestSessionService_Close(t *testing.T) {
	service, repo := newTestSessionRepoWithParticipants(t)

	if err := service.Close("actor1", "s1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	session, _ := repo.FindByID("s1")
	if session.Active {
		t.Error("expected session deactivated")
	}

	// Closing twice is a no-op.
	if err := service.Close("actor1", "s1"); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if _, err := service.Join("actor3", "s1"); err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed on join after close, got %v", err)
	}
}

func TestSessionService_DeactivateStale(t *testing.T) {
	repo := newMockSessionRepo()
	old := time.Now().Add(-48 * time.Hour)
	repo.Create(&domain.Session{
		ID: "stale", ScopeID: "team1", ResourceID: "doc9", ResourceType: "document",
		Active: true,
		Participants: []domain.Participant{
			{ActorID: "actor1", Status: domain.StatusOffline, LastSeenAt: old, UpdateSeq: 2},
		},
		CreatedBy: "actor1", CreatedAt: old, UpdatedAt: old,
	})
	service := NewSessionService(repo, events.NewGateway())

	service.DeactivateStale(24 * time.Hour)

	session, _ := repo.FindByID("stale")
	if session.Active {
		t.Error("expected stale session deactivated")
	}
}

func TestSessionService_RosterChangePublished(t *testing.T) {
	repo := newMockSessionRepo()
	gateway := events.NewGateway()
	service := NewSessionService(repo, gateway)

	var got []events.Kind
	sub := gateway.Subscribe(events.KindRosterChanged, func(ev events.Event) {
		got = append(got, ev.Kind)
	})
	defer sub.Unsubscribe()

	session, _ := service.Create("actor1", &domain.CreateSessionRequest{
		ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
	})
	service.Join("actor2", session.ID)

	if len(got) != 2 {
		t.Errorf("expected 2 roster events (create, join), got %d", len(got))
	}
}
