package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/events"
)

type mockOperationRepo struct {
	mu       sync.Mutex
	ops      map[string]*domain.Operation
	counters map[string]int64
}

func newMockOperationRepo() *mockOperationRepo {
	return &mockOperationRepo{
		ops:      make(map[string]*domain.Operation),
		counters: make(map[string]int64),
	}
}

func copyOperation(op *domain.Operation) *domain.Operation {
	c := *op
	c.AckedBy = make([]string, len(op.AckedBy))
	copy(c.AckedBy, op.AckedBy)
	return &c
}

func (m *mockOperationRepo) Create(op *domain.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = copyOperation(op)
	return nil
}

func (m *mockOperationRepo) FindByID(id string) (*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, exists := m.ops[id]; exists {
		return copyOperation(op), nil
	}
	return nil, nil
}

func (m *mockOperationRepo) ListSince(sessionID string, afterSequence int64) ([]*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Operation
	for _, op := range m.ops {
		if op.SessionID == sessionID && op.Sequence > afterSequence {
			out = append(out, copyOperation(op))
		}
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Sequence < out[i].Sequence {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *mockOperationRepo) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[sessionID]++
	return m.counters[sessionID], nil
}

func (m *mockOperationRepo) AppendAck(operationID, actorID string) (*domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, exists := m.ops[operationID]
	if !exists {
		return nil, nil
	}
	for _, a := range op.AckedBy {
		if a == actorID {
			return copyOperation(op), nil
		}
	}
	op.AckedBy = append(op.AckedBy, actorID)
	return copyOperation(op), nil
}

func newTestOperationService() (*OperationService, *mockOperationRepo, *mockSessionRepo) {
	sessionRepo := newMockSessionRepo()
	now := time.Now()
	sessionRepo.Create(&domain.Session{
		ID: "s1", ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
		Active: true,
		Participants: []domain.Participant{
			{ActorID: "actor1", Status: domain.StatusOnline, LastSeenAt: now, UpdateSeq: 1},
			{ActorID: "actor2", Status: domain.StatusOnline, LastSeenAt: now, UpdateSeq: 1},
		},
		CreatedBy: "actor1", CreatedAt: now, UpdatedAt: now,
	})
	sessions := NewSessionService(sessionRepo, events.NewGateway())

	opRepo := newMockOperationRepo()
	return NewOperationService(opRepo, sessions, events.NewGateway()), opRepo, sessionRepo
}

func TestOperationService_Append(t *testing.T) {
	service, _, _ := newTestOperationService()

	op, err := service.Append(context.Background(), "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{"delta":"x"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if op.Sequence != 1 {
		t.Errorf("expected first sequence 1, got %d", op.Sequence)
	}
	if op.ActorID != "actor1" {
		t.Errorf("expected author actor1, got %s", op.ActorID)
	}
	if len(op.AckedBy) != 0 {
		t.Errorf("expected empty ack set, got %v", op.AckedBy)
	}
}

func TestOperationService_Append_Rejections(t *testing.T) {
	service, _, _ := newTestOperationService()
	ctx := context.Background()
	payload := json.RawMessage(`{}`)

	if _, err := service.Append(ctx, "", "dev1", "s1", domain.OpContentChange, payload); err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.Append(ctx, "actor1", "dev1", "missing", domain.OpContentChange, payload); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := service.Append(ctx, "stranger", "dev1", "s1", domain.OpContentChange, payload); err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestOperationService_Append_ClosedSession(t *testing.T) {
	service, _, sessionRepo := newTestOperationService()

	session, _ := sessionRepo.FindByID("s1")
	session.Active = false
	sessionRepo.Update(session)

	_, err := service.Append(context.Background(), "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))
	if err != ErrSessionClosed {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestOperationService_ConcurrentAppend_GaplessSequences(t *testing.T) {
	service, _, _ := newTestOperationService()

	const n = 50
	var wg sync.WaitGroup
	seqs := make(chan int64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op, err := service.Append(context.Background(), "actor1", "dev1", "s1", domain.OpCursorMove, json.RawMessage(`{}`))
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			seqs <- op.Sequence
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Errorf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("missing sequence %d, the log has a gap", i)
		}
	}
}

func TestOperationService_SequencesIndependentPerSession(t *testing.T) {
	service, _, sessionRepo := newTestOperationService()
	now := time.Now()
	sessionRepo.Create(&domain.Session{
		ID: "s2", ScopeID: "team1", ResourceID: "doc2", ResourceType: "document",
		Active: true,
		Participants: []domain.Participant{
			{ActorID: "actor1", Status: domain.StatusOnline, LastSeenAt: now, UpdateSeq: 1},
		},
		CreatedBy: "actor1", CreatedAt: now, UpdatedAt: now,
	})

	ctx := context.Background()
	service.Append(ctx, "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))
	service.Append(ctx, "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))
	op, _ := service.Append(ctx, "actor1", "dev1", "s2", domain.OpContentChange, json.RawMessage(`{}`))

	if op.Sequence != 1 {
		t.Errorf("expected independent counter per session, got %d", op.Sequence)
	}
}

func TestOperationService_Acknowledge_Idempotent(t *testing.T) {
	service, opRepo, _ := newTestOperationService()
	ctx := context.Background()

	op, _ := service.Append(ctx, "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))

	if err := service.Acknowledge(ctx, "actor2", op.ID); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := service.Acknowledge(ctx, "actor2", op.ID); err != nil {
		t.Fatalf("repeated ack: %v", err)
	}

	stored, _ := opRepo.FindByID(op.ID)
	if len(stored.AckedBy) != 1 {
		t.Errorf("expected ack set of size 1, got %v", stored.AckedBy)
	}
	if !stored.AckedByActor("actor2") {
		t.Error("expected actor2 in the ack set")
	}
}

func TestOperationService_Acknowledge_UnknownOperation(t *testing.T) {
	service, _, _ := newTestOperationService()

	err := service.Acknowledge(context.Background(), "actor1", "missing")
	if err != ErrOperationNotFound {
		t.Errorf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestOperationService_Since(t *testing.T) {
	service, _, _ := newTestOperationService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		service.Append(ctx, "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))
	}

	ops, err := service.Since(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("since: %v", err)
	}

	if len(ops) != 3 {
		t.Fatalf("expected operations 3..5, got %d", len(ops))
	}
	for i, op := range ops {
		want := int64(3 + i)
		if op.Sequence != want {
			t.Errorf("position %d: expected sequence %d, got %d", i, want, op.Sequence)
		}
	}
}

func TestOperationService_WaitForAcks_Satisfied(t *testing.T) {
	service, _, _ := newTestOperationService()
	ctx := context.Background()

	op, _ := service.Append(ctx, "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))
	service.Acknowledge(ctx, "actor2", op.ID)

	result, err := service.WaitForAcks(ctx, op.ID, 1, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result.TimedOut {
		t.Error("expected immediate satisfaction, got timeout")
	}
	if result.AckCount != 1 {
		t.Errorf("expected ack count 1, got %d", result.AckCount)
	}
}

func TestOperationService_WaitForAcks_Timeout(t *testing.T) {
	service, _, _ := newTestOperationService()
	ctx := context.Background()

	op, _ := service.Append(ctx, "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))

	result, err := service.WaitForAcks(ctx, op.ID, 2, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout is an outcome, not an error: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut set")
	}
	if result.AckCount != 0 {
		t.Errorf("expected partial count 0, got %d", result.AckCount)
	}
}

func TestOperationService_CommitPublishesWithDevice(t *testing.T) {
	sessionRepo := newMockSessionRepo()
	now := time.Now()
	sessionRepo.Create(&domain.Session{
		ID: "s1", ScopeID: "team1", ResourceID: "doc1", ResourceType: "document",
		Active: true,
		Participants: []domain.Participant{
			{ActorID: "actor1", Status: domain.StatusOnline, LastSeenAt: now, UpdateSeq: 1},
		},
		CreatedBy: "actor1", CreatedAt: now, UpdatedAt: now,
	})
	gateway := events.NewGateway()
	sessions := NewSessionService(sessionRepo, gateway)
	service := NewOperationService(newMockOperationRepo(), sessions, gateway)

	var got events.Event
	sub := gateway.Subscribe(events.KindOperationCommitted, func(ev events.Event) {
		got = ev
	})
	defer sub.Unsubscribe()

	service.Append(context.Background(), "actor1", "dev1", "s1", domain.OpContentChange, json.RawMessage(`{}`))

	if got.Kind != events.KindOperationCommitted {
		t.Fatal("expected a commit event on the gateway")
	}
	if got.DeviceID != "dev1" {
		t.Errorf("expected origin device in the event, got %q", got.DeviceID)
	}
}
