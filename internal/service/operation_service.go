package service

import (
	"context"
	"encoding/json"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/events"
	"collab-sync-server/internal/repository"

	"github.com/google/uuid"
)

// ackPollInterval paces WaitForAcks reads against the store.
const ackPollInterval = 50 * time.Millisecond

// OperationService is the append-only, per-session ordered operation
// log. Sequencing is delegated to the store's atomic per-session
// counter; everything committed here is immutable except the ack set.
type OperationService struct {
	operationRepo repository.OperationRepository
	sessions      *SessionService
	gateway       *events.Gateway
}

func NewOperationService(operationRepo repository.OperationRepository, sessions *SessionService, gateway *events.Gateway) *OperationService {
	return &OperationService{
		operationRepo: operationRepo,
		sessions:      sessions,
		gateway:       gateway,
	}
}

// Append commits a proposed operation: membership check, atomic
// sequence assignment, durable write, then fan-out. The sequence
// counter's write races are retried inside the repository and never
// reach the caller. The durable write is acknowledged before return.
func (s *OperationService) Append(ctx context.Context, actorID, deviceID, sessionID string, kind domain.OperationKind, payload json.RawMessage) (*domain.Operation, error) {
	if actorID == "" {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, ErrSessionClosed
	}
	if session.Participant(actorID) == nil {
		return nil, ErrNotParticipant
	}

	seq, err := s.operationRepo.NextSequence(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	op := &domain.Operation{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Sequence:    seq,
		ActorID:     actorID,
		Kind:        kind,
		Payload:     payload,
		AckedBy:     []string{},
		CommittedAt: time.Now(),
	}

	if err := s.operationRepo.Create(op); err != nil {
		return nil, err
	}

	// Any inbound operation is an activity signal for its author.
	s.sessions.RecordActivity(actorID, sessionID)

	if s.gateway != nil {
		s.gateway.Publish(events.Event{
			Kind:      events.KindOperationCommitted,
			SessionID: sessionID,
			ActorID:   actorID,
			DeviceID:  deviceID,
			Payload:   op,
		})
	}

	return op, nil
}

// Acknowledge adds the actor to the operation's acknowledgment set.
// Set semantics: acknowledging twice changes nothing.
func (s *OperationService) Acknowledge(ctx context.Context, actorID, operationID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	op, err := s.operationRepo.AppendAck(operationID, actorID)
	if err != nil {
		return err
	}
	if op == nil {
		return ErrOperationNotFound
	}

	s.sessions.RecordActivity(actorID, op.SessionID)

	return nil
}

// Since returns committed operations strictly after the given sequence
// in ascending order, gap-free. A reconnecting participant replays this
// to recover exact ordering.
func (s *OperationService) Since(ctx context.Context, sessionID string, afterSequence int64) ([]*domain.Operation, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	return s.operationRepo.ListSince(session.ID, afterSequence)
}

// WaitForAcks blocks until the operation has at least minActors
// acknowledgments or the timeout elapses. Timeout is a normal outcome:
// the result carries the partial count with TimedOut set, not an error.
func (s *OperationService) WaitForAcks(ctx context.Context, operationID string, minActors int, timeout time.Duration) (*domain.AckWaitResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(ackPollInterval)
	defer ticker.Stop()

	for {
		op, err := s.operationRepo.FindByID(operationID)
		if err != nil {
			return nil, err
		}
		if op == nil {
			return nil, ErrOperationNotFound
		}

		if len(op.AckedBy) >= minActors {
			return &domain.AckWaitResult{
				OperationID: operationID,
				AckCount:    len(op.AckedBy),
				TimedOut:    false,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return &domain.AckWaitResult{
				OperationID: operationID,
				AckCount:    len(op.AckedBy),
				TimedOut:    true,
			}, nil
		case <-ticker.C:
		}
	}
}
