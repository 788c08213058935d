package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"collab-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// maxSequenceRetries bounds the MVCC retry loop on the per-session
// sequence counter. A write conflict on the counter means another append
// to the same session won the race; the loser retries with a fresh rev.
const maxSequenceRetries = 25

type OperationRepository interface {
	Create(op *domain.Operation) error
	FindByID(id string) (*domain.Operation, error)
	ListSince(sessionID string, afterSequence int64) ([]*domain.Operation, error)
	NextSequence(ctx context.Context, sessionID string) (int64, error)
	AppendAck(operationID, actorID string) (*domain.Operation, error)
}

type operationRepository struct {
	client *kivik.Client
	dbName string
}

func NewOperationRepository(client *kivik.Client, dbName string) OperationRepository {
	return &operationRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *operationRepository) Create(op *domain.Operation) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("operation:%s", op.ID)
	_, err := db.Put(context.Background(), docID, op)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

func (r *operationRepository) FindByID(id string) (*domain.Operation, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("operation:%s", id)
	row := db.Get(context.Background(), docID)

	var op domain.Operation
	if err := row.ScanDoc(&op); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find operation: %w", err)
	}

	return &op, nil
}

func (r *operationRepository) ListSince(sessionID string, afterSequence int64) ([]*domain.Operation, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"session_id": sessionID,
			"sequence":   map[string]interface{}{"$gt": afterSequence},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*domain.Operation
	for rows.Next() {
		var op domain.Operation
		if err := rows.ScanDoc(&op); err != nil {
			continue
		}
		ops = append(ops, &op)
	}

	sort.Slice(ops, func(i, j int) bool { return ops[i].Sequence < ops[j].Sequence })

	return ops, nil
}

// NextSequence atomically increments the per-session sequence counter.
// The counter lives in its own document; CouchDB's MVCC turns two racing
// increments into one winner and one 409, which is retried here with a
// fresh revision. Callers never observe the conflict.
func (r *operationRepository) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("opseq:%s", sessionID)

	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var counter map[string]interface{}
		row := db.Get(ctx, docID)
		if err := row.ScanDoc(&counter); err != nil {
			if kivik.HTTPStatus(err) != http.StatusNotFound {
				return 0, fmt.Errorf("failed to read sequence counter: %w", err)
			}
			counter = map[string]interface{}{"session_id": sessionID, "value": float64(0)}
		}

		next := int64(1)
		if v, ok := counter["value"].(float64); ok {
			next = int64(v) + 1
		}
		counter["value"] = next

		_, err := db.Put(ctx, docID, counter)
		if err == nil {
			return next, nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return 0, fmt.Errorf("failed to advance sequence counter: %w", err)
		}
	}

	return 0, fmt.Errorf("sequence counter for session %s contended beyond %d retries", sessionID, maxSequenceRetries)
}

// AppendAck adds the actor to the operation's acknowledgment set.
// Adding an actor that is already present is a no-op; concurrent acks on
// the same operation are reconciled through the same MVCC retry as the
// sequence counter.
func (r *operationRepository) AppendAck(operationID, actorID string) (*domain.Operation, error) {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("operation:%s", operationID)

	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		var existingDoc map[string]interface{}
		row := db.Get(context.Background(), docID)
		if err := row.ScanDoc(&existingDoc); err != nil {
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to fetch operation for ack: %w", err)
		}

		acked := make([]string, 0)
		if raw, ok := existingDoc["acked_by"].([]interface{}); ok {
			for _, v := range raw {
				if id, ok := v.(string); ok {
					acked = append(acked, id)
				}
			}
		}

		already := false
		for _, id := range acked {
			if id == actorID {
				already = true
				break
			}
		}
		if !already {
			acked = append(acked, actorID)
			existingDoc["acked_by"] = acked

			_, err := db.Put(context.Background(), docID, existingDoc)
			if err != nil {
				if kivik.HTTPStatus(err) == http.StatusConflict {
					continue
				}
				return nil, fmt.Errorf("failed to append acknowledgment: %w", err)
			}
		}

		return r.FindByID(operationID)
	}

	return nil, fmt.Errorf("acknowledgment for operation %s contended beyond %d retries", operationID, maxSequenceRetries)
}
