package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"collab-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type SessionRepository interface {
	Create(session *domain.Session) error
	FindByID(id string) (*domain.Session, error)
	FindActiveByResource(scopeID, resourceID, resourceType string) (*domain.Session, error)
	ListByScope(scopeID string) ([]*domain.Session, error)
	ListActive() ([]*domain.Session, error)
	Update(session *domain.Session) error
}

type sessionRepository struct {
	client *kivik.Client
	dbName string
}

func NewSessionRepository(client *kivik.Client, dbName string) SessionRepository {
	return &sessionRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *sessionRepository) Create(session *domain.Session) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("session:%s", session.ID)
	_, err := db.Put(context.Background(), docID, session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepository) FindByID(id string) (*domain.Session, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("session:%s", id)
	row := db.Get(context.Background(), docID)

	var session domain.Session
	if err := row.ScanDoc(&session); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return &session, nil
}

func (r *sessionRepository) FindActiveByResource(scopeID, resourceID, resourceType string) (*domain.Session, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"scope_id":      scopeID,
			"resource_id":   resourceID,
			"resource_type": resourceType,
			"active":        true,
		},
		"limit": 1,
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var session domain.Session
		if err := rows.ScanDoc(&session); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		return &session, nil
	}

	return nil, nil
}

func (r *sessionRepository) ListByScope(scopeID string) ([]*domain.Session, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"scope_id":    scopeID,
			"resource_id": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var session domain.Session
		if err := rows.ScanDoc(&session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, nil
}

func (r *sessionRepository) ListActive() ([]*domain.Session, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"active":      true,
			"resource_id": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var session domain.Session
		if err := rows.ScanDoc(&session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, nil
}

func (r *sessionRepository) Update(session *domain.Session) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("session:%s", session.ID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return fmt.Errorf("failed to fetch existing session for update: %w", err)
	}

	existingDoc["name"] = session.Name
	existingDoc["active"] = session.Active
	existingDoc["data"] = session.Data
	existingDoc["participants"] = session.Participants
	existingDoc["updated_at"] = time.Now()

	_, err := db.Put(context.Background(), docID, existingDoc)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}
