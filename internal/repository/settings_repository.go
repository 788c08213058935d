package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"collab-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// SettingsRepository is the read-modify-write boundary to the settings
// store. A missing pair reads back as an empty document at version 0.
type SettingsRepository interface {
	Get(ctx context.Context, settingType, entityID string) (*domain.SettingsDocument, error)
	Save(ctx context.Context, doc *domain.SettingsDocument) error
}

type settingsRepository struct {
	client *kivik.Client
	dbName string
}

func NewSettingsRepository(client *kivik.Client, dbName string) SettingsRepository {
	return &settingsRepository{
		client: client,
		dbName: dbName,
	}
}

func settingsDocID(settingType, entityID string) string {
	return fmt.Sprintf("settings:%s:%s", settingType, entityID)
}

func (r *settingsRepository) Get(ctx context.Context, settingType, entityID string) (*domain.SettingsDocument, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, settingsDocID(settingType, entityID))

	var doc domain.SettingsDocument
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return &domain.SettingsDocument{
				SettingType: settingType,
				EntityID:    entityID,
				Values:      domain.ChangeSet{},
				Version:     0,
			}, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if doc.Values == nil {
		doc.Values = domain.ChangeSet{}
	}

	return &doc, nil
}

func (r *settingsRepository) Save(ctx context.Context, doc *domain.SettingsDocument) error {
	db := r.client.DB(r.dbName)
	docID := settingsDocID(doc.SettingType, doc.EntityID)

	var existingDoc map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		if kivik.HTTPStatus(err) != http.StatusNotFound {
			return fmt.Errorf("failed to fetch settings for save: %w", err)
		}
		existingDoc = map[string]interface{}{
			"setting_type": doc.SettingType,
			"entity_id":    doc.EntityID,
		}
	}

	existingDoc["values"] = doc.Values
	existingDoc["version"] = doc.Version
	existingDoc["last_change"] = doc.LastChange
	existingDoc["last_change_by"] = doc.LastChangeBy
	existingDoc["updated_at"] = time.Now()

	_, err := db.Put(ctx, docID, existingDoc)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}
