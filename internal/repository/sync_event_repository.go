package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"collab-sync-server/internal/domain"
)

// SyncEventRepository is the append-only settings audit log. Append
// failures always surface to the caller; conflict tracking must never
// silently diverge from what was actually written.
type SyncEventRepository interface {
	Append(event *domain.SyncEvent) error
	ListByPair(settingType, entityID string) ([]*domain.SyncEvent, error)
}

type syncEventRepo struct {
	baseURL string
	client  *http.Client
}

func NewSyncEventRepository(baseURL string) SyncEventRepository {
	return &syncEventRepo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *syncEventRepo) Append(event *domain.SyncEvent) error {
	doc := map[string]interface{}{
		"_id":          fmt.Sprintf("syncevent:%s", event.ID),
		"id":           event.ID,
		"setting_type": event.SettingType,
		"entity_id":    event.EntityID,
		"kind":         event.Kind,
		"actor_id":     event.ActorID,
		"metadata":     event.Metadata,
		"created_at":   event.CreatedAt,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	resp, err := r.client.Post(r.baseURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to append sync event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to append sync event: status %d", resp.StatusCode)
	}

	return nil
}

func (r *syncEventRepo) ListByPair(settingType, entityID string) ([]*domain.SyncEvent, error) {
	viewURL := fmt.Sprintf("%s/_design/sync_events/_view/by_pair?key=[\"%s\",\"%s\"]", r.baseURL, settingType, entityID)

	resp, err := r.client.Get(viewURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Rows []struct {
			Value domain.SyncEvent `json:"value"`
		} `json:"rows"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	events := make([]*domain.SyncEvent, len(result.Rows))
	for i, row := range result.Rows {
		e := row.Value
		events[i] = &e
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })

	return events, nil
}
