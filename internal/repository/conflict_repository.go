package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"collab-sync-server/internal/domain"
)

type ConflictRepository interface {
	Create(conflict *domain.SettingsConflict) error
	Get(conflictID string) (*domain.SettingsConflict, error)
	FindOpenByPair(settingType, entityID string) (*domain.SettingsConflict, error)
	ListOpenByEntity(entityID string) ([]*domain.SettingsConflict, error)
	MarkResolved(conflictID string, strategy domain.ResolutionStrategy) error
}

type conflictRepo struct {
	baseURL string
	client  *http.Client
}

func NewConflictRepository(baseURL string) ConflictRepository {
	return &conflictRepo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func conflictDoc(conflict *domain.SettingsConflict) map[string]interface{} {
	return map[string]interface{}{
		"_id":          fmt.Sprintf("conflict:%s", conflict.ID),
		"id":           conflict.ID,
		"setting_type": conflict.SettingType,
		"entity_id":    conflict.EntityID,
		"proposed":     conflict.Proposed,
		"committed":    conflict.Committed,
		"proposed_by":  conflict.ProposedBy,
		"detected_at":  conflict.DetectedAt,
		"resolved_at":  conflict.ResolvedAt,
		"resolution":   conflict.Resolution,
	}
}

func (r *conflictRepo) Create(conflict *domain.SettingsConflict) error {
	data, err := json.Marshal(conflictDoc(conflict))
	if err != nil {
		return err
	}

	resp, err := r.client.Post(r.baseURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to create conflict: status %d", resp.StatusCode)
	}

	return nil
}

func (r *conflictRepo) Get(conflictID string) (*domain.SettingsConflict, error) {
	url := fmt.Sprintf("%s/conflict:%s", r.baseURL, conflictID)

	resp, err := r.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var conflict domain.SettingsConflict
	if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
		return nil, err
	}

	return &conflict, nil
}

func (r *conflictRepo) FindOpenByPair(settingType, entityID string) (*domain.SettingsConflict, error) {
	viewURL := fmt.Sprintf("%s/_design/conflicts/_view/by_pair?key=[\"%s\",\"%s\"]", r.baseURL, settingType, entityID)

	conflicts, err := r.queryView(viewURL)
	if err != nil {
		return nil, err
	}

	for _, c := range conflicts {
		if !c.Resolved() {
			return c, nil
		}
	}

	return nil, nil
}

func (r *conflictRepo) ListOpenByEntity(entityID string) ([]*domain.SettingsConflict, error) {
	viewURL := fmt.Sprintf("%s/_design/conflicts/_view/by_entity?key=\"%s\"", r.baseURL, entityID)

	conflicts, err := r.queryView(viewURL)
	if err != nil {
		return nil, err
	}

	open := make([]*domain.SettingsConflict, 0, len(conflicts))
	for _, c := range conflicts {
		if !c.Resolved() {
			open = append(open, c)
		}
	}

	return open, nil
}

func (r *conflictRepo) queryView(viewURL string) ([]*domain.SettingsConflict, error) {
	resp, err := r.client.Get(viewURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Rows []struct {
			Value domain.SettingsConflict `json:"value"`
		} `json:"rows"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	conflicts := make([]*domain.SettingsConflict, len(result.Rows))
	for i, row := range result.Rows {
		c := row.Value
		conflicts[i] = &c
	}

	return conflicts, nil
}

func (r *conflictRepo) MarkResolved(conflictID string, strategy domain.ResolutionStrategy) error {
	conflict, err := r.Get(conflictID)
	if err != nil {
		return err
	}
	if conflict == nil {
		return fmt.Errorf("conflict %s not found", conflictID)
	}

	now := time.Now()
	conflict.ResolvedAt = &now
	conflict.Resolution = strategy

	url := fmt.Sprintf("%s/conflict:%s", r.baseURL, conflictID)
	respGet, err := r.client.Get(url)
	if err != nil {
		return err
	}

	var existingDoc map[string]interface{}
	json.NewDecoder(respGet.Body).Decode(&existingDoc)
	respGet.Body.Close()

	doc := conflictDoc(conflict)
	doc["_rev"] = existingDoc["_rev"]

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to mark conflict as resolved: status %d", resp.StatusCode)
	}

	return nil
}
