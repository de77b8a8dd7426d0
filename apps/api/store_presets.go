package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxPresetNameLength = 80

type FilterPreset struct {
	Name      string      `json:"name"`
	Filters   FilterState `json:"filters"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type presetStore interface {
	SavePreset(ctx context.Context, owner, name string, filters FilterState) (*FilterPreset, error)
	ListPresets(ctx context.Context, owner string) ([]FilterPreset, error)
	GetPreset(ctx context.Context, owner, name string) (*FilterPreset, error)
	DeletePreset(ctx context.Context, owner, name string) error
}

var errPresetNotFound = &apiError{Status: http.StatusNotFound, Code: "preset_not_found", Message: "Filter preset not found"}

func normalizePresetName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &apiError{Status: http.StatusBadRequest, Code: "invalid_preset", Message: "Preset name is required"}
	}
	if len(name) > maxPresetNameLength {
		return "", &apiError{Status: http.StatusBadRequest, Code: "invalid_preset", Message: "Preset name is too long"}
	}
	return name, nil
}

// sqlPresetStore keeps presets in the dashboard database, one row per (owner, name).
type sqlPresetStore struct {
	db *sql.DB
}

func (s *sqlPresetStore) SavePreset(ctx context.Context, owner, name string, filters FilterState) (*FilterPreset, error) {
	encoded, err := json.Marshal(filters.clone())
	if err != nil {
		return nil, err
	}

	preset := &FilterPreset{Name: name}
	var raw []byte
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO filter_presets (owner_email, name, filters)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_email, name)
		DO UPDATE SET filters = EXCLUDED.filters, updated_at = NOW()
		RETURNING filters, created_at, updated_at
	`, owner, name, encoded).Scan(&raw, &preset.CreatedAt, &preset.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &preset.Filters); err != nil {
		return nil, err
	}
	return preset, nil
}

func (s *sqlPresetStore) ListPresets(ctx context.Context, owner string) ([]FilterPreset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, filters, created_at, updated_at
		FROM filter_presets
		WHERE owner_email = $1
		ORDER BY name ASC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	presets := []FilterPreset{}
	for rows.Next() {
		var (
			p   FilterPreset
			raw []byte
		)
		if err := rows.Scan(&p.Name, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &p.Filters); err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

func (s *sqlPresetStore) GetPreset(ctx context.Context, owner, name string) (*FilterPreset, error) {
	preset := &FilterPreset{Name: name}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT filters, created_at, updated_at
		FROM filter_presets
		WHERE owner_email = $1 AND name = $2
	`, owner, name).Scan(&raw, &preset.CreatedAt, &preset.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errPresetNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &preset.Filters); err != nil {
		return nil, err
	}
	return preset, nil
}

func (s *sqlPresetStore) DeletePreset(ctx context.Context, owner, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM filter_presets WHERE owner_email = $1 AND name = $2`, owner, name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errPresetNotFound
	}
	return nil
}

// memoryPresetStore backs presets when no database is configured.
type memoryPresetStore struct {
	mu      sync.Mutex
	now     func() time.Time
	presets map[string]map[string]FilterPreset
}

func newMemoryPresetStore() *memoryPresetStore {
	return &memoryPresetStore{now: time.Now, presets: make(map[string]map[string]FilterPreset)}
}

func (s *memoryPresetStore) SavePreset(_ context.Context, owner, name string, filters FilterState) (*FilterPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.presets[owner]
	if !ok {
		byName = make(map[string]FilterPreset)
		s.presets[owner] = byName
	}
	now := s.now().UTC()
	preset, exists := byName[name]
	if !exists {
		preset = FilterPreset{Name: name, CreatedAt: now}
	}
	preset.Filters = filters.clone()
	preset.UpdatedAt = now
	byName[name] = preset

	out := preset
	out.Filters = preset.Filters.clone()
	return &out, nil
}

func (s *memoryPresetStore) ListPresets(_ context.Context, owner string) ([]FilterPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	presets := make([]FilterPreset, 0, len(s.presets[owner]))
	for _, preset := range s.presets[owner] {
		preset.Filters = preset.Filters.clone()
		presets = append(presets, preset)
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

func (s *memoryPresetStore) GetPreset(_ context.Context, owner, name string) (*FilterPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	preset, ok := s.presets[owner][name]
	if !ok {
		return nil, errPresetNotFound
	}
	preset.Filters = preset.Filters.clone()
	return &preset, nil
}

func (s *memoryPresetStore) DeletePreset(_ context.Context, owner, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.presets[owner][name]; !ok {
		return errPresetNotFound
	}
	delete(s.presets[owner], name)
	return nil
}
