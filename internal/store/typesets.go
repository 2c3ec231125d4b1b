package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"graphmem/internal/customtypes"
	"graphmem/internal/logging"
)

// TypeSetInfo summarizes a registered type set.
type TypeSetInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	EntityCount int       `json:"entity_count"`
	EdgeCount   int       `json:"edge_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SaveTypeSet validates and stores a type set under name, replacing any
// previous definition.
func (s *Store) SaveTypeSet(ctx context.Context, name, description string, set *customtypes.TypeSet) error {
	if name == "" {
		return fmt.Errorf("type set name must not be empty")
	}
	if set == nil {
		return fmt.Errorf("type set %s: nothing to save", name)
	}
	if err := set.Validate(); err != nil {
		return fmt.Errorf("type set %s: %w", name, err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode type set %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO type_sets (name, definition, description, entity_count, edge_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition = excluded.definition,
			description = excluded.description,
			entity_count = excluded.entity_count,
			edge_count = excluded.edge_count,
			updated_at = excluded.updated_at
	`, name, string(data), description, len(set.Entities), len(set.Edges), now, now)
	if err != nil {
		return fmt.Errorf("failed to save type set %s: %w", name, err)
	}
	logging.Store("Registered type set %s (%d entity, %d edge types)", name, len(set.Entities), len(set.Edges))
	return nil
}

// GetTypeSet loads and re-validates a registered type set.
func (s *Store) GetTypeSet(ctx context.Context, name string) (*customtypes.TypeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var definition string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM type_sets WHERE name = ?`, name).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("type set %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	set, err := customtypes.ParseTypeSet([]byte(definition))
	if err != nil {
		return nil, fmt.Errorf("stored type set %s is invalid: %w", name, err)
	}
	return set, nil
}

// ListTypeSets returns all registered type sets sorted by name.
func (s *Store) ListTypeSets(ctx context.Context) ([]TypeSetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, entity_count, edge_count, created_at, updated_at
		FROM type_sets ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TypeSetInfo
	for rows.Next() {
		var info TypeSetInfo
		var created, updated int64
		if err := rows.Scan(&info.Name, &info.Description, &info.EntityCount, &info.EdgeCount, &created, &updated); err != nil {
			return nil, err
		}
		info.CreatedAt = time.UnixMilli(created)
		info.UpdatedAt = time.UnixMilli(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteTypeSet removes a registered type set.
func (s *Store) DeleteTypeSet(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM type_sets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("type set %s: %w", name, ErrNotFound)
	}
	return nil
}
