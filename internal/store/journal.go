package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"graphmem/internal/episode"
	"graphmem/internal/logging"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Status tracks an episode through submission.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// EpisodeRecord is a journal entry for one submitted episode.
type EpisodeRecord struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	GroupID           string    `json:"group_id"`
	Source            string    `json:"source"`
	SourceDescription string    `json:"source_description,omitempty"`
	BodySize          int       `json:"body_size"`
	TypeSet           string    `json:"type_set,omitempty"`
	EpisodeUUID       string    `json:"episode_uuid,omitempty"`
	Status            Status    `json:"status"`
	Error             string    `json:"error,omitempty"`
	Response          string    `json:"response,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EpisodeFilter narrows ListEpisodes. Zero values match everything.
type EpisodeFilter struct {
	GroupID string
	Status  Status
	Limit   int
}

// RecordPending journals an episode before it is sent and returns its id.
// typeSet names the registered type set used, if any.
func (s *Store) RecordPending(ctx context.Context, req *episode.Request, typeSet string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, name, group_id, source, source_description, body_size, type_set, episode_uuid, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.Name, req.GroupID, string(req.Source), req.SourceDescription, len(req.Body), typeSet, req.UUID, StatusPending, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to record episode: %w", err)
	}
	logging.StoreDebug("Journaled episode %s (%s)", id, req.Name)
	return id, nil
}

// MarkSent records the server's reply for a journaled episode.
func (s *Store) MarkSent(ctx context.Context, id, response string) error {
	return s.setStatus(ctx, id, StatusSent, "", response)
}

// MarkFailed records why an episode could not be submitted.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.setStatus(ctx, id, StatusFailed, msg, "")
}

func (s *Store) setStatus(ctx context.Context, id string, status Status, errMsg, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET status = ?, error = ?, response = ?, updated_at = ? WHERE id = ?
	`, status, errMsg, response, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update episode %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	return nil
}

const episodeColumns = `id, name, group_id, source, source_description, body_size, type_set, episode_uuid, status, error, response, created_at, updated_at`

// GetEpisode returns a single journal entry.
func (s *Store) GetEpisode(ctx context.Context, id string) (*EpisodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	rec, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListEpisodes returns journal entries, newest first.
func (s *Store) ListEpisodes(ctx context.Context, f EpisodeFilter) ([]*EpisodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []interface{}
	if f.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + episodeColumns + ` FROM episodes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var out []*EpisodeRecord
	for rows.Next() {
		rec, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EpisodeStats counts journal entries by status.
func (s *Store) EpisodeStats(ctx context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[Status]int{StatusPending: 0, StatusSent: 0, StatusFailed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[Status(status)] = n
	}
	return stats, rows.Err()
}

// PruneEpisodes deletes sent entries older than the cutoff and returns how
// many were removed. Pending and failed entries are kept.
func (s *Store) PruneEpisodes(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE status = ? AND updated_at < ?`, StatusSent, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*EpisodeRecord, error) {
	var rec EpisodeRecord
	var status string
	var created, updated int64
	if err := row.Scan(&rec.ID, &rec.Name, &rec.GroupID, &rec.Source, &rec.SourceDescription,
		&rec.BodySize, &rec.TypeSet, &rec.EpisodeUUID, &status, &rec.Error, &rec.Response, &created, &updated); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return &rec, nil
}
