package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	pruneInterval = time.Hour
)

// HistoryEntry is one recorded write.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	EntityID   string         `json:"entity_id"`
	Value      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	Source     string         `json:"source"`
	CreatedAt  time.Time      `json:"created_at"`
}

// History returns recent writes to an entity, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - entityID: Entity to query
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered newest first
//   - error: nil on success, otherwise the underlying query error
func (s *Store) History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error) {
	if entityID == "" {
		return nil, ErrInvalidEntity
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, value, attributes, source, created_at
		 FROM state_history
		 WHERE entity_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		entityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			h         HistoryEntry
			attrsJSON string
			createdAt string
		)
		if err := rows.Scan(&h.ID, &h.EntityID, &h.Value, &attrsJSON, &h.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(attrsJSON), &h.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
		if h.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than olderThan.
//
// Returns the number of rows deleted.
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := s.now().UTC().Add(-olderThan).Format(timeFormat)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// RunRetention prunes history older than retention once an hour until ctx
// is cancelled. A zero retention disables pruning.
func (s *Store) RunRetention(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := s.PruneHistory(ctx, retention)
		switch {
		case err != nil:
			s.logger.Warn("state history pruning failed", "error", err)
		case n > 0:
			s.logger.Info("state history pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
