package store

import (
	"context"
	"fmt"
	"time"
)

// ExportRun records one completed export: which file was produced and what
// it contained.
type ExportRun struct {
	ID           string
	UserID       string
	File         string
	RecordCount  int
	MessageCount int
	TotalTokens  int
	CreatedAt    time.Time
}

// RecordExportRun inserts a completed export run.
func (s *Store) RecordExportRun(ctx context.Context, run *ExportRun) error {
	run.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_runs (id, user_id, file, record_count, message_count, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.UserID, run.File, run.RecordCount, run.MessageCount, run.TotalTokens, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record export run: %w", err)
	}
	return nil
}

// ListExportRuns returns a user's export runs, newest first, up to limit.
func (s *Store) ListExportRuns(ctx context.Context, userID string, limit int) ([]*ExportRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, file, record_count, message_count, total_tokens, created_at
		FROM export_runs
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list export runs: %w", err)
	}
	defer rows.Close()

	var runs []*ExportRun
	for rows.Next() {
		r := &ExportRun{}
		err := rows.Scan(
			&r.ID, &r.UserID, &r.File, &r.RecordCount,
			&r.MessageCount, &r.TotalTokens, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export runs: %w", err)
	}
	return runs, nil
}
