package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned when no aggregate exists for a user. Callers should
// use errors.Is to distinguish this expected case from real errors.
var ErrNotFound = errors.New("store: user not found")

// Outcome is the result of a single AcceptMessage call.
type Outcome int

const (
	// OutcomeStored means the message was accepted and counted.
	OutcomeStored Outcome = iota
	// OutcomeStoredFiltered means the message was logged but not counted.
	OutcomeStoredFiltered
	// OutcomeInactive means collection is over for this user; no message row
	// was written.
	OutcomeInactive
	// OutcomeThresholdReached means this message pushed the user's total to
	// the target and collection was closed. Fires at most once per user.
	OutcomeThresholdReached
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeStoredFiltered:
		return "stored_filtered"
	case OutcomeInactive:
		return "inactive"
	case OutcomeThresholdReached:
		return "threshold_reached"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// UserAggregate is the durable per-user running totals and flags record.
type UserAggregate struct {
	UserID                string
	RoomID                string
	TotalTokens           int
	MessageCount          int
	CollectionActive      bool
	RemindersEnabled      bool
	LastReminderAt        sql.NullTime
	LastActivityAt        time.Time
	CollectionCompletedAt sql.NullTime
	CreatedAt             time.Time
}

// Message is one append-only log entry. Rows are immutable once written.
type Message struct {
	ID          int64
	UserID      string
	Role        string
	Content     string
	TokensCount int
	Sentiment   sql.NullString
	IsFiltered  bool
	Timestamp   time.Time
}

// AcceptRequest carries one pre-classified inbound message into the ledger.
// Tokenizing, filtering and sentiment classification happen upstream (they
// are pure functions); the ledger owns the transactional bookkeeping.
type AcceptRequest struct {
	UserID  string
	RoomID  string
	Role    string
	Content string
	// Tokens is the counted size of Content.
	Tokens int
	// Sentiment is the label for user messages; empty for assistant messages
	// and unlabelled content.
	Sentiment string
	// Filtered marks the message as non-conversational noise: it is logged
	// but never counted.
	Filtered bool
	// TokenTarget is the accepted-token total at which collection completes.
	TokenTarget int
}

// AcceptMessage runs the full accept step for one message in a single
// transaction: ensure the aggregate exists, touch last activity for user
// messages, honor the collection-active gate, log the message, and update
// the running totals with an atomic threshold check.
//
// Concurrent calls for the same user are serialized by the single shared
// connection, so the read-modify-write of total_tokens cannot interleave and
// OutcomeThresholdReached fires exactly once.
func (s *Store) AcceptMessage(ctx context.Context, req AcceptRequest) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeInactive, fmt.Errorf("failed to begin accept transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var totalTokens int
	var active bool
	err = tx.QueryRowContext(ctx,
		"SELECT total_tokens, collection_active FROM user_stats WHERE user_id = ?",
		req.UserID,
	).Scan(&totalTokens, &active)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_stats (user_id, room_id, last_activity_at, created_at)
			VALUES (?, ?, ?, ?)
		`, req.UserID, req.RoomID, now, now)
		if err != nil {
			return OutcomeInactive, fmt.Errorf("failed to create aggregate: %w", err)
		}
		totalTokens, active = 0, true
	case err != nil:
		return OutcomeInactive, fmt.Errorf("failed to read aggregate: %w", err)
	}

	// Liveness tracking is decoupled from accounting: the activity timestamp
	// moves on every user message, even ones that are filtered or arrive
	// after collection completed.
	if req.Role == RoleUser {
		_, err = tx.ExecContext(ctx, `
			UPDATE user_stats SET last_activity_at = ?, room_id = ? WHERE user_id = ?
		`, now, req.RoomID, req.UserID)
		if err != nil {
			return OutcomeInactive, fmt.Errorf("failed to touch activity: %w", err)
		}
	}

	if !active {
		// Post-completion traffic leaves no message row.
		if err := tx.Commit(); err != nil {
			return OutcomeInactive, fmt.Errorf("failed to commit accept: %w", err)
		}
		return OutcomeInactive, nil
	}

	sentiment := sql.NullString{String: req.Sentiment, Valid: req.Sentiment != ""}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (user_id, role, content, tokens_count, sentiment, is_filtered, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, req.UserID, req.Role, req.Content, req.Tokens, sentiment, req.Filtered, now)
	if err != nil {
		return OutcomeInactive, fmt.Errorf("failed to insert message: %w", err)
	}

	outcome := OutcomeStoredFiltered
	if !req.Filtered {
		newTotal := totalTokens + req.Tokens
		_, err = tx.ExecContext(ctx, `
			UPDATE user_stats
			SET total_tokens = ?, message_count = message_count + 1
			WHERE user_id = ?
		`, newTotal, req.UserID)
		if err != nil {
			return OutcomeInactive, fmt.Errorf("failed to update totals: %w", err)
		}

		outcome = OutcomeStored
		if req.TokenTarget > 0 && newTotal >= req.TokenTarget {
			_, err = tx.ExecContext(ctx, `
				UPDATE user_stats
				SET collection_active = FALSE, collection_completed_at = ?
				WHERE user_id = ?
			`, now, req.UserID)
			if err != nil {
				return OutcomeInactive, fmt.Errorf("failed to close collection: %w", err)
			}
			outcome = OutcomeThresholdReached
		}
	}

	if err := tx.Commit(); err != nil {
		return OutcomeInactive, fmt.Errorf("failed to commit accept: %w", err)
	}
	return outcome, nil
}

// StopCollection closes collection for a user. Idempotent: the completion
// timestamp is set only the first time.
func (s *Store) StopCollection(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_stats
		SET collection_active = FALSE,
		    collection_completed_at = COALESCE(collection_completed_at, ?)
		WHERE user_id = ?
	`, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to stop collection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// GetAggregate retrieves a user's aggregate. Returns ErrNotFound when the
// user has never been seen.
func (s *Store) GetAggregate(ctx context.Context, userID string) (*UserAggregate, error) {
	agg := &UserAggregate{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, room_id, total_tokens, message_count, collection_active,
		       reminders_enabled, last_reminder_at, last_activity_at,
		       collection_completed_at, created_at
		FROM user_stats
		WHERE user_id = ?
	`, userID).Scan(
		&agg.UserID, &agg.RoomID, &agg.TotalTokens, &agg.MessageCount,
		&agg.CollectionActive, &agg.RemindersEnabled, &agg.LastReminderAt,
		&agg.LastActivityAt, &agg.CollectionCompletedAt, &agg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	return agg, nil
}

// ListAcceptedMessages returns a user's accepted (non-filtered) messages,
// oldest first.
func (s *Store) ListAcceptedMessages(ctx context.Context, userID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, tokens_count, sentiment, is_filtered, timestamp
		FROM messages
		WHERE user_id = ? AND is_filtered = FALSE
		ORDER BY timestamp ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		err := rows.Scan(
			&m.ID, &m.UserID, &m.Role, &m.Content, &m.TokensCount,
			&m.Sentiment, &m.IsFiltered, &m.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return msgs, nil
}

// ListRecentAccepted returns up to limit of a user's most recent accepted
// messages in chronological order. Used to rebuild the rolling conversation
// context after a restart.
func (s *Store) ListRecentAccepted(ctx context.Context, userID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, tokens_count, sentiment, is_filtered, timestamp
		FROM messages
		WHERE user_id = ? AND is_filtered = FALSE
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		err := rows.Scan(
			&m.ID, &m.UserID, &m.Role, &m.Content, &m.TokensCount,
			&m.Sentiment, &m.IsFiltered, &m.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ToggleReminders enables or disables reminders for a user, creating the
// aggregate with defaults when it does not exist yet.
func (s *Store) ToggleReminders(ctx context.Context, userID string, enabled bool) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, reminders_enabled, last_activity_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET reminders_enabled = excluded.reminders_enabled
	`, userID, enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to toggle reminders: %w", err)
	}
	return nil
}

// UsersDueForReminders returns the IDs of all users with reminders enabled
// and collection still active. Inactivity-based suppression is applied by
// the reminder scheduler, not here.
func (s *Store) UsersDueForReminders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_stats
		WHERE reminders_enabled = TRUE AND collection_active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder users: %w", err)
	}
	return ids, nil
}

// UpdateLastReminder records a reminder delivery.
func (s *Store) UpdateLastReminder(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_stats SET last_reminder_at = ? WHERE user_id = ?
	`, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update last reminder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// UserCount returns the number of known users. Used by the status endpoint.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_stats").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
