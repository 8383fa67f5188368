// Package store holds the thin persistence queries the realtime core calls
// into. Message storage semantics (history, pagination, encryption at rest)
// live with the main application; this package only covers what the stream
// and publisher paths need: membership resolution and the committed
// mutations that precede a notification.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Store wraps the shared application database.
type Store struct {
	db *sql.DB
}

// New creates a store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListConversationIDsForUser resolves the set of conversations userID may
// observe. Called once per stream open.
func (s *Store) ListConversationIDsForUser(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id FROM conversation_members WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user %d: %w", userID, err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}
	return ids, nil
}

// IsMember reports whether userID belongs to conversationID.
func (s *Store) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

// InsertMessage commits a new message and returns its id.
func (s *Store) InsertMessage(ctx context.Context, conversationID, userID int64, body string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, user_id, body, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id
	`, conversationID, userID, body).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// DeleteMessage removes a message the caller authored. Returns
// sql.ErrNoRows when no such message exists.
func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID, userID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE id = $1 AND conversation_id = $2 AND user_id = $3
	`, messageID, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetReaction upserts or removes a reaction on a message.
func (s *Store) SetReaction(ctx context.Context, messageID, userID int64, emoji string, removed bool) error {
	if removed {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM message_reactions
			WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		`, messageID, userID, emoji)
		if err != nil {
			return fmt.Errorf("remove reaction: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}
