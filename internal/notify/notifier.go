// Package notify sends cross-process chat notifications after a mutation
// commits. The send is best-effort by contract: the database row is the
// source of truth, the notification only shortens latency for connected
// readers, so a failed send is logged and discarded and never rolls back or
// fails the mutation.
package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cohortly/cohortly/internal/chat"
)

// Execer is the slice of *sql.DB the notifier needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// notifyTimeout bounds a single pg_notify once it is detached from the
// caller's request context.
const notifyTimeout = 2 * time.Second

// Notifier publishes events on the shared Postgres channel via pg_notify.
type Notifier struct {
	db Execer
}

// New creates a notifier. A nil db (no database configured) yields a
// notifier whose sends are silent no-ops.
func New(db Execer) *Notifier {
	return &Notifier{db: db}
}

// MessageCreated announces a newly committed message. The returned error is
// informational; callers are allowed to discard it.
func (n *Notifier) MessageCreated(ctx context.Context, conversationID, messageID int64) error {
	return n.bestEffort(ctx, chat.Event{
		Type:           chat.EventMessageNew,
		ConversationID: conversationID,
		MessageID:      messageID,
		At:             time.Now().UnixMilli(),
	})
}

// MessageDeleted announces a committed message deletion.
func (n *Notifier) MessageDeleted(ctx context.Context, conversationID, messageID int64) error {
	return n.bestEffort(ctx, chat.Event{
		Type:           chat.EventMessageDeleted,
		ConversationID: conversationID,
		MessageID:      messageID,
		At:             time.Now().UnixMilli(),
	})
}

// ReactionChanged announces a committed reaction add or removal.
func (n *Notifier) ReactionChanged(ctx context.Context, conversationID, messageID int64, emoji string, removed bool) error {
	return n.bestEffort(ctx, chat.Event{
		Type:           chat.EventReactionUpdate,
		ConversationID: conversationID,
		MessageID:      messageID,
		Emoji:          emoji,
		Removed:        removed,
		At:             time.Now().UnixMilli(),
	})
}

// bestEffort sends exactly one pg_notify for ev. The failure is logged here
// and also returned so callers can observe it, but they never have to: the
// mutation already committed and is the source of truth.
func (n *Notifier) bestEffort(ctx context.Context, ev chat.Event) error {
	if n.db == nil {
		return nil
	}
	payload, err := ev.Encode()
	if err != nil {
		log.Warn().Err(err).Str("event_type", ev.Type).Msg("chat notify encode failed")
		return err
	}

	// The mutation committed before this call, so the notification must go
	// out even when the mutating client has already hung up. Detach from the
	// request context but keep its values for any logging hooks.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if _, err := n.db.ExecContext(ctx, "select pg_notify($1, $2)", chat.Channel, string(payload)); err != nil {
		log.Warn().Err(err).
			Str("event_type", ev.Type).
			Int64("conversation_id", ev.ConversationID).
			Msg("chat notify failed; readers will catch up from storage")
		return err
	}
	return nil
}
