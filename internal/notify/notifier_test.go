package notify

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/internal/chat"
)

type recordingExecer struct {
	queries  []string
	channels []string
	payloads []string
	ctxErrs  []error
	err      error
}

func (r *recordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.queries = append(r.queries, query)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if len(args) == 2 {
		r.channels = append(r.channels, args[0].(string))
		r.payloads = append(r.payloads, args[1].(string))
	}
	return nil, r.err
}

func TestMessageCreatedSendsOneNotification(t *testing.T) {
	rec := &recordingExecer{}
	n := New(rec)

	require.NoError(t, n.MessageCreated(context.Background(), 7, 42))

	require.Len(t, rec.payloads, 1)
	assert.Equal(t, chat.Channel, rec.channels[0])
	assert.Contains(t, rec.queries[0], "pg_notify")

	ev, err := chat.DecodeEvent([]byte(rec.payloads[0]))
	require.NoError(t, err)
	assert.Equal(t, chat.EventMessageNew, ev.Type)
	assert.Equal(t, int64(7), ev.ConversationID)
	assert.Equal(t, int64(42), ev.MessageID)
	assert.Positive(t, ev.At)
}

func TestReactionChangedCarriesKindFields(t *testing.T) {
	rec := &recordingExecer{}
	n := New(rec)

	require.NoError(t, n.ReactionChanged(context.Background(), 3, 9, "👍", true))

	require.Len(t, rec.payloads, 1)
	ev, err := chat.DecodeEvent([]byte(rec.payloads[0]))
	require.NoError(t, err)
	assert.Equal(t, chat.EventReactionUpdate, ev.Type)
	assert.Equal(t, "👍", ev.Emoji)
	assert.True(t, ev.Removed)
}

func TestMessageDeletedSendsDeletedType(t *testing.T) {
	rec := &recordingExecer{}
	n := New(rec)

	require.NoError(t, n.MessageDeleted(context.Background(), 2, 5))

	require.Len(t, rec.payloads, 1)
	ev, err := chat.DecodeEvent([]byte(rec.payloads[0]))
	require.NoError(t, err)
	assert.Equal(t, chat.EventMessageDeleted, ev.Type)
}

func TestNotifyFailureIsReportedNotRaised(t *testing.T) {
	rec := &recordingExecer{err: errors.New("connection refused")}
	n := New(rec)

	// The caller's mutation already committed; the failure comes back as a
	// plain value the caller may discard.
	var err error
	require.NotPanics(t, func() {
		err = n.MessageCreated(context.Background(), 1, 1)
	})
	assert.Error(t, err)
	assert.Len(t, rec.queries, 1)
}

func TestNotifySurvivesCallerAbort(t *testing.T) {
	rec := &recordingExecer{}
	n := New(rec)

	// A client that disconnects right after its mutation commits cancels
	// the request context; other readers must still get the notification.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, n.MessageCreated(ctx, 7, 42))
	require.Len(t, rec.ctxErrs, 1)
	assert.NoError(t, rec.ctxErrs[0], "notify must not run on the canceled request context")
}

func TestNilDatabaseIsNoOp(t *testing.T) {
	n := New(nil)
	assert.NoError(t, n.MessageCreated(context.Background(), 1, 1))
	assert.NoError(t, n.MessageDeleted(context.Background(), 1, 1))
	assert.NoError(t, n.ReactionChanged(context.Background(), 1, 1, "👍", false))
}
