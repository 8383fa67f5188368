package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/internal/chat"
)

func event(conversationID, messageID int64) chat.Event {
	return chat.Event{
		Type:           chat.EventMessageNew,
		ConversationID: conversationID,
		MessageID:      messageID,
		At:             messageID,
	}
}

func TestPublishFanOut(t *testing.T) {
	b := New()

	var first, second []int64
	unsubFirst := b.Subscribe(func(ev chat.Event) { first = append(first, ev.MessageID) })
	b.Subscribe(func(ev chat.Event) { second = append(second, ev.MessageID) })

	b.Publish(event(1, 10))
	b.Publish(event(1, 11))

	// Every subscriber sees each event exactly once, in publish order.
	assert.Equal(t, []int64{10, 11}, first)
	assert.Equal(t, []int64{10, 11}, second)

	unsubFirst()
	b.Publish(event(1, 12))

	assert.Equal(t, []int64{10, 11}, first, "unsubscribed handler must not see later events")
	assert.Equal(t, []int64{10, 11, 12}, second)
}

func TestLateSubscriberSeesNothingOld(t *testing.T) {
	b := New()
	b.Publish(event(1, 1))

	var got []int64
	b.Subscribe(func(ev chat.Event) { got = append(got, ev.MessageID) })
	b.Publish(event(1, 2))

	assert.Equal(t, []int64{2}, got, "no replay of events published before subscribing")
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := New()

	var before, after []int64
	b.Subscribe(func(ev chat.Event) { before = append(before, ev.MessageID) })
	b.Subscribe(func(chat.Event) { panic("handler blew up") })
	b.Subscribe(func(ev chat.Event) { after = append(after, ev.MessageID) })

	require.NotPanics(t, func() { b.Publish(event(1, 7)) })

	assert.Equal(t, []int64{7}, before)
	assert.Equal(t, []int64{7}, after, "handlers after the panicking one still get the event")
}

func TestSubscribeDuringPublish(t *testing.T) {
	b := New()

	var lateGot []int64
	b.Subscribe(func(chat.Event) {
		// A handler that itself subscribes must not corrupt the
		// in-flight delivery and the new handler must not see the
		// current event.
		b.Subscribe(func(ev chat.Event) { lateGot = append(lateGot, ev.MessageID) })
	})

	b.Publish(event(1, 1))
	assert.Empty(t, lateGot)

	b.Publish(event(1, 2))
	assert.Contains(t, lateGot, int64(2))
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()

	var got []int64
	var unsub func()
	unsub = b.Subscribe(func(ev chat.Event) {
		got = append(got, ev.MessageID)
		unsub()
	})

	require.NotPanics(t, func() {
		b.Publish(event(1, 1))
		b.Publish(event(1, 2))
	})
	assert.Equal(t, []int64{1}, got)
	assert.Equal(t, 0, b.Len())
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()

	unsubA := b.Subscribe(func(chat.Event) {})
	b.Subscribe(func(chat.Event) {})

	unsubA()
	unsubA()
	unsubA()

	assert.Equal(t, 1, b.Len(), "repeated unsubscribe must only remove its own registration")
}
