// Package bus implements the in-process publish/subscribe fan-out for chat
// events. It is the local half of the realtime delivery path: the Postgres
// bridge republishes cross-process notifications here, and every open stream
// session subscribes here.
package bus

import (
	"container/list"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cohortly/cohortly/internal/chat"
)

// Handler receives a published event. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(chat.Event)

// Bus fans out events to registered handlers in subscription order. There is
// no buffering and no replay: a handler only sees events published while it
// is subscribed.
type Bus struct {
	mu   sync.Mutex
	subs *list.List // of Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: list.New()}
}

// Subscribe registers fn and returns the capability that removes it again.
// The returned function is safe to call more than once; only the first call
// unsubscribes.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	el := b.subs.PushBack(fn)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs.Remove(el)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev synchronously to every handler subscribed at the
// moment of the call, in subscription order. The subscriber set is
// snapshotted before iterating, so handlers may subscribe or unsubscribe
// (or publish) from within a callback without corrupting delivery.
func (b *Bus) Publish(ev chat.Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, b.subs.Len())
	for el := b.subs.Front(); el != nil; el = el.Next() {
		handlers = append(handlers, el.Value.(Handler))
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		deliver(fn, ev)
	}
}

// Len reports the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs.Len()
}

// deliver isolates handler faults: a panicking handler must not stop
// delivery to the remaining handlers or reach the publisher's caller.
func deliver(fn Handler, ev chat.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", ev.Type).
				Int64("conversation_id", ev.ConversationID).
				Msg("event handler panicked during delivery")
		}
	}()
	fn(ev)
}
