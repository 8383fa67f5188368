package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cohortly/cohortly/internal/bus"
	"github.com/cohortly/cohortly/internal/chat"
)

// flushWriter is the slice of echo.Response a session writes through.
type flushWriter interface {
	io.Writer
	Flush()
}

// controlFrame is the non-event traffic on a stream: the initial ready
// marker and periodic pings.
type controlFrame struct {
	Type string `json:"type"`
	At   int64  `json:"at"`
}

// session is the per-connection state machine. It moves from streaming to
// closed exactly once; cleanup (stop heartbeat, unsubscribe, seal the
// writer) runs exactly once even when the transport abort races an in-flight
// delivery.
type session struct {
	out     flushWriter
	members map[int64]struct{}

	mu     sync.Mutex // serializes writes; guards closed
	closed bool

	closeOnce sync.Once
	ticker    *time.Ticker
	unsub     func()
}

func newSession(out flushWriter, members map[int64]struct{}) *session {
	return &session{out: out, members: members}
}

// run streams until ctx is done or the server-wide done channel closes. It
// emits the ready frame first so the client knows the stream is live, then
// forwards bus events filtered by membership, interleaved with heartbeat
// pings.
func (s *session) run(ctx context.Context, done <-chan struct{}, b *bus.Bus, heartbeat time.Duration) {
	s.writeControl("ready")

	s.unsub = b.Subscribe(func(ev chat.Event) {
		if _, ok := s.members[ev.ConversationID]; !ok {
			return
		}
		s.writeFrame(ev)
	})
	s.ticker = time.NewTicker(heartbeat)
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-s.ticker.C:
			s.writeControl("ping")
		}
	}
}

// close performs the mandatory cleanup actions exactly once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		if s.unsub != nil {
			s.unsub()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
}

func (s *session) writeControl(kind string) {
	s.writeFrame(controlFrame{Type: kind, At: time.Now().UnixMilli()})
}

// writeFrame serializes v as one text/event-stream frame. There is no
// buffering: if the transport rejects the write, this one item is lost for
// this session, which the at-most-once delivery contract allows.
func (s *session) writeFrame(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode stream frame")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, err := fmt.Fprintf(s.out, "data: %s\n\n", data); err != nil {
		log.Debug().Err(err).Msg("dropped stream frame")
		return
	}
	s.out.Flush()
}
