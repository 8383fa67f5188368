// Package bridge keeps the local event bus eventually consistent with every
// other API process by listening on the shared Postgres notification channel
// and republishing each inbound notification locally.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cohortly/cohortly/internal/bus"
	"github.com/cohortly/cohortly/internal/chat"
)

// Reconnect delays. The first retry after a drop is quick; continued
// failures fall back to the longer fixed delay. There is no retry cap: the
// bridge never gives up for the lifetime of the process.
const (
	DefaultShortRetry = 500 * time.Millisecond
	DefaultLongRetry  = 5 * time.Second
)

// Bridge states, reported by State for operators.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateListening  = "listening"
)

// ListenConn is a single LISTEN-ing connection to the notification channel.
type ListenConn interface {
	// WaitForNotification blocks until a payload arrives, the context is
	// canceled, or the connection is lost.
	WaitForNotification(ctx context.Context) (payload string, err error)
	Close(ctx context.Context) error
}

// DialFunc opens a connection that is already listening on the channel.
type DialFunc func(ctx context.Context) (ListenConn, error)

// Bridge owns the process-wide channel connection. A single run goroutine
// performs all dialing, so at most one (re)connect attempt is ever in
// flight, no matter how many error or close signals arrive.
type Bridge struct {
	bus        *bus.Bus
	dial       DialFunc
	shortRetry time.Duration
	longRetry  time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	state atomic.Value // string
}

// New creates a bridge that republishes onto b. A nil dial means no channel
// connection string is configured (or the process runs in a context with no
// server-side Postgres access); Start then becomes a no-op.
func New(b *bus.Bus, dial DialFunc) *Bridge {
	br := &Bridge{
		bus:        b,
		dial:       dial,
		shortRetry: DefaultShortRetry,
		longRetry:  DefaultLongRetry,
	}
	br.state.Store(StateIdle)
	return br
}

// SetRetryDelays overrides the reconnect delays. Only meaningful before
// Start; tests use it to compress time.
func (br *Bridge) SetRetryDelays(short, long time.Duration) {
	br.shortRetry = short
	br.longRetry = long
}

// State reports idle, connecting, or listening.
func (br *Bridge) State() string {
	return br.state.Load().(string)
}

// Start launches the listener loop. It is idempotent and safe to call from
// concurrent first callers: only the first call spawns the loop, every later
// call returns immediately. With no dial configured it records the fact once
// and does nothing.
func (br *Bridge) Start() {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.started {
		return
	}
	br.started = true

	if br.dial == nil {
		log.Info().Msg("chat bridge disabled: no database configured")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	br.cancel = cancel
	br.done = make(chan struct{})
	go br.run(ctx)
}

// Stop tears the bridge down and waits for the loop to exit. Safe to call
// without a prior Start and safe to call twice.
func (br *Bridge) Stop() {
	br.mu.Lock()
	cancel, done := br.cancel, br.done
	br.cancel = nil
	br.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// run is the only goroutine that touches the channel connection. It dials,
// consumes notifications until the connection drops, waits out the retry
// delay, and dials again, forever.
func (br *Bridge) run(ctx context.Context) {
	defer close(br.done)
	defer br.state.Store(StateIdle)

	delay := br.shortRetry
	for {
		br.state.Store(StateConnecting)
		conn, err := br.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retry_in", delay).Msg("chat bridge connect failed")
			if !sleep(ctx, delay) {
				return
			}
			delay = br.longRetry
			continue
		}

		delay = br.shortRetry
		br.state.Store(StateListening)
		log.Info().Str("channel", chat.Channel).Msg("chat bridge listening")

		br.consume(ctx, conn)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}

		log.Warn().Dur("retry_in", delay).Msg("chat bridge connection lost")
		if !sleep(ctx, delay) {
			return
		}
		delay = br.longRetry
	}
}

// consume reads notifications until the context is canceled or the
// connection errors. Payloads that fail validation are dropped: malformed
// input from the channel must never take the process down.
func (br *Bridge) consume(ctx context.Context, conn ListenConn) {
	for {
		payload, err := conn.WaitForNotification(ctx)
		if err != nil {
			return
		}
		ev, err := chat.DecodeEvent([]byte(payload))
		if err != nil {
			log.Debug().Err(err).Str("payload", payload).Msg("discarding malformed notification")
			continue
		}
		br.bus.Publish(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
