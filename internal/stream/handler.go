// Package stream serves long-lived Server-Sent Events connections. Each
// request becomes one session that subscribes to the local event bus and
// forwards the events its user is allowed to observe until the client
// disconnects.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cohortly/cohortly/internal/bus"
)

// DefaultHeartbeat keeps intermediary proxies from closing idle streams.
const DefaultHeartbeat = 25 * time.Second

// TokenVerifier authenticates the caller of a stream request. Implemented by
// the auth token service.
type TokenVerifier interface {
	VerifyRequest(r *http.Request) (userID int64, err error)
}

// MembershipResolver reports the conversations a user may observe. The set
// is resolved once per stream open and not refreshed for the life of the
// session.
type MembershipResolver interface {
	ListConversationIDsForUser(ctx context.Context, userID int64) (map[int64]struct{}, error)
}

// Handler serves the chat event stream endpoint.
type Handler struct {
	bus        *bus.Bus
	verifier   TokenVerifier
	membership MembershipResolver
	heartbeat  time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler creates a stream handler. heartbeat <= 0 selects the default.
func NewHandler(b *bus.Bus, verifier TokenVerifier, membership MembershipResolver, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{
		bus:        b,
		verifier:   verifier,
		membership: membership,
		heartbeat:  heartbeat,
		done:       make(chan struct{}),
	}
}

// Close terminates every open session so their handlers return and run
// cleanup. Called at server shutdown, before the HTTP listener drains;
// otherwise open streams would hold the drain until its deadline. Idempotent.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Stream handles GET /api/v1/chat/stream. An unauthenticated caller gets a
// plain-text 401 and no stream; an authenticated caller holds the response
// open until the transport aborts or the server shuts down.
func (h *Handler) Stream(c echo.Context) error {
	userID, err := h.verifier.VerifyRequest(c.Request())
	if err != nil {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}

	ctx := c.Request().Context()
	members, err := h.membership.ListConversationIDsForUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to resolve conversation memberships")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve conversations")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache, no-transform")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	sess := newSession(resp, members)
	sessionID := uuid.NewString()
	log.Info().
		Str("session_id", sessionID).
		Int64("user_id", userID).
		Int("conversations", len(members)).
		Msg("chat stream opened")

	sess.run(ctx, h.done, h.bus, h.heartbeat)

	log.Info().Str("session_id", sessionID).Int64("user_id", userID).Msg("chat stream closed")
	return nil
}
