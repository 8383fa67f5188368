package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/cohortly/cohortly/internal/chat"
)

// requireSession validates the session cookie and stores the user id in the
// request context.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := s.tokens.VerifyRequest(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired session")
		}
		c.Set("user_id", userID)
		return next(c)
	}
}

func userIDFromContext(c echo.Context) (int64, bool) {
	id, ok := c.Get("user_id").(int64)
	return id, ok
}

func conversationIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid conversation ID")
	}
	return id, nil
}

func messageIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid message ID")
	}
	return id, nil
}

type createMessageRequest struct {
	Body string `json:"body"`
}

// createMessage handles POST /api/v1/conversations/:id/messages. The insert
// commits first; the channel notification afterwards is best-effort and
// never affects the response.
func (s *Server) createMessage(c echo.Context) error {
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing session context")
	}

	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Message body is required")
	}

	ctx := c.Request().Context()
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check membership")
	}
	if !member {
		return echo.NewHTTPError(http.StatusForbidden, "Not a member of this conversation")
	}

	messageID, err := s.store.InsertMessage(ctx, conversationID, userID, req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create message")
	}

	s.bridge.Start()
	_ = s.notifier.MessageCreated(ctx, conversationID, messageID)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":             messageID,
		"conversationId": conversationID,
	})
}

// deleteMessage handles DELETE /api/v1/conversations/:id/messages/:messageId.
func (s *Server) deleteMessage(c echo.Context) error {
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}
	messageID, err := messageIDParam(c)
	if err != nil {
		return err
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing session context")
	}

	ctx := c.Request().Context()
	if err := s.store.DeleteMessage(ctx, conversationID, messageID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "Message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete message")
	}

	s.bridge.Start()
	_ = s.notifier.MessageDeleted(ctx, conversationID, messageID)

	return c.NoContent(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji   string `json:"emoji"`
	Removed bool   `json:"removed"`
}

// setReaction handles PUT /api/v1/conversations/:id/messages/:messageId/reaction.
func (s *Server) setReaction(c echo.Context) error {
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}
	messageID, err := messageIDParam(c)
	if err != nil {
		return err
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing session context")
	}

	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Emoji == "" || utf8.RuneCountInString(req.Emoji) > chat.MaxEmojiLen {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid emoji")
	}

	ctx := c.Request().Context()
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check membership")
	}
	if !member {
		return echo.NewHTTPError(http.StatusForbidden, "Not a member of this conversation")
	}

	if err := s.store.SetReaction(ctx, messageID, userID, req.Emoji, req.Removed); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update reaction")
	}

	s.bridge.Start()
	_ = s.notifier.ReactionChanged(ctx, conversationID, messageID, req.Emoji, req.Removed)

	return c.NoContent(http.StatusNoContent)
}
