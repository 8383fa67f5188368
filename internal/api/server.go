package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/cohortly/cohortly/internal/auth"
	"github.com/cohortly/cohortly/internal/bridge"
	"github.com/cohortly/cohortly/internal/bus"
	"github.com/cohortly/cohortly/internal/config"
	"github.com/cohortly/cohortly/internal/database"
	"github.com/cohortly/cohortly/internal/notify"
	"github.com/cohortly/cohortly/internal/store"
	"github.com/cohortly/cohortly/internal/stream"
)

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	db       *sql.DB
	bus      *bus.Bus
	bridge   *bridge.Bridge
	notifier *notify.Notifier
	store    *store.Store
	tokens   *auth.TokenService
	streams  *stream.Handler
}

// NewServer creates a new API server
func NewServer(cfg *config.Config) (*Server, error) {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	b := bus.New()
	br := bridge.New(b, bridge.PostgresDial(cfg.Database.URL))
	br.SetRetryDelays(
		time.Duration(cfg.Chat.ShortRetryMillis)*time.Millisecond,
		time.Duration(cfg.Chat.LongRetryMillis)*time.Millisecond,
	)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret)
	st := store.New(db)

	server := &Server{
		echo:     e,
		cfg:      cfg,
		db:       db,
		bus:      b,
		bridge:   br,
		notifier: notify.New(db),
		store:    st,
		tokens:   tokens,
		streams: stream.NewHandler(b, tokens, st,
			time.Duration(cfg.Chat.HeartbeatSeconds)*time.Second),
	}

	server.setupRoutes()

	return server, nil
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.getHealth)

	v1 := s.echo.Group("/api/v1")

	// The stream endpoint does its own cookie auth so an unauthorized
	// caller gets a plain-text 401 instead of a JSON error envelope.
	v1.GET("/chat/stream", func(c echo.Context) error {
		s.bridge.Start()
		return s.streams.Stream(c)
	})

	msgs := v1.Group("/conversations/:id", s.requireSession)
	msgs.POST("/messages", s.createMessage)
	msgs.DELETE("/messages/:messageId", s.deleteMessage)
	msgs.PUT("/messages/:messageId/reaction", s.setReaction)
}

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"bridge": s.bridge.State(),
	})
}

// Start begins the API server
func (s *Server) Start() error {
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Open streams never end on their own; release them first so the
	// listener drain below does not sit on its deadline.
	s.streams.Close()
	err := s.echo.Shutdown(ctx)
	s.bridge.Stop()
	if s.db != nil {
		s.db.Close()
	}
	return err
}
