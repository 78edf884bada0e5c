// Package api exposes the REST surface: follow management, manual signal
// copies, position closes, and the read-side queries (trades, positions,
// portfolio, dead letters).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/config"
	"github.com/ajitpratap0/whalecopy/internal/risk"
	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Trader is the command surface the API drives. Satisfied by *engine.Engine.
type Trader interface {
	ClosePosition(ctx context.Context, positionID uuid.UUID, reason store.CloseReason, signalID *uuid.UUID) error
	CopySignalManually(ctx context.Context, userID, signalID uuid.UUID, sizeOverride decimal.Decimal, venueOverride *venue.Venue) error
}

// Server is the REST API server
type Server struct {
	router *gin.Engine
	store  *store.Store
	trader Trader
	risk   *risk.Manager
	addr   string
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(cfg config.APIConfig, st *store.Store, trader Trader, riskMgr *risk.Manager, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router: router,
		store:  st,
		trader: trader,
		risk:   riskMgr,
		addr:   cfg.GetAPIAddr(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Start runs the HTTP server until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request through the service logger
func LoggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		event := logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}
		event.Msg("API request")
	}
}
