// Package api exposes the read-only diagnostic HTTP API: health, recovery
// status, live events, and the attendance ledger.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cinebot/attend/internal/attend"
	"github.com/cinebot/attend/internal/session"
	"github.com/cinebot/attend/internal/store"
)

// EngineReader is the engine surface the API reads from.
type EngineReader interface {
	GetRecoveryStatus() attend.RecoveryStatus
	ActiveEvents() []session.ActiveEvent
	QualifiedEventCount(ctx context.Context, guildID, userID string) (int, error)
}

// AttendanceReader is the ledger surface the API reads from.
// Implemented by *store.Store.
type AttendanceReader interface {
	ListAttendanceByDate(ctx context.Context, guildID, eventDate string) ([]store.AttendanceRecord, error)
	GetGuildStats(ctx context.Context, guildID string) (*store.GuildStats, error)
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	engine     EngineReader
	ledger     AttendanceReader
	token      string
	logger     *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithToken enables bearer-token auth on everything except /health.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the API server.
func NewServer(addr string, engine EngineReader, ledger AttendanceReader, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		ledger: ledger,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	// Health stays unauthenticated for probes.
	router.GET("/api/v1/health", s.handleHealth)

	v1 := router.Group("/api/v1", bearerAuth(s.token))
	v1.GET("/status", s.handleStatus)
	v1.GET("/guilds/:guild_id/attendance/:date", s.handleAttendanceByDate)
	v1.GET("/guilds/:guild_id/users/:user_id/qualified", s.handleQualifiedCount)
	v1.GET("/guilds/:guild_id/stats", s.handleGuildStats)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "path": c.Request.URL.Path})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the HTTP handler (for testing).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
