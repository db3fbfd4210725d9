package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/util"
)

// Executor runs commands on the shared console.
type Executor interface {
	Exec(ctx context.Context, source, command string) (console.Result, error)
	Status() console.Status
}

// HistoryReader lists recorded commands.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]db.HistoryEntry, error)
}

// Server is the REST bridge to the console.
type Server struct {
	cfg     config.APIConfig
	exec    Executor
	history HistoryReader
	logger  zerolog.Logger
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. history may be nil when the history
// store is disabled.
func NewServer(cfg config.APIConfig, logLevel string, exec Executor, history HistoryReader) *Server {
	if logLevel == "debug" || logLevel == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		exec:    exec,
		history: history,
		logger:  util.ComponentLogger("api"),
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Listen, strconv.Itoa(s.cfg.Port))
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api")
	api.GET("/ping", s.handlePing)

	protected := api.Group("")
	protected.Use(RequireToken(s.cfg.Token))
	{
		protected.GET("/status", s.handleStatus)
		protected.POST("/exec", s.handleExec)
		protected.GET("/history", s.handleHistory)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
