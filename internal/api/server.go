package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/db"
	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/health"
	intnet "github.com/rift-companion/companion/internal/network"
	"github.com/rift-companion/companion/internal/protocol"
)

// PresenceService is the presence session as seen by the API.
type PresenceService interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Poll(ctx context.Context) (string, error)
	Status() connector.Status
	LogsTail(n int) []connector.LogEntry
	Friends(ctx context.Context) connector.FriendsView
	SendFakePresence(ctx context.Context, o protocol.PresenceOverrides) error
	SendRaw(ctx context.Context, data string) error
	CheckLocalPresences(ctx context.Context) (connector.LocalPresences, error)
	DiscoverLocalAPI(ctx context.Context) (connector.LocalDiscovery, error)
}

// GameMonitor reports whether the game is running.
type GameMonitor interface {
	GameState() health.GameState
	CheckGame(ctx context.Context) health.GameState
}

// HistoryStore serves the presence journal.
type HistoryStore interface {
	FriendHistory(ctx context.Context, puuid string, limit int) ([]db.FriendRecord, error)
	Broadcasts(ctx context.Context, limit int) ([]db.BroadcastRecord, error)
	Sessions(ctx context.Context, limit int) ([]db.SessionRecord, error)
}

// Server is the local REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	presence PresenceService
	history  HistoryStore
	game     GameMonitor
	version  string

	routerOnce sync.Once
	router     *gin.Engine
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates the API server. history may be nil when the journal is
// disabled, game when no process checks run.
func NewServer(cfg *config.Config, eventBus *events.EventBus, presence PresenceService, history HistoryStore, game GameMonitor, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		presence: presence,
		history:  history,
		game:     game,
		version:  version,
	}
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() { s.router = s.buildRouter() })
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	sec := s.cfg.GetApplicationData().Security
	addr := net.JoinHostPort(sec.BindAddress, strconv.Itoa(sec.Port))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if sec.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	// SO_REUSEADDR for immediate rebinding after a restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if sec.TLSEnabled {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	log.Info().Str("addr", addr).Bool("tls", sec.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
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

func (s *Server) buildRouter() *gin.Engine {
	sec := s.cfg.GetApplicationData().Security
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowWildcard:    true,
		CustomSchemas:    config.CustomOriginSchemes,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	auth := NewAuthMiddleware(sec.Token, sec.AuthDisabled)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleVersion)
	}

	presence := router.Group("/api/presence")
	presence.Use(auth.RequireToken())
	{
		presence.GET("/status", s.handleStatus)
		presence.GET("/logs", s.handleLogs)
		presence.GET("/friends", s.handleFriends)
		presence.GET("/local", s.handleLocalPresences)
		presence.GET("/local/discover", s.handleLocalDiscover)
		presence.GET("/game", s.handleGame)
		presence.GET("/history", s.handleFriendHistory)
		presence.GET("/broadcasts", s.handleBroadcasts)
		presence.GET("/sessions", s.handleSessions)
		presence.GET("/stream", s.handleStream)

		presence.POST("/connect", s.handleConnect)
		presence.POST("/disconnect", s.handleDisconnect)
		presence.POST("/poll", s.handlePoll)
		presence.POST("/fake", s.handleFakePresence)
		presence.POST("/raw", s.handleRaw)
	}

	cfgGroup := router.Group("/api/config")
	cfgGroup.Use(auth.RequireToken())
	{
		cfgGroup.GET("", s.handleGetConfig)
		cfgGroup.PATCH("/presence", s.handleSetPresenceField)
	}

	router.GET("/metrics", auth.RequireToken(), gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// originChecker allows websocket upgrades from the configured CORS origins
// and from clients that send no Origin at all.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
			if prefix, suffix, ok := strings.Cut(o, "*"); ok &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}
}
