// Package server exposes the HTTP control plane: health, bot CRUD and
// lifecycle, server probing and a websocket event feed. It is an admin
// surface and sits behind the operator's reverse proxy; per-user ownership
// is enforced in the telegram front-end, not here.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/craftbot/gocraft/internal/manager"
	"github.com/craftbot/gocraft/internal/mcproto"
	"github.com/craftbot/gocraft/internal/store"
	"github.com/craftbot/gocraft/pkg/cache"
)

const probeCacheTTL = 10 * time.Second

type Config struct {
	Addr string
}

type Server struct {
	cfg       Config
	mgr       *manager.Manager
	db        *store.Store
	startedAt time.Time

	// probe results are cached briefly so a dashboard polling several bots
	// does not ping the same game server once per widget refresh
	probeCache *cache.InMemoryCache[string, mcproto.ProbeResult]
	upgrader   websocket.Upgrader
}

func New(cfg Config, mgr *manager.Manager, db *store.Store) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{
		cfg:        cfg,
		mgr:        mgr,
		db:         db,
		startedAt:  time.Now(),
		probeCache: cache.NewInMemoryCache[string, mcproto.ProbeResult](probeCacheTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")

	bots := api.Group("/bots")
	bots.GET("", s.handleBotsList)
	bots.POST("", s.handleBotsCreate)
	botID := bots.Group("/:botID")
	botID.GET("", s.handleBotGet)
	botID.DELETE("", s.handleBotDelete)
	botID.POST("/start", s.handleBotStart)
	botID.POST("/stop", s.handleBotStop)
	botID.POST("/say", s.handleBotSay)
	botID.POST("/command", s.handleBotCommand)
	botID.GET("/events", s.handleBotEvents)

	api.GET("/probe", s.handleProbe)
	api.GET("/stats", s.handleStats)
	api.GET("/events", s.handleEventsWS)

	return r
}

// HTTPServer builds the http.Server the caller owns and shuts down.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
