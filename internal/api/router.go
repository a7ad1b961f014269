// Package api serves the Lavalink v4 compatible REST and websocket surface.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aelira-dev/aelira/internal/config"
	"github.com/aelira-dev/aelira/internal/health"
	"github.com/aelira-dev/aelira/internal/observe"
	"github.com/aelira-dev/aelira/internal/routeplanner"
	"github.com/aelira-dev/aelira/internal/session"
	"github.com/aelira-dev/aelira/internal/source"
	"github.com/aelira-dev/aelira/internal/sysmon"
)

// Server bundles the dependencies of the HTTP surface.
type Server struct {
	cfg      *config.Config
	sessions *session.Registry
	sources  *source.Registry
	sampler  *sysmon.Sampler
	planner  *routeplanner.Planner
	metrics  *observe.Metrics
	version  string
	log      *slog.Logger
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Cfg      *config.Config
	Sessions *session.Registry
	Sources  *source.Registry
	Sampler  *sysmon.Sampler
	Planner  *routeplanner.Planner
	Metrics  *observe.Metrics
	Version  string
	Log      *slog.Logger
}

// NewServer builds the HTTP surface.
func NewServer(deps Deps) *Server {
	return &Server{
		cfg:      deps.Cfg,
		sessions: deps.Sessions,
		sources:  deps.Sources,
		sampler:  deps.Sampler,
		planner:  deps.Planner,
		metrics:  deps.Metrics,
		version:  deps.Version,
		log:      deps.Log.With("component", "API"),
	}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observe.Middleware(s.metrics))

	r.GET("/version", s.handleVersion)

	healthHandler := health.New(health.Checker{
		Name:  "sources",
		Check: s.checkSources,
	})
	r.GET("/healthz", gin.WrapF(healthHandler.Healthz))
	r.GET("/readyz", gin.WrapF(healthHandler.Readyz))

	if s.cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v4 := r.Group("/v4", s.authMiddleware())
	{
		v4.GET("/info", s.handleInfo)
		v4.GET("/stats", s.handleStats)
		v4.GET("/loadtracks", s.handleLoadTracks)
		v4.GET("/decodetrack", s.handleDecodeTrack)
		v4.POST("/decodetracks", s.handleDecodeTracks)
		v4.GET("/encodetrack", s.handleEncodeTrack)
		v4.POST("/encodetracks", s.handleEncodeTracks)

		v4.PATCH("/sessions/:sessionId", s.handleUpdateSession)
		v4.GET("/sessions/:sessionId/players", s.handleListPlayers)
		v4.GET("/sessions/:sessionId/players/:guildId", s.handleGetPlayer)
		v4.PATCH("/sessions/:sessionId/players/:guildId", s.handleUpdatePlayer)
		v4.DELETE("/sessions/:sessionId/players/:guildId", s.handleDeletePlayer)

		v4.GET("/routeplanner/status", s.handleRoutePlannerStatus)
		v4.POST("/routeplanner/free/address", s.handleRoutePlannerFreeAddress)
		v4.POST("/routeplanner/free/all", s.handleRoutePlannerFreeAll)

		v4.GET("/websocket", s.handleWebSocket)
	}

	return r
}

// authMiddleware rejects requests whose Authorization header does not match
// the configured password. With no password configured, everything passes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		password := s.cfg.Server.Password
		if password == "" {
			return
		}
		if c.GetHeader("Authorization") != password {
			abortWithError(c, 401, "Invalid authorization header")
		}
	}
}
