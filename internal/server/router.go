package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/playwatch/internal/auth"
	"github.com/loykin/playwatch/internal/classifier"
	"github.com/loykin/playwatch/internal/orchestrator"
)

// Router provides embeddable HTTP handlers for the detector.
// Endpoints, relative to basePath:
//
//	GET  /state                       current IntervalResponse and tracked process
//	GET  /games                       whole catalog
//	GET  /games/:source/:appId        one game
//	GET  /games/lookup                query: executable=... OR path=...
//	PUT  /games                       body: game JSON, merged into the catalog
//	POST /scan                        run a catalog scan now
//	GET  /settings/:key
//	PUT  /settings/:key               body: {"value": "..."}
//	POST /classify                    body: process record JSON
//	POST /auth/login                  body: {"username","password"}
//
// Everything except /auth/login requires a bearer token when auth is enabled.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	o        *orchestrator.Orchestrator
	rules    classifier.Rules
	auth     *auth.Service
	logger   *slog.Logger
	basePath string
}

// NewRouter constructs a Router. authSvc may be nil for an open API.
func NewRouter(o *orchestrator.Orchestrator, rules classifier.Rules, authSvc *auth.Service, basePath string) *Router {
	return &Router{o: o, rules: rules, auth: authSvc, logger: slog.Default(), basePath: normalizeBasePath(basePath)}
}

// WithLogger sets the request logger.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.logger = l
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog())
	r.Register(g.Group(r.basePath))
	return g
}

// Register mounts the routes on an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.POST("/auth/login", r.handleLogin)

	api := group.Group("", auth.NewMiddleware(r.auth).GinAuth())
	api.GET("/state", r.handleState)
	api.GET("/games", r.handleGames)
	api.GET("/games/lookup", r.handleLookup)
	api.GET("/games/:source/:appId", r.handleGame)
	api.PUT("/games", r.handlePutGame)
	api.POST("/scan", r.handleScan)
	api.GET("/settings/:key", r.handleGetSetting)
	api.PUT("/settings/:key", r.handlePutSetting)
	api.POST("/classify", r.handleClassify)
}

func (r *Router) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("http request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
