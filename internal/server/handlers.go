package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/playwatch/internal/auth"
	"github.com/loykin/playwatch/internal/catalog"
	"github.com/loykin/playwatch/internal/classifier"
	"github.com/loykin/playwatch/internal/monitor"
	"github.com/loykin/playwatch/internal/orchestrator"
	"github.com/loykin/playwatch/internal/process"
	"github.com/loykin/playwatch/internal/steam"
	"github.com/loykin/playwatch/internal/store"
)

// StateResponse is the body of GET /state.
type StateResponse struct {
	Response orchestrator.IntervalResponse `json:"response"`
	Tracked  *monitor.Tracked              `json:"tracked,omitempty"`
	Degraded bool                          `json:"degraded"`
}

// UpsertResponse is the body of PUT /games.
type UpsertResponse struct {
	ID int64 `json:"id"`
}

// SettingBody is the body of GET and PUT /settings/:key.
type SettingBody struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

func (r *Router) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse{
		Response: r.o.Current(),
		Tracked:  r.o.Tracked(),
		Degraded: r.o.Degraded(),
	})
}

// repo writes a 503 and returns nil when running without a catalog.
func (r *Router) repo(c *gin.Context) store.Repository {
	repo := r.o.Repository()
	if repo == nil {
		respondError(c, http.StatusServiceUnavailable, "catalog_unavailable", "Running without a game catalog")
	}
	return repo
}

func (r *Router) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "No matching record")
	case errors.Is(err, store.ErrInvalidGame):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		r.logger.Error("catalog request failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (r *Router) handleGames(c *gin.Context) {
	repo := r.repo(c)
	if repo == nil {
		return
	}
	games, err := repo.GetAll(c.Request.Context())
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, games)
}

func (r *Router) handleGame(c *gin.Context) {
	repo := r.repo(c)
	if repo == nil {
		return
	}
	g, err := repo.GetByAppID(c.Request.Context(), c.Param("appId"), c.Param("source"))
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (r *Router) handleLookup(c *gin.Context) {
	exe := c.Query("executable")
	path := c.Query("path")
	if (exe == "") == (path == "") {
		respondError(c, http.StatusBadRequest, "invalid_request", "exactly one of executable, path query param required")
		return
	}
	repo := r.repo(c)
	if repo == nil {
		return
	}
	var (
		g   store.Game
		err error
	)
	if exe != "" {
		g, err = repo.GetByExecutable(c.Request.Context(), exe)
	} else {
		g, err = repo.GetByPath(c.Request.Context(), path)
	}
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (r *Router) handlePutGame(c *gin.Context) {
	var g store.Game
	if err := c.ShouldBindJSON(&g); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}
	repo := r.repo(c)
	if repo == nil {
		return
	}
	id, err := repo.Upsert(c.Request.Context(), catalog.Normalize(g))
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UpsertResponse{ID: id})
}

func (r *Router) handleScan(c *gin.Context) {
	res, err := r.o.ScanCatalog(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, orchestrator.ErrNoRepository):
		respondError(c, http.StatusServiceUnavailable, "catalog_unavailable", "Running without a game catalog")
	case errors.Is(err, steam.ErrClientNotFound):
		respondError(c, http.StatusNotFound, "client_not_found", err.Error())
	default:
		r.logger.Error("catalog scan failed", "error", err)
		respondError(c, http.StatusInternalServerError, "scan_failed", err.Error())
	}
}

func (r *Router) handleGetSetting(c *gin.Context) {
	repo := r.repo(c)
	if repo == nil {
		return
	}
	key := c.Param("key")
	v, err := repo.GetSetting(c.Request.Context(), key)
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SettingBody{Key: key, Value: v})
}

func (r *Router) handlePutSetting(c *gin.Context) {
	var body SettingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "key required")
		return
	}
	repo := r.repo(c)
	if repo == nil {
		return
	}
	if err := repo.SetSetting(c.Request.Context(), key, body.Value); err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SettingBody{Key: key, Value: body.Value})
}

func (r *Router) handleClassify(c *gin.Context) {
	var rec process.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}
	c.JSON(http.StatusOK, classifier.Classify(rec, r.rules))
}

func (r *Router) handleLogin(c *gin.Context) {
	if !r.auth.Enabled() {
		respondError(c, http.StatusNotFound, "auth_disabled", "Authentication is not enabled")
		return
	}
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}
	tok, err := r.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "authentication_failed", "Invalid credentials")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, tok)
}
