// Package api wires the HTTP surface (spec §6) onto the store, pipeline,
// instance registries and pause/resume controller.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/objectstore"
	"sampleforge.io/orchestrator/internal/pauseresume"
	"sampleforge.io/orchestrator/internal/pipeline"
	apperrors "sampleforge.io/orchestrator/internal/pkg/errors"
	"sampleforge.io/orchestrator/internal/registry"
	"sampleforge.io/orchestrator/internal/store"
)

// Server holds every collaborator the route handlers need. It has no
// handler-level state of its own: every request is served straight from the
// store and the long-lived background components built at composition root.
type Server struct {
	store       *store.Queries
	registries  registry.Set
	pipeline    *pipeline.Pipeline
	pauseresume *pauseresume.Controller
	aggregator  *aggregator.Aggregator
	objects     objectstore.Store
}

// NewServer builds a Server.
func NewServer(q *store.Queries, registries registry.Set, p *pipeline.Pipeline, pr *pauseresume.Controller, agg *aggregator.Aggregator, objects objectstore.Store) *Server {
	return &Server{store: q, registries: registries, pipeline: p, pauseresume: pr, aggregator: agg, objects: objects}
}

// envelope is the {code, msg, data} response shape every route returns
// (spec §6).
type envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Code: http.StatusOK, Msg: "ok", Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, envelope{Code: http.StatusCreated, Msg: "created", Data: data})
}

// fail maps an error onto the envelope, using the *apperrors.AppError's own
// code/status when present and falling back to a generic 500.
func fail(c *gin.Context, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, envelope{Code: appErr.HTTPStatus, Msg: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, envelope{Code: http.StatusInternalServerError, Msg: err.Error()})
}

// pagination parses the standard page/per_page query params (spec §6 GET
// /api/tasks "paged list"), defaulting to page 1 / 50 rows, capped at 200.
func pagination(c *gin.Context) (limit, offset int) {
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", 50)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}
	return perPage, (page - 1) * perPage
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
