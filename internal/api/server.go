// Package api exposes graph optimization over HTTP. A request carries a JSON
// graph, the server runs the enabled fusion passes, and the response returns
// the rewritten graph with an operator histogram.
package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/calebsw/reforge/internal/fusion"
	"github.com/calebsw/reforge/internal/graph"
	"github.com/calebsw/reforge/internal/logger"
	"github.com/calebsw/reforge/internal/version"
)

type Server struct {
	defaults fusion.Options
	log      logger.Logger
}

func NewServer(defaults fusion.Options, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{defaults: defaults, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/optimize", s.handleOptimize)
	e.GET("/v1/healthz", s.handleHealth)
}

func (s *Server) handleOptimize(c *echo.Context) error {
	req, err := decodeJSON[OptimizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Graph) == 0 {
		return writeBadRequest(c, "missing graph")
	}

	g, err := graph.Decode(bytes.NewReader(req.Graph))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := "opt_" + uuid.NewString()
	log := s.log.With("request_id", id)

	changed, err := fusion.Optimize(g, req.Options.apply(s.defaults), log)
	if err != nil {
		var dup *graph.DuplicateOutputError
		var cyc *graph.CycleError
		if errors.As(err, &dup) || errors.As(err, &cyc) {
			return writeError(c, http.StatusUnprocessableEntity, "graph_error", err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	var buf bytes.Buffer
	if err := graph.Encode(&buf, g); err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	return c.JSON(http.StatusOK, OptimizeResponse{
		ID:       id,
		Changed:  changed,
		OpCounts: g.OpCounts(),
		Graph:    json.RawMessage(buf.Bytes()),
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.String(),
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
