// Package server exposes the aggregator over HTTP. It is deliberately
// thin: credentials come from the request, go to the adapters, and are
// gone when the request ends.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ttg-tools/timegrid/internal/aggregator"
	"github.com/ttg-tools/timegrid/internal/log"
)

// Server is the HTTP API around an Aggregator.
type Server struct {
	echo   *echo.Echo
	agg    *aggregator.Aggregator
	listen string
}

// New wires the routes and middleware.
func New(listen string, agg *aggregator.Aggregator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, agg: agg, listen: listen}

	e.Use(requestLogger)

	e.GET("/healthz", s.health)

	api := e.Group("/api/v1")
	api.GET("/events", s.getEvents)
	api.POST("/worklogs", s.createWorklog)
	api.PUT("/worklogs/:id", s.updateWorklog)

	return s
}

// Start blocks serving the API until Shutdown.
func (s *Server) Start() error {
	log.Info("http API listening", "addr", s.listen)
	return s.echo.Start(s.listen)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger tags every request with an id and logs its outcome.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := uuid.NewString()
		c.Response().Header().Set("X-Request-Id", id)
		startedAt := time.Now()

		err := next(c)

		log.Info("request",
			"id", id,
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration", time.Since(startedAt).Round(time.Millisecond).String(),
		)
		return err
	}
}
