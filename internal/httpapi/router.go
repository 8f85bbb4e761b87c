// Package httpapi exposes the WebSocket endpoint and read-only JSON views.
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-session/internal/obslog"
	"github.com/park285/cheese-chess-session/internal/session"
)

const (
	defaultResultLimit = 10
	maxResultLimit     = 50
)

// StatusSource reports the live session; *session.Coordinator implements it.
type StatusSource interface {
	Status(ctx context.Context) (session.Status, error)
}

// ResultLister lists finished games; *mirror.Mirror implements it.
type ResultLister interface {
	Recent(ctx context.Context, limit int) ([]session.Record, error)
	Game(ctx context.Context, id string) (*session.Record, error)
}

type handler struct {
	status  StatusSource
	results ResultLister
	logger  *zap.Logger
}

// New builds the router. results may be nil when no mirror is configured.
func New(ws http.Handler, status StatusSource, results ResultLister) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	RegisterRoutes(e, ws, status, results)
	return e
}

func RegisterRoutes(e *echo.Echo, ws http.Handler, status StatusSource, results ResultLister) {
	h := &handler{status: status, results: results, logger: obslog.Named("http")}
	e.GET("/healthz", Health)
	e.GET("/ws", echo.WrapHandler(ws))
	e.GET("/api/state", h.State)
	e.GET("/api/results", h.Results)
	e.GET("/api/results/:id", h.Result)
}

func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *handler) State(c echo.Context) error {
	st, err := h.status.Status(c.Request().Context())
	if err != nil {
		h.logger.Warn("http_state_failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session unavailable")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *handler) Results(c echo.Context) error {
	limit := defaultResultLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxResultLimit)
	}
	if h.results == nil {
		return c.JSON(http.StatusOK, []session.Record{})
	}
	recs, err := h.results.Recent(c.Request().Context(), limit)
	if err != nil {
		h.logger.Warn("http_results_failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "results unavailable")
	}
	if recs == nil {
		recs = []session.Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *handler) Result(c echo.Context) error {
	if h.results == nil {
		return echo.NewHTTPError(http.StatusNotFound, "game not found")
	}
	rec, err := h.results.Game(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Warn("http_result_failed", zap.String("game_id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "results unavailable")
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "game not found")
	}
	return c.JSON(http.StatusOK, rec)
}
