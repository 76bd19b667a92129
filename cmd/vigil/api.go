package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/vigil-mod/vigil/message"
	"github.com/vigil-mod/vigil/queue"
)

// RunAPI serves the admin and review HTTP API.
func (s *Server) RunAPI(bind string) error {
	return s.buildRouter().Start(bind)
}

func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	if s.adminToken != "" {
		e.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) == 1, nil
		}))
	}

	e.GET("/health", s.handleHealth)
	e.POST("/submit", s.handleSubmit)
	e.POST("/reprocess", s.handleReprocess)
	e.GET("/queue", s.handleQueueList)
	e.POST("/queue/:id/claim", s.handleQueueClaim)
	e.POST("/queue/:id/resolve", s.handleQueueResolve)
	e.GET("/reputation/:group/:user", s.handleReputationGet)
	e.POST("/admin/reload", s.handleConfigReload)

	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit runs one message through the pipeline synchronously and
// returns the decision. Intended for testing and backfill, not the hot path.
func (s *Server) handleSubmit(c echo.Context) error {
	var evt message.RawMessageEvent
	if err := c.Bind(&evt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message event")
	}
	if evt.MessageID == "" || evt.GroupID == "" || evt.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message_id, group_id, and user_id are required")
	}
	dec, err := s.engine.ProcessMessage(c.Request().Context(), evt)
	if err != nil && dec == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// a degraded queue is reported but the decision still returns
	if err != nil {
		s.logger.Error("submit processed with degraded side effects", "record", evt.MessageID, "err", err)
	}
	return c.JSON(http.StatusOK, dec)
}

// handleReprocess re-runs an already-decided message and records a
// superseding decision.
func (s *Server) handleReprocess(c echo.Context) error {
	var evt message.RawMessageEvent
	if err := c.Bind(&evt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message event")
	}
	if evt.MessageID == "" || evt.GroupID == "" || evt.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message_id, group_id, and user_id are required")
	}
	dec, err := s.engine.Reprocess(c.Request().Context(), evt)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, dec)
}

func (s *Server) handleQueueList(c echo.Context) error {
	groupID := c.QueryParam("group")
	if groupID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "group query parameter is required")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	items, err := s.engine.Queue.List(c.Request().Context(), groupID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

type claimRequest struct {
	Reviewer string `json:"reviewer"`
}

func (s *Server) handleQueueClaim(c echo.Context) error {
	var req claimRequest
	if err := c.Bind(&req); err != nil || req.Reviewer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reviewer is required")
	}
	item, err := s.engine.Queue.Claim(c.Request().Context(), c.Param("id"), req.Reviewer)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
	case errors.Is(err, queue.ErrClaimConflict):
		return echo.NewHTTPError(http.StatusConflict, "item already claimed")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

type resolveRequest struct {
	Reviewer   string `json:"reviewer"`
	Resolution string `json:"resolution"`
}

func (s *Server) handleQueueResolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil || req.Reviewer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reviewer is required")
	}
	res := queue.Resolution(req.Resolution)
	switch res {
	case queue.ResolutionConfirmed, queue.ResolutionFalsePositive, queue.ResolutionEscalated:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "resolution must be confirmed, false_positive, or escalated")
	}
	item, err := s.engine.ResolveQueueItem(c.Request().Context(), c.Param("id"), req.Reviewer, res)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
	case errors.Is(err, queue.ErrNotClaimant):
		return echo.NewHTTPError(http.StatusConflict, "item not claimed by this reviewer")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) handleReputationGet(c echo.Context) error {
	score, err := s.engine.Reputation.Get(c.Request().Context(), c.Param("group"), c.Param("user"))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, score)
}

func (s *Server) handleConfigReload(c echo.Context) error {
	if s.configPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no config file configured")
	}
	if err := s.configs.Reload(s.configPath); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reloaded"})
}
