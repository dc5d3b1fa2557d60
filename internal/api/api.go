// Package api exposes the task store over HTTP with echo.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/amirbrooks/tasker-engine/internal/store"
)

const (
	maxBodySize = 64 << 10

	// HeaderSaveFailed is set on a successful response whose change was
	// applied but could not be persisted.
	HeaderSaveFailed = "X-Tasker-Save-Failed"
)

// Service is the subset of *store.Store the handlers use.
type Service interface {
	Create(ctx context.Context, title, category string) (*store.Task, error)
	Update(ctx context.Context, id string, patch store.TaskPatch) (*store.Task, error)
	ToggleComplete(ctx context.Context, id string) (*store.Task, error)
	Delete(ctx context.Context, id string) (bool, error)
	Reorder(ctx context.Context, id string, position int) error
	Task(id string) (*store.Task, error)
	ActiveByCategory() []store.CategoryGroup
	CompletedByDay() []store.DayGroup
	Categories() []string
	AddCategory(ctx context.Context, name string) error
	Settings() store.Settings
	SetDefaultCategory(ctx context.Context, name string) error
}

type createRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

type updateRequest struct {
	Title    *string `json:"title"`
	Category *string `json:"category"`
}

type reorderRequest struct {
	Position *int `json:"position"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

type settingsRequest struct {
	DefaultCategory string `json:"defaultCategory"`
}

type activeResponse struct {
	Groups []store.CategoryGroup `json:"groups"`
}

type completedResponse struct {
	Groups []store.DayGroup `json:"groups"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

type handlers struct {
	svc Service
	log log.FieldLogger
}

// Register wires every route on e. The broker's Expired method should be
// installed as the store's expiry callback so /api/events sees expiries.
func Register(e *echo.Echo, svc Service, broker *Broker, logger log.FieldLogger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{svc: svc, log: logger.WithField("component", "api")}

	e.GET("/healthz", healthz)
	e.GET("/api/tasks/active", h.active)
	e.GET("/api/tasks/completed", h.completed)
	e.POST("/api/tasks", h.create)
	e.GET("/api/tasks/:id", h.get)
	e.PATCH("/api/tasks/:id", h.update)
	e.DELETE("/api/tasks/:id", h.remove)
	e.POST("/api/tasks/:id/toggle", h.toggle)
	e.POST("/api/tasks/:id/reorder", h.reorder)
	e.GET("/api/categories", h.categories)
	e.POST("/api/categories", h.addCategory)
	e.GET("/api/settings", h.settings)
	e.PUT("/api/settings", h.putSettings)
	e.GET("/api/events", streamEvents(broker))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handlers) active(c echo.Context) error {
	return c.JSON(http.StatusOK, activeResponse{Groups: h.svc.ActiveByCategory()})
}

func (h *handlers) completed(c echo.Context) error {
	return c.JSON(http.StatusOK, completedResponse{Groups: h.svc.CompletedByDay()})
}

func (h *handlers) create(c echo.Context) error {
	var req createRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	task, err := h.svc.Create(c.Request().Context(), req.Title, req.Category)
	return h.respond(c, http.StatusCreated, task, err)
}

func (h *handlers) get(c echo.Context) error {
	task, err := h.svc.Task(c.Param("id"))
	return h.respond(c, http.StatusOK, task, err)
}

func (h *handlers) update(c echo.Context) error {
	var req updateRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	task, err := h.svc.Update(c.Request().Context(), c.Param("id"), store.TaskPatch{Title: req.Title, Category: req.Category})
	return h.respond(c, http.StatusOK, task, err)
}

func (h *handlers) remove(c echo.Context) error {
	removed, err := h.svc.Delete(c.Request().Context(), c.Param("id"))
	if !removed && err == nil {
		return c.String(http.StatusNotFound, store.ErrNotFound.Error())
	}
	return h.respond(c, http.StatusNoContent, nil, err)
}

func (h *handlers) toggle(c echo.Context) error {
	task, err := h.svc.ToggleComplete(c.Request().Context(), c.Param("id"))
	return h.respond(c, http.StatusOK, task, err)
}

func (h *handlers) reorder(c echo.Context) error {
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil || req.Position == nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	id := c.Param("id")
	err := h.svc.Reorder(c.Request().Context(), id, *req.Position)
	if err != nil && !errors.Is(err, store.ErrSaveFailed) {
		return h.respond(c, http.StatusOK, nil, err)
	}
	task, terr := h.svc.Task(id)
	if terr != nil {
		return h.respond(c, http.StatusOK, nil, terr)
	}
	return h.respond(c, http.StatusOK, task, err)
}

func (h *handlers) categories(c echo.Context) error {
	return c.JSON(http.StatusOK, categoriesResponse{Categories: h.svc.Categories()})
}

func (h *handlers) addCategory(c echo.Context) error {
	var req categoryRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	err := h.svc.AddCategory(c.Request().Context(), req.Name)
	return h.respond(c, http.StatusCreated, categoriesResponse{Categories: h.svc.Categories()}, err)
}

func (h *handlers) settings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Settings())
}

func (h *handlers) putSettings(c echo.Context) error {
	var req settingsRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	err := h.svc.SetDefaultCategory(c.Request().Context(), req.DefaultCategory)
	return h.respond(c, http.StatusOK, h.svc.Settings(), err)
}

// respond maps store errors to status codes. A failed save still answers
// with the result and marks the response with HeaderSaveFailed.
func (h *handlers) respond(c echo.Context, status int, body any, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSaveFailed):
		h.log.WithError(err).WithField("path", c.Path()).Warn("change not persisted")
		c.Response().Header().Set(HeaderSaveFailed, "true")
	case errors.Is(err, store.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalid):
		return c.String(http.StatusBadRequest, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if status == http.StatusNoContent || body == nil {
		return c.NoContent(status)
	}
	return c.JSON(status, body)
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
