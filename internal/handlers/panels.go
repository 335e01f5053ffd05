package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"actuator_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK = "ok"

	errInvalidPanel  = "panel must be a non-negative integer"
	errInvalidField  = "field must be an integer between 1 and 8"
	errUnknownPanel  = "panel not found"
	errNotRunning    = "panel engine is not running"
	errInternal      = "internal error"
	errInvalidBodyPf = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// respondDomainError maps dashboard errors to HTTP statuses.
func (h *Handler) respondDomainError(c *gin.Context, logKey string, err error, kv ...interface{}) {
	switch {
	case errors.Is(err, service.ErrUnknownPanel):
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownPanel})
	case errors.Is(err, service.ErrInvalidField):
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidField})
	case errors.Is(err, service.ErrEngineNotRunning):
		h.logAndJSONError(c, http.StatusServiceUnavailable, errNotRunning, logKey, err, kv...)
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errInternal, logKey, err, kv...)
	}
}

// panelParam reads :panel, writing a 400 on failure.
func panelParam(c *gin.Context) (int, bool) {
	p, err := strconv.Atoi(c.Param("panel"))
	if err != nil || p < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidPanel})
		return 0, false
	}
	return p, true
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      List panels
// @Description  Configured channels with their actuator labels. API keys are never returned.
// @Tags         panels
// @Produce      json
// @Success      200  {array}   models.PanelInfo
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/panels [get]
// @Security     BearerAuth
func (h *Handler) listPanels(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Dashboard.Panels())
}

// @Summary      Get panel state
// @Tags         panels
// @Produce      json
// @Param        panel  path      int  true  "Panel index"
// @Success      200    {object}  models.Snapshot
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      404    {object}  map[string]string
// @Router       /api/v1/panels/{panel}/state [get]
// @Security     BearerAuth
func (h *Handler) getPanelState(c *gin.Context) {
	panel, ok := panelParam(c)
	if !ok {
		return
	}
	snap, err := h.services.Dashboard.Snapshot(panel)
	if err != nil {
		h.respondDomainError(c, "panel_get_state_failed", err, "panel", panel)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary      Toggle an actuator
// @Description  Flips the field immediately and schedules a batched write to the channel.
// @Tags         panels
// @Produce      json
// @Param        panel  path      int  true  "Panel index"
// @Param        field  path      int  true  "Field 1-8"
// @Success      200    {object}  models.Snapshot
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      404    {object}  map[string]string
// @Failure      503    {object}  map[string]string
// @Router       /api/v1/panels/{panel}/fields/{field}/toggle [post]
// @Security     BearerAuth
func (h *Handler) toggleField(c *gin.Context) {
	panel, ok := panelParam(c)
	if !ok {
		return
	}
	field, err := strconv.Atoi(c.Param("field"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidField})
		return
	}
	snap, err := h.services.Dashboard.Toggle(panel, field)
	if err != nil {
		h.respondDomainError(c, "panel_toggle_failed", err, "panel", panel, "field", field)
		return
	}
	c.JSON(http.StatusOK, snap)
}
