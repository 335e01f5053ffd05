package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"actuator_dashboard/internal/models"
	"actuator_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

// The remote service answers "-1" for reads it cannot serve and "0" for
// rejected updates; the emulator does the same.
const (
	simReadRejected   = "-1"
	simUpdateRejected = "0"
)

// @Summary      Emulated channel: last entry
// @Tags         simulator
// @Produce      json
// @Param        channel  path   string  true  "Channel id"
// @Param        api_key  query  string  true  "Read or write key"
// @Success      200  {object}  map[string]interface{}
// @Router       /sim/channels/{channel}/feeds/last.json [get]
func (h *Handler) simLastEntry(c *gin.Context) {
	e, err := h.services.Simulator.LastEntry(c.Request.Context(), c.Param("channel"), c.Query("api_key"))
	switch {
	case errors.Is(err, service.ErrUnknownChannel):
		c.String(http.StatusNotFound, simReadRejected)
		return
	case errors.Is(err, service.ErrInvalidAPIKey):
		c.String(http.StatusBadRequest, simReadRejected)
		return
	case err != nil:
		if h.log != nil {
			h.log.Errorw("sim_last_entry_failed", "err", err, "channel", c.Param("channel"))
		}
		c.String(http.StatusInternalServerError, simReadRejected)
		return
	}
	if e.EntryID == 0 {
		c.String(http.StatusOK, simReadRejected)
		return
	}
	c.JSON(http.StatusOK, feedEntryJSON(e))
}

// feedEntryJSON renders an entry the way the remote does: absent fields are null.
func feedEntryJSON(e models.FeedEntry) gin.H {
	out := gin.H{
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		"entry_id":   e.EntryID,
	}
	for i := 1; i <= models.FieldCount; i++ {
		if v := e.Fields[i-1]; v != nil {
			out[models.FieldKey(i)] = *v
		} else {
			out[models.FieldKey(i)] = nil
		}
	}
	return out
}

// @Summary      Emulated channel: update
// @Tags         simulator
// @Produce      plain
// @Param        api_key  query  string  true  "Write key"
// @Success      200  {string}  string  "entry id, or 0 when rejected"
// @Router       /sim/update [get]
func (h *Handler) simUpdate(c *gin.Context) {
	values := make(map[int]string, models.FieldCount)
	for i := 1; i <= models.FieldCount; i++ {
		if v, ok := c.GetQuery(models.FieldKey(i)); ok {
			values[i] = v
		} else if v, ok := c.GetPostForm(models.FieldKey(i)); ok {
			values[i] = v
		}
	}
	key := c.Query("api_key")
	if key == "" {
		key = c.PostForm("api_key")
	}

	id, err := h.services.Simulator.Update(c.Request.Context(), key, values)
	switch {
	case err == nil:
		c.String(http.StatusOK, strconv.Itoa(id))
	case errors.Is(err, service.ErrInvalidAPIKey),
		errors.Is(err, service.ErrRateLimited),
		errors.Is(err, service.ErrEmptyUpdate):
		c.String(http.StatusOK, simUpdateRejected)
	default:
		if h.log != nil {
			h.log.Errorw("sim_update_failed", "err", err)
		}
		c.String(http.StatusInternalServerError, simUpdateRejected)
	}
}
