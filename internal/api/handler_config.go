package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-gate-backend/internal/pricing"
	"parking-gate-backend/internal/reconcile"
)

// GetTariff returns the tariff currently used to price exits.
func (h *Handler) GetTariff(c *gin.Context) {
	t, err := h.engine.Tariff(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PutTariff replaces the stored tariff.
func (h *Handler) PutTariff(c *gin.Context) {
	var t pricing.Tariff
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.SetTariff(c.Request.Context(), t); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type pinRequest struct {
	Kind reconcile.PinKind `json:"kind" binding:"required"`
	Pin  string            `json:"pin" binding:"required"`
}

// SetPin stores a keypad code and pushes it to the controller.
func (h *Handler) SetPin(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.SetPin(c.Request.Context(), req.Kind, req.Pin); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SyncDisplay re-sends keypad codes and the free-space text to the controller.
func (h *Handler) SyncDisplay(c *gin.Context) {
	if err := h.engine.SyncDisplay(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
