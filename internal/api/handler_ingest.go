package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-gate-backend/internal/bus"
)

// PostPlateEvent accepts a camera detection over HTTP and queues it on the bus.
func (h *Handler) PostPlateEvent(c *gin.Context) {
	var p bus.PlatePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.ingest.PlateDetected(p); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// PostPayment accepts a payment confirmation and queues it on the bus.
func (h *Handler) PostPayment(c *gin.Context) {
	var p bus.PaymentPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.ingest.PaymentConfirmed(p); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
