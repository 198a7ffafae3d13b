package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListBadges returns stored badges merged with the controller's list.
func (h *Handler) ListBadges(c *gin.Context) {
	badges, err := h.engine.ListBadges(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, badges)
}

type addBadgeRequest struct {
	UID   string `json:"uid" binding:"required"`
	Plate string `json:"plate"`
}

// AddBadge registers a badge and pushes it to the controller.
func (h *Handler) AddBadge(c *gin.Context) {
	var req addBadgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	b, err := h.engine.AddBadge(c.Request.Context(), req.UID, req.Plate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uid": b.UID, "plate": b.Plate})
}

// RemoveBadge deletes a badge and revokes it on the controller.
func (h *Handler) RemoveBadge(c *gin.Context) {
	if err := h.engine.RemoveBadge(c.Request.Context(), c.Param("uid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type aclRequest struct {
	UIDs []string `json:"uids"`
}

// ReplaceACL overwrites the controller access list.
func (h *Handler) ReplaceACL(c *gin.Context) {
	var req aclRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sent := h.engine.ReplaceACL(req.UIDs)
	c.JSON(http.StatusAccepted, gin.H{"uids": sent})
}

// StartEnrollment arms the badge capture window.
func (h *Handler) StartEnrollment(c *gin.Context) {
	window := h.engine.StartEnrollment()
	c.JSON(http.StatusAccepted, gin.H{"window_seconds": int(window.Seconds())})
}
