package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/reconcile"
	"parking-gate-backend/internal/store"
)

const (
	defaultSessionLimit = 100
	maxSessionLimit     = 1000
)

type sessionView struct {
	ID              int64          `json:"id"`
	Identity        string         `json:"identity"`
	Plate           string         `json:"plate"`
	Source          string         `json:"source"`
	Metadata        map[string]any `json:"metadata"`
	OpenedAt        time.Time      `json:"opened_at"`
	LastEventAt     time.Time      `json:"last_event_at"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	PaymentTime     *time.Time     `json:"payment_time,omitempty"`
	Paid            bool           `json:"paid"`
	DurationSeconds float64        `json:"duration_seconds"`
	Price           float64        `json:"price"`
	IsOpen          bool           `json:"is_open"`
}

func newSessionView(s model.ParkingSession) sessionView {
	return sessionView{
		ID:              s.ID,
		Identity:        s.Identity,
		Plate:           s.Plate(),
		Source:          s.Source,
		Metadata:        s.Metadata,
		OpenedAt:        s.OpenedAt,
		LastEventAt:     s.LastEventAt,
		ClosedAt:        s.ClosedAt,
		PaymentTime:     s.PaymentTime,
		Paid:            s.Paid,
		DurationSeconds: s.DurationSeconds,
		Price:           s.Price,
		IsOpen:          s.IsOpen,
	}
}

type resultView struct {
	Outcome   reconcile.Outcome `json:"outcome"`
	SessionID int64             `json:"session_id,omitempty"`
	Amount    float64           `json:"amount"`
}

// GetCount returns the current occupancy.
func (h *Handler) GetCount(c *gin.Context) {
	n, err := h.engine.CountOpen(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	capacity := h.engine.Capacity()
	free := int64(capacity) - n
	if free < 0 {
		free = 0
	}
	c.JSON(http.StatusOK, gin.H{"count": n, "capacity": capacity, "free": free})
}

// GetStats returns the seven-day summary.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetHistory returns hourly occupancy over the last day.
func (h *Handler) GetHistory(c *gin.Context) {
	points, err := h.engine.History(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// ListSessions handles GET /api/sessions?state=open|closed&limit=n.
func (h *Handler) ListSessions(c *gin.Context) {
	state := store.SessionState(c.Query("state"))
	switch state {
	case store.StateOpen, store.StateClosed, store.StateAll:
	default:
		badRequest(c, errors.New("state must be open or closed"))
		return
	}

	limit := defaultSessionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := h.engine.Sessions(c.Request.Context(), state, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = newSessionView(s)
	}
	c.JSON(http.StatusOK, views)
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, errors.New("invalid session id"))
		return 0, false
	}
	return id, true
}

// FinishSession records a manual payment and opens the gate when the vehicle waits there.
func (h *Handler) FinishSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	res, err := h.engine.ForceFinish(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resultView{Outcome: res.Outcome, SessionID: res.SessionID, Amount: res.Amount})
}

// DeleteSession removes a session without billing it.
func (h *Handler) DeleteSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.engine.DeleteSession(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type adjustRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// AdjustCount handles manual +1/-1 corrections from the dashboard.
func (h *Handler) AdjustCount(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.engine.AdjustCount(c.Request.Context(), req.Delta)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}
