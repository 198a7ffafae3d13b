package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"parking-gate-backend/internal/bus"
	"parking-gate-backend/internal/reconcile"
	"parking-gate-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine  *reconcile.Engine
	ingest  *bus.Ingest
	store   store.Store
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *reconcile.Engine, ingest *bus.Ingest, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	return &Handler{
		engine:  engine,
		ingest:  ingest,
		store:   s,
		webpush: webpushOptions,
		log:     log,
	}
}

// fail maps engine and store errors to HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reconcile.ErrLotFull), errors.Is(err, reconcile.ErrLotEmpty):
		status = http.StatusConflict
	case errors.Is(err, reconcile.ErrInvalidAdjustment),
		errors.Is(err, reconcile.ErrInvalidPin),
		errors.Is(err, reconcile.ErrInvalidBadge),
		errors.Is(err, reconcile.ErrInvalidTariff),
		errors.Is(err, bus.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, reconcile.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
