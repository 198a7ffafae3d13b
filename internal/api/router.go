package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"parking-gate-backend/config"
	"parking-gate-backend/internal/mw"
)

// NewRouter creates and configures the admin HTTP router. The returned limiter
// should be swept periodically by the caller.
func NewRouter(handler *Handler, cfg config.ServerConfig) (*gin.Engine, *mw.IPRateLimiter) {
	r := gin.New()
	r.Use(gin.Recovery())

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)
	responses := mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	caching := responses.Handler()

	api := r.Group("/api")
	api.Use(limiter.Middleware(), responses.Invalidate())
	{
		api.GET("/parking/count", caching, handler.GetCount)
		api.GET("/stats", caching, handler.GetStats)
		api.GET("/history", caching, handler.GetHistory)

		api.GET("/sessions", handler.ListSessions)
		api.POST("/sessions/:id/finish", handler.FinishSession)
		api.DELETE("/sessions/:id", handler.DeleteSession)
		api.POST("/admin/adjust_count", handler.AdjustCount)

		api.GET("/badges", handler.ListBadges)
		api.POST("/badges", handler.AddBadge)
		api.DELETE("/badges/:uid", handler.RemoveBadge)
		api.POST("/badges/acl", handler.ReplaceACL)
		api.POST("/enroll/start", handler.StartEnrollment)

		api.GET("/tariff", handler.GetTariff)
		api.PUT("/tariff", handler.PutTariff)
		api.POST("/config/pin", handler.SetPin)
		api.POST("/display/sync", handler.SyncDisplay)

		api.POST("/plate_event", handler.PostPlateEvent)
		api.POST("/payments", handler.PostPayment)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r, limiter
}
