package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
)

var knownKinds = map[notification.Kind]bool{
	notification.KindCountUpdate:     true,
	notification.KindDetection:       true,
	notification.KindSessionClosed:   true,
	notification.KindEnrollment:      true,
	notification.KindPaymentRequired: true,
}

type putSubscriptionRequest struct {
	Endpoint string              `json:"endpoint" binding:"required"`
	P256DH   string              `json:"p256dh" binding:"required"`
	Auth     string              `json:"auth" binding:"required"`
	Kinds    []notification.Kind `json:"kinds"`
}

func joinKinds(kinds []notification.Kind) (string, error) {
	seen := make(map[notification.Kind]bool, len(kinds))
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !knownKinds[k] {
			return "", fmt.Errorf("unknown notice kind %q", k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ","), nil
}

func splitKinds(s string) []string {
	out := []string{}
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// PutSubscription handles the creation or replacement of a subscription.
// An empty kinds list subscribes to every notice.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	kinds, err := joinKinds(req.Kinds)
	if err != nil {
		badRequest(c, err)
		return
	}

	subscription := model.PushSubscription{
		Endpoint:  req.Endpoint,
		P256DH:    req.P256DH,
		Auth:      req.Auth,
		Kinds:     kinds,
		CreatedAt: time.Now(),
	}

	err = h.store.DB().WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "kinds"}),
	}).Create(&subscription).Error
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.store.DB().WithContext(c.Request.Context()).
		Delete(&model.PushSubscription{Endpoint: req.Endpoint}).Error; err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads a query value without URL decoding; push endpoints are matched byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription returns the notice kinds a subscription receives.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	var subscription model.PushSubscription
	err := h.store.DB().WithContext(c.Request.Context()).First(&subscription, "endpoint = ?", raw).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		} else {
			h.fail(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"kinds": splitKinds(subscription.Kinds)})
}

// GetVAPIDPublicKey returns the VAPID public key the dashboard subscribes with.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vapid keys are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
