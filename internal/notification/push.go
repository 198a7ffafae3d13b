package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"parking-gate-backend/internal/model"
)

// Sender defines the interface for sending a web push notification. Implementations must give up
// when ctx is done.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// PushSink fans notices out to the dashboard browsers that subscribed to their kind.
type PushSink struct {
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	log     *zap.Logger
}

// NewPushSink creates a sink backed by the push_subscriptions table.
func NewPushSink(db *gorm.DB, webpushOptions *webpush.Options, log *zap.Logger) *PushSink {
	return &PushSink{
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log.With(zap.String("component", "push")),
	}
}

// WithSender swaps the transport, for tests.
func (p *PushSink) WithSender(s Sender) *PushSink {
	p.sender = s
	return p
}

// Notify sends the notice to every matching subscription. Expired subscriptions are removed.
func (p *PushSink) Notify(ctx context.Context, n Notice) error {
	var subscriptions []model.PushSubscription
	if err := p.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		return fmt.Errorf("failed to fetch push subscriptions: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notice %s: %w", n.ID, err)
	}

	var errs []error
	for _, sub := range subscriptions {
		if !Wants(sub, n.Kind) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("notice %s abandoned: %w", n.ID, err))
			break
		}
		if err := p.send(ctx, sub, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wants reports whether a subscription asked for notices of the given kind.
func Wants(sub model.PushSubscription, kind Kind) bool {
	if strings.TrimSpace(sub.Kinds) == "" {
		return true
	}
	for _, k := range strings.Split(sub.Kinds, ",") {
		if Kind(strings.TrimSpace(k)) == kind {
			return true
		}
	}
	return false
}

// send sends a single web push notification.
func (p *PushSink) send(ctx context.Context, sub model.PushSubscription, payload []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := p.sender.Send(ctx, payload, wpSub, p.webpush)
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		p.log.Info("push subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := p.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			return fmt.Errorf("failed to delete expired subscription %s: %w", sub.Endpoint, err)
		}
	}
	return nil
}
