package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/zap"

	"parking-gate-backend/internal/reconcile"
)

const closeTimeout = 10 * time.Second

// Handler is the single dispatch point the router feeds.
type Handler interface {
	Handle(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
}

// Router consumes every topic and hands decoded events to the handler. Messages are always acked:
// a malformed payload cannot improve on retry, and sensors re-send on their own.
type Router struct {
	router  *message.Router
	handler Handler
	log     *zap.Logger
}

func NewRouter(sub message.Subscriber, h Handler, log *zap.Logger) (*Router, error) {
	log = log.With(zap.String("component", "bus"))

	wm, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, NewZapLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}
	wm.AddMiddleware(middleware.Recoverer)

	r := &Router{router: wm, handler: h, log: log}
	for _, topic := range Topics {
		wm.AddNoPublisherHandler("reconcile."+topic, topic, sub, r.consume(topic))
	}
	return r, nil
}

func (r *Router) consume(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := Decode(topic, msg.Payload)
		if err != nil {
			r.log.Warn("dropping malformed message",
				zap.String("topic", topic),
				zap.String("message_uuid", msg.UUID),
				zap.Error(err))
			return nil
		}

		res, err := r.handler.Handle(msg.Context(), ev)
		if err != nil {
			r.log.Error("event dropped",
				zap.String("topic", topic),
				zap.String("message_uuid", msg.UUID),
				zap.Error(err))
			return nil
		}

		r.log.Debug("event handled",
			zap.String("topic", topic),
			zap.String("outcome", string(res.Outcome)),
			zap.Int64("session_id", res.SessionID))
		return nil
	}
}

// Run blocks until ctx is cancelled or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}
