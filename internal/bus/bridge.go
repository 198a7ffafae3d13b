package bus

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parking-gate-backend/internal/reconcile"
)

// Channels the gate controller publishes on.
const (
	ChannelBadge   = "parking/barriere"
	ChannelACLList = "parking/acl/list"
	ChannelSyncReq = "parking/sync/req"
)

// ControllerChannels are the channels the bridge subscribes to.
var ControllerChannels = []string{ChannelBadge, ChannelACLList, ChannelSyncReq}

// Subscriber is the subset of *redis.Client used by the bridge.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Bridge forwards controller pub/sub messages onto the bus.
type Bridge struct {
	sub    Subscriber
	ingest *Ingest
	log    *zap.Logger
}

func NewBridge(sub Subscriber, ingest *Ingest, log *zap.Logger) *Bridge {
	return &Bridge{sub: sub, ingest: ingest, log: log.With(zap.String("component", "bridge"))}
}

// Route maps a controller channel and payload to a bus topic.
func Route(channel, payload string) (string, bool) {
	switch channel {
	case ChannelBadge:
		switch reconcile.PinAction(strings.ToUpper(strings.TrimSpace(payload))) {
		case reconcile.PinIn, reconcile.PinOut:
			return TopicPinCode, true
		}
		return TopicBadgeRead, true
	case ChannelACLList:
		return TopicBadgeList, true
	case ChannelSyncReq:
		return TopicSyncRequest, true
	default:
		return "", false
	}
}

// Run subscribes to the controller channels and forwards until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ps := b.sub.Subscribe(ctx, ControllerChannels...)
	defer ps.Close()

	b.log.Info("controller bridge started", zap.Strings("channels", ControllerChannels))
	b.pump(ctx, ps.Channel())
	b.log.Info("controller bridge stopped")
	return nil
}

func (b *Bridge) pump(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			topic, ok := Route(m.Channel, m.Payload)
			if !ok {
				b.log.Debug("message on unexpected channel", zap.String("channel", m.Channel))
				continue
			}
			if err := b.ingest.Publish(topic, []byte(m.Payload)); err != nil {
				b.log.Warn("controller message not forwarded",
					zap.String("channel", m.Channel),
					zap.String("topic", topic),
					zap.Error(err))
			}
		}
	}
}
