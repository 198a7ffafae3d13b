package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Controller channels, shared with the bus bridge.
const (
	ChannelEntryGate    = "parking/barriere_entree/cmd"
	ChannelExitGate     = "parking/barriere/cmd"
	ChannelDisplay      = "parking/display/text"
	ChannelPaymentReq   = "parking/payment/req"
	ChannelPaymentAck   = "parking/payment/success"
	ChannelACLAdd       = "parking/acl/add"
	ChannelACLDel       = "parking/acl/del"
	ChannelACLFull      = "parking/acl/full"
	ChannelACLGet       = "parking/acl/get"
	ChannelConfigPrefix = "parking/config/"
)

const (
	retainedKeyPrefix = "retained:"
	openGatePayload   = "100"
	paymentAckPayload = "1"
	refusedPrice      = "STOP"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Gateway delivers commands to the gate controller.
type Gateway interface {
	Send(ctx context.Context, cmd Command) error
}

// Publisher is the subset of *redis.Client used to reach the controller.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisGateway publishes commands on the controller's pub/sub channels.
// Display and configuration values are also stored under "retained:<channel>" so a
// reconnecting controller can read the last value.
type RedisGateway struct {
	pub    Publisher
	secret string
}

func NewRedisGateway(pub Publisher, aclSecret string) *RedisGateway {
	return &RedisGateway{pub: pub, secret: aclSecret}
}

type aclEntry struct {
	UID string `json:"uid"`
}

type aclMessage struct {
	Op      ACLOp      `json:"op"`
	UID     string     `json:"uid,omitempty"`
	Entries []aclEntry `json:"entries,omitempty"`
	Secret  string     `json:"secret"`
}

type paymentMessage struct {
	Plate string `json:"plate"`
	Price string `json:"price"`
	Cause string `json:"cause"`
}

// Encode maps a command onto its channel and wire payload.
func (g *RedisGateway) Encode(cmd Command) (channel string, payload string, retained bool, err error) {
	switch cmd.Kind {
	case KindOpen:
		switch cmd.Gate {
		case GateEntry:
			return ChannelEntryGate, openGatePayload, false, nil
		case GateExit:
			return ChannelExitGate, openGatePayload, false, nil
		}
		return "", "", false, fmt.Errorf("unknown gate %q", cmd.Gate)

	case KindDisplay:
		return ChannelDisplay, cmd.Text, true, nil

	case KindPaymentRequest:
		if cmd.Payment == nil {
			return "", "", false, errors.New("payment request without payload")
		}
		msg := paymentMessage{Plate: cmd.Payment.Plate, Cause: cmd.Payment.Cause}
		if cmd.Payment.Refused {
			msg.Price = refusedPrice
		} else {
			msg.Price = fmt.Sprintf("%.2f", cmd.Payment.Amount)
		}
		b, err := json.Marshal(msg)
		return ChannelPaymentReq, string(b), false, err

	case KindPaymentAck:
		return ChannelPaymentAck, paymentAckPayload, false, nil

	case KindACL:
		msg := aclMessage{Op: cmd.ACLOp, Secret: g.secret}
		switch cmd.ACLOp {
		case ACLAdd, ACLDel:
			if len(cmd.UIDs) != 1 {
				return "", "", false, fmt.Errorf("acl %s expects one uid, got %d", cmd.ACLOp, len(cmd.UIDs))
			}
			msg.UID = cmd.UIDs[0]
			channel = ChannelACLAdd
			if cmd.ACLOp == ACLDel {
				channel = ChannelACLDel
			}
		case ACLFull:
			msg.Entries = make([]aclEntry, 0, len(cmd.UIDs))
			for _, uid := range cmd.UIDs {
				msg.Entries = append(msg.Entries, aclEntry{UID: uid})
			}
			channel = ChannelACLFull
		case ACLListReq:
			channel = ChannelACLGet
		default:
			return "", "", false, fmt.Errorf("unknown acl op %q", cmd.ACLOp)
		}
		b, err := json.Marshal(msg)
		return channel, string(b), false, err

	case KindConfig:
		if cmd.Key == "" {
			return "", "", false, errors.New("config command without key")
		}
		return ChannelConfigPrefix + cmd.Key, cmd.Value, true, nil
	}
	return "", "", false, fmt.Errorf("unknown command kind %q", cmd.Kind)
}

func (g *RedisGateway) Send(ctx context.Context, cmd Command) error {
	channel, payload, retained, err := g.Encode(cmd)
	if err != nil {
		return err
	}
	if retained {
		if err := g.pub.Set(ctx, retainedKeyPrefix+channel, payload, 0).Err(); err != nil {
			return fmt.Errorf("failed to retain %s: %w", channel, err)
		}
	}
	if err := g.pub.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", channel, err)
	}
	return nil
}

// LogGateway only logs commands. It stands in for the controller when no broker is configured.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	return &LogGateway{log: log.With(zap.String("component", "actuator"))}
}

func (g *LogGateway) Send(_ context.Context, cmd Command) error {
	g.log.Info("controller command (no broker)", zap.Stringer("command", cmd))
	return nil
}
