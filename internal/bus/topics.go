package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"parking-gate-backend/internal/reconcile"
)

// Topics consumed by the reconciliation router.
const (
	TopicPlateDetected    = "parking.plate_detected"
	TopicBadgeRead        = "parking.badge_read"
	TopicPinCode          = "parking.pin_code"
	TopicPaymentConfirmed = "parking.payment_confirmed"
	TopicBadgeList        = "parking.badge_list"
	TopicSyncRequest      = "parking.sync_request"
)

// Topics lists every topic the router subscribes to.
var Topics = []string{
	TopicPlateDetected,
	TopicBadgeRead,
	TopicPinCode,
	TopicPaymentConfirmed,
	TopicBadgeList,
	TopicSyncRequest,
}

// ErrMalformed is returned for payloads that cannot be turned into an event.
var ErrMalformed = errors.New("malformed bus payload")

// PlatePayload is a camera detection as produced by the recognition service.
type PlatePayload struct {
	Plate      string  `json:"plate"`
	CamID      string  `json:"cam_id"`
	Image      string  `json:"image,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// PaymentPayload is a payment provider confirmation. Identity, when present, is a session key.
type PaymentPayload struct {
	Identity string     `json:"identity,omitempty"`
	Plate    string     `json:"plate,omitempty"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`
}

// BadgeListPayload is the controller's access list report. Entries are either bare uid strings
// or {"uid": ...} objects, depending on the controller firmware.
type BadgeListPayload struct {
	Op      string            `json:"op"`
	Entries []json.RawMessage `json:"entries"`
}

type badgeListEntry struct {
	UID string `json:"uid"`
}

// UIDs flattens the entries into uid strings.
func (p BadgeListPayload) UIDs() ([]string, error) {
	uids := make([]string, 0, len(p.Entries))
	for _, raw := range p.Entries {
		var uid string
		if err := json.Unmarshal(raw, &uid); err == nil {
			uids = append(uids, uid)
			continue
		}
		var entry badgeListEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.UID == "" {
			return nil, fmt.Errorf("%w: bad acl entry %s", ErrMalformed, raw)
		}
		uids = append(uids, entry.UID)
	}
	return uids, nil
}

// Decode turns the payload of a topic into an engine event.
func Decode(topic string, payload []byte) (reconcile.Event, error) {
	switch topic {
	case TopicPlateDetected:
		var p PlatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if strings.TrimSpace(p.Plate) == "" {
			return nil, fmt.Errorf("%w: empty plate", ErrMalformed)
		}
		dir, err := parseDirection(p.Direction)
		if err != nil {
			return nil, err
		}
		return reconcile.PlateDetected{
			Plate:      p.Plate,
			CameraID:   p.CamID,
			Image:      p.Image,
			Direction:  dir,
			Confidence: p.Confidence,
		}, nil

	case TopicBadgeRead:
		uid := strings.TrimSpace(string(payload))
		if uid == "" {
			return nil, fmt.Errorf("%w: empty badge uid", ErrMalformed)
		}
		return reconcile.BadgeRead{UID: uid}, nil

	case TopicPinCode:
		switch action := reconcile.PinAction(strings.ToUpper(strings.TrimSpace(string(payload)))); action {
		case reconcile.PinIn, reconcile.PinOut:
			return reconcile.PinCode{Action: action}, nil
		default:
			return nil, fmt.Errorf("%w: unknown keypad action %q", ErrMalformed, string(payload))
		}

	case TopicPaymentConfirmed:
		var p PaymentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if p.Identity == "" && strings.TrimSpace(p.Plate) == "" {
			return nil, fmt.Errorf("%w: payment without identity or plate", ErrMalformed)
		}
		ev := reconcile.PaymentConfirmed{Identity: p.Identity, Plate: p.Plate}
		if p.PaidAt != nil {
			ev.PaidAt = *p.PaidAt
		}
		return ev, nil

	case TopicBadgeList:
		var p BadgeListPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if p.Op != "" && !strings.EqualFold(p.Op, "LIST") {
			return nil, fmt.Errorf("%w: unexpected acl op %q", ErrMalformed, p.Op)
		}
		uids, err := p.UIDs()
		if err != nil {
			return nil, err
		}
		return reconcile.BadgeListSynced{UIDs: uids}, nil

	case TopicSyncRequest:
		return reconcile.SyncRequested{}, nil

	default:
		return nil, fmt.Errorf("%w: unknown topic %q", ErrMalformed, topic)
	}
}

func parseDirection(s string) (reconcile.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return reconcile.DirectionUnknown, nil
	case "entry", "entree", "in":
		return reconcile.DirectionEntry, nil
	case "exit", "sortie", "out":
		return reconcile.DirectionExit, nil
	default:
		return reconcile.DirectionUnknown, fmt.Errorf("%w: unknown direction %q", ErrMalformed, s)
	}
}
