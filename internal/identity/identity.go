package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownIdentity is returned when a key carries none of the known prefixes.
var ErrUnknownIdentity = errors.New("identity: unknown key format")

// Kind tags the variant of an Identity.
type Kind int

const (
	KindPlate Kind = iota + 1
	KindBadge
	KindPinSession
	KindManual
)

const (
	platePrefix  = "PLATE:"
	badgePrefix  = "BADGE:"
	pinPrefix    = "PINCODE_"
	manualPrefix = "MANUAL_"
)

func (k Kind) String() string {
	switch k {
	case KindPlate:
		return "plate"
	case KindBadge:
		return "badge"
	case KindPinSession:
		return "pin"
	case KindManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Identity is the canonical key of a parking session.
//
// Plate values are stored compact (upper case, no spaces or hyphens); the formatted plate
// lives in the session metadata. Pin and manual values are unix epochs.
type Identity struct {
	Kind  Kind
	Value string
}

// Plate builds a plate identity from a raw OCR or badge plate string.
func Plate(raw string) Identity {
	return Identity{Kind: KindPlate, Value: Normalize(raw, KindPlate)}
}

// Badge builds a badge identity from a raw reader UID.
func Badge(rawUID string) Identity {
	return Identity{Kind: KindBadge, Value: Normalize(rawUID, KindBadge)}
}

// PinSession builds a synthetic PIN identity for the given instant.
func PinSession(at time.Time) Identity {
	return Identity{Kind: KindPinSession, Value: strconv.FormatInt(at.Unix(), 10)}
}

// Manual builds an administrative placeholder identity for the given instant.
func Manual(at time.Time) Identity {
	return Identity{Kind: KindManual, Value: strconv.FormatInt(at.Unix(), 10)}
}

// String renders the storage key: PLATE:<plate>, BADGE:<uid>, PINCODE_<epoch> or MANUAL_<epoch>.
func (id Identity) String() string {
	switch id.Kind {
	case KindPlate:
		return platePrefix + id.Value
	case KindBadge:
		return badgePrefix + id.Value
	case KindPinSession:
		return pinPrefix + id.Value
	case KindManual:
		return manualPrefix + id.Value
	default:
		return id.Value
	}
}

// IsVehicle reports whether the identity denotes a concrete vehicle (plate or badge).
func (id Identity) IsVehicle() bool {
	return id.Kind == KindPlate || id.Kind == KindBadge
}

// Epoch returns the unix epoch of a pin or manual identity.
func (id Identity) Epoch() int64 {
	if id.Kind != KindPinSession && id.Kind != KindManual {
		return 0
	}
	n, err := strconv.ParseInt(id.Value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Next returns the same synthetic identity shifted one second later.
// Used to keep PINCODE keys unique when two codes are typed within the same second.
func (id Identity) Next() Identity {
	if id.Kind != KindPinSession && id.Kind != KindManual {
		return id
	}
	return Identity{Kind: id.Kind, Value: strconv.FormatInt(id.Epoch()+1, 10)}
}

// Parse converts a storage key back into an Identity.
func Parse(key string) (Identity, error) {
	key = strings.TrimSpace(key)
	switch {
	case strings.HasPrefix(key, platePrefix):
		return Identity{Kind: KindPlate, Value: key[len(platePrefix):]}, nil
	case strings.HasPrefix(key, badgePrefix):
		return Identity{Kind: KindBadge, Value: key[len(badgePrefix):]}, nil
	case strings.HasPrefix(key, pinPrefix):
		return Identity{Kind: KindPinSession, Value: key[len(pinPrefix):]}, nil
	case strings.HasPrefix(key, manualPrefix):
		return Identity{Kind: KindManual, Value: key[len(manualPrefix):]}, nil
	default:
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownIdentity, key)
	}
}

// IsPinKey reports whether a storage key denotes a PIN-derived session.
func IsPinKey(key string) bool {
	return strings.HasPrefix(key, pinPrefix)
}

// PinKeyPrefix is the storage prefix of PIN-derived sessions, for prefix queries.
func PinKeyPrefix() string {
	return pinPrefix
}
