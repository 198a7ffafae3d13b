package reconcile

import "time"

// Direction is the logical travel direction of a detection.
type Direction int

const (
	// DirectionUnknown lets the engine resolve the direction from the camera id.
	DirectionUnknown Direction = iota
	DirectionEntry
	DirectionExit
)

func (d Direction) String() string {
	switch d {
	case DirectionEntry:
		return "entry"
	case DirectionExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is one input of the state machine. The set is closed: only the types below implement it.
type Event interface {
	eventName() string
}

// PlateDetected is a camera/OCR detection.
type PlateDetected struct {
	Plate      string
	CameraID   string
	Image      string
	Direction  Direction
	Confidence float64
}

// BadgeRead is a raw RFID reader UID, or the keypad sentinel.
type BadgeRead struct {
	UID string
}

// PinAction is a keypad code validated by the controller.
type PinAction string

const (
	PinIn  PinAction = "PIN_IN"
	PinOut PinAction = "PIN_OUT"
)

type PinCode struct {
	Action PinAction
}

// PaymentConfirmed comes from the payment provider. Identity, when set, is a storage key and wins over Plate.
type PaymentConfirmed struct {
	Identity string
	Plate    string
	PaidAt   time.Time
}

// BadgeListSynced is the controller's current access list.
type BadgeListSynced struct {
	UIDs []string
}

// SyncRequested asks for the full controller state (PINs and display) to be re-sent.
type SyncRequested struct{}

func (PlateDetected) eventName() string    { return "plate_detected" }
func (BadgeRead) eventName() string        { return "badge_read" }
func (PinCode) eventName() string          { return "pin_code" }
func (PaymentConfirmed) eventName() string { return "payment_confirmed" }
func (BadgeListSynced) eventName() string  { return "badge_list_synced" }
func (SyncRequested) eventName() string    { return "sync_requested" }

// Outcome is the decision taken for one event. Rejections are outcomes, not errors.
type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeFused             Outcome = "fused"
	OutcomeConfirmed         Outcome = "confirmed"
	OutcomeAlreadyInside     Outcome = "already_inside"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeRejectedFull      Outcome = "rejected_full"
	OutcomeRejectedCooldown  Outcome = "rejected_cooldown"
	OutcomeUnknownCredential Outcome = "unknown_credential"
	OutcomeClosed            Outcome = "closed"
	OutcomeGraceReopen       Outcome = "grace_reopen"
	OutcomePaymentRequested  Outcome = "payment_requested"
	OutcomePaymentRecorded   Outcome = "payment_recorded"
	OutcomeCaptured          Outcome = "captured"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeSynced            Outcome = "synced"
)

// Result reports what one event did.
type Result struct {
	Outcome   Outcome
	SessionID int64
	Amount    float64
}
