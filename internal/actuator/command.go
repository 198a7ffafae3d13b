package actuator

import (
	"fmt"
	"strings"
)

// Gate identifies a barrier.
type Gate string

const (
	GateEntry Gate = "entry"
	GateExit  Gate = "exit"
)

// Kind is the command family understood by the gate controller.
type Kind string

const (
	KindOpen           Kind = "open"
	KindDisplay        Kind = "display"
	KindPaymentRequest Kind = "payment_request"
	KindPaymentAck     Kind = "payment_ack"
	KindACL            Kind = "acl"
	KindConfig         Kind = "config"
)

// ACLOp is an operation on the controller's badge list.
type ACLOp string

const (
	ACLAdd     ACLOp = "ADD"
	ACLDel     ACLOp = "DEL"
	ACLFull    ACLOp = "FULL"
	ACLListReq ACLOp = "LIST_REQ"
)

// Controller configuration keys.
const (
	ConfigEntryPin = "pin"
	ConfigExitPin  = "exit_pin"
)

// Display texts.
const (
	TextFull       = "COMPLET"
	freeTextPrefix = "LIBRE:"
	welcomePrefix  = "BIENVENUE"
)

// Driver-facing causes shown in the payment popup.
const (
	CauseLotFull = "PARKING COMPLET\nACCES REFUSE"
	CauseGhost   = "ENTREE NON DETECTEE\nFORFAIT JOURNALIER"
)

// PaymentRequest is the popup shown on the exit display.
type PaymentRequest struct {
	Plate   string  `json:"plate"`
	Amount  float64 `json:"amount"`
	Refused bool    `json:"refused,omitempty"`
	Cause   string  `json:"cause,omitempty"`
}

// Command is one instruction for the gate controller. Commands are idempotent re-sends.
type Command struct {
	Kind    Kind            `json:"kind"`
	Gate    Gate            `json:"gate,omitempty"`
	Text    string          `json:"text,omitempty"`
	Payment *PaymentRequest `json:"payment,omitempty"`
	ACLOp   ACLOp           `json:"acl_op,omitempty"`
	UIDs    []string        `json:"uids,omitempty"`
	Key     string          `json:"key,omitempty"`
	Value   string          `json:"value,omitempty"`
}

func (c Command) String() string {
	switch c.Kind {
	case KindOpen:
		return fmt.Sprintf("open(%s)", c.Gate)
	case KindDisplay:
		return fmt.Sprintf("display(%q)", c.Text)
	case KindPaymentRequest:
		if c.Payment == nil {
			return "payment_request()"
		}
		return fmt.Sprintf("payment_request(%s, %.2f)", c.Payment.Plate, c.Payment.Amount)
	case KindACL:
		return fmt.Sprintf("acl(%s, %s)", c.ACLOp, strings.Join(c.UIDs, ","))
	case KindConfig:
		return fmt.Sprintf("config(%s)", c.Key)
	default:
		return string(c.Kind)
	}
}

func Open(g Gate) Command {
	return Command{Kind: KindOpen, Gate: g}
}

func Display(text string) Command {
	return Command{Kind: KindDisplay, Text: text}
}

// FreeText renders the free-space counter: "LIBRE:<n>", or "COMPLET" when nothing is left.
func FreeText(capacity int, open int64) string {
	remaining := int64(capacity) - open
	if remaining <= 0 {
		return TextFull
	}
	return fmt.Sprintf("%s%d", freeTextPrefix, remaining)
}

// Welcome greets a badge holder.
func Welcome(plate string) Command {
	return Display(strings.TrimSpace(welcomePrefix + " " + plate))
}

func RequestPayment(plate string, amount float64, cause string) Command {
	return Command{Kind: KindPaymentRequest, Payment: &PaymentRequest{Plate: plate, Amount: amount, Cause: cause}}
}

// Refuse shows a red STOP popup; it reuses the payment channel of the display.
func Refuse(plate, cause string) Command {
	return Command{Kind: KindPaymentRequest, Payment: &PaymentRequest{Plate: plate, Refused: true, Cause: cause}}
}

// PaymentAck closes the payment popup.
func PaymentAck() Command {
	return Command{Kind: KindPaymentAck}
}

func AddBadge(uid string) Command {
	return Command{Kind: KindACL, ACLOp: ACLAdd, UIDs: []string{uid}}
}

func RemoveBadge(uid string) Command {
	return Command{Kind: KindACL, ACLOp: ACLDel, UIDs: []string{uid}}
}

func ReplaceBadges(uids []string) Command {
	return Command{Kind: KindACL, ACLOp: ACLFull, UIDs: uids}
}

func RequestBadgeList() Command {
	return Command{Kind: KindACL, ACLOp: ACLListReq}
}

// SetConfig pushes a retained configuration value (PIN codes).
func SetConfig(key, value string) Command {
	return Command{Kind: KindConfig, Key: key, Value: value}
}
