package notification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"parking-gate-backend/internal/model"
)

// Kind classifies dashboard notices. Subscriptions may filter on it.
type Kind string

const (
	KindCountUpdate     Kind = "parking_update"
	KindDetection       Kind = "parking_event"
	KindSessionClosed   Kind = "session_closed"
	KindEnrollment      Kind = "enroll_event"
	KindPaymentRequired Kind = "payment_required"
)

const timeLayout = "2006-01-02 15:04:05"

// Notice is one dashboard event.
type Notice struct {
	ID    string         `json:"id"`
	Kind  Kind           `json:"kind"`
	At    time.Time      `json:"at"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Sink receives notices after the state change they describe has been committed.
type Sink interface {
	Notify(ctx context.Context, n Notice) error
}

func newNotice(kind Kind, at time.Time, title, body string, data map[string]any) Notice {
	return Notice{ID: uuid.NewString(), Kind: kind, At: at, Title: title, Body: body, Data: data}
}

// CountUpdate reports the number of open sessions after an entry, exit or admin action.
func CountUpdate(at time.Time, count int64, capacity int, action string) Notice {
	return newNotice(KindCountUpdate, at, "", "", map[string]any{
		"count":    count,
		"capacity": capacity,
		"action":   action,
	})
}

// Detection feeds the live view: what was seen, by which source.
func Detection(at time.Time, label, camID, image string) Notice {
	return newNotice(KindDetection, at, "", "", map[string]any{
		"plate":  label,
		"cam_id": camID,
		"image":  image,
	})
}

// EnrollCaptured hands a freshly scanned badge UID to the enrollment form.
func EnrollCaptured(at time.Time, uid string) Notice {
	return newNotice(KindEnrollment, at, "", "", map[string]any{"uid": uid})
}

// PaymentRequired tells the operators an exit is blocked on payment.
func PaymentRequired(at time.Time, plate string, amount float64) Notice {
	return newNotice(KindPaymentRequired, at, "Payment required",
		fmt.Sprintf("%s owes %.2f", plate, amount),
		map[string]any{"plate": plate, "amount": amount})
}

// SessionClosed summarises a finished stay.
func SessionClosed(at time.Time, s model.ParkingSession) Notice {
	minutes := int(math.Round(s.DurationSeconds / 60))

	lines := []string{"ID: " + s.Identity}
	if plate := s.Plate(); plate != "" {
		lines = append(lines, "Plate: "+plate)
	}
	lines = append(lines, "Entry: "+s.OpenedAt.Format(timeLayout))
	if s.ClosedAt != nil {
		lines = append(lines, "Exit: "+s.ClosedAt.Format(timeLayout))
	}
	lines = append(lines,
		fmt.Sprintf("Duration: %d min", minutes),
		fmt.Sprintf("Amount: %.2f", s.Price),
	)

	return newNotice(KindSessionClosed, at, "Parking session closed", strings.Join(lines, "\n"), map[string]any{
		"session_id": s.ID,
		"price":      s.Price,
	})
}
