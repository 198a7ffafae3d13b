package reconcile

import (
	"time"

	"parking-gate-backend/config"
	"parking-gate-backend/internal/identity"
)

// Windows holds every timing window and fuzzy tolerance used by the state machine.
type Windows struct {
	// Fusion: a camera entry merges into a badge/PIN session opened this recently.
	Fusion time.Duration
	// Duplicate: a similar plate opened this recently is a re-read, not a new vehicle.
	Duplicate time.Duration
	// Reentry: an entry this soon after the identity's exit is a sensor re-trigger.
	Reentry time.Duration
	// ExitGrace: an exit this soon after the identity's exit just re-opens the gate.
	ExitGrace time.Duration
	// GhostDedup: a ghost created this recently is reused by the same unmatched exit.
	GhostDedup time.Duration
	// GhostStay is the simulated stay of a ghost session.
	GhostStay time.Duration
	// PaymentValidity: a payment this recent lets the vehicle out.
	PaymentValidity time.Duration
	// BadgeCooldown suppresses reader bounce per UID.
	BadgeCooldown time.Duration
	// BadgeConfirm: a badge on a session younger than this confirms the entry, older means exit.
	BadgeConfirm time.Duration
	// CameraBadge: a badge merges into a camera-only session opened this recently.
	CameraBadge time.Duration
	// CameraPin: a PIN entry merges into a camera-only session opened this recently.
	CameraPin time.Duration
	// PayAndGo: a payment for a session touched this recently triggers the exit.
	PayAndGo time.Duration
	// Enrollment is how long a badge capture window stays armed.
	Enrollment time.Duration

	ExitTolerance      int
	DuplicateTolerance int
}

func DefaultWindows() Windows {
	return Windows{
		Fusion:             60 * time.Second,
		Duplicate:          300 * time.Second,
		Reentry:            60 * time.Second,
		ExitGrace:          300 * time.Second,
		GhostDedup:         60 * time.Second,
		GhostStay:          24 * time.Hour,
		PaymentValidity:    10 * time.Minute,
		BadgeCooldown:      15 * time.Second,
		BadgeConfirm:       60 * time.Second,
		CameraBadge:        15 * time.Second,
		CameraPin:          60 * time.Second,
		PayAndGo:           300 * time.Second,
		Enrollment:         30 * time.Second,
		ExitTolerance:      identity.ExitTolerance,
		DuplicateTolerance: identity.DuplicateTolerance,
	}
}

// WindowsFromConfig converts the configured seconds. Unset values must already carry their defaults.
func WindowsFromConfig(t config.TimingConfig, m config.MatchingConfig) Windows {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Windows{
		Fusion:             sec(t.FusionSeconds),
		Duplicate:          sec(t.DuplicateSeconds),
		Reentry:            sec(t.ReentrySeconds),
		ExitGrace:          sec(t.ExitGraceSeconds),
		GhostDedup:         sec(t.GhostDedupSeconds),
		GhostStay:          sec(t.GhostStaySeconds),
		PaymentValidity:    sec(t.PaymentValiditySeconds),
		BadgeCooldown:      sec(t.BadgeCooldownSeconds),
		BadgeConfirm:       sec(t.BadgeConfirmSeconds),
		CameraBadge:        sec(t.CameraBadgeSeconds),
		CameraPin:          sec(t.CameraPinSeconds),
		PayAndGo:           sec(t.PayAndGoSeconds),
		Enrollment:         sec(t.EnrollmentSeconds),
		ExitTolerance:      m.ExitTolerance,
		DuplicateTolerance: m.DuplicateTolerance,
	}
}
