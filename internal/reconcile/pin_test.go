package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/model"
)

func TestPin_EntryKeysAreUnique(t *testing.T) {
	h := newHarness(t)

	first := h.handle(t, PinCode{Action: PinIn})
	second := h.handle(t, PinCode{Action: PinIn})
	require.Equal(t, OutcomeCreated, first.Outcome)
	require.Equal(t, OutcomeCreated, second.Outcome)

	assert.Equal(t, "PINCODE_1741942800", h.session(t, first.SessionID).Identity)
	assert.Equal(t, "PINCODE_1741942801", h.session(t, second.SessionID).Identity)
	assert.Equal(t, SourcePinEntry, h.session(t, first.SessionID).Source)
	assert.Equal(t, authMethodPin, h.session(t, first.SessionID).MetaString(model.MetaAuthMethod))
}

func TestPin_EntryRespectsCapacity(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Capacity = 1 })

	require.Equal(t, OutcomeCreated, h.handle(t, PinCode{Action: PinIn}).Outcome)
	assert.Equal(t, OutcomeRejectedFull, h.handle(t, PinCode{Action: PinIn}).Outcome)
}

func TestPin_FusesIntoCameraSession(t *testing.T) {
	h := newHarness(t)

	entry := h.enter(t, "AB-123-CD")
	h.clock.Advance(20 * time.Second)

	res := h.handle(t, PinCode{Action: PinIn})
	assert.Equal(t, OutcomeFused, res.Outcome)
	assert.Equal(t, entry.SessionID, res.SessionID)

	s := h.session(t, entry.SessionID)
	assert.Equal(t, "PINCODE_1741942820", s.Identity)
	assert.Equal(t, SourceCamPin, s.Source)
	assert.Equal(t, "AB-123-CD", s.Plate())
	assert.Len(t, h.open(t), 1)

	// The plate key is gone but the exit camera still finds the stay, and it is free.
	h.clock.Advance(3 * time.Hour)
	out := h.leave(t, "AB-123-CD")
	assert.Equal(t, OutcomeClosed, out.Outcome)
	assert.Equal(t, entry.SessionID, out.SessionID)
	assert.Zero(t, out.Amount)
}

func TestPin_ExitIsFirstInFirstOut(t *testing.T) {
	h := newHarness(t)

	first := h.handle(t, PinCode{Action: PinIn})
	h.clock.Advance(time.Minute)
	second := h.handle(t, PinCode{Action: PinIn})
	h.clock.Advance(time.Hour)
	h.rec.clear()

	res := h.handle(t, PinCode{Action: PinOut})
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, first.SessionID, res.SessionID)
	assert.Zero(t, res.Amount)
	assert.True(t, h.session(t, second.SessionID).IsOpen)
	assert.Equal(t, SourcePinExit, h.session(t, first.SessionID).MetaString(model.MetaExitSource))
	assert.Contains(t, h.rec.commands(), actuator.Open(actuator.GateExit))
}

func TestPin_ExitWithoutSessionIgnored(t *testing.T) {
	h := newHarness(t)
	h.enter(t, "AB-123-CD")

	res := h.handle(t, PinCode{Action: PinOut})
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Len(t, h.open(t), 1)
}

func TestPin_UnknownAction(t *testing.T) {
	h := newHarness(t)

	res := h.handle(t, PinCode{Action: "PIN_SIDEWAYS"})
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}
