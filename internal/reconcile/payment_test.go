package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/store"
)

func TestPayment_PayAndGo(t *testing.T) {
	h := newHarness(t)

	entry := h.enter(t, "AB-123-CD")
	h.clock.Advance(40 * time.Minute)
	require.Equal(t, OutcomePaymentRequested, h.leave(t, "AB-123-CD").Outcome)

	h.clock.Advance(time.Minute)
	h.rec.clear()
	res := h.handle(t, PaymentConfirmed{Plate: "ab 123 cd"})
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, entry.SessionID, res.SessionID)
	assert.InDelta(t, 0.50, res.Amount, 0.001)

	s := h.session(t, entry.SessionID)
	assert.False(t, s.IsOpen)
	assert.True(t, s.Paid)
	require.NotNil(t, s.PaymentTime)
	assert.True(t, s.PaymentTime.Equal(t0.Add(41*time.Minute)))

	cmds := h.rec.commands()
	require.GreaterOrEqual(t, len(cmds), 2)
	assert.Equal(t, actuator.PaymentAck(), cmds[0])
	assert.Contains(t, cmds, actuator.Open(actuator.GateExit))
}

func TestPayment_AwayFromGateOnlyMarksPaid(t *testing.T) {
	h := newHarness(t)

	entry := h.enter(t, "AB-123-CD")
	h.clock.Advance(20 * time.Minute)
	h.rec.clear()

	res := h.handle(t, PaymentConfirmed{Plate: "AB-123-CD"})
	assert.Equal(t, OutcomePaymentRecorded, res.Outcome)

	s := h.session(t, entry.SessionID)
	assert.True(t, s.IsOpen)
	assert.True(t, s.Paid)
	assert.Equal(t, []actuator.Command{actuator.PaymentAck()}, h.rec.commands())

	// Paid stays valid past the payment window.
	h.clock.Advance(2 * time.Hour)
	out := h.leave(t, "AB-123-CD")
	assert.Equal(t, OutcomeClosed, out.Outcome)
}

func TestPayment_ByIdentityKey(t *testing.T) {
	h := newHarness(t)

	pin := h.handle(t, PinCode{Action: PinIn})
	h.clock.Advance(10 * time.Minute)

	res := h.handle(t, PaymentConfirmed{Identity: "PINCODE_1741942800"})
	assert.Equal(t, OutcomePaymentRecorded, res.Outcome)
	assert.Equal(t, pin.SessionID, res.SessionID)
}

func TestPayment_MatchesMetadataPlate(t *testing.T) {
	h := newHarness(t)
	h.enter(t, "AB-123-CD")
	h.clock.Advance(20 * time.Second)
	pin := h.handle(t, PinCode{Action: PinIn})
	require.Equal(t, OutcomeFused, pin.Outcome)

	h.clock.Advance(time.Hour)
	res := h.handle(t, PaymentConfirmed{Plate: "AB-123-CD"})
	assert.Equal(t, OutcomePaymentRecorded, res.Outcome)
	assert.Equal(t, pin.SessionID, res.SessionID)
}

func TestPayment_UnknownVehicleIgnored(t *testing.T) {
	h := newHarness(t)

	res := h.handle(t, PaymentConfirmed{Plate: "ZZ-999-ZZ"})
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, h.rec.commands())
}

func TestForceFinish(t *testing.T) {
	t.Run("vehicle at the gate leaves", func(t *testing.T) {
		h := newHarness(t)
		entry := h.enter(t, "AB-123-CD")
		h.clock.Advance(2 * time.Hour)
		require.Equal(t, OutcomePaymentRequested, h.leave(t, "AB-123-CD").Outcome)

		h.clock.Advance(30 * time.Second)
		res, err := h.engine.ForceFinish(context.Background(), entry.SessionID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeClosed, res.Outcome)
		assert.Equal(t, SourceForceFinish, h.session(t, entry.SessionID).MetaString("exit_source"))
	})

	t.Run("vehicle away only marks paid", func(t *testing.T) {
		h := newHarness(t)
		entry := h.enter(t, "AB-123-CD")
		h.clock.Advance(2 * time.Hour)

		res, err := h.engine.ForceFinish(context.Background(), entry.SessionID)
		require.NoError(t, err)
		assert.Equal(t, OutcomePaymentRecorded, res.Outcome)
		assert.True(t, h.session(t, entry.SessionID).Paid)
	})

	t.Run("unknown session", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.ForceFinish(context.Background(), 42)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("closed session", func(t *testing.T) {
		h := newHarness(t)
		entry := h.enter(t, "AB-123-CD")
		h.clock.Advance(10 * time.Minute)
		require.Equal(t, OutcomeClosed, h.leave(t, "AB-123-CD").Outcome)

		res, err := h.engine.ForceFinish(context.Background(), entry.SessionID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
	})
}
