package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/store"
)

func (e *Engine) handlePayment(ctx context.Context, ev PaymentConfirmed) (Result, error) {
	return e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
		s, err := e.paymentSession(tx, ev)
		if err != nil {
			return Result{}, err
		}
		if s == nil {
			e.log.Warn("payment for unknown vehicle ignored",
				zap.String("identity", ev.Identity),
				zap.String("plate", ev.Plate))
			return Result{Outcome: OutcomeIgnored}, nil
		}
		return e.recordPayment(tx, st, s, SourcePayment)
	})
}

// ForceFinish marks a session paid on behalf of the driver and lets it out if the car is still at the gate.
func (e *Engine) ForceFinish(ctx context.Context, id int64) (Result, error) {
	return e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
		s, err := tx.Get(id)
		if err != nil {
			return Result{}, err
		}
		if !s.IsOpen {
			return Result{Outcome: OutcomeIgnored, SessionID: s.ID}, nil
		}
		return e.recordPayment(tx, st, s, SourceForceFinish)
	})
}

// paymentSession locates the open session a payment refers to. A storage key wins over the plate.
func (e *Engine) paymentSession(tx store.Tx, ev PaymentConfirmed) (*model.ParkingSession, error) {
	var keys []string
	if ev.Identity != "" {
		keys = append(keys, ev.Identity)
	}
	if ev.Plate != "" {
		keys = append(keys, identity.Plate(ev.Plate).String())
	}
	for _, key := range keys {
		s, err := tx.FindOpenByIdentity(key)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if ev.Plate == "" {
		return nil, nil
	}

	open, err := tx.ListOpen()
	if err != nil {
		return nil, err
	}
	for i := range open {
		if identity.SamePlate(sessionPlate(&open[i]), ev.Plate) {
			return &open[i], nil
		}
	}
	return nil, nil
}

// recordPayment sets paid and, when the vehicle was at the exit moments ago, drives the exit.
func (e *Engine) recordPayment(tx store.Tx, st *step, s *model.ParkingSession, source string) (Result, error) {
	atGate := within(st.now, s.LastEventAt, e.opts.Windows.PayAndGo)

	paid, err := tx.Mutate(s.ID, func(s *model.ParkingSession) error {
		paidAt := st.now
		s.Paid = true
		s.PaymentTime = &paidAt
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.log.Info("payment recorded",
		zap.Int64("session_id", paid.ID),
		zap.String("identity", paid.Identity),
		zap.String("source", source),
		zap.Bool("at_gate", atGate))
	st.send(actuator.PaymentAck())

	if !atGate {
		return Result{Outcome: OutcomePaymentRecorded, SessionID: paid.ID}, nil
	}
	return e.exit(tx, st, exitRequest{
		id:      sessionIdentity(paid),
		source:  source,
		session: paid,
	})
}
