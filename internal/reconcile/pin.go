package reconcile

import (
	"context"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/store"
)

const authMethodPin = "PIN"

func (e *Engine) handlePin(ctx context.Context, ev PinCode) (Result, error) {
	switch ev.Action {
	case PinIn:
		return e.run(ctx, e.pinEntry)
	case PinOut:
		return e.run(ctx, e.pinExit)
	default:
		e.log.Warn("unknown keypad action ignored", zap.String("action", string(ev.Action)))
		return Result{Outcome: OutcomeIgnored}, nil
	}
}

// pinEntry fuses a valid entry code into a camera session that just arrived, or opens a PIN session.
// Either way the session is keyed PINCODE_<epoch>, never by plate, so the stay stays free.
func (e *Engine) pinEntry(tx store.Tx, st *step) (Result, error) {
	st.notify(notification.Detection(st.now, "PIN", "keypad", ""))

	id, err := uniqueSynthetic(tx, identity.PinSession(st.now))
	if err != nil {
		return Result{}, err
	}

	target, err := e.cameraOnly(tx, st, e.opts.Windows.CameraPin)
	if err != nil {
		return Result{}, err
	}
	if target != nil {
		fused, err := tx.Mutate(target.ID, func(s *model.ParkingSession) error {
			s.Identity = id.String()
			s.Source = SourceCamPin
			s.LastEventAt = st.now
			s.MergeMetadata(map[string]any{model.MetaAuthMethod: authMethodPin})
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		e.log.Info("pin fused into camera session",
			zap.Int64("session_id", fused.ID),
			zap.String("identity", fused.Identity))
		st.send(actuator.Open(actuator.GateEntry))
		return Result{Outcome: OutcomeFused, SessionID: fused.ID}, nil
	}

	return e.admit(tx, st, admission{
		id:     id,
		source: SourcePinEntry,
		meta:   map[string]any{model.MetaAuthMethod: authMethodPin},
	})
}

// pinExit closes the oldest open PIN session. Codes are shared, so exits are first in, first out.
func (e *Engine) pinExit(tx store.Tx, st *step) (Result, error) {
	open, err := tx.FindOpenBySource(store.OpenFilter{
		IdentityPrefix: identity.PinKeyPrefix(),
		Oldest:         true,
	})
	if err != nil {
		return Result{}, err
	}
	if len(open) == 0 {
		e.log.Info("exit code typed with no open pin session")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	oldest := &open[0]
	return e.exit(tx, st, exitRequest{
		id:      sessionIdentity(oldest),
		source:  SourcePinExit,
		meta:    map[string]any{model.MetaAuthMethod: authMethodPin},
		session: oldest,
	})
}
