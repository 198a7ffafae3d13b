package reconcile

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/pricing"
	"parking-gate-backend/internal/store"
)

// exitRequest is an exit attempt. When session is set the match is already known and only the
// payment gate and closing apply.
type exitRequest struct {
	id      identity.Identity
	plate   string
	source  string
	meta    map[string]any
	fuzzy   bool
	session *model.ParkingSession
}

// exit resolves the session that is leaving (exact, grace, fuzzy, ghost) and settles it.
func (e *Engine) exit(tx store.Tx, st *step, r exitRequest) (Result, error) {
	s := r.session
	if s == nil {
		key := r.id.String()

		recent, err := tx.FindRecentlyClosed(key, st.now.Add(-e.opts.Windows.ExitGrace))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		if recent != nil {
			e.log.Info("exit gate re-opened within grace period", zap.String("identity", key), zap.Int64("session_id", recent.ID))
			st.send(actuator.Open(actuator.GateExit))
			return Result{Outcome: OutcomeGraceReopen, SessionID: recent.ID}, nil
		}

		exact, err := tx.FindOpenByIdentity(key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}

		s = exact
		if s == nil && r.fuzzy {
			plate := r.plate
			if plate == "" {
				plate = r.id.Value
			}
			if s, err = e.fuzzyMatch(tx, plate); err != nil {
				return Result{}, err
			}
		}
		if s == nil {
			if s, err = e.ghost(tx, st, r); err != nil {
				return Result{}, err
			}
		}
	}
	return e.settle(tx, st, s, r.source, r.meta)
}

// fuzzyMatch picks the open session with the closest plate within the exit tolerance.
// Ties go to the session that entered first.
func (e *Engine) fuzzyMatch(tx store.Tx, plate string) (*model.ParkingSession, error) {
	open, err := tx.ListOpen()
	if err != nil {
		return nil, err
	}

	var best *model.ParkingSession
	bestDist := e.opts.Windows.ExitTolerance + 1
	for i := range open {
		other := sessionPlate(&open[i])
		if other == "" {
			continue
		}
		d := identity.PlateDistance(plate, other)
		if d > e.opts.Windows.ExitTolerance {
			continue
		}
		if d < bestDist || (d == bestDist && open[i].OpenedAt.Before(best.OpenedAt)) {
			best = &open[i]
			bestDist = d
		}
	}
	if best != nil {
		e.log.Info("exit plate corrected by fuzzy match",
			zap.String("read", plate),
			zap.String("matched", best.Identity),
			zap.Int("distance", bestDist))
	}
	return best, nil
}

// ghost returns the lost-ticket session of an unmatched exit, creating it if no recent one exists.
func (e *Engine) ghost(tx store.Tx, st *step, r exitRequest) (*model.ParkingSession, error) {
	key := r.id.String()

	existing, err := tx.FindGhost(key, SourceGhost, st.now.Add(-e.opts.Windows.GhostDedup))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tariff, err := e.tariff(tx)
	if err != nil {
		return nil, err
	}

	g := &model.ParkingSession{
		Identity:    key,
		Source:      SourceGhost,
		OpenedAt:    st.now.Add(-e.opts.Windows.GhostStay),
		LastEventAt: st.now,
		IsOpen:      true,
		Price:       tariff.DailyMax,
		CreatedAt:   st.now,
	}
	g.MergeMetadata(r.meta)
	if err := tx.Create(g); err != nil {
		return nil, err
	}
	e.log.Warn("exit without recorded entry, ghost session created",
		zap.String("identity", key),
		zap.Int64("session_id", g.ID),
		zap.Float64("price", g.Price))
	return g, nil
}

// settle prices the stay and either blocks on payment or closes the session.
func (e *Engine) settle(tx store.Tx, st *step, s *model.ParkingSession, source string, meta map[string]any) (Result, error) {
	tariff, err := e.tariff(tx)
	if err != nil {
		return Result{}, err
	}
	vip, err := e.vipPlates(tx)
	if err != nil {
		return Result{}, err
	}

	duration := max(st.now.Sub(s.OpenedAt), 0)
	ghost := s.Source == SourceGhost
	amount := pricing.Amount(pricing.Quote{
		Duration:    duration,
		Source:      s.Source,
		Identity:    sessionIdentity(s),
		Plate:       sessionPlate(s),
		Ghost:       ghost,
		FrozenPrice: s.Price,
	}, tariff, vip)

	exitMeta := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == model.MetaPlate && s.Plate() != "" {
			continue
		}
		exitMeta[k] = v
	}

	label := sessionPlate(s)
	if label == "" {
		label = s.Identity
	}

	if amount > 0 && !s.Paid && !e.paymentValid(s, st.now) {
		if _, err := tx.Mutate(s.ID, func(s *model.ParkingSession) error {
			s.LastEventAt = st.now
			exitMeta[model.MetaPaymentRequired] = true
			s.MergeMetadata(exitMeta)
			return nil
		}); err != nil {
			return Result{}, err
		}

		cause := ""
		if ghost {
			cause = actuator.CauseGhost
		}
		e.log.Info("exit refused, payment required",
			zap.Int64("session_id", s.ID),
			zap.String("identity", s.Identity),
			zap.Float64("amount", amount))
		st.send(actuator.RequestPayment(label, amount, cause))
		st.notify(notification.PaymentRequired(st.now, label, amount))
		return Result{Outcome: OutcomePaymentRequested, SessionID: s.ID, Amount: amount}, nil
	}

	exitMeta[model.MetaExitSource] = source
	if s.MetaBool(model.MetaPaymentRequired) {
		exitMeta[model.MetaPaymentRequired] = false
	}
	if _, err := tx.Mutate(s.ID, func(s *model.ParkingSession) error {
		s.MergeMetadata(exitMeta)
		return nil
	}); err != nil {
		return Result{}, err
	}
	closed, err := tx.Close(s.ID, st.now, duration, amount)
	if err != nil {
		return Result{}, err
	}

	e.log.Info("session closed",
		zap.Int64("session_id", closed.ID),
		zap.String("identity", closed.Identity),
		zap.String("exit_source", source),
		zap.Duration("duration", duration),
		zap.Float64("price", amount))
	st.send(actuator.Open(actuator.GateExit))
	if err := e.countChanged(tx, st, "exit"); err != nil {
		return Result{}, err
	}
	st.notify(notification.SessionClosed(st.now, *closed))
	return Result{Outcome: OutcomeClosed, SessionID: closed.ID, Amount: amount}, nil
}

func (e *Engine) paymentValid(s *model.ParkingSession, now time.Time) bool {
	return s.PaymentTime != nil && within(now, *s.PaymentTime, e.opts.Windows.PaymentValidity)
}
