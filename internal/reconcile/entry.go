package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/store"
)

func (e *Engine) handlePlate(ctx context.Context, ev PlateDetected) (Result, error) {
	id := identity.Plate(ev.Plate)
	if id.Value == "" {
		e.log.Debug("empty plate detection ignored", zap.String("cam_id", ev.CameraID))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	meta := map[string]any{
		model.MetaPlate: identity.FormatPlate(ev.Plate),
		model.MetaCamID: ev.CameraID,
		model.MetaImage: ev.Image,
	}

	dir := e.direction(ev)
	e.log.Debug("plate detected",
		zap.String("identity", id.String()),
		zap.String("cam_id", ev.CameraID),
		zap.Stringer("direction", dir),
		zap.Float64("confidence", ev.Confidence))

	switch dir {
	case DirectionEntry:
		return e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
			st.notify(notification.Detection(st.now, identity.FormatPlate(ev.Plate), ev.CameraID, ev.Image))
			return e.cameraEntry(tx, st, id, meta)
		})
	case DirectionExit:
		return e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
			st.notify(notification.Detection(st.now, identity.FormatPlate(ev.Plate), ev.CameraID, ev.Image))
			return e.exit(tx, st, exitRequest{
				id:     id,
				plate:  identity.FormatPlate(ev.Plate),
				source: SourceCamera,
				meta:   meta,
				fuzzy:  true,
			})
		})
	default:
		e.log.Warn("detection from unknown camera ignored", zap.String("cam_id", ev.CameraID))
		return Result{Outcome: OutcomeIgnored}, nil
	}
}

// cameraEntry applies, in order: fusion with a recent badge/PIN session, the already-inside no-op,
// duplicate suppression, then the common admission checks.
func (e *Engine) cameraEntry(tx store.Tx, st *step, id identity.Identity, meta map[string]any) (Result, error) {
	key := id.String()

	existing, err := tx.FindOpenByIdentity(key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	target, err := e.fusionTarget(tx, st)
	if err != nil {
		return Result{}, err
	}
	if target != nil && (existing == nil || existing.ID == target.ID) {
		return e.fuseCamera(tx, st, target, id, meta)
	}

	if existing != nil {
		e.log.Debug("vehicle already inside", zap.String("identity", key), zap.Int64("session_id", existing.ID))
		return Result{Outcome: OutcomeAlreadyInside, SessionID: existing.ID}, nil
	}

	dup, err := e.duplicateOf(tx, st, id.Value)
	if err != nil {
		return Result{}, err
	}
	if dup != nil {
		e.log.Info("duplicate entry read suppressed",
			zap.String("identity", key),
			zap.String("matched", dup.Identity))
		st.send(actuator.Open(actuator.GateEntry))
		return Result{Outcome: OutcomeDuplicate, SessionID: dup.ID}, nil
	}

	return e.admit(tx, st, admission{id: id, source: SourceCamera, meta: meta, checkCooldown: true})
}

// fusionTarget finds the newest badge- or PIN-class session opened within the fusion window
// that no camera has confirmed yet.
func (e *Engine) fusionTarget(tx store.Tx, st *step) (*model.ParkingSession, error) {
	candidates, err := tx.FindOpenBySource(store.OpenFilter{
		SourceLike:  []string{"%badge%", "pin%"},
		OpenedAfter: st.now.Add(-e.opts.Windows.Fusion),
	})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if !candidates[i].MetaBool(model.MetaPlateConfirmed) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// fuseCamera enriches a badge/PIN session with the camera evidence. Badge-keyed sessions are promoted
// to the plate key; PIN sessions keep their key so they stay free of charge.
func (e *Engine) fuseCamera(tx store.Tx, st *step, target *model.ParkingSession, id identity.Identity, meta map[string]any) (Result, error) {
	current := sessionIdentity(target)

	fused, err := tx.Mutate(target.ID, func(s *model.ParkingSession) error {
		camMeta := map[string]any{
			model.MetaCamID:          meta[model.MetaCamID],
			model.MetaImage:          meta[model.MetaImage],
			model.MetaPlateConfirmed: true,
		}
		if s.Plate() == "" {
			camMeta[model.MetaPlate] = meta[model.MetaPlate]
		} else {
			camMeta[model.MetaCamPlate] = meta[model.MetaPlate]
		}
		s.MergeMetadata(camMeta)
		s.LastEventAt = st.now

		switch current.Kind {
		case identity.KindPinSession:
			s.Source = SourcePinCam
		case identity.KindBadge:
			s.Source = SourceBadgeCam
			free, err := keyFree(tx, id.String(), s.ID)
			if err != nil {
				return err
			}
			if free {
				s.Identity = id.String()
			}
		default:
			s.Source = SourceBadgeCam
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.log.Info("camera fused into authenticated session",
		zap.Int64("session_id", fused.ID),
		zap.String("identity", fused.Identity),
		zap.String("source", fused.Source))
	return Result{Outcome: OutcomeFused, SessionID: fused.ID}, nil
}

// duplicateOf returns an open session whose plate is within the duplicate tolerance and that opened
// inside the duplicate window.
func (e *Engine) duplicateOf(tx store.Tx, st *step, plate string) (*model.ParkingSession, error) {
	open, err := tx.FindOpenBySource(store.OpenFilter{OpenedAfter: st.now.Add(-e.opts.Windows.Duplicate)})
	if err != nil {
		return nil, err
	}
	for i := range open {
		other := sessionPlate(&open[i])
		if other == "" {
			continue
		}
		if identity.PlateDistance(plate, other) <= e.opts.Windows.DuplicateTolerance {
			return &open[i], nil
		}
	}
	return nil, nil
}

// admission is a request to open a brand new session.
type admission struct {
	id            identity.Identity
	source        string
	meta          map[string]any
	checkCooldown bool
}

// admit runs the capacity and re-entry checks and creates the session.
func (e *Engine) admit(tx store.Tx, st *step, a admission) (Result, error) {
	key := a.id.String()

	n, err := tx.CountOpen()
	if err != nil {
		return Result{}, err
	}
	if n >= int64(e.opts.Capacity) {
		e.log.Info("entry refused, lot full", zap.String("identity", key), zap.Int64("open", n))
		label, _ := a.meta[model.MetaPlate].(string)
		if label == "" {
			label = key
		}
		st.send(
			actuator.Display(actuator.TextFull),
			actuator.Refuse(label, actuator.CauseLotFull),
		)
		st.notify(notification.CountUpdate(st.now, n, e.opts.Capacity, "full"))
		return Result{Outcome: OutcomeRejectedFull}, nil
	}

	if a.checkCooldown {
		last, err := tx.FindRecentlyClosed(key, st.now.Add(-e.opts.Windows.Reentry))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		if last != nil {
			e.log.Info("entry refused, exit just recorded",
				zap.String("identity", key),
				zap.Duration("since_exit", st.now.Sub(*last.ClosedAt)))
			return Result{Outcome: OutcomeRejectedCooldown, SessionID: last.ID}, nil
		}
	}

	s := &model.ParkingSession{
		Identity:    key,
		Source:      a.source,
		OpenedAt:    st.now,
		LastEventAt: st.now,
		IsOpen:      true,
		CreatedAt:   st.now,
	}
	s.MergeMetadata(a.meta)
	if err := tx.Create(s); err != nil {
		return Result{}, err
	}

	e.log.Info("session opened", zap.Int64("session_id", s.ID), zap.String("identity", key), zap.String("source", a.source))
	st.send(actuator.Open(actuator.GateEntry))
	if err := e.countChanged(tx, st, "entry"); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeCreated, SessionID: s.ID}, nil
}
