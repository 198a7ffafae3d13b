package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/dispatch"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/store"
)

// handleBadge applies, in order: the keypad sentinel, the per-UID cooldown, the enrollment capture,
// the access list, then confirmation / exit / fusion / entry.
func (e *Engine) handleBadge(ctx context.Context, ev BadgeRead) (Result, error) {
	if ev.UID == identity.PinSentinel {
		return e.handlePin(ctx, PinCode{Action: PinIn})
	}

	uid := identity.NormalizeUID(ev.UID)
	if uid == "" {
		e.log.Debug("badge read without uid ignored", zap.String("raw", ev.UID))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	if e.cooling(uid) {
		e.log.Debug("badge bounce suppressed", zap.String("uid", uid))
		return Result{Outcome: OutcomeRejectedCooldown}, nil
	}

	if e.capture(uid) {
		return Result{Outcome: OutcomeCaptured}, nil
	}

	return e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
		badge, err := tx.FindBadge(uid)
		if errors.Is(err, store.ErrNotFound) {
			e.log.Info("unknown badge rejected", zap.String("uid", uid))
			return Result{Outcome: OutcomeUnknownCredential}, nil
		}
		if err != nil {
			return Result{}, err
		}

		plate := identity.FormatPlate(badge.Plate)
		label := plate
		if label == "" {
			label = uid
		}
		st.notify(notification.Detection(st.now, label, "badge", ""))

		existing, err := e.badgeSession(tx, uid, plate)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			if within(st.now, existing.OpenedAt, e.opts.Windows.BadgeConfirm) {
				return e.confirmBadge(tx, st, existing, uid)
			}
			return e.exit(tx, st, exitRequest{
				id:      sessionIdentity(existing),
				plate:   plate,
				source:  SourceBadgeExit,
				meta:    map[string]any{model.MetaBadgeUID: uid},
				session: existing,
			})
		}

		target, err := e.cameraOnly(tx, st, e.opts.Windows.CameraBadge)
		if err != nil {
			return Result{}, err
		}
		if target != nil {
			return e.fuseBadge(tx, st, target, uid, plate)
		}

		id := identity.Badge(uid)
		if plate != "" {
			id = identity.Plate(plate)
		}
		return e.admit(tx, st, admission{
			id:     id,
			source: SourceBadgeEntry,
			meta: map[string]any{
				model.MetaUID8:     uid,
				model.MetaBadgeUID: uid,
				model.MetaPlate:    plate,
			},
			checkCooldown: true,
		})
	})
}

// cooling reports whether uid was read within the badge cooldown, and records the read otherwise.
func (e *Engine) cooling(uid string) bool {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for k, at := range e.cooldowns {
		if !within(now, at, e.opts.Windows.BadgeCooldown) {
			delete(e.cooldowns, k)
		}
	}
	if _, ok := e.cooldowns[uid]; ok {
		return true
	}
	e.cooldowns[uid] = now
	return false
}

// capture consumes the read as an enrollment capture when the window is armed.
func (e *Engine) capture(uid string) bool {
	e.mu.Lock()
	if !e.enrolling {
		e.mu.Unlock()
		return false
	}
	e.stopEnrollmentLocked()
	e.mu.Unlock()

	e.log.Info("badge captured for enrollment", zap.String("uid", uid))
	e.dispatch([]dispatch.Effect{dispatch.Notify(notification.EnrollCaptured(e.clock.Now(), uid))})
	return true
}

// badgeSession finds the open session a badge belongs to: by plate key, by plate metadata, by badge key,
// then by a previously fused badge uid.
func (e *Engine) badgeSession(tx store.Tx, uid, plate string) (*model.ParkingSession, error) {
	keys := []string{identity.Badge(uid).String()}
	if plate != "" {
		keys = append([]string{identity.Plate(plate).String()}, keys...)
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

	open, err := tx.ListOpen()
	if err != nil {
		return nil, err
	}
	for i := range open {
		if plate != "" && identity.SamePlate(sessionPlate(&open[i]), plate) {
			return &open[i], nil
		}
		if open[i].MetaString(model.MetaBadgeUID) == uid || open[i].MetaString(model.MetaUID8) == uid {
			return &open[i], nil
		}
	}
	return nil, nil
}

// confirmBadge records a badge presented on a session that just opened.
func (e *Engine) confirmBadge(tx store.Tx, st *step, s *model.ParkingSession, uid string) (Result, error) {
	confirmed, err := tx.Mutate(s.ID, func(s *model.ParkingSession) error {
		if isCameraOnly(s) {
			s.Source = SourceCamBadge
			s.MergeMetadata(map[string]any{model.MetaPlateConfirmed: true})
		}
		s.MergeMetadata(map[string]any{
			model.MetaBadgeCheck: "confirmed",
			model.MetaBadgeUID:   uid,
		})
		s.LastEventAt = st.now
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.log.Info("badge confirmed recent entry", zap.Int64("session_id", confirmed.ID), zap.String("uid", uid))
	st.send(actuator.Open(actuator.GateEntry))
	return Result{Outcome: OutcomeConfirmed, SessionID: confirmed.ID}, nil
}

// cameraOnly returns the newest camera session opened within window that carries no badge or confirmation.
func (e *Engine) cameraOnly(tx store.Tx, st *step, window time.Duration) (*model.ParkingSession, error) {
	candidates, err := tx.FindOpenBySource(store.OpenFilter{
		SourceLike:  []string{SourceCamera},
		OpenedAfter: st.now.Add(-window),
	})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if isCameraOnly(&candidates[i]) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// fuseBadge merges a badge arriving shortly after the camera into the camera session.
func (e *Engine) fuseBadge(tx store.Tx, st *step, target *model.ParkingSession, uid, plate string) (Result, error) {
	fused, err := tx.Mutate(target.ID, func(s *model.ParkingSession) error {
		if plate != "" {
			key := identity.Plate(plate).String()
			free, err := keyFree(tx, key, s.ID)
			if err != nil {
				return err
			}
			if free {
				s.Identity = key
			}
		}
		s.Source = SourceCamBadge
		s.LastEventAt = st.now
		s.MergeMetadata(map[string]any{
			model.MetaBadgeUID:       uid,
			model.MetaPlateConfirmed: true,
		})
		if plate != "" && !identity.SamePlate(s.Plate(), plate) {
			if cam := s.Plate(); cam != "" {
				s.Metadata[model.MetaCamPlate] = cam
			}
			s.Metadata[model.MetaPlate] = plate
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.log.Info("badge fused into camera session",
		zap.Int64("session_id", fused.ID),
		zap.String("identity", fused.Identity),
		zap.String("uid", uid))
	st.send(actuator.Open(actuator.GateEntry), actuator.Welcome(plate))
	return Result{Outcome: OutcomeFused, SessionID: fused.ID}, nil
}
