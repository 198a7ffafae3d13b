package reconcile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/dispatch"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/pricing"
	"parking-gate-backend/internal/store"
)

// PinKind selects which keypad code is configured.
type PinKind string

const (
	PinEntry PinKind = "entry"
	PinExit  PinKind = "exit"
)

// Setting keys of the keypad codes.
const (
	SettingEntryPin = "pin_entry"
	SettingExitPin  = "pin_exit"
)

var pinPattern = regexp.MustCompile(`^\d{4,8}$`)

// BadgeView is one row of the badge administration list.
type BadgeView struct {
	UID          string `json:"uid"`
	Plate        string `json:"plate"`
	OnController bool   `json:"on_controller"`
	Stored       bool   `json:"stored"`
}

// Tariff returns the tariff in force.
func (e *Engine) Tariff(ctx context.Context) (pricing.Tariff, error) {
	t, err := e.store.Tariff(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return e.opts.Tariff, nil
	}
	if err != nil {
		return pricing.Tariff{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return tariffFromModel(t), nil
}

// SetTariff replaces the tariff. Sessions already closed keep their frozen price.
func (e *Engine) SetTariff(ctx context.Context, t pricing.Tariff) error {
	if t.FreeMinutes < 0 || t.ChunkMinutes < 0 || t.PricePerChunk < 0 || t.DailyMax < 0 {
		return ErrInvalidTariff
	}
	err := e.store.SaveTariff(ctx, model.Tariff{
		FreeMinutes:   t.FreeMinutes,
		ChunkMinutes:  t.ChunkMinutes,
		PricePerChunk: t.PricePerChunk,
		DailyMax:      t.DailyMax,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.log.Info("tariff updated",
		zap.Int("free_minutes", t.FreeMinutes),
		zap.Int("chunk_minutes", t.ChunkMinutes),
		zap.Float64("price_per_chunk", t.PricePerChunk),
		zap.Float64("daily_max", t.DailyMax))
	return nil
}

// AddBadge stores a badge (and its optional plate) and pushes it to the controller's access list.
func (e *Engine) AddBadge(ctx context.Context, rawUID, plate string) (model.Badge, error) {
	uid := identity.NormalizeUID(rawUID)
	if uid == "" {
		return model.Badge{}, ErrInvalidBadge
	}
	b := model.Badge{UID: uid, Plate: identity.FormatPlate(plate)}
	if err := e.store.UpsertBadge(ctx, b); err != nil {
		return model.Badge{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	e.log.Info("badge added", zap.String("uid", uid), zap.String("plate", b.Plate))
	e.send(actuator.AddBadge(uid), actuator.RequestBadgeList())
	return b, nil
}

// RemoveBadge deletes a badge and revokes it on the controller.
func (e *Engine) RemoveBadge(ctx context.Context, rawUID string) error {
	uid := identity.NormalizeUID(rawUID)
	if uid == "" {
		return ErrInvalidBadge
	}
	if err := e.store.DeleteBadge(ctx, uid); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	e.log.Info("badge removed", zap.String("uid", uid))
	e.send(actuator.RemoveBadge(uid), actuator.RequestBadgeList())
	return nil
}

// ReplaceACL overwrites the controller's access list. It returns the normalised uids sent.
func (e *Engine) ReplaceACL(uids []string) []string {
	clean := normalizeUIDs(uids)
	e.log.Info("controller access list replaced", zap.Int("badges", len(clean)))
	e.send(actuator.ReplaceBadges(clean), actuator.RequestBadgeList())
	return clean
}

// ListBadges merges the stored badges with the last list reported by the controller.
func (e *Engine) ListBadges(ctx context.Context) ([]BadgeView, error) {
	stored, err := e.store.Badges(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	onController := append([]string(nil), e.controllerBadges...)
	e.mu.Unlock()

	views := make(map[string]*BadgeView, len(stored)+len(onController))
	for _, uid := range onController {
		views[uid] = &BadgeView{UID: uid, OnController: true}
	}
	for _, b := range stored {
		v, ok := views[b.UID]
		if !ok {
			v = &BadgeView{UID: b.UID}
			views[b.UID] = v
		}
		v.Plate = b.Plate
		v.Stored = true
	}

	out := make([]BadgeView, 0, len(views))
	for _, v := range views {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (e *Engine) setControllerBadges(uids []string) {
	clean := normalizeUIDs(uids)
	e.mu.Lock()
	e.controllerBadges = clean
	e.mu.Unlock()
	e.log.Debug("controller access list synced", zap.Int("badges", len(clean)))
}

func normalizeUIDs(uids []string) []string {
	seen := make(map[string]struct{}, len(uids))
	clean := make([]string, 0, len(uids))
	for _, raw := range uids {
		uid := identity.NormalizeUID(raw)
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		clean = append(clean, uid)
	}
	return clean
}

// StartEnrollment arms the badge capture window: the next badge read is reported to the dashboard
// instead of being treated as an access attempt. Starting again restarts the window.
func (e *Engine) StartEnrollment() time.Duration {
	window := e.opts.Windows.Enrollment

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopEnrollmentLocked()
	e.enrolling = true
	gen := e.enrollGen
	e.enrollTimer = time.AfterFunc(window, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.enrollGen != gen || !e.enrolling {
			return
		}
		e.enrolling = false
		e.enrollTimer = nil
		e.log.Info("enrollment window expired")
	})

	e.log.Info("enrollment window armed", zap.Duration("window", window))
	return window
}

// Enrolling reports whether the capture window is armed.
func (e *Engine) Enrolling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enrolling
}

// stopEnrollmentLocked disarms the window. e.mu must be held.
func (e *Engine) stopEnrollmentLocked() {
	if e.enrollTimer != nil {
		e.enrollTimer.Stop()
		e.enrollTimer = nil
	}
	e.enrolling = false
	e.enrollGen++
}

// AdjustCount corrects the occupancy by one: +1 opens a placeholder session, -1 removes the oldest
// placeholder (or the oldest session when there is none). It returns the new count.
func (e *Engine) AdjustCount(ctx context.Context, delta int) (int64, error) {
	if delta != 1 && delta != -1 {
		return 0, ErrInvalidAdjustment
	}

	var count int64
	_, err := e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
		n, err := tx.CountOpen()
		if err != nil {
			return Result{}, err
		}

		var res Result
		if delta > 0 {
			if n >= int64(e.opts.Capacity) {
				return Result{}, ErrLotFull
			}
			id, err := uniqueSynthetic(tx, identity.Manual(st.now))
			if err != nil {
				return Result{}, err
			}
			s := &model.ParkingSession{
				Identity:    id.String(),
				Source:      SourceManual,
				OpenedAt:    st.now,
				LastEventAt: st.now,
				IsOpen:      true,
				CreatedAt:   st.now,
			}
			if err := tx.Create(s); err != nil {
				return Result{}, err
			}
			res = Result{Outcome: OutcomeCreated, SessionID: s.ID}
		} else {
			if n == 0 {
				return Result{}, ErrLotEmpty
			}
			victim, err := e.oldestForRemoval(tx)
			if err != nil {
				return Result{}, err
			}
			if err := tx.Delete(victim.ID); err != nil {
				return Result{}, err
			}
			res = Result{Outcome: OutcomeClosed, SessionID: victim.ID}
		}

		if count, err = tx.CountOpen(); err != nil {
			return Result{}, err
		}
		st.send(actuator.Display(actuator.FreeText(e.opts.Capacity, count)))
		st.notify(notification.CountUpdate(st.now, count, e.opts.Capacity, "manual"))
		return res, nil
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("occupancy adjusted", zap.Int("delta", delta), zap.Int64("count", count))
	return count, nil
}

func (e *Engine) oldestForRemoval(tx store.Tx) (*model.ParkingSession, error) {
	for _, f := range []store.OpenFilter{
		{SourceLike: []string{SourceManual}, Oldest: true},
		{Oldest: true},
	} {
		open, err := tx.FindOpenBySource(f)
		if err != nil {
			return nil, err
		}
		if len(open) > 0 {
			return &open[0], nil
		}
	}
	return nil, store.ErrNotFound
}

// DeleteSession hard-deletes a session (open or closed) and refreshes the counter.
func (e *Engine) DeleteSession(ctx context.Context, id int64) error {
	_, err := e.run(ctx, func(tx store.Tx, st *step) (Result, error) {
		if err := tx.Delete(id); err != nil {
			return Result{}, err
		}
		if err := e.countChanged(tx, st, "delete"); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeClosed, SessionID: id}, nil
	})
	if err != nil {
		return err
	}
	e.log.Info("session deleted", zap.Int64("session_id", id))
	return nil
}

// SyncDisplay re-sends the full controller state: both keypad codes and the free-space counter.
func (e *Engine) SyncDisplay(ctx context.Context) error {
	entryPin, err := e.setting(ctx, SettingEntryPin, e.opts.DefaultPin)
	if err != nil {
		return err
	}
	exitPin, err := e.setting(ctx, SettingExitPin, e.opts.DefaultExit)
	if err != nil {
		return err
	}
	n, err := e.store.CountOpen(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	e.log.Debug("controller state synced", zap.Int64("count", n))
	e.send(
		actuator.SetConfig(actuator.ConfigEntryPin, entryPin),
		actuator.SetConfig(actuator.ConfigExitPin, exitPin),
		actuator.Display(actuator.FreeText(e.opts.Capacity, n)),
	)
	return nil
}

// SetPin stores a keypad code and pushes it to the controller.
func (e *Engine) SetPin(ctx context.Context, kind PinKind, pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPin
	}

	var key, configKey string
	switch kind {
	case PinEntry:
		key, configKey = SettingEntryPin, actuator.ConfigEntryPin
	case PinExit:
		key, configKey = SettingExitPin, actuator.ConfigExitPin
	default:
		return fmt.Errorf("%w: unknown pin kind %q", ErrInvalidPin, kind)
	}

	if err := e.store.SaveSetting(ctx, key, pin); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.log.Info("keypad code updated", zap.String("kind", string(kind)))
	e.send(actuator.SetConfig(configKey, pin))
	return nil
}

func (e *Engine) setting(ctx context.Context, key, def string) (string, error) {
	v, err := e.store.Setting(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return v, nil
}

// send dispatches commands that do not depend on a session mutation.
func (e *Engine) send(cmds ...actuator.Command) {
	effects := make([]dispatch.Effect, 0, len(cmds))
	for _, c := range cmds {
		effects = append(effects, dispatch.Send(c))
	}
	e.dispatch(effects)
}
