package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"parking-gate-backend/config"
	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/clock"
	"parking-gate-backend/internal/dispatch"
	"parking-gate-backend/internal/identity"
	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/pricing"
	"parking-gate-backend/internal/store"
)

// Session sources.
const (
	SourceCamera      = "cam"
	SourceBadgeEntry  = "badge_entree"
	SourceBadgeExit   = "badge_sortie"
	SourceCamBadge    = "cam_et_badge"
	SourceBadgeCam    = "badge_et_cam"
	SourcePinEntry    = "pin_entree"
	SourcePinExit     = "pin_sortie"
	SourceCamPin      = "cam_et_pin"
	SourcePinCam      = "pin_et_cam"
	SourceGhost       = "ghost_exit"
	SourceManual      = "admin_manual"
	SourcePayment     = "payment"
	SourceForceFinish = "admin_finish"
)

// Dispatcher receives the side effects of a committed step. It must not block.
type Dispatcher interface {
	Dispatch(effects []dispatch.Effect)
}

// Options configures an Engine.
type Options struct {
	Capacity    int
	Windows     Windows
	Tariff      pricing.Tariff
	EntryCams   []string
	ExitCams    []string
	DefaultPin  string
	DefaultExit string
}

// OptionsFromConfig builds engine options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Capacity: cfg.Parking.Capacity,
		Windows:  WindowsFromConfig(cfg.Timing, cfg.Matching),
		Tariff: pricing.Tariff{
			FreeMinutes:   cfg.Tariff.FreeMinutes,
			ChunkMinutes:  cfg.Tariff.ChunkMinutes,
			PricePerChunk: cfg.Tariff.PricePerChunk,
			DailyMax:      cfg.Tariff.DailyMax,
		},
		EntryCams:   cfg.Parking.EntryCams,
		ExitCams:    cfg.Parking.ExitCams,
		DefaultPin:  cfg.Parking.DefaultPin,
		DefaultExit: cfg.Parking.DefaultExit,
	}
}

// Engine is the reconciliation engine. It owns the process-wide mutable state of the gate
// (badge cooldowns, enrollment window, controller badge list) and serialises every decision
// through the store's critical section.
type Engine struct {
	store      store.Store
	clock      clock.Clock
	dispatcher Dispatcher
	log        *zap.Logger
	opts       Options

	// mu guards the fields below. It is never held while calling the store.
	mu               sync.Mutex
	cooldowns        map[string]time.Time
	enrolling        bool
	enrollGen        uint64
	enrollTimer      *time.Timer
	controllerBadges []string
}

func New(st store.Store, d Dispatcher, clk clock.Clock, opts Options, log *zap.Logger) *Engine {
	if opts.Windows == (Windows{}) {
		opts.Windows = DefaultWindows()
	}
	return &Engine{
		store:      st,
		clock:      clk,
		dispatcher: d,
		log:        log.With(zap.String("component", "reconcile")),
		opts:       opts,
		cooldowns:  make(map[string]time.Time),
	}
}

// Capacity returns the number of spaces of the lot.
func (e *Engine) Capacity() int {
	return e.opts.Capacity
}

// Handle is the single dispatch point of the bus.
func (e *Engine) Handle(ctx context.Context, ev Event) (Result, error) {
	switch ev := ev.(type) {
	case PlateDetected:
		return e.handlePlate(ctx, ev)
	case BadgeRead:
		return e.handleBadge(ctx, ev)
	case PinCode:
		return e.handlePin(ctx, ev)
	case PaymentConfirmed:
		return e.handlePayment(ctx, ev)
	case BadgeListSynced:
		e.setControllerBadges(ev.UIDs)
		return Result{Outcome: OutcomeSynced}, nil
	case SyncRequested:
		if err := e.SyncDisplay(ctx); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeSynced}, nil
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
	}
}

// step collects the side effects of one critical section; they are dispatched after commit.
type step struct {
	now     time.Time
	effects []dispatch.Effect
}

func (s *step) send(cmds ...actuator.Command) {
	for _, c := range cmds {
		s.effects = append(s.effects, dispatch.Send(c))
	}
}

func (s *step) notify(n notification.Notice) {
	s.effects = append(s.effects, dispatch.Notify(n))
}

// run executes fn inside the store's critical section and, once committed, hands its effects to
// the dispatcher. Effects of a rolled back step are discarded.
func (e *Engine) run(ctx context.Context, fn func(tx store.Tx, st *step) (Result, error)) (Result, error) {
	var (
		res Result
		st  step
	)
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		st = step{now: e.clock.Now()}
		r, err := fn(tx, &st)
		res = r
		return err
	})
	if err != nil {
		if isDomainError(err) {
			return Result{}, err
		}
		e.log.Error("reconciliation step failed", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.dispatch(st.effects)
	return res, nil
}

func (e *Engine) dispatch(effects []dispatch.Effect) {
	if e.dispatcher != nil && len(effects) > 0 {
		e.dispatcher.Dispatch(effects)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{ErrLotFull, ErrLotEmpty, ErrInvalidAdjustment, store.ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// --- helpers shared by the handlers ---

// tariff returns the stored tariff, or the configured default when none was saved yet.
func (e *Engine) tariff(tx store.Tx) (pricing.Tariff, error) {
	t, err := tx.Tariff()
	if errors.Is(err, store.ErrNotFound) {
		return e.opts.Tariff, nil
	}
	if err != nil {
		return pricing.Tariff{}, err
	}
	return tariffFromModel(t), nil
}

func (e *Engine) vipPlates(tx store.Tx) ([]string, error) {
	badges, err := tx.Badges()
	if err != nil {
		return nil, err
	}
	plates := make([]string, 0, len(badges))
	for _, b := range badges {
		if b.Plate != "" {
			plates = append(plates, b.Plate)
		}
	}
	return plates, nil
}

// countChanged pushes the free-space counter and the dashboard count after a change of occupancy.
func (e *Engine) countChanged(tx store.Tx, st *step, action string) error {
	n, err := tx.CountOpen()
	if err != nil {
		return err
	}
	st.send(actuator.Display(actuator.FreeText(e.opts.Capacity, n)))
	st.notify(notification.CountUpdate(st.now, n, e.opts.Capacity, action))
	return nil
}

// keyFree reports whether no open session other than selfID is keyed by key.
func keyFree(tx store.Tx, key string, selfID int64) (bool, error) {
	s, err := tx.FindOpenByIdentity(key)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return s.ID == selfID, nil
}

// uniqueSynthetic shifts a PIN or manual identity forward until its key is unused.
func uniqueSynthetic(tx store.Tx, id identity.Identity) (identity.Identity, error) {
	for {
		free, err := keyFree(tx, id.String(), 0)
		if err != nil {
			return id, err
		}
		if free {
			return id, nil
		}
		id = id.Next()
	}
}

// sessionPlate is the plate a session is known by: its metadata plate, or its plate key.
func sessionPlate(s *model.ParkingSession) string {
	if p := s.Plate(); p != "" {
		return p
	}
	if id, err := identity.Parse(s.Identity); err == nil && id.Kind == identity.KindPlate {
		return id.Value
	}
	return ""
}

func sessionIdentity(s *model.ParkingSession) identity.Identity {
	id, err := identity.Parse(s.Identity)
	if err != nil {
		return identity.Identity{Value: s.Identity}
	}
	return id
}

func within(now, at time.Time, window time.Duration) bool {
	return now.Sub(at) < window
}

func isCameraOnly(s *model.ParkingSession) bool {
	return s.Source == SourceCamera && s.MetaString(model.MetaBadgeUID) == "" && !s.MetaBool(model.MetaPlateConfirmed)
}

// direction resolves an unknown direction from the configured camera ids.
func (e *Engine) direction(ev PlateDetected) Direction {
	if ev.Direction != DirectionUnknown {
		return ev.Direction
	}
	cam := strings.ToLower(strings.TrimSpace(ev.CameraID))
	for _, c := range e.opts.EntryCams {
		if cam == strings.ToLower(c) {
			return DirectionEntry
		}
	}
	for _, c := range e.opts.ExitCams {
		if cam == strings.ToLower(c) {
			return DirectionExit
		}
	}
	return DirectionUnknown
}

func tariffFromModel(t *model.Tariff) pricing.Tariff {
	return pricing.Tariff{
		FreeMinutes:   t.FreeMinutes,
		ChunkMinutes:  t.ChunkMinutes,
		PricePerChunk: t.PricePerChunk,
		DailyMax:      t.DailyMax,
	}
}
