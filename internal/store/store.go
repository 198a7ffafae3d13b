package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-gate-backend/internal/model"
)

// Tx is the view of the session table available inside one critical section.
type Tx interface {
	FindOpenByIdentity(identity string) (*model.ParkingSession, error)
	ListOpen() ([]model.ParkingSession, error)
	FindOpenBySource(f OpenFilter) ([]model.ParkingSession, error)
	FindRecentlyClosed(identity string, since time.Time) (*model.ParkingSession, error)
	FindGhost(identity, source string, since time.Time) (*model.ParkingSession, error)
	CountOpen() (int64, error)
	Get(id int64) (*model.ParkingSession, error)
	Create(s *model.ParkingSession) error
	Mutate(id int64, fn func(s *model.ParkingSession) error) (*model.ParkingSession, error)
	Close(id int64, closedAt time.Time, duration time.Duration, price float64) (*model.ParkingSession, error)
	Delete(id int64) error
	Badges() ([]model.Badge, error)
	FindBadge(uid string) (*model.Badge, error)
	Tariff() (*model.Tariff, error)
}

// Store defines the interface for all database operations.
type Store interface {
	// Atomic runs fn inside the global critical section and one database transaction.
	// Returning an error rolls the transaction back.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	ListSessions(ctx context.Context, q SessionQuery) ([]model.ParkingSession, error)
	CountOpen(ctx context.Context) (int64, error)

	Badges(ctx context.Context) ([]model.Badge, error)
	UpsertBadge(ctx context.Context, b model.Badge) error
	DeleteBadge(ctx context.Context, uid string) error

	Tariff(ctx context.Context) (*model.Tariff, error)
	SaveTariff(ctx context.Context, t model.Tariff) error

	Setting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key, value string) error

	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Atomic serialises every reconciliation step behind one lock. Cross-identity fusion needs a stable view of
// all open sessions, so the whole table is the unit of exclusion.
func (s *gormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *gormStore) ListSessions(ctx context.Context, q SessionQuery) ([]model.ParkingSession, error) {
	query := s.db.WithContext(ctx).Model(&model.ParkingSession{})
	switch q.State {
	case StateOpen:
		query = query.Where("is_open = ?", true)
	case StateClosed:
		query = query.Where("is_open = ?", false)
	}
	if !q.Since.IsZero() {
		query = query.Where("(is_open = ? OR closed_at >= ?)", true, q.Since)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var sessions []model.ParkingSession
	if err := query.Order("opened_at DESC").Order("id DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *gormStore) CountOpen(ctx context.Context) (int64, error) {
	return countOpen(s.db.WithContext(ctx))
}

func (s *gormStore) Badges(ctx context.Context) ([]model.Badge, error) {
	return listBadges(s.db.WithContext(ctx))
}

func (s *gormStore) UpsertBadge(ctx context.Context, b model.Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"plate"}),
	}).Create(&b).Error
	if err != nil {
		return fmt.Errorf("failed to upsert badge %s: %w", b.UID, err)
	}
	return nil
}

func (s *gormStore) DeleteBadge(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Delete(&model.Badge{}, "uid = ?", uid).Error; err != nil {
		return fmt.Errorf("failed to delete badge %s: %w", uid, err)
	}
	return nil
}

func (s *gormStore) Tariff(ctx context.Context) (*model.Tariff, error) {
	return findTariff(s.db.WithContext(ctx))
}

// SaveTariff upserts the single tariff row.
func (s *gormStore) SaveTariff(ctx context.Context, t model.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = model.TariffRowID
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"free_minutes", "chunk_minutes", "price_per_chunk", "daily_max", "updated_at"}),
	}).Create(&t).Error
	if err != nil {
		return fmt.Errorf("failed to save tariff: %w", err)
	}
	return nil
}

func (s *gormStore) Setting(ctx context.Context, key string) (string, error) {
	var setting model.Setting
	err := s.db.WithContext(ctx).Where(&model.Setting{Key: key}).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return setting.Value, nil
}

func (s *gormStore) SaveSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// PurgeClosedBefore deletes closed sessions whose exit is older than cutoff. It is the only hard delete
// outside of an explicit admin action.
func (s *gormStore) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).
		Where("is_open = ? AND closed_at < ?", false, cutoff).
		Delete(&model.ParkingSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge closed sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// gormTx implements Tx on top of an open transaction. It never touches the parent handle.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) FindOpenByIdentity(identity string) (*model.ParkingSession, error) {
	var s model.ParkingSession
	err := t.db.Where("identity = ? AND is_open = ?", identity, true).
		Order("opened_at DESC").
		Take(&s).Error
	return found(&s, err, "open session for "+identity)
}

func (t *gormTx) ListOpen() ([]model.ParkingSession, error) {
	return t.FindOpenBySource(OpenFilter{})
}

func (t *gormTx) FindOpenBySource(f OpenFilter) ([]model.ParkingSession, error) {
	q := t.db.Where("is_open = ?", true)
	if len(f.SourceLike) > 0 {
		cond := t.db.Where("source LIKE ?", f.SourceLike[0])
		for _, p := range f.SourceLike[1:] {
			cond = cond.Or("source LIKE ?", p)
		}
		q = q.Where(cond)
	}
	if f.IdentityPrefix != "" {
		q = q.Where("identity LIKE ?", f.IdentityPrefix+"%")
	}
	if f.Oldest {
		q = q.Order("opened_at ASC").Order("id ASC")
	} else {
		q = q.Order("opened_at DESC").Order("id DESC")
	}

	var sessions []model.ParkingSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to scan open sessions: %w", err)
	}
	if f.OpenedAfter.IsZero() {
		return sessions, nil
	}

	kept := sessions[:0]
	for _, s := range sessions {
		if s.OpenedAt.After(f.OpenedAfter) {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// FindRecentlyClosed returns the latest closed session of identity if it closed after since.
func (t *gormTx) FindRecentlyClosed(identity string, since time.Time) (*model.ParkingSession, error) {
	var s model.ParkingSession
	err := t.db.Where("identity = ? AND is_open = ?", identity, false).
		Order("closed_at DESC").
		Take(&s).Error
	if err != nil {
		return found(&s, err, "closed session for "+identity)
	}
	if s.ClosedAt == nil || !s.ClosedAt.After(since) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// FindGhost returns an open session of identity with the given source created after since.
func (t *gormTx) FindGhost(identity, source string, since time.Time) (*model.ParkingSession, error) {
	var s model.ParkingSession
	err := t.db.Where("identity = ? AND source = ? AND is_open = ?", identity, source, true).
		Order("created_at DESC").
		Take(&s).Error
	if err != nil {
		return found(&s, err, "ghost for "+identity)
	}
	if !s.CreatedAt.After(since) {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (t *gormTx) CountOpen() (int64, error) {
	return countOpen(t.db)
}

func (t *gormTx) Get(id int64) (*model.ParkingSession, error) {
	var s model.ParkingSession
	err := t.db.Take(&s, id).Error
	return found(&s, err, fmt.Sprintf("session %d", id))
}

func (t *gormTx) Create(s *model.ParkingSession) error {
	if err := t.db.Create(s).Error; err != nil {
		return fmt.Errorf("failed to create session for %s: %w", s.Identity, err)
	}
	return nil
}

// Mutate loads a session, applies fn and saves the whole row.
func (t *gormTx) Mutate(id int64, fn func(s *model.ParkingSession) error) (*model.ParkingSession, error) {
	s, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := t.db.Save(s).Error; err != nil {
		return nil, fmt.Errorf("failed to update session %d: %w", id, err)
	}
	return s, nil
}

// Close freezes the exit time, duration and price of an open session.
func (t *gormTx) Close(id int64, closedAt time.Time, duration time.Duration, price float64) (*model.ParkingSession, error) {
	return t.Mutate(id, func(s *model.ParkingSession) error {
		if !s.IsOpen {
			return fmt.Errorf("session %d already closed: %w", id, ErrNotFound)
		}
		s.IsOpen = false
		s.ClosedAt = &closedAt
		s.LastEventAt = closedAt
		s.DurationSeconds = duration.Seconds()
		s.Price = price
		return nil
	})
}

func (t *gormTx) Delete(id int64) error {
	res := t.db.Delete(&model.ParkingSession{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete session %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return nil
}

func (t *gormTx) Badges() ([]model.Badge, error) {
	return listBadges(t.db)
}

func (t *gormTx) FindBadge(uid string) (*model.Badge, error) {
	var b model.Badge
	err := t.db.Where("uid = ?", uid).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read badge %s: %w", uid, err)
	}
	return &b, nil
}

func (t *gormTx) Tariff() (*model.Tariff, error) {
	return findTariff(t.db)
}

// --- shared query helpers ---

func countOpen(db *gorm.DB) (int64, error) {
	var n int64
	if err := db.Model(&model.ParkingSession{}).Where("is_open = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count open sessions: %w", err)
	}
	return n, nil
}

func listBadges(db *gorm.DB) ([]model.Badge, error) {
	var badges []model.Badge
	if err := db.Order("uid").Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	return badges, nil
}

func findTariff(db *gorm.DB) (*model.Tariff, error) {
	var t model.Tariff
	err := db.Take(&t, model.TariffRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tariff: %w", err)
	}
	return &t, nil
}

func found(s *model.ParkingSession, err error, what string) (*model.ParkingSession, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	return s, nil
}
