package reconcile

import (
	"context"
	"fmt"
	"time"

	"parking-gate-backend/internal/model"
	"parking-gate-backend/internal/store"
)

const (
	statsDays    = 7
	historyHours = 24
	dayLayout    = "2006-01-02"
)

// DayStats is the activity of one calendar day.
type DayStats struct {
	Date    string  `json:"date"`
	Entries int     `json:"entries"`
	Revenue float64 `json:"revenue"`
}

// Stats is the dashboard summary.
type Stats struct {
	Open     int64      `json:"open"`
	Capacity int        `json:"capacity"`
	Free     int64      `json:"free"`
	Days     []DayStats `json:"days"`
}

// HourPoint is the occupancy at the end of one hour.
type HourPoint struct {
	Hour      time.Time `json:"hour"`
	Occupancy int       `json:"occupancy"`
}

// CountOpen returns the current occupancy.
func (e *Engine) CountOpen(ctx context.Context) (int64, error) {
	n, err := e.store.CountOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Sessions lists sessions, newest first.
func (e *Engine) Sessions(ctx context.Context, state store.SessionState, limit int) ([]model.ParkingSession, error) {
	sessions, err := e.store.ListSessions(ctx, store.SessionQuery{State: state, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

// Stats reports occupancy plus entries and revenue for each of the last seven days, oldest first.
// Entries are counted on their opening day and revenue on the day the session closed.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	now := e.clock.Now()
	today := now.Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(statsDays - 1))

	sessions, err := e.store.ListSessions(ctx, store.SessionQuery{Since: first})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	days := make([]DayStats, statsDays)
	index := make(map[string]int, statsDays)
	for i := range days {
		d := first.AddDate(0, 0, i).Format(dayLayout)
		days[i].Date = d
		index[d] = i
	}

	var open int64
	for _, s := range sessions {
		if s.IsOpen {
			open++
		}
		if i, ok := index[s.OpenedAt.UTC().Format(dayLayout)]; ok {
			days[i].Entries++
		}
		if s.ClosedAt != nil {
			if i, ok := index[s.ClosedAt.UTC().Format(dayLayout)]; ok {
				days[i].Revenue += s.Price
			}
		}
	}

	return Stats{
		Open:     open,
		Capacity: e.opts.Capacity,
		Free:     max(int64(e.opts.Capacity)-open, 0),
		Days:     days,
	}, nil
}

// History reports the occupancy at the end of each of the last 24 hours, oldest first.
func (e *Engine) History(ctx context.Context) ([]HourPoint, error) {
	now := e.clock.Now()
	last := now.Truncate(time.Hour)
	first := last.Add(-(historyHours - 1) * time.Hour)

	sessions, err := e.store.ListSessions(ctx, store.SessionQuery{Since: first})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	points := make([]HourPoint, historyHours)
	for i := range points {
		hour := first.Add(time.Duration(i) * time.Hour)
		end := hour.Add(time.Hour)
		if end.After(now) {
			end = now
		}
		points[i].Hour = hour
		for _, s := range sessions {
			if s.OpenedAt.After(end) {
				continue
			}
			if s.ClosedAt != nil && !s.ClosedAt.After(end) {
				continue
			}
			points[i].Occupancy++
		}
	}
	return points, nil
}
