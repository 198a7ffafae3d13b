package pricing

import (
	"math"
	"strings"
	"time"

	"parking-gate-backend/internal/identity"
)

// DefaultChunkMinutes replaces an invalid (zero or negative) chunk size.
const DefaultChunkMinutes = 15

// Tariff describes how a stay is billed.
type Tariff struct {
	FreeMinutes   int     `json:"free_minutes"`
	ChunkMinutes  int     `json:"chunk_minutes"`
	PricePerChunk float64 `json:"price_per_chunk"`
	DailyMax      float64 `json:"daily_max"`
}

// Price maps a stay to an amount.
//
// PIN-derived identities and badge-class sources are free. Stays within the free minutes are free.
// Otherwise the billable minutes are charged per started chunk, capped at DailyMax per started day.
func Price(duration time.Duration, source string, id identity.Identity, t Tariff) float64 {
	if id.Kind == identity.KindPinSession || IsBadgeSource(source) {
		return 0
	}

	minutes := duration.Seconds() / 60
	if minutes <= float64(t.FreeMinutes) {
		return 0
	}

	chunk := t.ChunkMinutes
	if chunk <= 0 {
		chunk = DefaultChunkMinutes
	}

	billable := minutes - float64(t.FreeMinutes)
	chunks := math.Ceil(billable / float64(chunk))
	raw := chunks * t.PricePerChunk

	daysStarted := math.Ceil(minutes / (24 * 60))
	return math.Min(raw, daysStarted*t.DailyMax)
}

// Quote is everything the exit path knows about a session when it needs an amount.
type Quote struct {
	Duration    time.Duration
	Source      string
	Identity    identity.Identity
	Plate       string
	Ghost       bool
	FrozenPrice float64
}

// Amount resolves the price of a quote: ghosts keep their frozen price, VIP plates are free,
// everything else goes through Price.
func Amount(q Quote, t Tariff, vipPlates []string) float64 {
	if q.Ghost {
		return q.FrozenPrice
	}
	if IsVIP(q.Plate, vipPlates) {
		return 0
	}
	return Price(q.Duration, q.Source, q.Identity, t)
}

// IsVIP reports whether the plate belongs to a badge holder.
func IsVIP(plate string, vipPlates []string) bool {
	for _, p := range vipPlates {
		if identity.SamePlate(plate, p) {
			return true
		}
	}
	return false
}

// IsBadgeSource reports whether a session source denotes a badge-class entry.
func IsBadgeSource(source string) bool {
	return strings.Contains(strings.ToLower(source), "badge")
}
