package identity

import (
	"regexp"
	"strings"
)

var plateSeparators = regexp.MustCompile(`[\s\-]+`)

// PinSentinel is the pseudo badge UID the controller reports for a keypad entry.
const PinSentinel = "PINCODE"

// Default fuzzy tolerances.
const (
	ExitTolerance      = 2
	DuplicateTolerance = 1
)

// Normalize converts a raw identifier of the given kind into its canonical value.
func Normalize(raw string, kind Kind) string {
	switch kind {
	case KindPlate:
		return CompactPlate(raw)
	case KindBadge:
		return NormalizeUID(raw)
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

// CompactPlate upper-cases a plate and strips whitespace and hyphens.
func CompactPlate(raw string) string {
	return strings.ToUpper(plateSeparators.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// FormatPlate trims and upper-cases a plate but keeps its separators, for display and metadata.
func FormatPlate(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeUID keeps the first 8 hexadecimal digits of a reader UID, upper-cased.
func NormalizeUID(raw string) string {
	var b strings.Builder
	for _, c := range strings.TrimSpace(raw) {
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') {
			b.WriteRune(c)
		}
		if b.Len() >= 8 {
			break
		}
	}
	return b.String()
}

// Distance is the Levenshtein edit distance between two strings (unit insert/delete/substitute cost).
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range ra {
		curr[0] = i + 1
		for j, cb := range rb {
			cost := 1
			if ca == cb {
				cost = 0
			}
			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// PlateDistance compares two plates after compaction.
func PlateDistance(a, b string) int {
	return Distance(CompactPlate(a), CompactPlate(b))
}

// SamePlate reports whether two plates are equal after compaction. Empty plates never match.
func SamePlate(a, b string) bool {
	ca := CompactPlate(a)
	return ca != "" && ca == CompactPlate(b)
}
