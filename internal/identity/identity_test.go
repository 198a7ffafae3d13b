package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		key       string
		expected  Identity
		expectErr bool
	}{
		{name: "Plate", key: "PLATE:AB123CD", expected: Identity{Kind: KindPlate, Value: "AB123CD"}},
		{name: "Badge", key: "BADGE:04A1B2C3", expected: Identity{Kind: KindBadge, Value: "04A1B2C3"}},
		{name: "Pin session", key: "PINCODE_1735123001", expected: Identity{Kind: KindPinSession, Value: "1735123001"}},
		{name: "Manual", key: "MANUAL_1735123001", expected: Identity{Kind: KindManual, Value: "1735123001"}},
		{name: "Unknown prefix", key: "CAR:AB123CD", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Parse(tc.key)
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrUnknownIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, id)
			assert.Equal(t, tc.key, id.String())
		})
	}
}

func TestConstructors(t *testing.T) {
	at := time.Unix(1735123001, 0)

	assert.Equal(t, "PLATE:AB123CD", Plate(" ab-123 cd ").String())
	assert.Equal(t, "BADGE:04A1B2C3", Badge("04 a1 b2 c3 d4").String())
	assert.Equal(t, "PINCODE_1735123001", PinSession(at).String())
	assert.Equal(t, "MANUAL_1735123001", Manual(at).String())
	assert.Equal(t, int64(1735123001), PinSession(at).Epoch())
	assert.Equal(t, "PINCODE_1735123002", PinSession(at).Next().String())
	assert.True(t, Plate("AB").IsVehicle())
	assert.False(t, PinSession(at).IsVehicle())
	assert.True(t, IsPinKey(PinSession(at).String()))
}

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		kind     Kind
		expected string
	}{
		{name: "Plate compacted", raw: " ab-123 cd ", kind: KindPlate, expected: "AB123CD"},
		{name: "Badge truncated to uid8", raw: "de:ad:be:ef:01", kind: KindBadge, expected: "DEADBEEF"},
		{name: "Badge without hex", raw: "zzz", kind: KindBadge, expected: ""},
		{name: "Other kinds trimmed", raw: " 1735123001\n", kind: KindPinSession, expected: "1735123001"},
		{name: "Unknown kind upper-cased", raw: "abc", kind: Kind(0), expected: "ABC"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.raw, tc.kind))
		})
	}

	assert.Equal(t, Normalize("ab-123-cd", KindPlate), Plate("ab-123-cd").Value)
	assert.Equal(t, Normalize("04:a1:b2:c3", KindBadge), Badge("04:a1:b2:c3").Value)
}

func TestNormalizeUID(t *testing.T) {
	assert.Equal(t, "DEADBEEF", NormalizeUID("de:ad:be:ef:01"))
	assert.Equal(t, "04A1", NormalizeUID("  04a1\n"))
	assert.Equal(t, "", NormalizeUID("zzz"))
}

func TestDistance(t *testing.T) {
	testCases := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"ABC", "", 3},
		{"", "ABC", 3},
		{"AB123CD", "AB123CD", 0},
		{"AB123CD", "AB123CO", 1},
		{"AB123CD", "AB12CD", 1},
		{"AB123CD", "XAB123CD", 1},
		{"kitten", "sitting", 3},
		{"ZZ999ZZ", "AB123CO", 7},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Distance(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
		assert.Equal(t, tc.expected, Distance(tc.b, tc.a), "distance must be symmetric for %q/%q", tc.a, tc.b)
	}
}

func TestDistanceTriangleInequality(t *testing.T) {
	words := []string{"AB123CD", "AB123CO", "AB12CO", "ZZ999ZZ", "A", ""}
	for _, a := range words {
		for _, b := range words {
			for _, c := range words {
				assert.LessOrEqual(t, Distance(a, c), Distance(a, b)+Distance(b, c))
			}
		}
	}
}

func TestPlateDistance(t *testing.T) {
	assert.Equal(t, 1, PlateDistance("AB-123-CD", "AB-123-CO"))
	assert.LessOrEqual(t, PlateDistance("AB-123-CD", "ab 123 co"), ExitTolerance)
	assert.Greater(t, PlateDistance("ZZ-999-ZZ", "AB-123-CO"), ExitTolerance)
	assert.True(t, SamePlate("AB-123-CD", "ab 123cd"))
	assert.False(t, SamePlate("", ""))
}
