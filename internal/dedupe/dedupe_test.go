package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Q-2612.A", "q2612a"},
		{"q2612a", "q2612a"},
		{"CF 259 X", "cf259x"},
		{"tn-760/br", "tn760br"},
		{"  CE285A\t", "ce285a"},
		{"MLT-D111S", "mltd111s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestNormalize_EquivalentForms(t *testing.T) {
	// Punctuation and case never distinguish part codes.
	assert.Equal(t, Normalize("Q-2612.A"), Normalize("q2612a"))
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"cf259x", "cf259x", 0},
		{"cf259x", "cf259a", 1},
		{"cf259x", "cf258a", 2},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b), "Levenshtein(%q, %q)", tt.a, tt.b)
	}
}

func TestFindDuplicate_Exact(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{
		"CF259X":   "item-1",
		"Q-2612.A": "item-2",
	})

	got := m.FindDuplicate("cf-259x")
	require.NotNil(t, got)
	assert.Equal(t, "item-1", got.ItemID)
	assert.Equal(t, MatchExact, got.Type)

	got = m.FindDuplicate("q2612a")
	require.NotNil(t, got)
	assert.Equal(t, "item-2", got.ItemID)
	assert.Equal(t, MatchExact, got.Type)
}

func TestFindDuplicate_Fuzzy(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{"CF259X": "item-1"})

	// One substitution away.
	got := m.FindDuplicate("CF259A")
	require.NotNil(t, got)
	assert.Equal(t, "item-1", got.ItemID)
	assert.Equal(t, MatchFuzzy, got.Type)
	assert.Equal(t, 1, got.Distance)

	// Distance 3 is outside the threshold.
	assert.Nil(t, m.FindDuplicate("CF000X"))
}

func TestFindDuplicate_ExactBeatsFuzzy(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{
		"CF259X": "exact-item",
		"CF259A": "fuzzy-item",
	})

	got := m.FindDuplicate("cf259x")
	require.NotNil(t, got)
	assert.Equal(t, "exact-item", got.ItemID)
	assert.Equal(t, MatchExact, got.Type)
}

func TestFindDuplicate_ClosestFuzzyWins(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{
		"CF259AB": "far-item",  // distance 2 from cf259x + suffix
		"CF259A":  "near-item", // distance 1
	})

	got := m.FindDuplicate("CF259X")
	require.NotNil(t, got)
	assert.Equal(t, "near-item", got.ItemID)
	assert.Equal(t, 1, got.Distance)
}

func TestFindDuplicate_EqualDistanceTieIsStable(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{
		"CF259C": "item-c",
		"CF259A": "item-a",
		"CF259D": "item-d",
	})

	// All three candidates sit at distance 1; the smallest normalized
	// key must win every time, not whichever the map yields first.
	for i := 0; i < 25; i++ {
		got := m.FindDuplicate("CF259X")
		require.NotNil(t, got)
		assert.Equal(t, "item-a", got.ItemID)
		assert.Equal(t, 1, got.Distance)
	}
}

func TestFindDuplicate_ShortCodesNeverMatch(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{
		"AB": "short-item",
		"XL": "another-short",
	})

	assert.Nil(t, m.FindDuplicate("AB"), "short candidate never matches")
	assert.Nil(t, m.FindDuplicate("ABC"), "short known entries never matched fuzzily")
}

func TestMatcher_AddAfterLoad(t *testing.T) {
	m := NewMatcher()
	m.Load(map[string]string{"CF259X": "item-1"})
	m.Add("item-2", "TN-760")

	got := m.FindDuplicate("tn760")
	require.NotNil(t, got)
	assert.Equal(t, "item-2", got.ItemID)
	assert.Equal(t, 2, m.Len())
}
