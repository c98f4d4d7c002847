package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/model"
)

func claim(value any, confidence float64, source string) model.Claim {
	return model.Claim{Field: "yield_pages", Value: value, Confidence: confidence, Source: source}
}

func TestResolveField_SingleClaim(t *testing.T) {
	out := ResolveField([]model.Claim{claim(3000, 70, "https://hp.com/specs")})
	require.True(t, out.Resolved)
	assert.Equal(t, StrategySingleSource, out.Strategy)
	assert.Equal(t, 3000, out.Winner.Value)
	assert.Equal(t, []string{"https://hp.com/specs"}, out.Winner.Sources)
}

func TestResolveField_HighConfidenceWinner(t *testing.T) {
	out := ResolveField([]model.Claim{
		claim(3000, 60, "https://a.com"),
		claim(2000, 90, "https://b.com"),
	})
	require.True(t, out.Resolved)
	assert.Equal(t, StrategyHighConfidence, out.Strategy)
	assert.Equal(t, 2000, out.Winner.Value)
	assert.Equal(t, float64(90), out.Winner.Confidence)
}

func TestResolveField_MarginOfExactlyTwentyWins(t *testing.T) {
	out := ResolveField([]model.Claim{
		claim(3000, 70, "https://a.com"),
		claim(3000, 65, "https://b.com"),
		claim(2000, 90, "https://c.com"),
	})
	require.True(t, out.Resolved)
	assert.Equal(t, StrategyHighConfidence, out.Strategy)
	assert.Equal(t, 2000, out.Winner.Value)
}

func TestResolveField_MajorityVote(t *testing.T) {
	out := ResolveField([]model.Claim{
		claim("A", 50, "https://a.com"),
		claim("A", 50, "https://b.com"),
		claim("B", 50, "https://c.com"),
	})
	require.True(t, out.Resolved)
	assert.Equal(t, StrategyMajorityVote, out.Strategy)
	assert.Equal(t, "A", out.Winner.Value)
	assert.ElementsMatch(t, []string{"https://a.com", "https://b.com"}, out.Winner.Sources)
}

func TestResolveField_VotesCountValuesNotConfidence(t *testing.T) {
	// B holds the single highest confidence but A has more votes and no
	// claim leads by the margin.
	out := ResolveField([]model.Claim{
		claim("A", 55, "https://a.com"),
		claim("A", 50, "https://b.com"),
		claim("B", 65, "https://c.com"),
	})
	require.True(t, out.Resolved)
	assert.Equal(t, StrategyMajorityVote, out.Strategy)
	assert.Equal(t, "A", out.Winner.Value)
}

func TestResolveField_TwoClaimsCloseConfidenceStaysOpen(t *testing.T) {
	out := ResolveField([]model.Claim{
		claim("A", 55, "https://a.com"),
		claim("B", 50, "https://b.com"),
	})
	assert.False(t, out.Resolved)
	assert.Len(t, out.Contenders, 2)
}

func TestResolveField_TiedVoteStaysOpen(t *testing.T) {
	out := ResolveField([]model.Claim{
		claim("A", 50, "https://a.com"),
		claim("A", 50, "https://b.com"),
		claim("B", 52, "https://c.com"),
		claim("B", 48, "https://d.com"),
	})
	assert.False(t, out.Resolved)
}

func TestResolveField_NoClaims(t *testing.T) {
	out := ResolveField(nil)
	assert.False(t, out.Resolved)
	assert.Empty(t, out.Contenders)
}

func TestResolveField_NormalizedValuesVoteTogether(t *testing.T) {
	a := claim("HP", 50, "https://a.com")
	b := claim("hp ", 50, "https://b.com")
	c := claim("Brother", 50, "https://c.com")
	out := ResolveField([]model.Claim{a, b, c})
	require.True(t, out.Resolved)
	assert.Equal(t, StrategyMajorityVote, out.Strategy)
	assert.Equal(t, "HP", out.Winner.Value)
}

func TestMerge(t *testing.T) {
	claims := map[string][]model.Claim{
		"brand": {
			{Field: "brand", Value: "HP", Confidence: 95, Source: "https://hp.com"},
		},
		"yield_pages": {
			{Field: "yield_pages", Value: 3000, Confidence: 70, Source: "https://a.com"},
			{Field: "yield_pages", Value: 3000, Confidence: 65, Source: "https://b.com"},
			{Field: "yield_pages", Value: 2000, Confidence: 90, Source: "https://hp.com"},
		},
		"weight": {
			{Field: "weight", Value: "1.2kg", Confidence: 55, Source: "https://a.com"},
			{Field: "weight", Value: "1.4kg", Confidence: 50, Source: "https://b.com"},
		},
	}

	rec := Merge("item-1", "CF259X", claims)
	assert.Equal(t, "HP", rec.Brand)
	assert.Equal(t, 2000, rec.Fields["yield_pages"].Value)
	assert.Equal(t, string(StrategyHighConfidence), rec.Fields["yield_pages"].Strategy)
	assert.Equal(t, []string{"weight"}, rec.OpenFields)
	_, resolvedWeight := rec.Fields["weight"]
	assert.False(t, resolvedWeight)
}
