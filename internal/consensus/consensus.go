// Package consensus resolves conflicting source claims for a single
// (item, field) into one value, or declares the field open when the
// evidence is genuinely split.
package consensus

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/model"
)

// highConfidenceMargin is the confidence lead (in points) the top claim
// needs over the runner-up to win outright.
const highConfidenceMargin = 20

// Strategy names the rule that decided a field.
type Strategy string

const (
	StrategySingleSource   Strategy = "single_source"
	StrategyHighConfidence Strategy = "high_confidence_winner"
	StrategyMajorityVote   Strategy = "majority_vote"
)

// Outcome is the verdict for one field's claim set.
type Outcome struct {
	// Resolved is false when the field is open and needs a human.
	Resolved bool
	Field    string
	Winner   model.ResolvedField
	Strategy Strategy
	// Contenders carries the competing claims of an open field for the
	// review surface.
	Contenders []model.Claim
}

// ResolveField resolves all claims for one (item, field). Resolution
// order: a lone claim wins trivially; a clear confidence lead wins; a
// strict plurality over values wins when three or more claims exist.
// Anything else stays open. The resolver never guesses on split
// evidence.
func ResolveField(claims []model.Claim) Outcome {
	if len(claims) == 0 {
		return Outcome{}
	}
	field := claims[0].Field

	if len(claims) == 1 {
		return Outcome{
			Resolved: true,
			Field:    field,
			Winner:   resolved(claims[0], claims),
			Strategy: StrategySingleSource,
		}
	}

	sorted := make([]model.Claim, len(claims))
	copy(sorted, claims)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	if sorted[0].Confidence-sorted[1].Confidence >= highConfidenceMargin {
		return Outcome{
			Resolved: true,
			Field:    field,
			Winner:   resolved(sorted[0], claims),
			Strategy: StrategyHighConfidence,
		}
	}

	if len(sorted) >= 3 {
		if winner, ok := pluralityWinner(sorted); ok {
			return Outcome{
				Resolved: true,
				Field:    field,
				Winner:   resolved(winner, claims),
				Strategy: StrategyMajorityVote,
			}
		}
	}

	zap.L().Debug("field left open after conflict resolution",
		zap.String("field", field),
		zap.Int("claims", len(claims)),
	)
	return Outcome{Field: field, Contenders: sorted}
}

// pluralityWinner votes over claim values, not confidences. A value
// wins only with strictly more votes than the next most common value.
func pluralityWinner(sorted []model.Claim) (model.Claim, bool) {
	votes := make(map[string]int)
	first := make(map[string]model.Claim)
	for _, c := range sorted {
		key := c.ValueKey()
		votes[key]++
		if _, ok := first[key]; !ok {
			// Highest-confidence claim for the value, by sort order.
			first[key] = c
		}
	}

	bestKey, bestVotes, runnerUp := "", 0, 0
	for key, n := range votes {
		switch {
		case n > bestVotes:
			runnerUp = bestVotes
			bestVotes = n
			bestKey = key
		case n > runnerUp:
			runnerUp = n
		}
	}

	if bestVotes > runnerUp {
		return first[bestKey], true
	}
	return model.Claim{}, false
}

// resolved builds the winning field value, attributing every source
// that claimed the same value.
func resolved(winner model.Claim, all []model.Claim) model.ResolvedField {
	var sources []string
	seen := make(map[string]bool)
	key := winner.ValueKey()
	for _, c := range all {
		if c.ValueKey() != key || c.Source == "" || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		sources = append(sources, c.Source)
	}
	return model.ResolvedField{
		Value:      winner.Value,
		Confidence: winner.Confidence,
		Sources:    sources,
	}
}

// Merge resolves every field of an item's claim set into a merged
// record, collecting open fields for manual resolution.
func Merge(itemID, identifier string, claimsByField map[string][]model.Claim) *model.MergedRecord {
	rec := &model.MergedRecord{
		ItemID:     itemID,
		Identifier: identifier,
		Fields:     make(map[string]model.ResolvedField, len(claimsByField)),
	}
	for field, claims := range claimsByField {
		out := ResolveField(claims)
		if !out.Resolved {
			if len(claims) > 0 {
				rec.OpenFields = append(rec.OpenFields, field)
			}
			continue
		}
		fv := out.Winner
		fv.Strategy = string(out.Strategy)
		rec.Fields[field] = fv
	}
	sort.Strings(rec.OpenFields)

	if brand, ok := rec.Fields["brand"]; ok {
		if s, ok := brand.Value.(string); ok {
			rec.Brand = s
		}
	}
	if compat, ok := rec.Fields["compatibility"]; ok {
		switch v := compat.Value.(type) {
		case []string:
			rec.Compatibility = v
		case string:
			if v != "" {
				rec.Compatibility = []string{v}
			}
		}
	}
	return rec
}
