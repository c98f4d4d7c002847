package quality

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/dedupe"
	"github.com/sells-group/catalog-enricher/internal/model"
)

// completeRecord has an identifier, compatibility links, and two
// distinct source domains.
func completeRecord() *model.MergedRecord {
	return &model.MergedRecord{
		ItemID:     "item-1",
		Identifier: "CF259X",
		Brand:      "HP",
		Fields: map[string]model.ResolvedField{
			"brand":       {Value: "HP", Confidence: 95, Sources: []string{"https://hp.com/specs"}},
			"weight":      {Value: "1.2kg", Confidence: 80, Sources: []string{"https://retailer.com/cf259x"}},
			"yield_pages": {Value: 2000, Confidence: 90, Sources: []string{"https://hp.com/specs"}},
		},
		Compatibility: []string{"LaserJet Pro M404"},
	}
}

func TestEvaluate_LenientAcceptsCompleteRecord(t *testing.T) {
	g := NewGate(Config{KnownBrands: []string{"HP", "Brother"}}, nil)
	report := g.Evaluate(completeRecord())

	assert.True(t, report.Valid)
	assert.Equal(t, PolicyLenient, report.Policy)
	assert.Equal(t, 100, report.Score)
	assert.Len(t, report.Stages, 8)
}

func TestEvaluate_LenientNeedsIdentityOrCompatibility(t *testing.T) {
	g := NewGate(Config{}, nil)

	rec := completeRecord()
	rec.Identifier = ""
	rec.Compatibility = nil
	report := g.Evaluate(rec)
	assert.False(t, report.Valid, "neither identity nor compatibility")

	rec.Compatibility = []string{"LaserJet Pro M404"}
	assert.True(t, g.Evaluate(rec).Valid, "compatibility alone suffices under lenient")
}

func TestEvaluate_LenientNeedsAtLeastOneSource(t *testing.T) {
	g := NewGate(Config{}, nil)
	rec := completeRecord()
	for name, fv := range rec.Fields {
		fv.Sources = nil
		rec.Fields[name] = fv
	}
	assert.False(t, g.Evaluate(rec).Valid)
}

func TestEvaluate_StrictRequiresMultiSource(t *testing.T) {
	g := NewGate(Config{Policy: PolicyStrict}, nil)

	rec := completeRecord()
	assert.True(t, g.Evaluate(rec).Valid)

	// Collapse everything onto one non-authoritative domain.
	for name, fv := range rec.Fields {
		fv.Sources = []string{"https://retailer.com/cf259x"}
		rec.Fields[name] = fv
	}
	report := g.Evaluate(rec)
	assert.False(t, report.Valid, "single non-authoritative domain fails strict")

	stage, ok := report.Stage(StageMultiSource)
	require.True(t, ok)
	assert.False(t, stage.Passed)
}

func TestEvaluate_AuthoritativeDomainSatisfiesMultiSource(t *testing.T) {
	g := NewGate(Config{Policy: PolicyStrict, AuthoritativeDomains: []string{"hp.com"}}, nil)

	rec := completeRecord()
	for name, fv := range rec.Fields {
		fv.Sources = []string{"https://www.hp.com/specs"}
		rec.Fields[name] = fv
	}
	assert.True(t, g.Evaluate(rec).Valid)
}

func TestEvaluate_AdvisoryStagesNeverBlock(t *testing.T) {
	matcher := dedupe.NewMatcher()
	matcher.Load(map[string]string{"CF259X": "existing-item"})
	g := NewGate(Config{KnownBrands: []string{"Brother"}}, matcher)

	rec := completeRecord()
	delete(rec.Fields, "weight")
	rec.Fields["dimensions"] = model.ResolvedField{
		Value: "10x10x30cm", Sources: []string{"https://retailer.com/cf259x"},
	}

	report := g.Evaluate(rec)
	// Unknown brand, dimensions without weight, and a duplicate hit all
	// fail, yet the record stays publishable.
	for _, name := range []string{StageBrand, StageConsistency, StageDuplicate} {
		stage, ok := report.Stage(name)
		require.True(t, ok, name)
		assert.False(t, stage.Passed, name)
		assert.True(t, stage.Advisory, name)
	}
	assert.True(t, report.Valid)
	assert.Equal(t, 85, report.Score)
}

func TestEvaluate_ScoreWeightsAsymmetric(t *testing.T) {
	g := NewGate(Config{}, nil)

	rec := completeRecord()
	full := g.Evaluate(rec).Score

	noIdentity := completeRecord()
	noIdentity.Identifier = ""
	noCompat := completeRecord()
	noCompat.Compatibility = nil

	assert.Equal(t, full-25, g.Evaluate(noIdentity).Score)
	assert.Equal(t, full-25, g.Evaluate(noCompat).Score)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quality.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy: strict
known_brands: [HP, Brother, Samsung]
authoritative_domains: [hp.com]
min_identifier_length: 4
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, cfg.Policy)
	assert.Len(t, cfg.KnownBrands, 3)
	assert.Equal(t, 4, cfg.MinIdentifierLength)
}

func TestLoadConfig_RejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quality.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy: reckless\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
