// Package quality scores merged catalog records through a fixed stage
// pipeline and decides whether they are publishable.
package quality

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-enricher/internal/dedupe"
	"github.com/sells-group/catalog-enricher/internal/model"
)

// Stage names, in evaluation order.
const (
	StageBrand         = "brand_plausibility"
	StageIdentity      = "identity_presence"
	StageConsistency   = "internal_consistency"
	StageLogistics     = "logistics_completeness"
	StageCompatibility = "compatibility_presence"
	StageEvidence      = "evidence_attribution"
	StageMultiSource   = "multi_source"
	StageDuplicate     = "duplicate_advisory"
)

// stageWeights are the fixed score contributions. Identity and
// compatibility carry the most weight; advisory stages barely move the
// score.
var stageWeights = map[string]int{
	StageBrand:         5,
	StageIdentity:      25,
	StageConsistency:   5,
	StageLogistics:     15,
	StageCompatibility: 25,
	StageEvidence:      10,
	StageMultiSource:   10,
	StageDuplicate:     5,
}

// stageOrder fixes evaluation and report order.
var stageOrder = []string{
	StageBrand,
	StageIdentity,
	StageConsistency,
	StageLogistics,
	StageCompatibility,
	StageEvidence,
	StageMultiSource,
	StageDuplicate,
}

// Policy selects the validity rule applied over the stage booleans.
type Policy string

const (
	// PolicyLenient publishes on identity or compatibility plus at least
	// one source. This is the default operating mode.
	PolicyLenient Policy = "lenient"

	// PolicyStrict requires identity, logistics, compatibility, and
	// multi-source corroboration.
	PolicyStrict Policy = "strict"
)

// StageResult is one stage's verdict.
type StageResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Advisory bool   `json:"advisory"`
	Weight   int    `json:"weight"`
	Note     string `json:"note,omitempty"`
}

// Report is the gate's full verdict for one record.
type Report struct {
	Valid  bool          `json:"valid"`
	Score  int           `json:"score"`
	Policy Policy        `json:"policy"`
	Stages []StageResult `json:"stages"`
}

// Stage returns the named stage result, if present.
func (r *Report) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Config tunes the gate. Zero value plus defaults is usable.
type Config struct {
	Policy Policy `yaml:"policy"`

	// KnownBrands feeds the brand plausibility stage. Matching is
	// case-insensitive.
	KnownBrands []string `yaml:"known_brands"`

	// AuthoritativeDomains may individually satisfy the multi-source
	// stage when only one domain backs the record.
	AuthoritativeDomains []string `yaml:"authoritative_domains"`

	// MinIdentifierLength gates the identity stage. Default: 3.
	MinIdentifierLength int `yaml:"min_identifier_length"`

	// LoadBearingFields must each trace to a source URL for the evidence
	// stage. Default: every resolved field.
	LoadBearingFields []string `yaml:"load_bearing_fields"`
}

// LoadConfig reads a gate config from a YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "reading quality config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "parsing quality config %s", path)
	}
	if cfg.Policy != "" && cfg.Policy != PolicyLenient && cfg.Policy != PolicyStrict {
		return cfg, eris.Errorf("unknown quality policy %q", cfg.Policy)
	}
	return cfg, nil
}

// Gate evaluates merged records. Construct once and share; evaluation
// is read-only apart from the duplicate advisory lookup.
type Gate struct {
	cfg     Config
	brands  map[string]bool
	domains map[string]bool
	matcher *dedupe.Matcher
}

// NewGate builds a gate. matcher may be nil to skip the duplicate
// advisory stage.
func NewGate(cfg Config, matcher *dedupe.Matcher) *Gate {
	if cfg.Policy == "" {
		cfg.Policy = PolicyLenient
	}
	if cfg.MinIdentifierLength <= 0 {
		cfg.MinIdentifierLength = 3
	}
	g := &Gate{
		cfg:     cfg,
		brands:  make(map[string]bool, len(cfg.KnownBrands)),
		domains: make(map[string]bool, len(cfg.AuthoritativeDomains)),
		matcher: matcher,
	}
	for _, b := range cfg.KnownBrands {
		g.brands[strings.ToLower(b)] = true
	}
	for _, d := range cfg.AuthoritativeDomains {
		g.domains[strings.ToLower(d)] = true
	}
	return g
}

// Evaluate runs every stage over the record and applies the configured
// validity policy. Advisory stages affect the score, never validity.
func (g *Gate) Evaluate(rec *model.MergedRecord) *Report {
	passed := make(map[string]bool, len(stageOrder))
	notes := make(map[string]string)

	passed[StageBrand] = g.brandPlausible(rec, notes)
	passed[StageIdentity] = g.identityPresent(rec, notes)
	passed[StageConsistency] = g.internallyConsistent(rec, notes)
	passed[StageLogistics] = g.logisticsComplete(rec)
	passed[StageCompatibility] = len(rec.Compatibility) > 0
	passed[StageEvidence] = g.evidenceAttributed(rec, notes)
	passed[StageMultiSource] = g.multiSource(rec, notes)
	passed[StageDuplicate] = g.noDuplicate(rec, notes)

	report := &Report{Policy: g.cfg.Policy}
	for _, name := range stageOrder {
		ok := passed[name]
		if ok {
			report.Score += stageWeights[name]
		}
		report.Stages = append(report.Stages, StageResult{
			Name:     name,
			Passed:   ok,
			Advisory: name == StageBrand || name == StageConsistency || name == StageDuplicate,
			Weight:   stageWeights[name],
			Note:     notes[name],
		})
	}

	hasSource := len(rec.SourceDomains()) > 0
	switch g.cfg.Policy {
	case PolicyStrict:
		report.Valid = passed[StageIdentity] && passed[StageLogistics] &&
			passed[StageCompatibility] && passed[StageMultiSource]
	default:
		report.Valid = (passed[StageIdentity] || passed[StageCompatibility]) && hasSource
	}

	zap.L().Debug("quality gate evaluated",
		zap.String("item_id", rec.ItemID),
		zap.String("identifier", rec.Identifier),
		zap.Int("score", report.Score),
		zap.Bool("valid", report.Valid),
		zap.String("policy", string(report.Policy)),
	)
	return report
}

func (g *Gate) brandPlausible(rec *model.MergedRecord, notes map[string]string) bool {
	if rec.Brand == "" {
		notes[StageBrand] = "no brand resolved"
		return false
	}
	if len(g.brands) == 0 {
		return true
	}
	if !g.brands[strings.ToLower(rec.Brand)] {
		notes[StageBrand] = "brand not in known set: " + rec.Brand
		return false
	}
	return true
}

func (g *Gate) identityPresent(rec *model.MergedRecord, notes map[string]string) bool {
	norm := dedupe.Normalize(rec.Identifier)
	if len([]rune(norm)) < g.cfg.MinIdentifierLength {
		notes[StageIdentity] = "identifier missing or too short"
		return false
	}
	return true
}

// internallyConsistent flags dimension data without a matching weight.
// A failure here is a warning, never a block.
func (g *Gate) internallyConsistent(rec *model.MergedRecord, notes map[string]string) bool {
	_, hasDims := rec.Fields["dimensions"]
	_, hasWeight := rec.Fields["weight"]
	if hasDims && !hasWeight {
		notes[StageConsistency] = "dimensions present without weight"
		return false
	}
	return true
}

func (g *Gate) logisticsComplete(rec *model.MergedRecord) bool {
	_, hasDims := rec.Fields["dimensions"]
	_, hasWeight := rec.Fields["weight"]
	return hasDims || hasWeight
}

// evidenceAttributed requires every load-bearing field to trace to at
// least one source URL.
func (g *Gate) evidenceAttributed(rec *model.MergedRecord, notes map[string]string) bool {
	fields := g.cfg.LoadBearingFields
	if len(fields) == 0 {
		for name := range rec.Fields {
			fields = append(fields, name)
		}
	}
	for _, name := range fields {
		fv, ok := rec.Fields[name]
		if !ok {
			continue
		}
		if len(fv.Sources) == 0 {
			notes[StageEvidence] = "field without source attribution: " + name
			return false
		}
	}
	return len(rec.Fields) > 0
}

// multiSource requires two distinct source domains, or a single
// authoritative one.
func (g *Gate) multiSource(rec *model.MergedRecord, notes map[string]string) bool {
	domains := rec.SourceDomains()
	if len(domains) >= 2 {
		return true
	}
	if len(domains) == 1 && g.domains[domains[0]] {
		return true
	}
	notes[StageMultiSource] = "insufficient source corroboration"
	return false
}

// noDuplicate delegates to the dedup matcher. A hit lowers the score
// but never blocks on its own.
func (g *Gate) noDuplicate(rec *model.MergedRecord, notes map[string]string) bool {
	if g.matcher == nil || rec.Identifier == "" {
		return true
	}
	if match := g.matcher.FindDuplicate(rec.Identifier); match != nil {
		notes[StageDuplicate] = "possible duplicate of " + match.ItemID + " (" + string(match.Type) + ")"
		return false
	}
	return true
}
