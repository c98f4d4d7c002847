// Package faults defines the failure taxonomy for the enrichment core:
// reason codes, categories, severities, and the classification table that
// decides what is retried automatically versus escalated to a human.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Category groups failure reasons by origin. Category and Severity are
// independent axes.
type Category string

const (
	CategoryParsing         Category = "parsing_error"
	CategoryDataQuality     Category = "data_quality"
	CategoryExternalService Category = "external_service"
	CategoryValidation      Category = "validation_failure"
	CategoryNetwork         Category = "network_error"
	CategoryAuth            Category = "authentication_error"
	CategoryTimeout         Category = "timeout_error"
	CategoryConfig          Category = "configuration_error"
)

// Severity ranks failure impact.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a severity from its string name.
func (s *Severity) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"low"`:
		*s = SeverityLow
	case `"medium"`:
		*s = SeverityMedium
	case `"high"`:
		*s = SeverityHigh
	case `"critical"`:
		*s = SeverityCritical
	default:
		return fmt.Errorf("faults: unknown severity %s", b)
	}
	return nil
}

// Reason is a fixed failure reason code attached at the point of failure.
type Reason string

const (
	ReasonParseFailure       Reason = "parse_failure"
	ReasonSchemaMismatch     Reason = "schema_mismatch"
	ReasonMissingField       Reason = "missing_field"
	ReasonLowConfidence      Reason = "low_confidence"
	ReasonConflictUnresolved Reason = "conflict_unresolved"
	ReasonProviderError      Reason = "provider_error"
	ReasonProviderOverload   Reason = "provider_overloaded"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonBudgetExhausted    Reason = "budget_exhausted"
	ReasonCircuitOpen        Reason = "circuit_open"
	ReasonValidationFailed   Reason = "validation_failed"
	ReasonDuplicateItem      Reason = "duplicate_item"
	ReasonNetworkFailure     Reason = "network_failure"
	ReasonDNSFailure         Reason = "dns_failure"
	ReasonAuthInvalid        Reason = "auth_invalid"
	ReasonAuthExpired        Reason = "auth_expired"
	ReasonTimeout            Reason = "timeout"
	ReasonConfigMissing      Reason = "config_missing"
	ReasonConfigInvalid      Reason = "config_invalid"
	ReasonUnknown            Reason = "unknown"
)

// Classification is the fixed verdict for a reason code.
type Classification struct {
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Retryable bool     `json:"retryable"`
	Action    string   `json:"action"`
}

// table is the total lookup from reason code to classification. Reasons
// absent from the table get the conservative default from Classify.
var table = map[Reason]Classification{
	ReasonParseFailure:       {CategoryParsing, SeverityHigh, false, "reformat the input or enter the model number manually"},
	ReasonSchemaMismatch:     {CategoryParsing, SeverityMedium, false, "inspect the provider response format and update the parser"},
	ReasonMissingField:       {CategoryDataQuality, SeverityMedium, true, "search an alternate source for the missing field"},
	ReasonLowConfidence:      {CategoryDataQuality, SeverityLow, true, "gather corroborating sources before publishing"},
	ReasonConflictUnresolved: {CategoryDataQuality, SeverityMedium, false, "resolve the conflicting field values manually"},
	ReasonProviderError:      {CategoryExternalService, SeverityMedium, true, "retry; check the provider status page if it persists"},
	ReasonProviderOverload:   {CategoryExternalService, SeverityMedium, true, "retry after backoff"},
	ReasonRateLimited:        {CategoryExternalService, SeverityLow, true, "wait for the rate window to clear and retry"},
	ReasonBudgetExhausted:    {CategoryExternalService, SeverityHigh, true, "wait for credit refill or raise the provider budget"},
	ReasonCircuitOpen:        {CategoryExternalService, SeverityMedium, true, "wait for the circuit recovery timeout and retry"},
	ReasonValidationFailed:   {CategoryValidation, SeverityMedium, false, "correct the invalid field value"},
	ReasonDuplicateItem:      {CategoryValidation, SeverityLow, false, "link the item to the existing catalog record"},
	ReasonNetworkFailure:     {CategoryNetwork, SeverityMedium, true, "retry; check connectivity if it persists"},
	ReasonDNSFailure:         {CategoryNetwork, SeverityMedium, true, "retry; verify the provider hostname if it persists"},
	ReasonAuthInvalid:        {CategoryAuth, SeverityCritical, false, "rotate the provider credentials"},
	ReasonAuthExpired:        {CategoryAuth, SeverityCritical, false, "refresh the provider credentials"},
	ReasonTimeout:            {CategoryTimeout, SeverityMedium, true, "retry with backoff"},
	ReasonConfigMissing:      {CategoryConfig, SeverityCritical, false, "add the missing configuration value"},
	ReasonConfigInvalid:      {CategoryConfig, SeverityHigh, false, "fix the configuration value"},
}

// conservative is the default verdict for unknown or ambiguous reasons.
var conservative = Classification{
	Category:  CategoryTimeout,
	Severity:  SeverityMedium,
	Retryable: true,
	Action:    "retry with backoff; investigate if the failure persists",
}

// Classify returns the classification for a reason code. Unknown reasons
// get the conservative timeout/medium/retryable default.
func Classify(reason Reason) Classification {
	if c, ok := table[reason]; ok {
		return c
	}
	return conservative
}

// Record is one classified failure attached to an item. Immutable once
// created.
type Record struct {
	Reason    Reason   `json:"reason"`
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Action    string   `json:"action"`
	Stage     string   `json:"stage,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// NewRecord classifies reason and stamps the record.
func NewRecord(reason Reason, message, stage string) Record {
	c := Classify(reason)
	return Record{
		Reason:    reason,
		Category:  c.Category,
		Severity:  c.Severity,
		Message:   message,
		Retryable: c.Retryable,
		Action:    c.Action,
		Stage:     stage,
		At:        time.Now().UTC(),
	}
}

// Fault is the tagged error variant carrying a reason code through an
// error chain. Classification is derived from the reason, never stored
// separately.
type Fault struct {
	Reason Reason
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return string(f.Reason)
}

func (f *Fault) Unwrap() error { return f.Err }

// New creates a Fault with a message.
func New(reason Reason, msg string) *Fault {
	return &Fault{Reason: reason, Err: errors.New(msg)}
}

// Wrap tags an existing error with a reason code.
func Wrap(reason Reason, err error) *Fault {
	return &Fault{Reason: reason, Err: err}
}

// ReasonOf extracts the reason code from an error chain, or
// ReasonUnknown if no Fault is present.
func ReasonOf(err error) Reason {
	var f *Fault
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonUnknown
}
