package model

import (
	"fmt"
	"strings"
)

// Claim is one source's assertion about one field's value. Confidence is
// on a 0-100 scale. Many claims may target the same (item, field).
type Claim struct {
	Field      string  `json:"field"`
	Value      any     `json:"value"`
	Normalized string  `json:"normalized,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Accepted   bool    `json:"accepted"`
}

// ValueKey returns the normalized comparison key for plurality voting.
// Falls back to a lowercased string rendering of the raw value.
func (c Claim) ValueKey() string {
	if c.Normalized != "" {
		return c.Normalized
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", c.Value)))
}

// ResolvedField is a field value that survived conflict resolution,
// with the sources backing it.
type ResolvedField struct {
	Value      any      `json:"value"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
}

// MergedRecord is the per-item field set handed to the quality gate.
type MergedRecord struct {
	ItemID        string                   `json:"item_id"`
	Identifier    string                   `json:"identifier"`
	Brand         string                   `json:"brand,omitempty"`
	Fields        map[string]ResolvedField `json:"fields"`
	Compatibility []string                 `json:"compatibility,omitempty"`
	OpenFields    []string                 `json:"open_fields,omitempty"`
}

// SourceDomains returns the distinct source domains backing any field.
func (m *MergedRecord) SourceDomains() []string {
	seen := make(map[string]bool)
	var domains []string
	for _, fv := range m.Fields {
		for _, src := range fv.Sources {
			d := DomainOf(src)
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			domains = append(domains, d)
		}
	}
	return domains
}

// DomainOf extracts the host portion of a source URL.
func DomainOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
