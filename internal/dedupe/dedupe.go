// Package dedupe matches candidate identifiers against the known
// catalog, exactly first and by edit distance second.
package dedupe

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/sells-group/catalog-enricher/internal/model"
)

const (
	// fuzzyThreshold is the exclusive edit-distance bound for a fuzzy hit.
	fuzzyThreshold = 3

	// minMatchLength guards short codes: identifiers under this normalized
	// length are never matched, exactly or fuzzily.
	minMatchLength = 3
)

// MatchType distinguishes how a duplicate was found.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// Match is a duplicate verdict against a known catalog item.
type Match struct {
	ItemID     string    `json:"item_id"`
	Identifier string    `json:"identifier"`
	Type       MatchType `json:"type"`
	Distance   int       `json:"distance"`
}

var folder = cases.Fold()

// Normalize canonicalizes an identifier: whitespace, dashes, slashes,
// and dots are stripped, and the remainder is case-folded. "Q-2612.A"
// and "q2612a" normalize identically.
func Normalize(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	for _, r := range identifier {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '/', '\\', '.':
			continue
		}
		b.WriteRune(r)
	}
	return folder.String(b.String())
}

// Levenshtein computes the classic edit distance between two strings,
// counting insertions, deletions, and substitutions at unit cost.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Matcher holds the normalized known-identifier index. The scan is O(n)
// per check against the full known set, which is fine for a
// single-tenant catalog; a trigram or BK-tree index would replace the
// loop at larger scale.
type Matcher struct {
	mu    sync.RWMutex
	known map[string]knownItem // normalized identifier → item
}

type knownItem struct {
	id         string
	identifier string
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{known: make(map[string]knownItem)}
}

// Load replaces the known set from an identifier → item-id mapping.
func (m *Matcher) Load(identifiers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known = make(map[string]knownItem, len(identifiers))
	for identifier, id := range identifiers {
		m.known[Normalize(identifier)] = knownItem{id: id, identifier: identifier}
	}
}

// Add registers one known identifier, typically after a publish.
func (m *Matcher) Add(id, identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[Normalize(identifier)] = knownItem{id: id, identifier: identifier}
}

// Len returns the known-set size.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.known)
}

// FindDuplicate returns the duplicate verdict for a candidate
// identifier, or nil if it is novel. An exact hit on the normalized key
// always wins over any fuzzy candidate; fuzzy hits require edit
// distance under the threshold, and the closest wins. Equal distances
// break on the smaller normalized key so repeated checks agree.
func (m *Matcher) FindDuplicate(identifier string) *Match {
	norm := Normalize(identifier)
	if len([]rune(norm)) < minMatchLength {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if item, ok := m.known[norm]; ok {
		return &Match{ItemID: item.id, Identifier: item.identifier, Type: MatchExact}
	}

	best := (*Match)(nil)
	bestKey := ""
	for key, item := range m.known {
		if len([]rune(key)) < minMatchLength {
			continue
		}
		d := Levenshtein(norm, key)
		if d >= fuzzyThreshold {
			continue
		}
		if best == nil || d < best.Distance || (d == best.Distance && key < bestKey) {
			best = &Match{ItemID: item.id, Identifier: item.identifier, Type: MatchFuzzy, Distance: d}
			bestKey = key
		}
	}
	return best
}

// CheckItem is a convenience over FindDuplicate for pipeline items.
func (m *Matcher) CheckItem(item *model.CandidateItem) *Match {
	if item.Identifier == "" {
		return nil
	}
	return m.FindDuplicate(item.Identifier)
}
