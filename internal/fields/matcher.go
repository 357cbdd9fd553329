package fields

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// ErrNoMatch is returned by [Matcher.Resolve] when no field matches a phrase.
var ErrNoMatch = errors.New("fields: no matching field")

// Stage names which cascade stage produced a match.
type Stage string

const (
	StageIdentity Stage = "identity"
	StageAlias    Stage = "alias"
	StageLabel    Stage = "label"
	StagePhonetic Stage = "phonetic"
)

const defaultPhoneticThreshold = 0.88

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhonetic enables a final phonetic stage that compares the phrase to
// field labels and ids by Double Metaphone code overlap and Jaro-Winkler
// similarity. A threshold <= 0 selects the default of 0.88.
func WithPhonetic(threshold float64) MatcherOption {
	return func(m *Matcher) {
		if threshold <= 0 {
			threshold = defaultPhoneticThreshold
		}
		m.phonetic = true
		m.threshold = threshold
	}
}

// Matcher resolves spoken phrases to fields. It holds no per-scan state and
// is safe for concurrent use.
type Matcher struct {
	aliases   *AliasTable
	phonetic  bool
	threshold float64
}

// NewMatcher returns a Matcher using aliases. A nil table selects
// [DefaultAliases].
func NewMatcher(aliases *AliasTable, opts ...MatcherOption) *Matcher {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	m := &Matcher{aliases: aliases, threshold: defaultPhoneticThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Aliases returns the table the matcher consults.
func (m *Matcher) Aliases() *AliasTable { return m.aliases }

// Match returns the first field in snap that phrase resolves to. Within each
// stage the earliest field in snap wins.
func (m *Matcher) Match(phrase string, snap []Descriptor) (Descriptor, bool) {
	d, _, ok := m.match(phrase, snap)
	return d, ok
}

// Resolve is like Match but reports the stage that matched and returns an
// error wrapping [ErrNoMatch] when nothing does.
func (m *Matcher) Resolve(phrase string, snap []Descriptor) (Descriptor, Stage, error) {
	d, stage, ok := m.match(phrase, snap)
	if !ok {
		return Descriptor{}, "", fmt.Errorf("%w: %q", ErrNoMatch, phrase)
	}
	return d, stage, nil
}

func (m *Matcher) match(phrase string, snap []Descriptor) (Descriptor, Stage, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" || len(snap) == 0 {
		return Descriptor{}, "", false
	}

	for _, d := range snap {
		if strings.EqualFold(p, d.ID) || (d.Name != "" && strings.EqualFold(p, d.Name)) {
			return d, StageIdentity, true
		}
	}

	for _, c := range m.aliases.conceptsIn(p) {
		key := squash(c)
		for _, d := range snap {
			if strings.Contains(squash(d.ID), key) || (d.Name != "" && strings.Contains(squash(d.Name), key)) {
				return d, StageAlias, true
			}
		}
	}

	for _, d := range snap {
		label := strings.ToLower(strings.TrimSpace(d.Label))
		if label == "" {
			continue
		}
		if strings.Contains(label, p) || strings.Contains(p, label) {
			return d, StageLabel, true
		}
	}

	if m.phonetic {
		if d, ok := m.matchPhonetic(p, snap); ok {
			return d, StagePhonetic, true
		}
	}
	return Descriptor{}, "", false
}

// matchPhonetic picks the field with the highest similarity among those whose
// label or id shares a Double Metaphone code with the phrase. Equal scores
// keep the earlier field.
func (m *Matcher) matchPhonetic(p string, snap []Descriptor) (Descriptor, bool) {
	pTokens := strings.Fields(p)
	pCodes := codes(pTokens)

	var (
		best      Descriptor
		bestScore float64
		found     bool
	)
	for _, d := range snap {
		for _, cand := range []string{d.Label, d.ID} {
			c := strings.ToLower(strings.TrimSpace(cand))
			if c == "" {
				continue
			}
			cTokens := strings.Fields(c)
			if !overlaps(pCodes, codes(cTokens)) {
				continue
			}
			score := matchr.JaroWinkler(strings.Join(pTokens, ""), strings.Join(cTokens, ""), false)
			if score >= m.threshold && score > bestScore {
				best, bestScore, found = d, score, true
			}
		}
	}
	return best, found
}

// codes returns the Double Metaphone codes of every token and, for
// multi-word input, of the tokens written as one word ("nik name" and
// "nickname" share a code only that way).
func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2+2)
	all := tokens
	if len(tokens) > 1 {
		all = append(slices.Clone(tokens), strings.Join(tokens, ""))
	}
	for _, t := range all {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
