package fields

import (
	"slices"
	"strings"
	"unicode"
)

// concept is one canonical field purpose and its spoken synonyms.
type concept struct {
	name     string
	synonyms []string
}

// defaultConcepts is ordered from most to least specific: the alias stage
// takes the first concept whose synonym occurs in the phrase, so
// "confirm password" must be seen before "password" and "first name" before
// "name".
var defaultConcepts = []concept{
	{"confirmPassword", []string{"confirm password", "repeat password", "retype password", "password again", "password confirmation", "confirm"}},
	{"password", []string{"password", "pass word", "passcode", "passphrase"}},
	{"username", []string{"username", "user name", "login", "user id"}},
	{"email", []string{"email", "e-mail", "e mail", "mail address", "email address"}},
	{"firstName", []string{"first name", "given name", "forename"}},
	{"lastName", []string{"last name", "surname", "family name"}},
	{"fullName", []string{"full name", "your name", "name"}},
	{"phone", []string{"phone", "telephone", "mobile", "cell number"}},
	{"postcode", []string{"postcode", "post code", "postal code", "zip"}},
	{"address", []string{"address", "street"}},
	{"city", []string{"city", "town"}},
	{"country", []string{"country", "nation"}},
	{"website", []string{"website", "homepage", "url", "link"}},
	{"company", []string{"company", "organization", "organisation", "employer"}},
	{"search", []string{"search", "find", "look up", "query"}},
	{"title", []string{"title", "heading", "subject"}},
	{"description", []string{"description", "describe", "details", "summary"}},
	{"message", []string{"message", "comment", "note"}},
	{"age", []string{"age", "how old"}},
	{"date", []string{"date", "birthday", "date of birth"}},
}

// AliasTable maps canonical concepts to spoken synonyms. It is immutable
// after construction and safe for concurrent use.
type AliasTable struct {
	concepts []concept
}

// DefaultAliases returns the built-in alias table.
func DefaultAliases() *AliasTable {
	return NewAliasTable(nil)
}

// NewAliasTable returns the built-in table extended with extra. Synonyms for
// an existing concept are appended to it; unknown concepts are added after
// the built-in ones in sorted order.
func NewAliasTable(extra map[string][]string) *AliasTable {
	cs := make([]concept, len(defaultConcepts))
	for i, c := range defaultConcepts {
		cs[i] = concept{name: c.name, synonyms: slices.Clone(c.synonyms)}
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		syns := lowerAll(extra[name])
		idx := slices.IndexFunc(cs, func(c concept) bool { return c.name == name })
		if idx >= 0 {
			cs[idx].synonyms = append(cs[idx].synonyms, syns...)
			continue
		}
		cs = append(cs, concept{name: name, synonyms: syns})
	}
	return &AliasTable{concepts: cs}
}

// AliasesOf returns the synonyms of concept, or nil if the concept is unknown.
func (a *AliasTable) AliasesOf(concept string) []string {
	for _, c := range a.concepts {
		if c.name == concept {
			return slices.Clone(c.synonyms)
		}
	}
	return nil
}

// Concepts returns the concept names in lookup order.
func (a *AliasTable) Concepts() []string {
	out := make([]string, len(a.concepts))
	for i, c := range a.concepts {
		out[i] = c.name
	}
	return out
}

// conceptsIn returns, in table order, the concepts with a synonym occurring
// in phrase. phrase must already be lowercased.
func (a *AliasTable) conceptsIn(phrase string) []string {
	var out []string
	for _, c := range a.concepts {
		for _, s := range c.synonyms {
			if s != "" && strings.Contains(phrase, s) {
				out = append(out, c.name)
				break
			}
		}
	}
	return out
}

// Keywords returns every synonym once, for recognizer vocabulary hints.
func (a *AliasTable) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range a.concepts {
		for _, s := range c.synonyms {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// squash lowercases s and drops everything that is not a letter or digit, so
// that "confirmPassword", "confirm-password" and "confirm_password" compare
// equal.
func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
