package voicecmd

import (
	"strings"

	"github.com/MrWong99/voxfill/internal/fields"
)

// Fixed vocabularies. Multi-word entries match consecutive words.
var (
	cancelWords   = phrases("cancel", "clear", "stop", "never mind")
	nextWords     = phrases("next", "skip")
	submitWords   = phrases("submit", "send", "done", "finish")
	previousWords = phrases("previous", "back", "go back", "previous field")
	fillerWords   = phrases("fill", "enter", "type", "input", "with", "value")
	focusVerbs    = phrases("fill", "focus", "go to", "select", "edit", "enter")
	assignVerbs   = phrases("fill in", "fill", "set", "enter", "type", "put", "change", "update", "write")
	connectors    = phrases("with", "to", "as")
	leadingNoise  = phrases("the", "my", "a", "an", "on", "in", "into")
)

// Resolver resolves a spoken field phrase against a registry snapshot.
// *fields.Matcher implements it.
type Resolver interface {
	Match(phrase string, snap []fields.Descriptor) (fields.Descriptor, bool)
}

// Classifier maps filtered transcripts to commands. It is stateless; the
// caller passes the engine mode and a fresh registry snapshot with every
// call. Safe for concurrent use.
type Classifier struct {
	fields Resolver
}

// NewClassifier returns a Classifier that resolves field phrases with r.
func NewClassifier(r Resolver) *Classifier {
	return &Classifier{fields: r}
}

// Classify returns the command for text. awaiting reports whether a field is
// currently waiting for a value. ok is false when the utterance produces no
// command at all, which happens when a value utterance consists only of
// filler words.
//
// In awaiting mode the order is: cancel, next, submit, a bare "previous",
// then the value itself. Otherwise: submit, next, previous, assignment
// ("set email to ..."), focus verb, "<field> <value>", bare field name, and
// finally Unrecognized.
func (c *Classifier) Classify(text string, awaiting bool, snap []fields.Descriptor) (Command, bool) {
	raw := strings.TrimSpace(text)
	toks := tokenize(raw)
	if len(toks) == 0 {
		return Command{}, false
	}

	if awaiting {
		switch {
		case containsAny(toks, cancelWords):
			return Command{Kind: KindCancelCurrent, Raw: raw}, true
		case containsAny(toks, nextWords):
			return Command{Kind: KindNavigate, Direction: Next, Raw: raw}, true
		case containsAny(toks, submitWords):
			return Command{Kind: KindSubmit, Raw: raw}, true
		case equalsAny(toks, previousWords):
			return Command{Kind: KindNavigate, Direction: Previous, Raw: raw}, true
		}
		residue := joinRaw(without(toks, fillerWords))
		if residue == "" {
			return Command{}, false
		}
		return Command{Kind: KindFillCurrentWith, Value: residue, Raw: raw}, true
	}

	switch {
	case containsAny(toks, submitWords):
		return Command{Kind: KindSubmit, Raw: raw}, true
	case containsAny(toks, nextWords):
		return Command{Kind: KindNavigate, Direction: Next, Raw: raw}, true
	case containsAny(toks, previousWords):
		return Command{Kind: KindNavigate, Direction: Previous, Raw: raw}, true
	}

	if cmd, ok := c.assignment(toks, snap); ok {
		cmd.Raw = raw
		return cmd, true
	}

	if at, n, ok := findAny(toks, focusVerbs); ok {
		rest := append(append([]token(nil), toks[:at]...), toks[at+n:]...)
		if phrase := joinRaw(trimLeading(rest)); phrase != "" {
			return Command{Kind: KindFocusByName, Field: phrase, Raw: raw}, true
		}
	}

	if len(toks) > 1 {
		if _, ok := c.fields.Match(toks[0].norm, snap); ok {
			if value := joinRaw(toks[1:]); value != "" {
				return Command{Kind: KindFillNamedWith, Field: toks[0].norm, Value: value, Raw: raw}, true
			}
		}
	}

	whole := joinRaw(toks)
	if _, ok := c.fields.Match(whole, snap); ok {
		return Command{Kind: KindFocusByName, Field: whole, Raw: raw}, true
	}

	return Command{Kind: KindUnrecognized, Raw: raw}, true
}

// assignment recognizes "<verb> <field> with|to|as <value>". Connectors are
// tried left to right and the first split whose field part resolves wins.
func (c *Classifier) assignment(toks []token, snap []fields.Descriptor) (Command, bool) {
	n, ok := prefixLen(toks, assignVerbs)
	if !ok {
		return Command{}, false
	}
	body := trimLeading(toks[n:])
	for i := 1; i < len(body)-1; i++ {
		if !isAny(body[i].norm, connectors) {
			continue
		}
		field := joinRaw(body[:i])
		value := joinRaw(body[i+1:])
		if field == "" || value == "" {
			continue
		}
		if _, ok := c.fields.Match(field, snap); ok {
			return Command{Kind: KindFillNamedWith, Field: field, Value: value}, true
		}
	}
	return Command{}, false
}

// ---- tokens -----------------------------------------------------------------

// token is one whitespace-separated word. norm is lowercased with
// surrounding punctuation removed and is what keywords compare against; raw
// is kept for values.
type token struct {
	raw  string
	norm string
}

func tokenize(s string) []token {
	words := strings.Fields(s)
	out := make([]token, 0, len(words))
	for _, w := range words {
		out = append(out, token{raw: w, norm: strings.ToLower(strings.Trim(w, `.,!?;:"'()`))})
	}
	return out
}

func phrases(ps ...string) [][]string {
	out := make([][]string, len(ps))
	for i, p := range ps {
		out[i] = strings.Fields(p)
	}
	return out
}

// findAny returns the position and length of the earliest occurrence of any
// phrase in toks. At equal positions the longer phrase wins.
func findAny(toks []token, set [][]string) (at, n int, ok bool) {
	for i := range toks {
		best := 0
		for _, p := range set {
			if len(p) > best && matchesAt(toks, i, p) {
				best = len(p)
			}
		}
		if best > 0 {
			return i, best, true
		}
	}
	return 0, 0, false
}

func containsAny(toks []token, set [][]string) bool {
	_, _, ok := findAny(toks, set)
	return ok
}

// equalsAny reports whether the whole utterance is one of the phrases.
func equalsAny(toks []token, set [][]string) bool {
	for _, p := range set {
		if len(p) == len(toks) && matchesAt(toks, 0, p) {
			return true
		}
	}
	return false
}

// prefixLen returns the length of the longest phrase that starts toks.
func prefixLen(toks []token, set [][]string) (int, bool) {
	best := 0
	for _, p := range set {
		if len(p) > best && matchesAt(toks, 0, p) {
			best = len(p)
		}
	}
	return best, best > 0
}

func matchesAt(toks []token, i int, p []string) bool {
	if i+len(p) > len(toks) {
		return false
	}
	for j, w := range p {
		if toks[i+j].norm != w {
			return false
		}
	}
	return true
}

func isAny(word string, set [][]string) bool {
	for _, p := range set {
		if len(p) == 1 && p[0] == word {
			return true
		}
	}
	return false
}

// without drops every token that is a single-word entry of set.
func without(toks []token, set [][]string) []token {
	out := make([]token, 0, len(toks))
	for _, t := range toks {
		if !isAny(t.norm, set) {
			out = append(out, t)
		}
	}
	return out
}

func trimLeading(toks []token) []token {
	for len(toks) > 0 && isAny(toks[0].norm, leadingNoise) {
		toks = toks[1:]
	}
	return toks
}

// joinRaw joins the original words and strips trailing sentence punctuation.
func joinRaw(toks []token) string {
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.norm == "" {
			continue
		}
		parts = append(parts, t.raw)
	}
	return strings.TrimRight(strings.Join(parts, " "), ".,!?")
}
