// Package fields discovers fillable form fields and resolves spoken phrases
// to them.
//
// A [Registry] turns the live UI tree into an ordered snapshot of
// [Descriptor] values. A [Matcher] resolves a phrase against such a snapshot
// through a fixed cascade: exact identity, concept aliases, label
// containment, and optionally a phonetic stage.
package fields

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/voxfill/internal/ui"
)

// Kind classifies a fillable field.
type Kind int

const (
	// KindShortText is any single-line text input (text, email, tel, url, ...).
	KindShortText Kind = iota
	KindPassword
	KindNumeric
	KindMultiline
	KindChoice
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindShortText:
		return "short-text"
	case KindPassword:
		return "password"
	case KindNumeric:
		return "numeric"
	case KindMultiline:
		return "multiline"
	case KindChoice:
		return "choice"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// kindOf maps an element's tag and type attribute to a Kind.
func kindOf(tag, typ string) Kind {
	switch strings.ToLower(tag) {
	case "textarea":
		return KindMultiline
	case "select":
		return KindChoice
	}
	switch strings.ToLower(typ) {
	case "password":
		return KindPassword
	case "number":
		return KindNumeric
	default:
		return KindShortText
	}
}

// Descriptor is the engine's view of one fillable element in a single scan.
// Descriptors are recreated on every scan and must not be retained across
// scans.
type Descriptor struct {
	// ID is unique within the scan it came from.
	ID string

	// Name is the element's declared name attribute, used as the write target
	// name. May be empty.
	Name string

	Kind Kind

	// Label is the human-readable text used for matching. Never empty.
	Label string

	// Handle is the live element. It is never copied into other snapshots.
	Handle ui.Element
}

// Registry scans a UI tree for fillable fields.
//
// Every call to Scan produces an independent snapshot; nothing is cached.
type Registry struct {
	tree ui.Tree
}

// NewRegistry returns a Registry over tree.
func NewRegistry(tree ui.Tree) *Registry {
	return &Registry{tree: tree}
}

// Scan returns the fillable fields in document order. Disabled and read-only
// elements are skipped. An empty tree yields an empty, non-nil slice.
func (r *Registry) Scan(ctx context.Context) ([]Descriptor, error) {
	els, err := r.tree.Elements(ctx)
	if err != nil {
		return nil, fmt.Errorf("fields: scan: %w", err)
	}

	out := make([]Descriptor, 0, len(els))
	seen := make(map[string]bool, len(els))
	for i, el := range els {
		if el.Disabled() || el.ReadOnly() {
			continue
		}
		id := firstNonEmpty(el.ID(), el.Name())
		if id == "" {
			id = "field-" + strconv.Itoa(i)
		}
		id = uniqueID(id, seen)

		out = append(out, Descriptor{
			ID:     id,
			Name:   el.Name(),
			Kind:   kindOf(el.Tag(), el.Type()),
			Label:  firstNonEmpty(el.Label(), el.Name(), el.Placeholder(), id),
			Handle: el,
		})
	}
	return out, nil
}

// uniqueID returns id, or id with the smallest "-N" suffix (N >= 2) that no
// earlier field in the scan has taken, and records the result in seen.
func uniqueID(id string, seen map[string]bool) string {
	cand := id
	for n := 2; seen[cand]; n++ {
		cand = id + "-" + strconv.Itoa(n)
	}
	seen[cand] = true
	return cand
}

// IndexOf returns the position of the field with the given id in snap, or -1.
func IndexOf(snap []Descriptor, id string) int {
	for i, d := range snap {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
