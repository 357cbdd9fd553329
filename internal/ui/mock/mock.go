// Package mock provides an in-memory UI tree for engine and writer tests.
//
// Elements record every interaction (focus, scroll, native value writes,
// dispatched events, handler invocations) so tests can assert on order and
// content. All types are safe for concurrent use.
//
//	email := mock.NewInput("email", "Email")
//	tree := &mock.Tree{}
//	tree.Set(email)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxfill/internal/ui"
)

// Attr holds the static attributes of a mock element.
type Attr struct {
	ID          string
	Name        string
	Tag         string
	Type        string
	Label       string
	Placeholder string
	Disabled    bool
	ReadOnly    bool
}

// NewInput returns a text input with the given id (also used as name) and
// label.
func NewInput(id, label string) *Element {
	return &Element{Attr: Attr{ID: id, Name: id, Tag: "input", Type: "text", Label: label}}
}

// ---- Tree -------------------------------------------------------------------

// Tree is a mock ui.Tree.
type Tree struct {
	mu    sync.Mutex
	elems []*Element
	scans int

	// Err, if non-nil, is returned by Elements.
	Err error
}

// Set replaces the tree contents.
func (t *Tree) Set(elems ...*Element) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elems = append([]*Element(nil), elems...)
}

// Elements returns the current contents in order.
func (t *Tree) Elements(_ context.Context) ([]ui.Element, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scans++
	if t.Err != nil {
		return nil, t.Err
	}
	out := make([]ui.Element, len(t.elems))
	for i, e := range t.elems {
		out[i] = e
	}
	return out, nil
}

// ScanCount returns how often Elements was called.
func (t *Tree) ScanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scans
}

var _ ui.Tree = (*Tree)(nil)

// ---- Element ----------------------------------------------------------------

// Element is a mock ui.Element.
type Element struct {
	Attr Attr

	// Handler is returned by ChangeHandler when non-nil.
	Handler *Handler

	// IgnoreNativeSet makes SetNativeValue succeed without changing the value,
	// like a framework that reverts programmatic writes.
	IgnoreNativeSet bool

	// NativeSetErr, if non-nil, is returned by SetNativeValue.
	NativeSetErr error

	// Parent is returned by Form when non-nil.
	Parent *Form

	mu       sync.Mutex
	detached bool
	value    string
	events   []ui.Event
	focus    int
	scroll   int
	sets     []string
}

func (e *Element) ID() string          { return e.Attr.ID }
func (e *Element) Name() string        { return e.Attr.Name }
func (e *Element) Tag() string         { return e.Attr.Tag }
func (e *Element) Type() string        { return e.Attr.Type }
func (e *Element) Label() string       { return e.Attr.Label }
func (e *Element) Placeholder() string { return e.Attr.Placeholder }
func (e *Element) Disabled() bool      { return e.Attr.Disabled }
func (e *Element) ReadOnly() bool      { return e.Attr.ReadOnly }

// Detach marks the element as removed from the tree.
func (e *Element) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detached = true
}

func (e *Element) Alive(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.detached
}

func (e *Element) Focus(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ui.ErrDetached
	}
	e.focus++
	return nil
}

func (e *Element) ScrollIntoView(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ui.ErrDetached
	}
	e.scroll++
	return nil
}

func (e *Element) ChangeHandler(_ context.Context) (ui.Handler, bool) {
	if e.Handler == nil {
		return nil, false
	}
	e.Handler.mu.Lock()
	e.Handler.owner = e
	e.Handler.mu.Unlock()
	return e.Handler, true
}

func (e *Element) SetNativeValue(_ context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ui.ErrDetached
	}
	if e.NativeSetErr != nil {
		return e.NativeSetErr
	}
	e.sets = append(e.sets, value)
	if !e.IgnoreNativeSet {
		e.value = value
	}
	return nil
}

func (e *Element) Value(_ context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return "", ui.ErrDetached
	}
	return e.value, nil
}

func (e *Element) Dispatch(_ context.Context, ev ui.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ui.ErrDetached
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *Element) Form(_ context.Context) (ui.Form, bool) {
	if e.Parent == nil {
		return nil, false
	}
	return e.Parent, true
}

// SetValue sets the current value directly.
func (e *Element) SetValue(v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
}

// CurrentValue returns the element's value.
func (e *Element) CurrentValue() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Events returns the dispatched events in order.
func (e *Element) Events() []ui.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ui.Event(nil), e.events...)
}

// EventTypes returns the types of dispatched events in order.
func (e *Element) EventTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

// NativeSets returns every value passed to SetNativeValue.
func (e *Element) NativeSets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sets...)
}

// FocusCount returns how often Focus succeeded.
func (e *Element) FocusCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focus
}

// ScrollCount returns how often ScrollIntoView succeeded.
func (e *Element) ScrollCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scroll
}

var _ ui.Element = (*Element)(nil)

// ---- Handler ----------------------------------------------------------------

// Handler is a mock framework change handler. When Applies is true an
// invocation stores the payload value on the owning element, like a
// controlled component re-rendering with new state.
type Handler struct {
	// ShapeName is returned by Shape. Defaults to ui.ShapeCurrentProps.
	ShapeName string

	Applies bool

	// ApplyAfter defers the store by the given delay, like a framework that
	// renders state changes in a later task.
	ApplyAfter time.Duration

	// Err, if non-nil, is returned by Invoke.
	Err error

	mu    sync.Mutex
	calls []ui.Target
	owner *Element
}

func (h *Handler) Shape() string {
	if h.ShapeName == "" {
		return ui.ShapeCurrentProps
	}
	return h.ShapeName
}

func (h *Handler) Invoke(_ context.Context, t ui.Target) error {
	h.mu.Lock()
	h.calls = append(h.calls, t)
	owner := h.owner
	h.mu.Unlock()
	if h.Err != nil {
		return h.Err
	}
	if h.Applies && owner != nil {
		if h.ApplyAfter > 0 {
			time.AfterFunc(h.ApplyAfter, func() { owner.SetValue(t.Value) })
		} else {
			owner.SetValue(t.Value)
		}
	}
	return nil
}

// Calls returns every payload the handler was invoked with.
func (h *Handler) Calls() []ui.Target {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ui.Target(nil), h.calls...)
}

var _ ui.Handler = (*Handler)(nil)

// ---- Form -------------------------------------------------------------------

// Form is a mock ui.Form.
type Form struct {
	// Submit is returned by SubmitControl when non-nil.
	Submit *Element

	// Err, if non-nil, is returned by RequestSubmit.
	Err error

	mu          sync.Mutex
	submissions []string
}

func (f *Form) SubmitControl(_ context.Context) (ui.Element, bool) {
	if f.Submit == nil {
		return nil, false
	}
	return f.Submit, true
}

// RequestSubmit records the submitter id, or "" for a generic submission.
func (f *Form) RequestSubmit(_ context.Context, submitter ui.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := ""
	if submitter != nil {
		id = submitter.ID()
	}
	f.submissions = append(f.submissions, id)
	return f.Err
}

// Submissions returns the recorded submitter ids.
func (f *Form) Submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submissions...)
}

var _ ui.Form = (*Form)(nil)

// ---- EventSource ------------------------------------------------------------

// Events is a mock ui.EventSource. Fire invokes every subscriber of a name.
type Events struct {
	mu   sync.Mutex
	subs map[string]map[int]func()
	next int

	// Err, if non-nil, is returned by Subscribe.
	Err error
}

func (s *Events) Subscribe(_ context.Context, name string, fn func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.subs == nil {
		s.subs = make(map[string]map[int]func())
	}
	if s.subs[name] == nil {
		s.subs[name] = make(map[int]func())
	}
	id := s.next
	s.next++
	s.subs[name][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[name], id)
	}, nil
}

// Fire synchronously calls all subscribers of name.
func (s *Events) Fire(name string) {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs[name]))
	for _, fn := range s.subs[name] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of active subscriptions for name.
func (s *Events) Subscribers(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[name])
}

var _ ui.EventSource = (*Events)(nil)
