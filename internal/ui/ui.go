// Package ui defines the contract between the form-filling engine and the
// live UI tree it operates on.
//
// The engine does not own the tree. It enumerates candidate elements through
// a [Tree], addresses each one through an [Element] handle, and submits forms
// through a [Form]. Static attributes on an Element (identity, label, flags)
// are captured when the tree is enumerated; everything that touches the live
// element takes a context and may fail once the element has been detached.
//
// Concrete implementations live in sub-packages: rodtree drives a Chromium
// page over the DevTools protocol, mock is an in-memory tree for tests.
package ui

import (
	"context"
	"errors"
)

// ErrDetached is returned by Element methods when the underlying element is
// no longer attached to the tree.
var ErrDetached = errors.New("ui: element detached")

// Event names dispatched by the simulated-input write path.
const (
	EventInput  = "input"
	EventChange = "change"
	EventBlur   = "blur"
)

// Target carries the attributes a framework reads from an event target. It
// is also the payload handed to a directly invoked change handler.
type Target struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	ID    string `json:"id"`
	Type  string `json:"type"`
}

// Event is a synthetic DOM event. Target is merged into the dispatched
// event's target object.
type Event struct {
	Type   string
	Target Target
}

// Tree enumerates candidate interactive elements.
type Tree interface {
	// Elements returns the candidate input, textarea and select elements in
	// document order, scoped to the configured form container. An empty
	// result is not an error.
	Elements(ctx context.Context) ([]Element, error)
}

// Element is a handle to one live UI element.
type Element interface {
	// ID is the element's id attribute, possibly empty.
	ID() string

	// Name is the element's declared name attribute, possibly empty.
	Name() string

	// Tag is the lower-case tag name ("input", "textarea", "select").
	Tag() string

	// Type is the lower-case type attribute for inputs, empty otherwise.
	Type() string

	// Label is the text of the associated label, possibly empty.
	Label() string

	// Placeholder is the placeholder attribute, possibly empty.
	Placeholder() string

	Disabled() bool
	ReadOnly() bool

	// Alive reports whether the element is still attached to the tree.
	Alive(ctx context.Context) bool

	// Focus requests input focus.
	Focus(ctx context.Context) error

	// ScrollIntoView scrolls the element into the visible area.
	ScrollIntoView(ctx context.Context) error

	// ChangeHandler looks up a change handler the owning framework attached
	// to the element. It returns false when none can be found.
	ChangeHandler(ctx context.Context) (Handler, bool)

	// SetNativeValue sets the value through the platform's native property
	// setter, bypassing any override installed on the element.
	SetNativeValue(ctx context.Context, value string) error

	// Value reads the element's current value.
	Value(ctx context.Context) (string, error)

	// Dispatch fires a bubbling synthetic event on the element.
	Dispatch(ctx context.Context, ev Event) error

	// Form returns the enclosing form, if any.
	Form(ctx context.Context) (Form, bool)
}

// Handler is a framework change handler discovered on an element.
type Handler interface {
	// Shape names the lookup path that located the handler (for diagnostics).
	Shape() string

	// Invoke calls the handler with an event-like payload whose target is t.
	Invoke(ctx context.Context, t Target) error
}

// Handler lookup shapes, tried in this order.
const (
	ShapeCurrentProps  = "current-props"
	ShapeMemoizedProps = "memoized-props"
	ShapeInstanceProps = "instance-props"
)

// Form is an enclosing form element.
type Form interface {
	// SubmitControl returns the form's first submit control, if any.
	SubmitControl(ctx context.Context) (Element, bool)

	// RequestSubmit submits the form as if submitter had been activated. A
	// nil submitter requests a generic submission.
	RequestSubmit(ctx context.Context, submitter Element) error
}

// EventSource delivers named host events such as the activation signal.
type EventSource interface {
	// Subscribe calls fn every time the named event fires until the returned
	// cancel function is called.
	Subscribe(ctx context.Context, name string, fn func()) (cancel func(), err error)
}
