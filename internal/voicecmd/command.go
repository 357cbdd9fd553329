package voicecmd

import "fmt"

// Kind identifies a command variant.
type Kind int

const (
	// KindUnrecognized carries the raw transcript in Command.Raw.
	KindUnrecognized Kind = iota
	// KindFocusByName carries the spoken field phrase in Command.Field.
	KindFocusByName
	// KindFillCurrentWith carries the value in Command.Value.
	KindFillCurrentWith
	// KindFillNamedWith carries Command.Field and Command.Value.
	KindFillNamedWith
	// KindNavigate carries Command.Direction.
	KindNavigate
	KindSubmit
	KindCancelCurrent
)

// String returns the metric/log name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnrecognized:
		return "unrecognized"
	case KindFocusByName:
		return "focus"
	case KindFillCurrentWith:
		return "fill_current"
	case KindFillNamedWith:
		return "fill_named"
	case KindNavigate:
		return "navigate"
	case KindSubmit:
		return "submit"
	case KindCancelCurrent:
		return "cancel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Direction is a navigation direction.
type Direction int

const (
	Next Direction = iota
	Previous
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// Command is one classified utterance. Only the fields relevant to Kind are
// set.
type Command struct {
	Kind      Kind
	Field     string
	Value     string
	Direction Direction

	// Raw is the filtered transcript the command was classified from.
	Raw string
}

// String renders the command for logs.
func (c Command) String() string {
	switch c.Kind {
	case KindFocusByName:
		return fmt.Sprintf("FocusByName(%q)", c.Field)
	case KindFillCurrentWith:
		return fmt.Sprintf("FillCurrentWith(%q)", c.Value)
	case KindFillNamedWith:
		return fmt.Sprintf("FillNamedWith(%q, %q)", c.Field, c.Value)
	case KindNavigate:
		return "Navigate(" + c.Direction.String() + ")"
	case KindSubmit:
		return "Submit"
	case KindCancelCurrent:
		return "CancelCurrent"
	default:
		return fmt.Sprintf("Unrecognized(%q)", c.Raw)
	}
}
