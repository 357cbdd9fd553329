// Package engine holds the automation state machine of the voice form
// filler.
//
// A [Session] is one explicitly owned engine instance. It receives recognizer
// finals through [Session.HandleResult], filters and classifies them, and
// applies the resulting command: focusing fields, writing values, navigating
// and submitting. All state changes are serialized; a command is fully
// applied, including its field write and the registry scan that follows it,
// before the next transcript is looked at.
package engine

import "strconv"

// Mode is the engine-wide listening mode.
type Mode int

const (
	// ModeInactive means the engine is not listening.
	ModeInactive Mode = iota
	// ModeIdle means listening with no field focused.
	ModeIdle
	// ModeAwaitingValue means the next utterance is a value for the focused
	// field.
	ModeAwaitingValue
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeInactive:
		return "inactive"
	case ModeIdle:
		return "idle"
	case ModeAwaitingValue:
		return "awaiting_value"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// State is a snapshot of the engine state. FocusedFieldID is non-empty if
// and only if Mode is ModeAwaitingValue.
type State struct {
	Mode           Mode   `json:"mode"`
	FocusedFieldID string `json:"focused_field_id,omitempty"`
}

func inactive() State { return State{Mode: ModeInactive} }

func idle() State { return State{Mode: ModeIdle} }

func awaiting(fieldID string) State {
	if fieldID == "" {
		return idle()
	}
	return State{Mode: ModeAwaitingValue, FocusedFieldID: fieldID}
}

// MarshalText lets Mode render as its name in JSON.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
