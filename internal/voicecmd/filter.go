// Package voicecmd turns recognizer output into form commands.
//
// [Filter] drops low-confidence recognition segments. [Classifier] maps the
// surviving text to one [Command] using a fixed keyword vocabulary and a
// field matcher, with control words taking priority over content.
package voicecmd

import (
	"strings"

	"github.com/MrWong99/voxfill/pkg/types"
)

// MinConfidence is the lowest segment confidence that is accepted.
const MinConfidence = 0.5

// Accept reports whether a single hypothesis passes the filter. Any
// confidence below MinConfidence, including NaN, is rejected; above it only
// the content matters.
func Accept(text string, confidence float64) bool {
	if !(confidence >= MinConfidence) {
		return false
	}
	return strings.TrimSpace(text) != ""
}

// Filter drops every segment of t below MinConfidence and joins what remains
// with single spaces. ok is false when nothing survives, in which case no
// command must be produced for t.
func Filter(t types.Transcript) (text string, ok bool) {
	parts := t.Parts()
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if !Accept(p.Text, p.Confidence) {
			continue
		}
		kept = append(kept, strings.TrimSpace(p.Text))
	}
	text = strings.Join(kept, " ")
	return text, text != ""
}
