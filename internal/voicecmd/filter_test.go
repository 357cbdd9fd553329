package voicecmd

import (
	"math"
	"testing"

	"github.com/MrWong99/voxfill/pkg/types"
)

func TestAccept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		conf float64
		want bool
	}{
		{"submit", 0, false},
		{"submit", 0.2, false},
		{"submit", 0.4999, false},
		{"submit", math.NaN(), false},
		{"submit", 0.5, true},
		{"submit", 0.93, true},
		{"submit", 1, true},
		{"   ", 0.9, false},
		{"", 1, false},
	}
	for _, tt := range tests {
		if got := Accept(tt.text, tt.conf); got != tt.want {
			t.Errorf("Accept(%q, %v) = %v, want %v", tt.text, tt.conf, got, tt.want)
		}
	}
}

func TestAccept_ContentOnlyAboveThreshold(t *testing.T) {
	t.Parallel()

	for _, c := range []float64{0.5, 0.6, 0.75, 0.99, 1} {
		if Accept("fill email", c) != Accept("fill email", 0.5) {
			t.Errorf("Accept depends on confidence %v above threshold", c)
		}
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     types.Transcript
		want   string
		wantOK bool
	}{
		{
			name:   "single accepted",
			in:     types.Transcript{Text: "fill email", Confidence: 0.8},
			want:   "fill email",
			wantOK: true,
		},
		{
			name: "low confidence dropped whole",
			in:   types.Transcript{Text: "submit the form", Confidence: 0.2},
		},
		{
			name: "low segments dropped before join",
			in: types.Transcript{Text: "fill uh email", Segments: []types.Segment{
				{Text: "fill", Confidence: 0.9},
				{Text: "uh", Confidence: 0.3},
				{Text: " email ", Confidence: 0.7},
			}},
			want:   "fill email",
			wantOK: true,
		},
		{
			name: "all segments low",
			in: types.Transcript{Segments: []types.Segment{
				{Text: "next", Confidence: 0.1},
				{Text: "field", Confidence: 0.49},
			}},
		},
		{
			name: "empty text",
			in:   types.Transcript{Text: "", Confidence: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Filter(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Filter = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
