// Package types defines the shared types used across all voxfill packages.
//
// These types form the lingua franca between recognizer providers, voice
// activity detectors, and the form-filling engine. Each package defines its
// own domain types; cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"strings"
	"time"
)

// AudioFrame represents a single frame of audio data flowing from a capture
// source into a recognizer.
type AudioFrame struct {
	// PCM audio data (16-bit signed little-endian).
	Data []byte

	// SampleRate in Hz (16000 for most recognizers).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Segment is one concatenation-ready piece of a recognition result. Batch
// recognizers produce one segment per decoded span; streaming recognizers
// usually produce a single segment per result.
type Segment struct {
	// Text is the hypothesis for this segment.
	Text string

	// Confidence is the recognizer's confidence in Text (0.0 to 1.0).
	Confidence float64
}

// Transcript represents a speech-to-text result from a recognizer.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content. When Segments is non-empty it is
	// the space-joined text of all segments.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0 to 1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Segments holds the individual result alternatives that make up this
	// utterance. Nil when the provider reports the utterance as a whole.
	Segments []Segment

	// Words contains per-word detail when available (Deepgram).
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Parts returns the transcript as a list of segments. A transcript without
// explicit segments is returned as a single segment carrying Text and
// Confidence.
func (t Transcript) Parts() []Segment {
	if len(t.Segments) > 0 {
		return t.Segments
	}
	return []Segment{{Text: t.Text, Confidence: t.Confidence}}
}

// FromSegments builds a final Transcript from segments. Text is the joined
// segment text and Confidence the mean of all segment confidences.
func FromSegments(segs []Segment) Transcript {
	parts := make([]string, 0, len(segs))
	var sum float64
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
		sum += s.Confidence
	}
	var conf float64
	if len(segs) > 0 {
		conf = sum / float64(len(segs))
	}
	return Transcript{
		Text:       strings.Join(parts, " "),
		IsFinal:    true,
		Confidence: conf,
		Segments:   segs,
	}
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of field names and form vocabulary.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "postcode").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0 to 1.0).
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// IsSpeech reports whether the event type indicates active speech.
func (t VADEventType) IsSpeech() bool {
	return t == VADSpeechStart || t == VADSpeechContinue
}
