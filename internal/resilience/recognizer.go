package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
)

// RecognizerChain is an [stt.Provider] that starts streams on the first
// healthy recognizer of a fallback group.
//
// A no-speech timeout is a normal end of a session rather than a backend
// fault, so it never counts against a breaker. Only StartStream is guarded:
// once a session is running it belongs to the caller.
type RecognizerChain struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*RecognizerChain)(nil)

// NewRecognizerChain returns a chain with primary as its preferred backend.
func NewRecognizerChain(primary stt.Provider, primaryName string, cfg FallbackConfig) *RecognizerChain {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = recognizerFailure
	}
	return &RecognizerChain{group: NewFallbackGroup(primary, primaryName, cfg)}
}

func recognizerFailure(err error) bool {
	return defaultIsFailure(err) && !errors.Is(err, stt.ErrNoSpeech)
}

// AddFallback appends a recognizer.
func (c *RecognizerChain) AddFallback(name string, p stt.Provider) {
	c.group.AddFallback(name, p)
}

// Status reports the breaker state of every recognizer.
func (c *RecognizerChain) Status() []EntryStatus { return c.group.Status() }

// Healthy reports whether at least one recognizer's breaker admits calls.
func (c *RecognizerChain) Healthy() bool {
	for _, s := range c.group.Status() {
		if s.State != StateOpen.String() {
			return true
		}
	}
	return false
}

// StartStream starts a session on the first recognizer that accepts it. The
// returned error matches [stt.ErrUnavailable] only when the last recognizer
// tried reported it.
func (c *RecognizerChain) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(c.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
