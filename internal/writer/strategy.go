package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxfill/internal/ui"
)

// DefaultEventDelay separates the simulated input, change and blur events.
const DefaultEventDelay = 10 * time.Millisecond

var (
	_ WriteStrategy = DirectCallback{}
	_ WriteStrategy = SimulatedEvent{}
	_ WriteStrategy = Failure{}
)

// DirectCallback invokes the change handler the framework attached to the
// element, with the target as payload. It is not applicable when no handler
// can be found.
//
// Frameworks may render the new state in a later task, so the value is read
// back repeatedly for up to Settle before the write counts as failed.
type DirectCallback struct {
	Settle time.Duration
}

func (DirectCallback) Name() string { return "direct-callback" }

func (d DirectCallback) Write(ctx context.Context, el ui.Element, t ui.Target) error {
	h, ok := el.ChangeHandler(ctx)
	if !ok {
		return ErrNotApplicable
	}
	if err := h.Invoke(ctx, t); err != nil {
		return fmt.Errorf("invoke %s handler: %w", h.Shape(), err)
	}
	return verifySettled(ctx, el, t.Value, d.Settle)
}

// SimulatedEvent sets the value through the native property setter and then
// dispatches input, change and blur events, Delay apart.
type SimulatedEvent struct {
	Delay time.Duration
}

func (SimulatedEvent) Name() string { return "simulated-event" }

func (s SimulatedEvent) Write(ctx context.Context, el ui.Element, t ui.Target) error {
	if err := el.SetNativeValue(ctx, t.Value); err != nil {
		return fmt.Errorf("native set: %w", err)
	}
	for i, typ := range []string{ui.EventInput, ui.EventChange, ui.EventBlur} {
		if i > 0 && s.Delay > 0 {
			time.Sleep(s.Delay)
		}
		if err := el.Dispatch(ctx, ui.Event{Type: typ, Target: t}); err != nil {
			return fmt.Errorf("dispatch %s: %w", typ, err)
		}
	}
	return verify(ctx, el, t.Value)
}

// Failure is the terminal strategy. It never writes anything.
type Failure struct{}

func (Failure) Name() string { return "none" }

func (Failure) Write(context.Context, ui.Element, ui.Target) error { return ErrNoStrategy }

// verify checks that the element now holds want.
func verify(ctx context.Context, el ui.Element, want string) error {
	got, err := el.Value(ctx)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if got != want {
		return fmt.Errorf("value not applied: have %q, want %q", got, want)
	}
	return nil
}

// verifySettled polls verify until it passes or window has elapsed.
func verifySettled(ctx context.Context, el ui.Element, want string, window time.Duration) error {
	deadline := time.Now().Add(window)
	step := max(window/5, time.Millisecond)
	for {
		err := verify(ctx, el, want)
		if err == nil || errors.Is(err, ui.ErrDetached) || !time.Now().Before(deadline) {
			return err
		}
		time.Sleep(step)
	}
}
