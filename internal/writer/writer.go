// Package writer delivers values into fields owned by a foreign UI framework
// so that the framework treats them as genuine user input.
//
// A [Writer] tries an ordered list of [WriteStrategy] implementations and
// stops at the first one that produces an observable effect. The default
// order is [DirectCallback] (invoke the framework's own change handler) then
// [SimulatedEvent] (native setter plus input, change and blur events).
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxfill/internal/fields"
	"github.com/MrWong99/voxfill/internal/ui"
)

var (
	// ErrNoStrategy is returned when every strategy failed to set the value.
	ErrNoStrategy = errors.New("writer: no strategy could set the value")

	// ErrHandleDetached is returned when the field's element is no longer in
	// the tree.
	ErrHandleDetached = errors.New("writer: field handle detached")

	// ErrNotApplicable is returned by a strategy that cannot act on an
	// element at all, as opposed to one that tried and failed.
	ErrNotApplicable = errors.New("writer: strategy not applicable")
)

// WriteStrategy is one way of delivering a value into an element.
type WriteStrategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// Write delivers t.Value into el. It returns nil only when the value is
	// observable on the element afterwards.
	Write(ctx context.Context, el ui.Element, t ui.Target) error
}

// Result describes a write attempt.
type Result struct {
	// Strategy is the name of the strategy that succeeded, or the name of
	// the failure strategy.
	Strategy string
	Duration time.Duration
}

// Option configures a [Writer].
type Option func(*Writer)

// WithStrategies replaces the default strategy list.
func WithStrategies(s ...WriteStrategy) Option {
	return func(w *Writer) {
		w.strategies = s
	}
}

// WithEventDelay sets the delay between simulated events in the default
// SimulatedEvent strategy. It is also how long DirectCallback waits for the
// framework to render the new value. Ignored when WithStrategies is also
// given.
func WithEventDelay(d time.Duration) Option {
	return func(w *Writer) {
		w.eventDelay = d
	}
}

// Writer writes and focuses fields. Safe for concurrent use as long as the
// strategies are.
type Writer struct {
	strategies []WriteStrategy
	eventDelay time.Duration
}

// New returns a Writer with the default strategies.
func New(opts ...Option) *Writer {
	w := &Writer{eventDelay: DefaultEventDelay}
	for _, o := range opts {
		o(w)
	}
	if w.strategies == nil {
		w.strategies = []WriteStrategy{
			DirectCallback{Settle: w.eventDelay},
			SimulatedEvent{Delay: w.eventDelay},
		}
	}
	return w
}

// Write sets value on f. Strategies run in order; the first success wins.
// When none succeeds the [Failure] strategy reports ErrNoStrategy joined
// with every strategy error. No retry is attempted.
//
// The event sequence is not interrupted by ctx cancellation once started, so
// a field is never left half-written.
func (w *Writer) Write(ctx context.Context, f fields.Descriptor, value string) (Result, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	if f.Handle == nil || !f.Handle.Alive(ctx) {
		return Result{Strategy: Failure{}.Name(), Duration: time.Since(start)},
			fmt.Errorf("writer: %s: %w", f.ID, ErrHandleDetached)
	}

	t := ui.Target{Name: f.Name, Value: value, ID: f.ID, Type: f.Handle.Type()}
	var errs []error
	for _, s := range w.strategies {
		err := s.Write(ctx, f.Handle, t)
		if err == nil {
			slog.Debug("writer: value written", "field_id", f.ID, "strategy", s.Name())
			return Result{Strategy: s.Name(), Duration: time.Since(start)}, nil
		}
		if errors.Is(err, ui.ErrDetached) {
			return Result{Strategy: s.Name(), Duration: time.Since(start)},
				fmt.Errorf("writer: %s: %w", f.ID, ErrHandleDetached)
		}
		if !errors.Is(err, ErrNotApplicable) {
			slog.Debug("writer: strategy failed", "field_id", f.ID, "strategy", s.Name(), "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	err := Failure{}.Write(ctx, f.Handle, t)
	return Result{Strategy: Failure{}.Name(), Duration: time.Since(start)},
		fmt.Errorf("writer: %s: %w", f.ID, errors.Join(append([]error{err}, errs...)...))
}

// Focus requests input focus on f and scrolls it into view.
func (w *Writer) Focus(ctx context.Context, f fields.Descriptor) error {
	if f.Handle == nil || !f.Handle.Alive(ctx) {
		return fmt.Errorf("writer: focus %s: %w", f.ID, ErrHandleDetached)
	}
	if err := f.Handle.Focus(ctx); err != nil {
		return fmt.Errorf("writer: focus %s: %w", f.ID, mapDetached(err))
	}
	if err := f.Handle.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("writer: scroll %s: %w", f.ID, mapDetached(err))
	}
	return nil
}

func mapDetached(err error) error {
	if errors.Is(err, ui.ErrDetached) {
		return errors.Join(ErrHandleDetached, err)
	}
	return err
}
