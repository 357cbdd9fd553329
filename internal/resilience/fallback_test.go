package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

// backendGroup builds a group over the named backends with one-failure
// breakers that stay open for the rest of the test.
func backendGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		down      []string
		want      string
		wantTried []string
		wantErr   bool
	}{
		{name: "primary healthy", want: "deepgram", wantTried: []string{"deepgram"}},
		{name: "primary down", down: []string{"deepgram"}, want: "whisper", wantTried: []string{"deepgram", "whisper"}},
		{name: "first two down", down: []string{"deepgram", "whisper"}, want: "openai", wantTried: []string{"deepgram", "whisper", "openai"}},
		{name: "all down", down: []string{"deepgram", "whisper", "openai"}, wantTried: []string{"deepgram", "whisper", "openai"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := backendGroup("deepgram", "whisper", "openai")

			var tried []string
			got, err := ExecuteWithResult(fg, func(v string) (string, error) {
				tried = append(tried, v)
				if slices.Contains(tc.down, v) {
					return "", errTest
				}
				return v, nil
			})

			if tc.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the backend error", err)
				}
			} else if err != nil || got != tc.want {
				t.Fatalf("got (%q, %v), want %q", got, err, tc.want)
			}
			if !slices.Equal(tried, tc.wantTried) {
				t.Errorf("tried = %v, want %v", tried, tc.wantTried)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := backendGroup("deepgram", "whisper")

	_ = fg.Execute(func(v string) error {
		if v == "deepgram" {
			return errTest
		}
		return nil
	})

	var tried []string
	if err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(tried, []string{"whisper"}) {
		t.Errorf("tried = %v, want only whisper while deepgram's breaker is open", tried)
	}

	want := []EntryStatus{{Name: "deepgram", State: "open"}, {Name: "whisper", State: "closed"}}
	if got := fg.Status(); !slices.Equal(got, want) {
		t.Errorf("Status = %+v, want %+v", got, want)
	}
	if fg.Len() != 2 {
		t.Errorf("Len = %d, want 2", fg.Len())
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	t.Parallel()
	fg := backendGroup("deepgram")
	_ = fg.Execute(func(string) error { return errTest })

	err := fg.Execute(func(string) error {
		t.Fatal("backend called with an open breaker")
		return nil
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}
