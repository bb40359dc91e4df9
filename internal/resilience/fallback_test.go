package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// chainOf builds a chain of ints named after their values.
func chainOf(cfg CircuitBreakerConfig, names map[int]string, vals ...int) *Chain[int] {
	c := NewChain(vals[0], names[vals[0]], FallbackConfig{CircuitBreaker: cfg})
	for _, v := range vals[1:] {
		c.Append(names[v], v)
	}
	return c
}

var digits = map[int]string{1: "one", 2: "two", 3: "three"}

// failing returns fn that fails for the listed values and records every
// value it was called with.
func failing(bad ...int) (fn func(int) (int, error), seen *[]int) {
	seen = new([]int)
	return func(v int) (int, error) {
		*seen = append(*seen, v)
		if slices.Contains(bad, v) {
			return 0, errTest
		}
		return v * 10, nil
	}, seen
}

func TestDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bad      []int
		want     int
		wantSeen []int
		wantErr  bool
	}{
		{name: "primary answers", want: 10, wantSeen: []int{1}},
		{name: "second answers", bad: []int{1}, want: 20, wantSeen: []int{1, 2}},
		{name: "last answers", bad: []int{1, 2}, want: 30, wantSeen: []int{1, 2, 3}},
		{name: "none answers", bad: []int{1, 2, 3}, wantSeen: []int{1, 2, 3}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn, seen := failing(tt.bad...)
			got, err := Do(context.Background(), chainOf(CircuitBreakerConfig{}, digits, 1, 2, 3), fn)

			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Errorf("err = %v, want ErrAllFailed wrapping the backend error", err)
				}
			} else if err != nil || got != tt.want {
				t.Errorf("Do() = %d, %v, want %d", got, err, tt.want)
			}
			if !slices.Equal(*seen, tt.wantSeen) {
				t.Errorf("tried %v, want %v", *seen, tt.wantSeen)
			}
		})
	}
}

func TestDo_OpenBreakerIsPassedOver(t *testing.T) {
	t.Parallel()
	c := chainOf(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, digits, 1, 2)
	fn, seen := failing(1)

	for range 4 {
		if got, err := Do(context.Background(), c, fn); err != nil || got != 20 {
			t.Fatalf("Do() = %d, %v", got, err)
		}
	}
	if !slices.Equal(*seen, []int{1, 2, 1, 2, 2, 2}) {
		t.Errorf("tried %v: primary should stop being called after two failures", *seen)
	}
}

func TestDo_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("before the first link", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fn, seen := failing()
		if _, err := Do(ctx, chainOf(CircuitBreakerConfig{}, digits, 1, 2), fn); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if len(*seen) != 0 {
			t.Errorf("tried %v, want nothing", *seen)
		}
	})

	t.Run("during a link", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		var seen []int
		_, err := Do(ctx, chainOf(CircuitBreakerConfig{}, digits, 1, 2), func(v int) (int, error) {
			seen = append(seen, v)
			cancel()
			return 0, ctx.Err()
		})
		if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
			t.Errorf("err = %v, want bare context.Canceled", err)
		}
		if !slices.Equal(seen, []int{1}) {
			t.Errorf("tried %v, want only the primary", seen)
		}
	})
}

func TestChain_Iteration(t *testing.T) {
	t.Parallel()
	c := chainOf(CircuitBreakerConfig{}, digits, 3, 1, 2)

	if got := c.Names(); !slices.Equal(got, []string{"three", "one", "two"}) {
		t.Errorf("Names() = %v", got)
	}

	var first []int
	for _, v := range c.All() {
		first = append(first, v)
		if len(first) == 2 {
			break
		}
	}
	if !slices.Equal(first, []int{3, 1}) {
		t.Errorf("All() with break yielded %v", first)
	}
}

func TestChain_BreakerPerLink(t *testing.T) {
	t.Parallel()
	var transitions []string
	cfg := CircuitBreakerConfig{
		Name:         "ignored",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		OnStateChange: func(name string, _, to State) {
			transitions = append(transitions, name+":"+to.String())
		},
	}
	c := chainOf(cfg, digits, 1, 2)
	fn, _ := failing(1)
	if _, err := Do(context.Background(), c, fn); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(transitions, []string{"one:open"}) {
		t.Errorf("transitions = %v", transitions)
	}
}
