package resilience

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// ErrAllFailed is returned by [Do] when no link of a [Chain] produced a
// result. It wraps the last backend error.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template for every link of a [Chain]. Each
// link gets its own breaker named after the link.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is an ordered list of interchangeable backends, preferred first.
// Build it fully before sharing it between goroutines.
type Chain[T any] struct {
	links []link[T]
	tmpl  CircuitBreakerConfig
}

// NewChain starts a chain with primary as its first link.
func NewChain[T any](primary T, name string, cfg FallbackConfig) *Chain[T] {
	c := &Chain[T]{tmpl: cfg.CircuitBreaker}
	c.Append(name, primary)
	return c
}

// Append adds a lower-priority link.
func (c *Chain[T]) Append(name string, v T) {
	cb := c.tmpl
	cb.Name = name
	c.links = append(c.links, link[T]{name: name, value: v, breaker: NewCircuitBreaker(cb)})
}

// All yields each link's name and value in priority order.
func (c *Chain[T]) All() iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		for _, l := range c.links {
			if !yield(l.name, l.value) {
				return
			}
		}
	}
}

// Names lists the links in priority order.
func (c *Chain[T]) Names() []string {
	out := make([]string, 0, len(c.links))
	for name := range c.All() {
		out = append(out, name)
	}
	return out
}

// Do calls fn on each link until one succeeds. Links whose breaker is open
// are passed over without calling fn. When ctx ends, Do stops and returns
// the context's error unwrapped rather than [ErrAllFailed].
func Do[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var last error
	for _, l := range c.links {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var out R
		err := l.breaker.Execute(func() (err error) {
			out, err = fn(l.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", l.name)
		case ctx.Err() != nil:
			return zero, err
		default:
			slog.Warn("provider failed, trying next", "provider", l.name, "err", err)
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
