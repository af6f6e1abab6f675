// Package fallback runs ordered read strategies until one yields a value.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExhausted is returned when every step failed or came back empty.
var ErrExhausted = errors.New("all fallback steps exhausted")

// Step is one named strategy.
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Chain tries its steps in order.
type Chain[T any] struct {
	steps []Step[T]
	empty func(T) bool
}

// New returns a chain that treats the zero value as a miss.
func New[T comparable](steps ...Step[T]) *Chain[T] {
	var zero T
	return &Chain[T]{steps: steps, empty: func(v T) bool { return v == zero }}
}

// NewWith returns a chain with a custom miss test.
func NewWith[T any](empty func(T) bool, steps ...Step[T]) *Chain[T] {
	return &Chain[T]{steps: steps, empty: empty}
}

// Then appends a step.
func (c *Chain[T]) Then(name string, run func(ctx context.Context) (T, error)) *Chain[T] {
	c.steps = append(c.steps, Step[T]{Name: name, Run: run})
	return c
}

// Len is the number of steps.
func (c *Chain[T]) Len() int { return len(c.steps) }

// Run returns the first non-empty value and the name of the step that
// produced it. Step errors are collected into the ErrExhausted error.
// A cancelled context stops the chain.
func (c *Chain[T]) Run(ctx context.Context) (T, string, error) {
	var zero T
	var errs []error
	for _, s := range c.steps {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, err := s.Run(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if c.empty(v) {
			continue
		}
		return v, s.Name, nil
	}
	if len(errs) == 0 {
		return zero, "", ErrExhausted
	}
	return zero, "", fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

// Text runs string steps, trimming results and treating blanks as misses.
func Text(ctx context.Context, steps ...Step[string]) (string, error) {
	trimmed := make([]Step[string], len(steps))
	for i, s := range steps {
		run := s.Run
		trimmed[i] = Step[string]{Name: s.Name, Run: func(ctx context.Context) (string, error) {
			v, err := run(ctx)
			return strings.TrimSpace(v), err
		}}
	}
	v, _, err := New(trimmed...).Run(ctx)
	return v, err
}
