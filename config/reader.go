// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides composable readers of configuration values.
//
// A [Reader] produces a single typed [Value] from some source (an
// environment variable, a literal, a derived computation) at build time.
// Readers are combined with [Map] to adapt one source into the shape a
// component needs, and consumed with [Must] or [MustOr] once a component
// is ready to require or default a value.
package config

import (
	"context"
	"fmt"
	"os"
)

// Value is the result of reading configuration. A zero Value is "unset";
// callers distinguish "unset" from "the zero value of T" via Get.
type Value[T any] struct {
	v  T
	ok bool
}

// ValueOf wraps v as a set [Value].
func ValueOf[T any](v T) Value[T] {
	return Value[T]{v: v, ok: true}
}

// Get returns the wrapped value and whether it was set.
func (v Value[T]) Get() (T, bool) {
	return v.v, v.ok
}

// Reader produces a configuration [Value] of type T.
type Reader[T any] interface {
	Read(ctx context.Context) (Value[T], error)
}

// ReaderFunc is a function adapter for [Reader].
type ReaderFunc[T any] func(ctx context.Context) (Value[T], error)

// Read implements [Reader].
func (f ReaderFunc[T]) Read(ctx context.Context) (Value[T], error) {
	return f(ctx)
}

// Literal wraps v as a [Reader] that always returns it, set. Useful for
// supplying a fixed value wherever a component expects a [Reader].
func Literal[T any](v T) Reader[T] {
	return ReaderFunc[T](func(context.Context) (Value[T], error) {
		return ValueOf(v), nil
	})
}

// Env reads a string value from the named environment variable.
// The returned [Value] is unset if the variable is not present.
func Env(name string) Reader[string] {
	return ReaderFunc[string](func(ctx context.Context) (Value[string], error) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return Value[string]{}, nil
		}
		return ValueOf(v), nil
	})
}

// Map adapts a Reader[A] into a Reader[B] by applying f to the read value.
// An unset A short-circuits to an unset B without calling f.
func Map[A, B any](r Reader[A], f func(context.Context, A) (B, error)) Reader[B] {
	return ReaderFunc[B](func(ctx context.Context) (Value[B], error) {
		av, err := r.Read(ctx)
		if err != nil {
			return Value[B]{}, err
		}
		a, ok := av.Get()
		if !ok {
			return Value[B]{}, nil
		}
		b, err := f(ctx, a)
		if err != nil {
			return Value[B]{}, err
		}
		return ValueOf(b), nil
	})
}

// Must reads r and panics if it is unset or errors. Intended for required
// configuration read once at build time, where a missing value is a
// programmer/operator error rather than something to recover from.
func Must[T any](ctx context.Context, r Reader[T]) T {
	v, err := r.Read(ctx)
	if err != nil {
		panic(fmt.Errorf("config: failed to read required value: %w", err))
	}
	t, ok := v.Get()
	if !ok {
		panic(fmt.Errorf("config: required value was not set"))
	}
	return t
}

// MustOr reads r, falling back to def if r is nil, unset, or errors reading
// it. Errors are treated as "not set" here because MustOr is used exclusively
// for optional configuration with a sane default.
func MustOr[T any](ctx context.Context, def T, r Reader[T]) T {
	if r == nil {
		return def
	}
	v, err := r.Read(ctx)
	if err != nil {
		return def
	}
	t, ok := v.Get()
	if !ok {
		return def
	}
	return t
}
