// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/z5labs/kestrel/app"

	"gopkg.in/yaml.v3"
)

// ErrEndOfQueue should be returned by [Consumer] that are consuming
// from a finite queue. This should then signify to [QueueRuntime]
// implementations to shut down.
var ErrEndOfQueue = errors.New("queue: no more items")

// Consumer consumes message(s), T, from a queue.
//
// Implementations should return [ErrEndOfQueue] when the queue is exhausted to signal
// graceful shutdown to [QueueRuntime] implementations.
type Consumer[T any] interface {
	Consume(context.Context) (T, error)
}

// ConsumerFunc is an adapter to allow the use of ordinary functions as [Consumer]s.
type ConsumerFunc[T any] func(context.Context) (T, error)

// Consume implements the [Consumer] interface.
func (f ConsumerFunc[T]) Consume(ctx context.Context) (T, error) {
	return f(ctx)
}

// Processor implements the business logic for processing message(s), T.
//
// Process is called after a message is consumed and before it is acknowledged.
type Processor[T any] interface {
	Process(context.Context, T) error
}

// ProcessorFunc is an adapter to allow the use of ordinary functions as [Processor]s.
type ProcessorFunc[T any] func(context.Context, T) error

// Process implements the [Processor] interface.
func (f ProcessorFunc[T]) Process(ctx context.Context, t T) error {
	return f(ctx, t)
}

// Acknowledger tells the queue that message(s), T, have been successfully processed.
//
// Acknowledge is called after a message has been successfully processed to confirm
// completion back to the queue system.
type Acknowledger[T any] interface {
	Acknowledge(context.Context, T) error
}

// AcknowledgerFunc is an adapter to allow the use of ordinary functions as [Acknowledger]s.
type AcknowledgerFunc[T any] func(context.Context, T) error

// Acknowledge implements the [Acknowledger] interface.
func (f AcknowledgerFunc[T]) Acknowledge(ctx context.Context, t T) error {
	return f(ctx, t)
}

// ItemProcessor drives a single consume/process/acknowledge cycle for one item.
//
// Implementations fix the ordering of Process and Acknowledge, which is what
// distinguishes at-most-once from at-least-once delivery semantics.
type ItemProcessor[T any] interface {
	ProcessItem(context.Context) error
}

type itemProcessorFunc[T any] func(context.Context) error

func (f itemProcessorFunc[T]) ProcessItem(ctx context.Context) error {
	return f(ctx)
}

// ProcessAtMostOnce returns an [ItemProcessor] that acknowledges an item
// before processing it. If processing fails, the item has already been
// acknowledged and is lost; this trades reliability for lower latency.
func ProcessAtMostOnce[T any](consumer Consumer[T], processor Processor[T], acknowledger Acknowledger[T]) ItemProcessor[T] {
	return itemProcessorFunc[T](func(ctx context.Context) error {
		item, err := consumer.Consume(ctx)
		if err != nil {
			return err
		}

		err = acknowledger.Acknowledge(ctx, item)
		if err != nil {
			return err
		}

		return processor.Process(ctx, item)
	})
}

// ProcessAtLeastOnce returns an [ItemProcessor] that acknowledges an item
// only after it has been successfully processed. If processing fails, the
// item is not acknowledged and will be redelivered; processors must be
// idempotent to tolerate the resulting duplicates.
func ProcessAtLeastOnce[T any](consumer Consumer[T], processor Processor[T], acknowledger Acknowledger[T]) ItemProcessor[T] {
	return itemProcessorFunc[T](func(ctx context.Context) error {
		item, err := consumer.Consume(ctx)
		if err != nil {
			return err
		}

		err = processor.Process(ctx, item)
		if err != nil {
			return err
		}

		return acknowledger.Acknowledge(ctx, item)
	})
}

// QueueRuntime orchestrates the message queue processing lifecycle.
//
// Implementations should coordinate [Consumer], [Processor], and [Acknowledger]
// to consume, process, and acknowledge messages. When ProcessQueue returns,
// the application will shut down gracefully.
type QueueRuntime interface {
	ProcessQueue(context.Context) error
}

// QueueRuntimeFunc is an adapter to allow the use of ordinary functions as [QueueRuntime]s.
type QueueRuntimeFunc func(context.Context) error

// ProcessQueue implements the [QueueRuntime] interface.
func (f QueueRuntimeFunc) ProcessQueue(ctx context.Context) error {
	return f(ctx)
}

// App wraps a [QueueRuntime] and implements the [app.Runtime] interface.
//
// It is the integration point between the Kestrel framework and a queue
// processing runtime implementation, such as the one in
// [github.com/z5labs/kestrel/queue/kafka].
type App struct {
	queueRuntime QueueRuntime
}

// NewApp wraps rt so it can be run by [app.Run] or [Run].
func NewApp(rt QueueRuntime) *App {
	return &App{queueRuntime: rt}
}

// Run implements [app.Runtime].
func (a *App) Run(ctx context.Context) error {
	return a.queueRuntime.ProcessQueue(ctx)
}

// Build creates an app.Builder for a queue-based application.
func Build(queueRuntime QueueRuntime) app.Builder[*App] {
	return app.BuilderFunc[*App](func(ctx context.Context) (*App, error) {
		return NewApp(queueRuntime), nil
	})
}

// Config is the base configuration accepted by [Run]. Application-specific
// configuration is added by embedding Config into a larger struct and
// unmarshalling the YAML document read by [Run] into it.
type Config struct{}

// RunOptions holds configuration for [Run].
type RunOptions struct {
	logger *slog.Logger
}

// RunOption configures [Run] behavior.
type RunOption interface {
	ApplyRunOption(*RunOptions)
}

type runOptionFunc func(*RunOptions)

func (f runOptionFunc) ApplyRunOption(ro *RunOptions) {
	f(ro)
}

// LogHandler configures a custom log handler for errors during application
// startup and running. By default, errors are logged as JSON to stdout.
func LogHandler(h slog.Handler) RunOption {
	return runOptionFunc(func(ro *RunOptions) {
		ro.logger = slog.New(h)
	})
}

// Run decodes YAML configuration of type T from r, builds a queue application
// with build, and runs it to completion.
//
// Run installs the same signal handling as [app.Run] (SIGINT/SIGTERM cancel
// the context passed to build and to the running [App]). Errors encountered
// while decoding, building, or running are logged and Run returns; it never
// panics on application error.
func Run[T any](r io.Reader, build func(context.Context, T) (*App, error), opts ...RunOption) {
	ro := &RunOptions{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	for _, opt := range opts {
		opt.ApplyRunOption(ro)
	}

	builder := app.BuilderFunc[*App](func(ctx context.Context) (*App, error) {
		var cfg T
		if r != nil {
			err := yaml.NewDecoder(r).Decode(&cfg)
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("queue: failed to decode config: %w", err)
			}
		}
		return build(ctx, cfg)
	})

	err := app.Run(context.Background(), builder)
	if err != nil {
		app.LogError(ro.logger.Handler(), err)
	}
}
