// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ConcurrentContainer supervises N single-threaded [Container]s, each its own
// consumer instance in the same consumer group, so records fan out across
// goroutines while every individual consumer still sees only its own poll
// goroutine (C8).
type ConcurrentContainer struct {
	id          string
	concurrency int

	props    ContainerProperties
	factory  ConsumerFactory
	listener RecordListener
	opts     []ContainerOption

	mu         sync.Mutex
	containers []*Container
}

// ClampConcurrency reports the concurrency a [ConcurrentContainer] should
// actually be built with, given a partition count known statically ahead of
// construction (e.g. via a `kadm.Client.Metadata` lookup against an explicit
// topic assignment): min(concurrency, partitionCount). partitionCount <= 0
// means the count isn't known statically, in which case concurrency is
// returned unchanged and the broker's group balancer decides the actual
// distribution, leaving any surplus children permanently unassigned.
func ClampConcurrency(concurrency, partitionCount int) int {
	if partitionCount > 0 && partitionCount < concurrency {
		return partitionCount
	}
	return concurrency
}

// NewConcurrentContainer builds a supervisor of concurrency children, each a
// full [Container] built from the same properties, factory and listener.
// concurrency is honored as given: [ConsumerFactory] only supports
// group-subscription assignment, so no partition count is known statically
// at construction time here. A caller that determines a topic's partition
// count out-of-band should clamp with [ClampConcurrency] before calling this
// constructor; otherwise, if concurrency exceeds the number of partitions in
// the topics being consumed, the surplus children simply receive no
// partitions on assignment, which franz-go's group balancer handles
// naturally.
func NewConcurrentContainer(id string, concurrency int, props ContainerProperties, factory ConsumerFactory, listener RecordListener, opts ...ContainerOption) *ConcurrentContainer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ConcurrentContainer{
		id:          id,
		concurrency: concurrency,
		props:       props,
		factory:     factory,
		listener:    listener,
		opts:        opts,
	}
}

// Start launches every child container. If any child fails to start, the
// already-started children are stopped and the first error is returned.
func (cc *ConcurrentContainer) Start(ctx context.Context) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if len(cc.containers) > 0 {
		return nil
	}

	children := make([]*Container, 0, cc.concurrency)
	for i := 0; i < cc.concurrency; i++ {
		childID := fmt.Sprintf("%s-%d", cc.id, i)
		child := NewContainer(childID, cc.props, cc.factory, cc.listener, cc.opts...)
		if err := child.Start(ctx); err != nil {
			for j := len(children) - 1; j >= 0; j-- {
				_ = children[j].Stop(ctx, cc.props.ShutdownTimeout)
			}
			return fmt.Errorf("kafka: concurrent container %s failed to start child %s: %w", cc.id, childID, err)
		}
		children = append(children, child)
	}

	cc.containers = children
	return nil
}

// Stop stops every child container concurrently, waiting for all of them to
// finish (or the timeout to elapse) before returning.
func (cc *ConcurrentContainer) Stop(ctx context.Context, timeout time.Duration) error {
	cc.mu.Lock()
	children := cc.containers
	cc.containers = nil
	cc.mu.Unlock()

	var eg errgroup.Group
	for _, child := range children {
		child := child
		eg.Go(func() error {
			return child.Stop(ctx, timeout)
		})
	}
	return eg.Wait()
}

// Pause pauses every child container.
func (cc *ConcurrentContainer) Pause() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, c := range cc.containers {
		c.Pause()
	}
}

// Resume resumes every child container.
func (cc *ConcurrentContainer) Resume() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, c := range cc.containers {
		c.Resume()
	}
}

// IsContainerPaused reports whether every child container is paused.
func (cc *ConcurrentContainer) IsContainerPaused() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if len(cc.containers) == 0 {
		return false
	}
	for _, c := range cc.containers {
		if !c.IsContainerPaused() {
			return false
		}
	}
	return true
}

// Children returns the current set of child containers, for diagnostics and
// registry bookkeeping. The returned slice must not be mutated.
func (cc *ConcurrentContainer) Children() []*Container {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.containers
}
