// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// managedContainer is anything the registry can start, stop and pause,
// satisfied by both [*Container] and [*ConcurrentContainer].
type managedContainer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, timeout time.Duration) error
	Pause()
	Resume()
	IsContainerPaused() bool
}

// Registry binds named endpoint descriptors to running containers and
// coordinates their lifecycle as a group (C9). It plays the role a
// higher-level framework would otherwise fill by discovering listener
// annotations: callers register a container explicitly under a name instead.
type Registry struct {
	mu         sync.Mutex
	containers map[string]managedContainer
	order      []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{containers: make(map[string]managedContainer)}
}

// Register binds id to a container. Registering an id twice replaces the
// previous binding without stopping it; callers are expected to Stop before
// replacing.
func (r *Registry) Register(id string, c managedContainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.containers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.containers[id] = c
}

// RegisterContainer is a typed convenience wrapper around Register for a
// single-threaded [Container].
func (r *Registry) RegisterContainer(c *Container) {
	r.Register(c.id, c)
}

// RegisterConcurrentContainer is a typed convenience wrapper around Register
// for a [ConcurrentContainer].
func (r *Registry) RegisterConcurrentContainer(c *ConcurrentContainer) {
	r.Register(c.id, c)
}

// StartAll starts every registered container in registration order, stopping
// whatever already started if any one of them fails.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	started := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := r.Start(ctx, id); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = r.Stop(ctx, started[i], 10*time.Second)
			}
			return err
		}
		started = append(started, id)
	}
	return nil
}

// Start starts the container registered under id.
func (r *Registry) Start(ctx context.Context, id string) error {
	c, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("kafka: no container registered under %q", id)
	}
	return c.Start(ctx)
}

// Stop stops the container registered under id.
func (r *Registry) Stop(ctx context.Context, id string, timeout time.Duration) error {
	c, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("kafka: no container registered under %q", id)
	}
	return c.Stop(ctx, timeout)
}

// StopAll stops every registered container concurrently, in no particular
// order, returning the first error encountered, if any.
func (r *Registry) StopAll(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	var eg errgroup.Group
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			return r.Stop(ctx, id, timeout)
		})
	}
	return eg.Wait()
}

// Pause pauses the container registered under id.
func (r *Registry) Pause(id string) error {
	c, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("kafka: no container registered under %q", id)
	}
	c.Pause()
	return nil
}

// Resume resumes the container registered under id.
func (r *Registry) Resume(id string) error {
	c, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("kafka: no container registered under %q", id)
	}
	c.Resume()
	return nil
}

// IDs returns every registered container id, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

func (r *Registry) lookup(id string) (managedContainer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	return c, ok
}
