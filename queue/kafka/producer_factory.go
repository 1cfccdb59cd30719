// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/z5labs/kestrel/concurrent"
)

// ErrNoProducerAvailable is returned by [TransactionalProducerCache.Acquire]
// when the suffix pool is exhausted and the caller's wait exceeded maxAge.
var ErrNoProducerAvailable = errors.New("kafka: no producer available")

// ProducerKey identifies a slot in the transactional producer cache.
type ProducerKey struct {
	Prefix string
	Suffix string
}

func (k ProducerKey) transactionalID() string {
	if k.Suffix == "" {
		return k.Prefix
	}
	return k.Prefix + "-" + k.Suffix
}

// suffixPool is a bounded, blocking-or-fail-fast allocator of integer-indexed
// suffixes, sized maxCache. It is the default suffix strategy used under
// EOS-V1, where a suffix is allocated per calling goroutine.
type suffixPool struct {
	free chan string
}

func newSuffixPool(size int) *suffixPool {
	p := &suffixPool{free: make(chan string, size)}
	for i := 0; i < size; i++ {
		p.free <- strconv.Itoa(i)
	}
	return p
}

func (p *suffixPool) acquire(ctx context.Context, maxAge time.Duration) (string, error) {
	if maxAge <= 0 {
		select {
		case s := <-p.free:
			return s, nil
		default:
			return "", ErrNoProducerAvailable
		}
	}

	timer := time.NewTimer(maxAge)
	defer timer.Stop()

	select {
	case s := <-p.free:
		return s, nil
	case <-timer.C:
		return "", ErrNoProducerAvailable
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *suffixPool) release(suffix string) {
	select {
	case p.free <- suffix:
	default:
		// Pool over-released; drop rather than block or panic.
	}
}

// GroupAwareSuffix deterministically maps a (groupID, topic, partition) work
// unit to a suffix, bounded to poolSize slots. Under EOS-V2, this ensures the
// same logical partition always reuses the same transactional.id, avoiding
// spurious producer fencing across restarts and rebalances.
func GroupAwareSuffix(poolSize int) func(group string, tp TopicPartition) string {
	return func(group string, tp TopicPartition) string {
		h := fnv32(group + "/" + tp.Topic)
		bucket := (int(h) + int(tp.Partition)) % poolSize
		if bucket < 0 {
			bucket += poolSize
		}
		return strconv.Itoa(bucket)
	}
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// slot holds a cached producer and whether it has been invalidated by a
// fencing error and must not be reused.
type slot struct {
	mu       sync.Mutex
	producer Producer
	invalid  bool
}

// TransactionalProducerCache is a bounded cache of transactional producers
// keyed by [ProducerKey]. It enforces that at most one un-closed producer
// exists per key at any time.
type TransactionalProducerCache struct {
	factory       ProducerFactory
	prefix        string
	maxCache      int
	maxAge        time.Duration
	pool          *suffixPool
	groupAware    func(group string, tp TopicPartition) string
	cache         *concurrent.Cache[ProducerKey, *slot]
}

// NewTransactionalProducerCache builds a cache of at most maxCache concurrent
// producers under transactionalIDPrefix. If groupAware is non-nil, suffixes
// are derived deterministically from (group, partition) per [GroupAwareSuffix]
// (EOS-V2); otherwise suffixes are allocated from a per-caller pool (EOS-V1).
func NewTransactionalProducerCache(factory ProducerFactory, prefix string, maxCache int, maxAge time.Duration, groupAware func(group string, tp TopicPartition) string) *TransactionalProducerCache {
	return &TransactionalProducerCache{
		factory:    factory,
		prefix:     prefix,
		maxCache:   maxCache,
		maxAge:     maxAge,
		pool:       newSuffixPool(maxCache),
		groupAware: groupAware,
		cache:      concurrent.NewCache[ProducerKey, *slot](),
	}
}

// Lease is a checked-out producer plus the bookkeeping needed to release or
// invalidate its slot.
type Lease struct {
	Key      ProducerKey
	Producer Producer

	cache *TransactionalProducerCache
	slot  *slot
	owned bool // true when the suffix came from the per-caller pool and must be released
}

// Acquire checks out a producer for the given group and partition. When the
// cache is configured group-aware (EOS-V2), the same (group, partition)
// always yields the same suffix. Otherwise a suffix is leased from the bounded
// pool and must be released via [Lease.Release].
func (c *TransactionalProducerCache) Acquire(ctx context.Context, group string, tp TopicPartition) (*Lease, error) {
	var suffix string
	owned := false
	if c.groupAware != nil {
		suffix = c.groupAware(group, tp)
	} else {
		s, err := c.pool.acquire(ctx, c.maxAge)
		if err != nil {
			return nil, err
		}
		suffix = s
		owned = true
	}

	key := ProducerKey{Prefix: c.prefix, Suffix: suffix}

	sl, err := c.cache.GetOr(key, func() (*slot, error) {
		p, err := c.factory.CreateProducer(key.transactionalID())
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to create transactional producer %s: %w", key.transactionalID(), err)
		}
		return &slot{producer: p}, nil
	})
	if err != nil {
		if owned {
			c.pool.release(suffix)
		}
		return nil, err
	}

	sl.mu.Lock()
	if sl.invalid {
		sl.mu.Unlock()
		// Fenced slot from a prior lease; replace it with a fresh producer/epoch.
		c.cache.Delete(key)
		if owned {
			c.pool.release(suffix)
		}
		return c.Acquire(ctx, group, tp)
	}
	sl.mu.Unlock()

	return &Lease{
		Key:      key,
		Producer: sl.producer,
		cache:    c,
		slot:     sl,
		owned:    owned,
	}, nil
}

// Release returns the leased producer to the cache after a successful commit.
func (l *Lease) Release() {
	if l.owned {
		l.cache.pool.release(l.Key.Suffix)
	}
}

// Invalidate marks the leased producer's slot unusable, e.g. after a
// [FencedError] on commit, and returns it to the pool so a fresh producer
// with a new epoch is created on the next Acquire.
func (l *Lease) Invalidate(ctx context.Context) {
	l.slot.mu.Lock()
	l.slot.invalid = true
	l.slot.mu.Unlock()

	l.cache.cache.Delete(l.Key)
	_ = l.Producer.Close(ctx)
	if l.owned {
		l.cache.pool.release(l.Key.Suffix)
	}
}
