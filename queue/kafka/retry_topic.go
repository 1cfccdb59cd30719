// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"time"
)

// DestinationKind classifies a hop in a retry topology's chain.
type DestinationKind int

const (
	DestinationMain DestinationKind = iota
	DestinationRetry
	DestinationReusableRetry
	DestinationDLT
	DestinationNoOps
)

// DltStrategy governs behavior when a dead-letter publish itself fails.
type DltStrategy int

const (
	// DltFailOnError propagates the publish failure and stops the container.
	DltFailOnError DltStrategy = iota
	// DltAlwaysRetryOnError loops the record back into the retry chain
	// instead of propagating the failure.
	DltAlwaysRetryOnError
	// DltNone means there is no DLT: the last retry hop is terminal and a
	// final failure is silently dropped (logged only).
	DltNone
)

// BackoffFunc computes the delay before attempt n (1-indexed) is delivered.
type BackoffFunc func(attempt int) time.Duration

// FixedBackoff returns a [BackoffFunc] with a constant delay.
func FixedBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff returns a [BackoffFunc] that multiplies base by
// multiplier^(attempt-1), for attempt >= 1.
func ExponentialBackoff(base time.Duration, multiplier float64) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := float64(base)
		for i := 1; i < attempt; i++ {
			d *= multiplier
		}
		return time.Duration(d)
	}
}

// DestinationTopic is one hop in a retry chain.
type DestinationTopic struct {
	Name               string
	Suffix             string
	Kind               DestinationKind
	Delay              time.Duration
	NumPartitions      int32
	Replicas           int16
	DltStrategy        DltStrategy
	ShouldRetry        func(attempt int, err error) bool
	Timeout            time.Duration
	MatchingExceptions map[ErrorKind]struct{}
}

// RetryTopology computes and holds the chain main -> retry-N -> dlt for one
// main topic, and resolves the next hop for a record whose listener failed.
type RetryTopology struct {
	MainTopic   string
	MaxAttempts int
	Backoff     BackoffFunc
	Classifier  Classifier
	Reusable    bool
	Timeout     time.Duration

	chain []DestinationTopic
}

// NewRetryTopology computes the destination chain for mainTopic: one retry
// hop per attempt in [1, maxAttempts), each delayed per backoff, terminated
// by a generic DLT (unless dltStrategy is DltNone, in which case the last
// retry hop is terminal). When reusable is true, all retry attempts collapse
// onto a single topic name and the per-attempt delay is computed from the
// record's attempt header rather than from topic identity.
func NewRetryTopology(mainTopic string, maxAttempts int, backoff BackoffFunc, classifier Classifier, dltStrategy DltStrategy, reusable bool) *RetryTopology {
	rt := &RetryTopology{
		MainTopic:   mainTopic,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Classifier:  classifier,
		Reusable:    reusable,
	}

	chain := make([]DestinationTopic, 0, maxAttempts+1)
	chain = append(chain, DestinationTopic{Name: mainTopic, Kind: DestinationMain})

	if reusable && maxAttempts > 1 {
		chain = append(chain, DestinationTopic{
			Name:  fmt.Sprintf("%s-retry", mainTopic),
			Kind:  DestinationReusableRetry,
			Delay: backoff(1),
		})
	} else {
		for n := 1; n < maxAttempts; n++ {
			delay := backoff(n)
			chain = append(chain, DestinationTopic{
				Name:  fmt.Sprintf("%s-retry-%d", mainTopic, delay.Milliseconds()),
				Kind:  DestinationRetry,
				Delay: delay,
			})
		}
	}

	if dltStrategy != DltNone {
		chain = append(chain, DestinationTopic{
			Name:        fmt.Sprintf("%s-dlt", mainTopic),
			Kind:        DestinationDLT,
			DltStrategy: dltStrategy,
		})
	} else {
		chain = append(chain, DestinationTopic{Name: "", Kind: DestinationNoOps})
	}

	rt.chain = chain
	return rt
}

// Chain returns the computed destination chain, main topic first.
func (rt *RetryTopology) Chain() []DestinationTopic {
	return rt.chain
}

// Topics returns the concrete topic names in the chain that a topic
// provisioner would need to create, excluding the main topic and any
// no-ops terminal.
func (rt *RetryTopology) Topics() []string {
	names := make([]string, 0, len(rt.chain))
	for _, d := range rt.chain {
		if d.Kind == DestinationMain || d.Kind == DestinationNoOps {
			continue
		}
		names = append(names, d.Name)
	}
	return names
}

// Next resolves the destination a failed record should be republished to,
// given how many attempts it has already had (from the record's headers).
// It returns ok=false when the chain is exhausted with DltNone, meaning the
// record should be silently dropped.
func (rt *RetryTopology) Next(attempts int) (DestinationTopic, bool) {
	idx := attempts + 1 // chain[0] is main == attempt 0
	if idx >= len(rt.chain) {
		idx = len(rt.chain) - 1
	}
	d := rt.chain[idx]
	if d.Kind == DestinationNoOps {
		return d, false
	}
	return d, true
}

// DeadLetterFor resolves the DLT hop matching err's classified kind, falling
// back to the generic (final) DLT entry in the chain.
func (rt *RetryTopology) DeadLetterFor(err error) (DestinationTopic, bool) {
	kind := KindListener
	if rt.Classifier != nil {
		kind = rt.Classifier.Classify(err)
	}
	var generic *DestinationTopic
	for i := range rt.chain {
		d := &rt.chain[i]
		if d.Kind != DestinationDLT {
			continue
		}
		if len(d.MatchingExceptions) == 0 {
			generic = d
			continue
		}
		if _, ok := d.MatchingExceptions[kind]; ok {
			return *d, true
		}
	}
	if generic != nil {
		return *generic, true
	}
	return DestinationTopic{}, false
}

// Deadline computes when a republished record becomes eligible for delivery,
// given the destination's delay and the time it was republished.
func Deadline(d DestinationTopic, republishedAt time.Time) time.Time {
	return republishedAt.Add(d.Delay)
}

// DelayedRecordHandler inspects a record's backoff-deadline header. If the
// deadline is in the future, the caller should pause the owning partition and
// arm a wake-up at the deadline; otherwise the record is ready for delivery
// to the original listener.
type DelayedRecordHandler struct {
	now func() time.Time
}

// NewDelayedRecordHandler builds a handler using time.Now as its clock.
func NewDelayedRecordHandler() *DelayedRecordHandler {
	return &DelayedRecordHandler{now: time.Now}
}

// Ready reports whether rec's backoff deadline has elapsed, and if not, the
// time at which it will.
func (h *DelayedRecordHandler) Ready(rec *Message) (ready bool, deadline time.Time) {
	meta := readRetryMetadata(rec)
	if meta.BackoffDeadline.IsZero() {
		return true, time.Time{}
	}
	now := h.now()
	if !now.Before(meta.BackoffDeadline) {
		return true, time.Time{}
	}
	return false, meta.BackoffDeadline
}

// RouteFailure computes the next hop and the outgoing record for a listener
// failure on rec, applying the retry-topic header contract. ctx is accepted
// for symmetry with publish call sites that need it for tracing.
func (rt *RetryTopology) RouteFailure(ctx context.Context, rec *Message, err error) (DestinationTopic, *Message, bool) {
	meta := readRetryMetadata(rec)

	dest, ok := rt.Next(int(meta.Attempts))
	if !ok {
		return dest, nil, false
	}
	if dest.Kind == DestinationDLT {
		if d, matched := rt.DeadLetterFor(err); matched {
			dest = d
		}
	}

	out := &Message{
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   append([]Header(nil), rec.Headers...),
		Timestamp: rec.Timestamp,
		Topic:     dest.Name,
	}
	deadline := Deadline(dest, time.Now())
	writeRetryMetadata(out, meta, err, deadline)
	return dest, out, true
}
