// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"sync"
)

// Decision is the outcome of routing a listener error through an
// [ErrorHandler].
type Decision int

const (
	// DecisionHandled means the error has been fully dealt with; the loop
	// commits/acks as if the record succeeded.
	DecisionHandled Decision = iota
	// DecisionSeekAndRetry means the container should seek the consumer back
	// to the failing offset and redeliver it on the next poll.
	DecisionSeekAndRetry
	// DecisionRetain means the record should be retried without seeking: the
	// container holds the rest of the current poll batch in memory, pauses
	// the affected partition, and replays only the failed record.
	DecisionRetain
	// DecisionDeadLetter means the record should be routed to the retry
	// topology's dead-letter destination.
	DecisionDeadLetter
	// DecisionFatal means the error is unrecoverable; the container stops.
	DecisionFatal
)

// ErrorKind classifies an error for retry/skip/dead-letter routing.
type ErrorKind int

const (
	KindListener ErrorKind = iota
	KindSerialization
	KindTransientBroker
	KindFenced
	KindAuth
	KindFatal
)

// Classifier assigns an [ErrorKind] to an error. Unclassified errors default
// to [KindListener], which is retried.
type Classifier interface {
	Classify(err error) ErrorKind
}

// ClassifierFunc adapts a function to a [Classifier].
type ClassifierFunc func(err error) ErrorKind

func (f ClassifierFunc) Classify(err error) ErrorKind {
	return f(err)
}

// AllowList builds a [Classifier] that reports KindFatal for any error not
// matching one of the given predicates (via errors.Is/errors.As-compatible
// checks), and KindListener (retryable) otherwise.
func AllowList(retryable ...func(error) bool) Classifier {
	return ClassifierFunc(func(err error) ErrorKind {
		for _, match := range retryable {
			if match(err) {
				return KindListener
			}
		}
		return KindFatal
	})
}

// DenyList builds a [Classifier] that reports KindFatal for any error
// matching one of the given predicates, and KindListener otherwise.
func DenyList(fatal ...func(error) bool) Classifier {
	return ClassifierFunc(func(err error) ErrorKind {
		for _, match := range fatal {
			if match(err) {
				return KindFatal
			}
		}
		return KindListener
	})
}

// attemptKey tracks retry attempts per delivered record.
type attemptKey struct {
	tp     TopicPartition
	offset int64
}

// ErrorHandler decides how a container should react to a listener error.
type ErrorHandler interface {
	HandleError(ctx context.Context, err error, rec *Message, isBatch bool) Decision
}

// DefaultErrorHandler classifies errors, tracks per-record attempt counts,
// and routes exhausted records to a retry topology or a dead letter when one
// is configured.
type DefaultErrorHandler struct {
	classifier         Classifier
	maxAttempts        int
	seeksAfterHandling bool
	retryTopology      *RetryTopology

	mu       sync.Mutex
	attempts map[attemptKey]int
}

// NewDefaultErrorHandler builds an error handler that attempts a record up to
// maxAttempts times, the first delivery included, before routing it onward. seeksAfterHandling selects
// between "seek back and redeliver from the top of the poll" (true) and
// "retain remaining records in memory and only replay the failed one" (false).
func NewDefaultErrorHandler(classifier Classifier, maxAttempts int, seeksAfterHandling bool, retryTopology *RetryTopology) *DefaultErrorHandler {
	if classifier == nil {
		classifier = ClassifierFunc(func(error) ErrorKind { return KindListener })
	}
	return &DefaultErrorHandler{
		classifier:         classifier,
		maxAttempts:        maxAttempts,
		seeksAfterHandling: seeksAfterHandling,
		retryTopology:      retryTopology,
		attempts:           make(map[attemptKey]int),
	}
}

// HandleError implements [ErrorHandler].
func (h *DefaultErrorHandler) HandleError(ctx context.Context, err error, rec *Message, isBatch bool) Decision {
	kind := h.classifier.Classify(err)
	switch kind {
	case KindFatal, KindFenced, KindAuth:
		return DecisionFatal
	}

	if rec == nil {
		if h.seeksAfterHandling {
			return DecisionSeekAndRetry
		}
		return DecisionHandled
	}

	key := attemptKey{tp: TopicPartition{Topic: rec.Topic, Partition: rec.Partition}, offset: rec.Offset}

	h.mu.Lock()
	h.attempts[key]++
	attempt := h.attempts[key]
	h.mu.Unlock()

	if attempt < h.maxAttempts {
		if h.seeksAfterHandling {
			return DecisionSeekAndRetry
		}
		return DecisionRetain
	}

	h.mu.Lock()
	delete(h.attempts, key)
	h.mu.Unlock()

	if h.retryTopology != nil {
		return DecisionDeadLetter
	}
	return DecisionHandled
}

// attemptsFor reports how many times a record has been attempted, for tests
// and diagnostics.
func (h *DefaultErrorHandler) attemptsFor(tp TopicPartition, offset int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[attemptKey{tp: tp, offset: offset}]
}

// classifierProvider is implemented by error handlers that expose the
// [Classifier] they route errors through, letting a container distinguish
// auth failures on the poll call itself (which has no record to hand to
// HandleError) from other poll errors.
type classifierProvider interface {
	Classifier() Classifier
}

// Classifier returns the classifier this handler routes errors through.
func (h *DefaultErrorHandler) Classifier() Classifier {
	return h.classifier
}

// AfterRollbackProcessor runs after a transactional abort to decide seek and
// recovery actions for the partitions whose work was rolled back.
type AfterRollbackProcessor interface {
	ProcessAfterRollback(ctx context.Context, failed map[TopicPartition]int64, seeker SeekCallback)
}

// DefaultAfterRollbackProcessor seeks every rolled-back partition back to its
// first failed offset so the batch is redelivered in full.
type DefaultAfterRollbackProcessor struct{}

func (DefaultAfterRollbackProcessor) ProcessAfterRollback(ctx context.Context, failed map[TopicPartition]int64, seeker SeekCallback) {
	for tp, offset := range failed {
		seeker.Seek(tp, offset)
	}
}

// FatalError wraps an error classified as unrecoverable. A container that
// receives one from its error handler stops rather than continuing to poll.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return "kafka: fatal listener error: " + e.Cause.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// ErrIsFatal reports whether err represents an unrecoverable error.
func ErrIsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ErrIsFenced reports whether err represents a producer fencing error.
func ErrIsFenced(err error) bool {
	var fe *FencedError
	return errors.As(err, &fe)
}

// FencedError indicates a transactional producer was fenced by a newer
// instance holding the same transactional.id.
type FencedError struct {
	TransactionalID string
	Cause           error
}

func (e *FencedError) Error() string {
	if e.Cause != nil {
		return "kafka: producer fenced for " + e.TransactionalID + ": " + e.Cause.Error()
	}
	return "kafka: producer fenced for " + e.TransactionalID
}

func (e *FencedError) Unwrap() error {
	return e.Cause
}
