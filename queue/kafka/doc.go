// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka provides a listener-container runtime for consuming Kafka
// topics, modeled on the container/offset-tracking/retry-topic architecture
// of Spring Kafka's consumer side.
//
// A [Container] owns exactly one [Consumer] and drives it from a single
// goroutine: the poll loop. Every other goroutine that wants to affect the
// container (Pause, Resume, a [SeekCallback] invoked from a listener) posts a
// command that the poll loop drains before its next call into the consumer.
// This confines every consumer method call to one goroutine without forcing
// callers to reason about locking.
//
// Records are handed to a [RecordListener], whose [ListenerFlags] tell the
// container whether it needs manual acknowledgment (via the
// [Acknowledgment] in [ListenerContext]) or an [Acknowledgment]-driven ack
// instead of the container's own default post-return commit. An
// [offsetTracker] folds individual acks into the contiguous prefix safe to
// commit, so out-of-order or asynchronous acking under manual ack modes
// never lets a gap silently advance the committed offset.
//
// Errors returned by a listener are routed through an [ErrorHandler], which
// classifies the error and decides whether to retry in place
// ([DecisionSeekAndRetry]), treat it as resolved ([DecisionHandled]), route
// it to a [RetryTopology]'s dead-letter destination ([DecisionDeadLetter]),
// or stop the container ([DecisionFatal]). [RetryTopology] computes the
// chain of retry and dead-letter topics ahead of time and stamps outgoing
// records with the header set defined in headers.go, so a record can be
// traced back to its original topic/partition/offset and the exception that
// last failed it.
//
// Transactional exactly-once processing is available by wiring a
// [TransactionalProducerCache]: each record is processed in its own
// begin/dispatch/send-offsets/commit cycle, with fenced producers detected
// and replaced automatically.
//
// [ConcurrentContainer] runs several [Container]s in the same consumer group
// side by side; [Registry] binds named containers together for coordinated
// start/stop/pause.
//
// The top-level [Config] and [Build] wire a franz-go-backed [Container] for
// the common case of one consumer group processing a fixed set of topics,
// each with an independent [DeliveryMode].
package kafka
