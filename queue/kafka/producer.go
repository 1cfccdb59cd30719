// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "context"

// GroupMetadata is a snapshot of a consumer group's generation, taken at the
// start of a poll batch, needed to preserve group-aware exactly-once
// semantics when sending offsets to a transaction.
type GroupMetadata struct {
	GroupID   string
	MemberID  string
	Generation int32
	InstanceID string
}

// Producer is the external producer abstraction the container drives.
// Implementations wrap a client library's transactional or idempotent
// producer.
type Producer interface {
	BeginTransaction() error
	Send(ctx context.Context, rec *Message) error
	SendOffsetsToTransaction(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata, group GroupMetadata) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// ProducerFactory creates [Producer] instances bound to a transactional id,
// or a single shared non-transactional producer.
type ProducerFactory interface {
	// CreateProducer returns a producer for transactionalID. An empty
	// transactionalID requests a non-transactional producer.
	CreateProducer(transactionalID string) (Producer, error)
}

// ProducerFactoryFunc adapts a function to a [ProducerFactory].
type ProducerFactoryFunc func(transactionalID string) (Producer, error)

func (f ProducerFactoryFunc) CreateProducer(transactionalID string) (Producer, error) {
	return f(transactionalID)
}
