// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"time"
)

// RebalanceListener receives partition assignment notifications from a
// [Consumer]. A container installs itself as the primary listener and wraps
// any user-supplied listener per the ordering guarantees in the container
// documentation.
type RebalanceListener interface {
	OnPartitionsAssigned(ctx context.Context, tps []TopicPartition)
	OnPartitionsRevoked(ctx context.Context, tps []TopicPartition)
	OnPartitionsLost(ctx context.Context, tps []TopicPartition)
}

// Consumer is the wire abstraction a container drives. Every method is only
// ever called from the container's single poll goroutine.
type Consumer interface {
	Poll(ctx context.Context, timeout time.Duration) ([]*Message, error)
	CommitSync(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata) error
	CommitAsync(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata, callback func(error))
	Seek(tp TopicPartition, offset int64)
	SeekToTimestamp(ctx context.Context, tp TopicPartition, ts time.Time) error
	Pause(tps []TopicPartition)
	Resume(tps []TopicPartition)
	Position(tp TopicPartition) int64
	Committed(ctx context.Context, tps []TopicPartition) (map[TopicPartition]OffsetAndMetadata, error)
	ResetPolicy(tp TopicPartition) ResetPolicy
	GroupMetadata() GroupMetadata
	Close(ctx context.Context) error
	Wakeup()
}

// ConsumerFactory creates a [Consumer] bound to a consumer group, invoking
// listener on every rebalance. The core calls Create once per container
// start and again on every restart; it never reuses a closed consumer.
type ConsumerFactory interface {
	Create(ctx context.Context, groupID, clientID string, topics []string, listener RebalanceListener) (Consumer, error)
}

// ConsumerFactoryFunc adapts a function to a [ConsumerFactory].
type ConsumerFactoryFunc func(ctx context.Context, groupID, clientID string, topics []string, listener RebalanceListener) (Consumer, error)

func (f ConsumerFactoryFunc) Create(ctx context.Context, groupID, clientID string, topics []string, listener RebalanceListener) (Consumer, error) {
	return f(ctx, groupID, clientID, topics, listener)
}
