// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "time"

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// Less orders TopicPartitions by topic then partition, giving a total order
// that assignment bookkeeping can rely on for deterministic iteration.
func (tp TopicPartition) Less(other TopicPartition) bool {
	if tp.Topic != other.Topic {
		return tp.Topic < other.Topic
	}
	return tp.Partition < other.Partition
}

// OffsetAndMetadata is the offset that should be committed for a partition,
// i.e. the next offset a consumer should read, along with optional metadata
// and the leader epoch observed when the offset was recorded.
type OffsetAndMetadata struct {
	Offset      int64
	Metadata    string
	LeaderEpoch int32
}

// AckMode determines when a consumed record's offset becomes eligible to commit.
type AckMode int

const (
	// AckRecord commits the offsets of the records processed so far at the end
	// of each poll iteration; it does not commit after each individual record.
	AckRecord AckMode = iota
	// AckBatch commits once at the end of each poll batch.
	AckBatch
	// AckTime commits once a configured duration has elapsed since the last commit.
	AckTime
	// AckCount commits once a configured number of records have been processed.
	AckCount
	// AckCountTime commits when either the count or time threshold is reached.
	AckCountTime
	// AckManual defers commit until an [Acknowledgment] is invoked; the commit
	// itself happens at the next poll boundary.
	AckManual
	// AckManualImmediate commits synchronously from inside the [Acknowledgment]
	// call, on the poll goroutine.
	AckManualImmediate
)

func (m AckMode) String() string {
	switch m {
	case AckRecord:
		return "RECORD"
	case AckBatch:
		return "BATCH"
	case AckTime:
		return "TIME"
	case AckCount:
		return "COUNT"
	case AckCountTime:
		return "COUNT_TIME"
	case AckManual:
		return "MANUAL"
	case AckManualImmediate:
		return "MANUAL_IMMEDIATE"
	default:
		return "UNKNOWN"
	}
}

// deferredToPollBoundary reports whether commits under this mode happen only
// after a poll that returned records; the other modes also attempt a commit
// after an empty poll.
func (m AckMode) deferredToPollBoundary() bool {
	switch m {
	case AckBatch, AckManual:
		return true
	default:
		return false
	}
}

// AssignmentCommitOption controls whether an initial offset is committed the
// first time a partition is assigned to a container.
type AssignmentCommitOption int

const (
	// AssignmentCommitNever never commits an initial offset on assignment.
	AssignmentCommitNever AssignmentCommitOption = iota
	// AssignmentCommitAlways always commits the current position on first assignment,
	// provided no offset is already committed.
	AssignmentCommitAlways
	// AssignmentCommitLatestOnly commits only when the broker-side reset policy is
	// "latest" and no prior committed offset exists. The commit is a plain
	// consumer offset commit; no transaction is used, even when one is
	// configured.
	AssignmentCommitLatestOnly
	// AssignmentCommitLatestOnlyNoTx behaves exactly like
	// AssignmentCommitLatestOnly.
	AssignmentCommitLatestOnlyNoTx
)

// ResetPolicy mirrors the broker-side auto.offset.reset policy relevant to
// initial-commit decisions.
type ResetPolicy int

const (
	ResetEarliest ResetPolicy = iota
	ResetLatest
	ResetNone
)

// ContainerProperties is a frozen configuration snapshot for a single-threaded
// listener container. It is captured at container start and never mutated
// afterward; changing behavior requires stopping and restarting the container.
type ContainerProperties struct {
	// Topics lists topic names to subscribe to. Mutually exclusive with TopicPattern.
	Topics []string
	// GroupID is the consumer group id.
	GroupID string

	AckMode                AckMode
	AckCount                int
	AckTime                 time.Duration
	PollTimeout             time.Duration
	PollTimeoutWhilePaused  time.Duration
	IdleEventInterval       time.Duration
	IdleBeforeDataMultiplier int
	IdlePartitionEventInterval time.Duration

	CommitSync           bool
	SyncCommitTimeout    time.Duration
	CommitRetries        int
	AuthExceptionRetryInterval time.Duration

	NoPollThresholdMultiplier float64
	MonitorInterval           time.Duration

	PauseImmediate       bool
	StopImmediate        bool
	SubBatchPerPartition bool
	AsyncAcks            bool

	AssignmentCommitOption AssignmentCommitOption
	ResetPolicy            ResetPolicy

	ClientIDPrefix   string
	GroupInstanceID  string

	StopContainerWhenFenced bool

	// Transactional indicates whether each record is processed in its own
	// producer transaction (begin -> dispatch -> sendOffsetsToTransaction -> commit).
	Transactional bool

	// InterceptBeforeTx is not read by [Container]: whatever its value, the
	// batch interceptor's Intercept hook runs against a poll's records before
	// any of their transactions begins.
	InterceptBeforeTx bool

	ShutdownTimeout time.Duration
}

// DefaultContainerProperties returns a ContainerProperties with the same
// defaults the reference container ships with.
func DefaultContainerProperties(groupID string, topics ...string) ContainerProperties {
	return ContainerProperties{
		Topics:                     topics,
		GroupID:                    groupID,
		AckMode:                    AckBatch,
		PollTimeout:                time.Second,
		PollTimeoutWhilePaused:     time.Second,
		IdleEventInterval:          30 * time.Second,
		IdleBeforeDataMultiplier:   5,
		CommitSync:                 true,
		SyncCommitTimeout:          10 * time.Second,
		CommitRetries:              3,
		AuthExceptionRetryInterval: 10 * time.Second,
		NoPollThresholdMultiplier:  3,
		MonitorInterval:            30 * time.Second,
		AssignmentCommitOption:     AssignmentCommitLatestOnly,
		ResetPolicy:                ResetLatest,
		StopContainerWhenFenced:    true,
		ShutdownTimeout:            10 * time.Second,
	}
}
