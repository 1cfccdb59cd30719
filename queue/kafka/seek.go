// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "time"

// seekKind distinguishes the three ways user code may reposition a partition.
type seekKind int

const (
	seekAbsolute seekKind = iota
	seekRelative
	seekToTimestamp
)

// seekRequest is a deferred seek instruction. Requests are queued by
// [SeekCallback] and drained by the poll goroutine before the next poll.
type seekRequest struct {
	tp        TopicPartition
	kind      seekKind
	offset    int64
	timestamp time.Time
}

// SeekCallback lets user code issue relative, absolute, or timestamp-based
// seeks against a partition owned by a container. Calls are safe from any
// goroutine; the actual repositioning is deferred until the poll goroutine
// next drains its command queue, since only that goroutine may touch the
// underlying consumer.
type SeekCallback struct {
	enqueue func(seekRequest)
}

// Seek repositions tp to the given absolute offset.
func (s SeekCallback) Seek(tp TopicPartition, offset int64) {
	s.enqueue(seekRequest{tp: tp, kind: seekAbsolute, offset: offset})
}

// SeekRelative repositions tp by offset relative to its current position.
func (s SeekCallback) SeekRelative(tp TopicPartition, offset int64) {
	s.enqueue(seekRequest{tp: tp, kind: seekRelative, offset: offset})
}

// SeekToTimestamp repositions tp to the first offset at or after ts.
func (s SeekCallback) SeekToTimestamp(tp TopicPartition, ts time.Time) {
	s.enqueue(seekRequest{tp: tp, kind: seekToTimestamp, timestamp: ts})
}
