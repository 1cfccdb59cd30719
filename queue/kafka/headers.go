// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"encoding/binary"
	"reflect"
	"time"
)

// Retry-topic header keys. Byte representation follows the same
// big-endian/int64-millis conventions used by the rest of the messaging
// stack, so headers are legible to any consumer regardless of client library.
const (
	HeaderOriginalTopic        = "kestrel.original-topic"
	HeaderOriginalPartition    = "kestrel.original-partition"
	HeaderOriginalOffset       = "kestrel.original-offset"
	HeaderOriginalTimestamp    = "kestrel.original-timestamp"
	HeaderAttempts             = "kestrel.attempts"
	HeaderExceptionFQCN        = "kestrel.exception-fqcn"
	HeaderExceptionStacktrace  = "kestrel.exception-stacktrace"
	HeaderBackoffDeadline      = "kestrel.backoff-deadline"
)

func headerInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func headerInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func parseHeaderInt32(b []byte) int32 {
	if len(b) != 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func parseHeaderInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// headerValue returns the value of the named header, if present.
func headerValue(rec *Message, key string) ([]byte, bool) {
	for _, h := range rec.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

func setHeader(rec *Message, key string, value []byte) {
	for i, h := range rec.Headers {
		if h.Key == key {
			rec.Headers[i].Value = value
			return
		}
	}
	rec.Headers = append(rec.Headers, Header{Key: key, Value: value})
}

// retryMetadata is the decoded set of retry-topic headers for a record.
type retryMetadata struct {
	OriginalTopic     string
	OriginalPartition int32
	OriginalOffset    int64
	OriginalTimestamp time.Time
	Attempts          int32
	ExceptionFQCN     string
	ExceptionTrace    string
	BackoffDeadline   time.Time
}

func readRetryMetadata(rec *Message) retryMetadata {
	var m retryMetadata
	if v, ok := headerValue(rec, HeaderOriginalTopic); ok {
		m.OriginalTopic = string(v)
	} else {
		m.OriginalTopic = rec.Topic
	}
	if v, ok := headerValue(rec, HeaderOriginalPartition); ok {
		m.OriginalPartition = parseHeaderInt32(v)
	} else {
		m.OriginalPartition = rec.Partition
	}
	if v, ok := headerValue(rec, HeaderOriginalOffset); ok {
		m.OriginalOffset = parseHeaderInt64(v)
	} else {
		m.OriginalOffset = rec.Offset
	}
	if v, ok := headerValue(rec, HeaderOriginalTimestamp); ok {
		m.OriginalTimestamp = time.UnixMilli(parseHeaderInt64(v))
	} else {
		m.OriginalTimestamp = rec.Timestamp
	}
	if v, ok := headerValue(rec, HeaderAttempts); ok {
		m.Attempts = parseHeaderInt32(v)
	}
	if v, ok := headerValue(rec, HeaderExceptionFQCN); ok {
		m.ExceptionFQCN = string(v)
	}
	if v, ok := headerValue(rec, HeaderExceptionStacktrace); ok {
		m.ExceptionTrace = string(v)
	}
	if v, ok := headerValue(rec, HeaderBackoffDeadline); ok {
		m.BackoffDeadline = time.UnixMilli(parseHeaderInt64(v))
	}
	return m
}

// writeRetryMetadata stamps rec with headers describing its retry lineage,
// incrementing the attempt count and recording the failure that caused this
// hop.
func writeRetryMetadata(rec *Message, prev retryMetadata, err error, deadline time.Time) {
	setHeader(rec, HeaderOriginalTopic, []byte(prev.OriginalTopic))
	setHeader(rec, HeaderOriginalPartition, headerInt32(prev.OriginalPartition))
	setHeader(rec, HeaderOriginalOffset, headerInt64(prev.OriginalOffset))
	setHeader(rec, HeaderOriginalTimestamp, headerInt64(prev.OriginalTimestamp.UnixMilli()))
	setHeader(rec, HeaderAttempts, headerInt32(prev.Attempts+1))
	if err != nil {
		setHeader(rec, HeaderExceptionFQCN, []byte(errorFQCN(err)))
		setHeader(rec, HeaderExceptionStacktrace, []byte(err.Error()))
	}
	setHeader(rec, HeaderBackoffDeadline, headerInt64(deadline.UnixMilli()))
}

// errorFQCN reports a fully-qualified type name for err, mirroring the role
// the exception-fqcn header plays in the reference implementation.
func errorFQCN(err error) string {
	if err == nil {
		return ""
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
