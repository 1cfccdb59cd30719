// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "context"

// ListenerFlags advertises which optional capabilities a [RecordListener]
// needs, computed once at container start rather than discovered via
// reflection. A container only pays for what a listener declares it uses.
type ListenerFlags struct {
	NeedsAck          bool
	NeedsSeekCallback bool
}

// ListenerContext bundles the arguments a container makes available to a
// listener invocation. Which fields matter is determined by the listener's
// advertised [ListenerFlags].
type ListenerContext struct {
	Record        *Message
	Ack           Acknowledgment
	Seek          SeekCallback
	GroupMetadata GroupMetadata
}

// RecordListener processes a single record.
type RecordListener interface {
	Flags() ListenerFlags
	HandleRecord(ctx context.Context, lc ListenerContext) error
}

// recordListenerFunc adapts a plain function, with no manual-ack or seek
// needs, to a [RecordListener].
type recordListenerFunc func(ctx context.Context, rec *Message) error

func (f recordListenerFunc) Flags() ListenerFlags { return ListenerFlags{} }

func (f recordListenerFunc) HandleRecord(ctx context.Context, lc ListenerContext) error {
	return f(ctx, lc.Record)
}

// RecordListenerFunc adapts an ordinary function to a [RecordListener] with
// no manual-ack or seek-callback requirements.
func RecordListenerFunc(f func(ctx context.Context, rec *Message) error) RecordListener {
	return recordListenerFunc(f)
}

// ManualAckListener adapts a function that requires manual acknowledgment
// (AckMode MANUAL or MANUAL_IMMEDIATE) to a [RecordListener].
type ManualAckListener func(ctx context.Context, rec *Message, ack Acknowledgment) error

func (f ManualAckListener) Flags() ListenerFlags { return ListenerFlags{NeedsAck: true} }

func (f ManualAckListener) HandleRecord(ctx context.Context, lc ListenerContext) error {
	return f(ctx, lc.Record, lc.Ack)
}
