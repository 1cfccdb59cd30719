// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "context"

// Acknowledgment is a per-record token handed to a listener under manual ack
// modes. Calling Acknowledge marks the record as safe to commit; calling Nack
// routes it to the container's error-handling path as if the listener had
// returned an error.
type Acknowledgment struct {
	record *Message
	acker  func(ctx context.Context, rec *Message) error
	nacker func(ctx context.Context, rec *Message, err error) error
	acked  *bool
}

// Acknowledge marks the record as successfully processed. Under
// [AckManualImmediate] the commit happens synchronously on the poll
// goroutine; under [AckManual] the commit is deferred to the next poll
// boundary.
func (a Acknowledgment) Acknowledge(ctx context.Context) error {
	if *a.acked {
		return nil
	}
	*a.acked = true
	return a.acker(ctx, a.record)
}

// Nack routes the record through the error handler as if processing had
// failed with err.
func (a Acknowledgment) Nack(ctx context.Context, err error) error {
	if *a.acked {
		return nil
	}
	*a.acked = true
	return a.nacker(ctx, a.record, err)
}
