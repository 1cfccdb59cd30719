// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "context"

// RecordInterceptor observes or vetoes a single record before it reaches the
// listener, and is notified of the outcome afterward. Intercept runs on the
// poll goroutine after any active transaction has begun and before the
// listener is invoked; returning ok=false skips the record without calling
// the listener, as if it had been consumed successfully.
type RecordInterceptor interface {
	Intercept(ctx context.Context, rec *Message, consumer Consumer) (out *Message, ok bool)
	Success(ctx context.Context, rec *Message, consumer Consumer)
	Failure(ctx context.Context, rec *Message, err error, consumer Consumer)
}

// RecordInterceptorFuncs adapts three plain functions to a [RecordInterceptor].
// A nil Intercept passes every record through unchanged; nil Success/Failure
// hooks are simply skipped.
type RecordInterceptorFuncs struct {
	InterceptFunc func(ctx context.Context, rec *Message, consumer Consumer) (*Message, bool)
	SuccessFunc   func(ctx context.Context, rec *Message, consumer Consumer)
	FailureFunc   func(ctx context.Context, rec *Message, err error, consumer Consumer)
}

func (f RecordInterceptorFuncs) Intercept(ctx context.Context, rec *Message, consumer Consumer) (*Message, bool) {
	if f.InterceptFunc == nil {
		return rec, true
	}
	return f.InterceptFunc(ctx, rec, consumer)
}

func (f RecordInterceptorFuncs) Success(ctx context.Context, rec *Message, consumer Consumer) {
	if f.SuccessFunc != nil {
		f.SuccessFunc(ctx, rec, consumer)
	}
}

func (f RecordInterceptorFuncs) Failure(ctx context.Context, rec *Message, err error, consumer Consumer) {
	if f.FailureFunc != nil {
		f.FailureFunc(ctx, rec, err, consumer)
	}
}

// BatchInterceptor is the same shape as [RecordInterceptor] but observes an
// entire poll batch at once, before any record in it is dispatched.
type BatchInterceptor interface {
	Intercept(ctx context.Context, recs []*Message, consumer Consumer) (out []*Message, ok bool)
	Success(ctx context.Context, recs []*Message, consumer Consumer)
	Failure(ctx context.Context, recs []*Message, err error, consumer Consumer)
}

// BatchInterceptorFuncs adapts three plain functions to a [BatchInterceptor].
type BatchInterceptorFuncs struct {
	InterceptFunc func(ctx context.Context, recs []*Message, consumer Consumer) ([]*Message, bool)
	SuccessFunc   func(ctx context.Context, recs []*Message, consumer Consumer)
	FailureFunc   func(ctx context.Context, recs []*Message, err error, consumer Consumer)
}

func (f BatchInterceptorFuncs) Intercept(ctx context.Context, recs []*Message, consumer Consumer) ([]*Message, bool) {
	if f.InterceptFunc == nil {
		return recs, true
	}
	return f.InterceptFunc(ctx, recs, consumer)
}

func (f BatchInterceptorFuncs) Success(ctx context.Context, recs []*Message, consumer Consumer) {
	if f.SuccessFunc != nil {
		f.SuccessFunc(ctx, recs, consumer)
	}
}

func (f BatchInterceptorFuncs) Failure(ctx context.Context, recs []*Message, err error, consumer Consumer) {
	if f.FailureFunc != nil {
		f.FailureFunc(ctx, recs, err, consumer)
	}
}
