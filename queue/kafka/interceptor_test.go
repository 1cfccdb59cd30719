// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProducer is an in-memory transactional [Producer] recording the
// sequence of calls made against it, for asserting interceptor ordering
// relative to transaction boundaries.
type fakeProducer struct {
	mu     sync.Mutex
	events []string
	sent   []*Message

	failCommit bool
}

func (p *fakeProducer) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, s)
}

func (p *fakeProducer) BeginTransaction() error {
	p.record("begin")
	return nil
}

func (p *fakeProducer) Send(ctx context.Context, rec *Message) error {
	p.mu.Lock()
	p.sent = append(p.sent, rec)
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) SendOffsetsToTransaction(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata, group GroupMetadata) error {
	p.record("send-offsets")
	return nil
}

func (p *fakeProducer) CommitTransaction(ctx context.Context) error {
	if p.failCommit {
		p.record("commit-failed")
		return errors.New("commit failed")
	}
	p.record("commit")
	return nil
}

func (p *fakeProducer) AbortTransaction(ctx context.Context) error {
	p.record("abort")
	return nil
}

func (p *fakeProducer) Flush(ctx context.Context) error { return nil }

func (p *fakeProducer) Close(ctx context.Context) error { return nil }

func (p *fakeProducer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// recordingInterceptor logs every call it receives, prefixed so ordering
// relative to fakeProducer's own call log can be asserted as one sequence.
type recordingInterceptor struct {
	mu    sync.Mutex
	calls []string
}

func (ri *recordingInterceptor) log(s string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.calls = append(ri.calls, s)
}

func (ri *recordingInterceptor) callLog() []string {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return append([]string(nil), ri.calls...)
}

func (ri *recordingInterceptor) Intercept(ctx context.Context, rec *Message, consumer Consumer) (*Message, bool) {
	ri.log("intercept")
	return rec, true
}

func (ri *recordingInterceptor) Success(ctx context.Context, rec *Message, consumer Consumer) {
	ri.log("success")
}

func (ri *recordingInterceptor) Failure(ctx context.Context, rec *Message, err error, consumer Consumer) {
	ri.log("failure")
}

func TestContainer_RecordInterceptorOrdering(t *testing.T) {
	t.Run("on listener failure", func(t *testing.T) {
		t.Run("intercept runs after begin and failure runs before abort", func(t *testing.T) {
			tp := TopicPartition{Topic: "orders", Partition: 0}
			consumer := newFakeConsumer()
			consumer.enqueue([]*Message{{Topic: tp.Topic, Partition: tp.Partition, Offset: 0, Value: []byte("qux")}})
			factory := &fakeConsumerFactory{consumer: consumer, partitions: []TopicPartition{tp}}

			producer := &fakeProducer{}
			producerFactory := ProducerFactoryFunc(func(string) (Producer, error) { return producer, nil })
			cache := NewTransactionalProducerCache(producerFactory, "orders-tx", 4, time.Second, nil)

			ri := &recordingInterceptor{}

			listener := RecordListenerFunc(func(ctx context.Context, rec *Message) error {
				ri.log("listener")
				return errors.New("boom")
			})

			props := testProperties(tp.Topic)
			props.Transactional = true
			eh := NewDefaultErrorHandler(ClassifierFunc(func(error) ErrorKind { return KindFatal }), 1, true, nil)

			c := NewContainer("test", props, factory, listener,
				WithEventPublisher(NoopEventPublisher()),
				WithTransactionalProducers(cache),
				WithRecordInterceptor(ri),
				WithErrorHandler(eh),
			)

			require.NoError(t, c.Start(context.Background()))
			defer c.Stop(context.Background(), time.Second)

			require.Eventually(t, func() bool {
				return len(producer.callLog()) > 0 && producer.callLog()[len(producer.callLog())-1] == "abort"
			}, 2*time.Second, 5*time.Millisecond)

			require.Equal(t, []string{"begin", "abort"}, producer.callLog())
			require.Equal(t, []string{"intercept", "listener", "failure"}, ri.callLog())
		})
	})

	t.Run("on listener success", func(t *testing.T) {
		t.Run("success runs before commitTransaction", func(t *testing.T) {
			tp := TopicPartition{Topic: "orders", Partition: 0}
			consumer := newFakeConsumer()
			consumer.enqueue([]*Message{{Topic: tp.Topic, Partition: tp.Partition, Offset: 0, Value: []byte("ok")}})
			factory := &fakeConsumerFactory{consumer: consumer, partitions: []TopicPartition{tp}}

			producer := &fakeProducer{}
			producerFactory := ProducerFactoryFunc(func(string) (Producer, error) { return producer, nil })
			cache := NewTransactionalProducerCache(producerFactory, "orders-tx", 4, time.Second, nil)

			ri := &recordingInterceptor{}
			listener := RecordListenerFunc(func(ctx context.Context, rec *Message) error {
				ri.log("listener")
				return nil
			})

			props := testProperties(tp.Topic)
			props.Transactional = true

			c := NewContainer("test", props, factory, listener,
				WithEventPublisher(NoopEventPublisher()),
				WithTransactionalProducers(cache),
				WithRecordInterceptor(ri),
			)

			require.NoError(t, c.Start(context.Background()))
			defer c.Stop(context.Background(), time.Second)

			require.Eventually(t, func() bool {
				log := producer.callLog()
				return len(log) > 0 && log[len(log)-1] == "commit"
			}, 2*time.Second, 5*time.Millisecond)

			require.Equal(t, []string{"begin", "send-offsets", "commit"}, producer.callLog())
			require.Equal(t, []string{"intercept", "listener", "success"}, ri.callLog())
		})
	})
}

func TestContainer_BatchInterceptorVetoSkipsListener(t *testing.T) {
	t.Run("a batch veto acks every record without invoking the listener", func(t *testing.T) {
		tp := TopicPartition{Topic: "orders", Partition: 0}
		consumer := newFakeConsumer()
		consumer.enqueue([]*Message{{Topic: tp.Topic, Partition: tp.Partition, Offset: 0}})
		factory := &fakeConsumerFactory{consumer: consumer, partitions: []TopicPartition{tp}}

		var listenerCalls int32
		listener := RecordListenerFunc(func(ctx context.Context, rec *Message) error {
			listenerCalls++
			return nil
		})

		bi := BatchInterceptorFuncs{
			InterceptFunc: func(ctx context.Context, recs []*Message, consumer Consumer) ([]*Message, bool) {
				return recs, false
			},
		}

		props := testProperties(tp.Topic)
		c := NewContainer("test", props, factory, listener,
			WithEventPublisher(NoopEventPublisher()),
			WithBatchInterceptor(bi),
		)

		require.NoError(t, c.Start(context.Background()))
		defer c.Stop(context.Background(), time.Second)

		require.Eventually(t, func() bool {
			om, ok := consumer.committedOffset(tp)
			return ok && om.Offset == 1
		}, 2*time.Second, 5*time.Millisecond)

		require.Equal(t, int32(0), listenerCalls)
	})
}
