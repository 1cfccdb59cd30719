// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kgoProducerFactory builds transactional (or, with an empty transactional
// id, idempotent) franz-go producers.
type kgoProducerFactory struct {
	brokers   []string
	tlsConfig *tls.Config
}

func (f *kgoProducerFactory) CreateProducer(transactionalID string) (Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(f.brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if transactionalID != "" {
		opts = append(opts, kgo.TransactionalID(transactionalID))
	} else {
		opts = append(opts, kgo.EnableIdempotentWrite())
	}
	if f.tlsConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(f.tlsConfig))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer: %w", err)
	}
	return &kgoProducer{client: client, transactional: transactionalID != ""}, nil
}

// kgoProducer adapts a *kgo.Client to the [Producer] interface.
type kgoProducer struct {
	client        *kgo.Client
	transactional bool

	mu sync.Mutex
}

func (p *kgoProducer) BeginTransaction() error {
	if !p.transactional {
		return nil
	}
	return p.client.BeginTransaction()
}

func (p *kgoProducer) Send(ctx context.Context, rec *Message) error {
	kr := messageToRecord(rec)

	var sendErr error
	var wg sync.WaitGroup
	wg.Add(1)
	p.client.Produce(ctx, kr, func(_ *kgo.Record, err error) {
		defer wg.Done()
		sendErr = err
	})
	wg.Wait()
	return sendErr
}

func messageToRecord(m *Message) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(m.Headers))
	for _, h := range m.Headers {
		headers = append(headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}
	return &kgo.Record{
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Timestamp: m.Timestamp,
		Topic:     m.Topic,
	}
}

func (p *kgoProducer) SendOffsetsToTransaction(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata, group GroupMetadata) error {
	if !p.transactional {
		return nil
	}
	set := toEpochOffsets(offsets)
	return p.client.CommitOffsetsForTransaction(ctx, group.GroupID, set)
}

func (p *kgoProducer) CommitTransaction(ctx context.Context) error {
	if !p.transactional {
		return p.client.Flush(ctx)
	}
	return p.client.EndTransaction(ctx, kgo.TryCommit)
}

func (p *kgoProducer) AbortTransaction(ctx context.Context) error {
	if !p.transactional {
		return nil
	}
	return p.client.EndTransaction(ctx, kgo.TryAbort)
}

func (p *kgoProducer) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

func (p *kgoProducer) Close(ctx context.Context) error {
	p.client.Close()
	return nil
}
