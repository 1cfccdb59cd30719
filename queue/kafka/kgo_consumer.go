// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/z5labs/kestrel"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
)

// kgoConsumerFactory builds [Consumer]s backed by franz-go's group consumer.
type kgoConsumerFactory struct {
	brokers              []string
	sessionTimeout       time.Duration
	rebalanceTimeout     time.Duration
	fetchMaxBytes        int32
	maxConcurrentFetches int
	tlsConfig            *tls.Config
	resetPolicy          ResetPolicy
}

func (f *kgoConsumerFactory) Create(ctx context.Context, groupID, clientID string, topics []string, listener RebalanceListener) (Consumer, error) {
	c := &kgoConsumer{resetPolicy: f.resetPolicy}

	opts := []kgo.Opt{
		kgo.SeedBrokers(f.brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ClientID(clientID),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.SessionTimeout(f.sessionTimeout),
		kgo.RebalanceTimeout(f.rebalanceTimeout),
		kgo.FetchMaxBytes(f.fetchMaxBytes),
		kgo.MaxConcurrentFetches(f.maxConcurrentFetches),
		kgo.DisableAutoCommit(),
		kgo.WithLogger(kslog.New(kestrel.Logger("github.com/twmb/franz-go/pkg/kgo"))),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
				kotel.LinkSpans(),
				kotel.ConsumerGroup(groupID),
			),
			kotel.NewMeter(
				kotel.MeterProvider(otel.GetMeterProvider()),
				kotel.WithMergedConnectsMeter(),
			),
		),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, m map[string][]int32) {
			listener.OnPartitionsAssigned(ctx, toTopicPartitions(m))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, m map[string][]int32) {
			listener.OnPartitionsRevoked(ctx, toTopicPartitions(m))
		}),
		kgo.OnPartitionsLost(func(ctx context.Context, _ *kgo.Client, m map[string][]int32) {
			listener.OnPartitionsLost(ctx, toTopicPartitions(m))
		}),
	}
	if f.resetPolicy == ResetEarliest {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}
	if f.tlsConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(f.tlsConfig))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer: %w", err)
	}
	c.client = client
	return c, nil
}

func toTopicPartitions(m map[string][]int32) []TopicPartition {
	tps := make([]TopicPartition, 0, len(m))
	for topic, partitions := range m {
		for _, p := range partitions {
			tps = append(tps, TopicPartition{Topic: topic, Partition: p})
		}
	}
	return tps
}

func toKgoMap(tps []TopicPartition) map[string][]int32 {
	m := make(map[string][]int32)
	for _, tp := range tps {
		m[tp.Topic] = append(m[tp.Topic], tp.Partition)
	}
	return m
}

// kgoConsumer adapts a *kgo.Client to the [Consumer] interface.
type kgoConsumer struct {
	client      *kgo.Client
	resetPolicy ResetPolicy
}

func (c *kgoConsumer) Poll(ctx context.Context, timeout time.Duration) ([]*Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(pollCtx)
	if fetches.IsClientClosed() {
		return nil, nil
	}
	if err := fetches.Err0(); err != nil && pollCtx.Err() == nil {
		return nil, err
	}

	var out []*Message
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, recordToMessage(r))
	})
	return out, nil
}

func recordToMessage(r *kgo.Record) *Message {
	headers := make([]Header, 0, len(r.Headers))
	for _, h := range r.Headers {
		headers = append(headers, Header{Key: h.Key, Value: h.Value})
	}
	return &Message{
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
	}
}

func (c *kgoConsumer) CommitSync(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata) error {
	if len(offsets) == 0 {
		return nil
	}
	set := toEpochOffsets(offsets)
	var commitErr error
	done := make(chan struct{})
	c.client.CommitOffsets(ctx, set, func(_ *kgo.Client, _ *kgo.OffsetCommitRequest, resp *kgo.OffsetCommitResponse) {
		defer close(done)
		if resp == nil {
			return
		}
		commitErr = kgo.OffsetCommitResponses{resp}.Error()
	})
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return commitErr
}

func (c *kgoConsumer) CommitAsync(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata, callback func(error)) {
	if len(offsets) == 0 {
		if callback != nil {
			callback(nil)
		}
		return
	}
	set := toEpochOffsets(offsets)
	c.client.CommitOffsets(ctx, set, func(_ *kgo.Client, _ *kgo.OffsetCommitRequest, resp *kgo.OffsetCommitResponse) {
		if callback == nil {
			return
		}
		if resp == nil {
			callback(nil)
			return
		}
		callback(kgo.OffsetCommitResponses{resp}.Error())
	})
}

func toEpochOffsets(offsets map[TopicPartition]OffsetAndMetadata) map[string]map[int32]kgo.EpochOffset {
	set := make(map[string]map[int32]kgo.EpochOffset)
	for tp, om := range offsets {
		if set[tp.Topic] == nil {
			set[tp.Topic] = make(map[int32]kgo.EpochOffset)
		}
		set[tp.Topic][tp.Partition] = kgo.EpochOffset{Epoch: om.LeaderEpoch, Offset: om.Offset}
	}
	return set
}

func (c *kgoConsumer) Seek(tp TopicPartition, offset int64) {
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		tp.Topic: {tp.Partition: {Epoch: -1, Offset: offset}},
	})
}

func (c *kgoConsumer) SeekToTimestamp(ctx context.Context, tp TopicPartition, ts time.Time) error {
	admin := kadm.NewClient(c.client)
	listed, err := admin.ListOffsetsAfterMilli(ctx, ts.UnixMilli(), tp.Topic)
	if err != nil {
		return fmt.Errorf("kafka: failed to resolve offset for timestamp: %w", err)
	}
	offset, ok := listed.Lookup(tp.Topic, tp.Partition)
	if !ok {
		return fmt.Errorf("kafka: no offset found for %s/%d at %s", tp.Topic, tp.Partition, ts)
	}
	c.Seek(tp, offset.Offset)
	return nil
}

func (c *kgoConsumer) Pause(tps []TopicPartition) {
	c.client.PauseFetchPartitions(toKgoMap(tps))
}

func (c *kgoConsumer) Resume(tps []TopicPartition) {
	c.client.ResumeFetchPartitions(toKgoMap(tps))
}

func (c *kgoConsumer) Position(tp TopicPartition) int64 {
	uncommitted := c.client.UncommittedOffsets()
	if perTopic, ok := uncommitted[tp.Topic]; ok {
		if eo, ok := perTopic[tp.Partition]; ok {
			return eo.Offset
		}
	}
	return -1
}

func (c *kgoConsumer) Committed(ctx context.Context, tps []TopicPartition) (map[TopicPartition]OffsetAndMetadata, error) {
	committed := c.client.CommittedOffsets()
	out := make(map[TopicPartition]OffsetAndMetadata, len(tps))
	for _, tp := range tps {
		perTopic, ok := committed[tp.Topic]
		if !ok {
			continue
		}
		eo, ok := perTopic[tp.Partition]
		if !ok {
			continue
		}
		out[tp] = OffsetAndMetadata{Offset: eo.Offset, LeaderEpoch: eo.Epoch}
	}
	return out, nil
}

func (c *kgoConsumer) ResetPolicy(TopicPartition) ResetPolicy {
	return c.resetPolicy
}

func (c *kgoConsumer) GroupMetadata() GroupMetadata {
	memberID, generation := c.client.GroupMetadata()
	return GroupMetadata{MemberID: memberID, Generation: generation}
}

func (c *kgoConsumer) Close(ctx context.Context) error {
	c.client.Close()
	return nil
}

func (c *kgoConsumer) Wakeup() {
	// franz-go's PollFetches already respects context cancellation, which
	// serves the same purpose as an explicit consumer wakeup call.
}
