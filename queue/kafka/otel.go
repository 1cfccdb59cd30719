// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/z5labs/kestrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

func logger() *slog.Logger {
	return kestrel.Logger("github.com/z5labs/kestrel/queue/kafka")
}

func tracer() trace.Tracer {
	return otel.Tracer("github.com/z5labs/kestrel/queue/kafka")
}

func meter() metric.Meter {
	return otel.Meter("github.com/z5labs/kestrel/queue/kafka")
}

// consumerMetrics holds the business counters a [Container] reports for
// every listener invocation, ack, and commit it performs.
type consumerMetrics struct {
	messagesProcessed  metric.Int64Counter
	messagesCommitted  metric.Int64Counter
	processingFailures metric.Int64Counter
}

func initConsumerMetrics(log *slog.Logger) consumerMetrics {
	m := meter()

	messagesProcessed, err := m.Int64Counter(
		"messaging.client.messages.processed",
		metric.WithDescription("Total number of Kafka messages processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		log.Warn("failed to create messages processed metric", slog.Any("error", err))
	}

	messagesCommitted, err := m.Int64Counter(
		"messaging.client.messages.committed",
		metric.WithDescription("Total number of Kafka messages successfully committed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		log.Warn("failed to create messages committed metric", slog.Any("error", err))
	}

	processingFailures, err := m.Int64Counter(
		"messaging.client.messages.processing_failures",
		metric.WithDescription("Total number of Kafka messages whose listener invocation failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		log.Warn("failed to create processing failures metric", slog.Any("error", err))
	}

	return consumerMetrics{
		messagesProcessed:  messagesProcessed,
		messagesCommitted:  messagesCommitted,
		processingFailures: processingFailures,
	}
}

func (m consumerMetrics) recordProcessed(ctx context.Context, tp TopicPartition) {
	if m.messagesProcessed == nil {
		return
	}
	m.messagesProcessed.Add(ctx, 1, metric.WithAttributes(partitionAttrs(tp)...))
}

func (m consumerMetrics) recordFailure(ctx context.Context, tp TopicPartition) {
	if m.processingFailures == nil {
		return
	}
	m.processingFailures.Add(ctx, 1, metric.WithAttributes(partitionAttrs(tp)...))
}

func (m consumerMetrics) recordCommitted(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata) {
	if m.messagesCommitted == nil {
		return
	}
	for tp := range offsets {
		m.messagesCommitted.Add(ctx, 1, metric.WithAttributes(partitionAttrs(tp)...))
	}
}

func partitionAttrs(tp TopicPartition) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.MessagingSystemKafka,
		semconv.MessagingDestinationName(tp.Topic),
		semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(tp.Partition), 10)),
	}
}
