// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/z5labs/kestrel/app"
	"github.com/z5labs/kestrel/config"
	"github.com/z5labs/kestrel/queue"
)

// Header represents a Kafka message header.
type Header struct {
	Key   string
	Value []byte
}

// Message represents a Kafka message.
type Message struct {
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
	Topic     string
	Partition int32
	Offset    int64
	Attrs     uint8
}

// DeliveryMode specifies the message delivery semantics for a topic.
type DeliveryMode int

const (
	// AtLeastOnce ensures messages are processed before acknowledgment.
	// May result in duplicate processing on failure, but no message loss.
	AtLeastOnce DeliveryMode = iota

	// AtMostOnce acknowledges messages before processing.
	// May result in message loss on failure, but no duplicate processing.
	AtMostOnce
)

// TopicProcessor associates a topic with its processor and delivery mode.
// This is NOT a config.Reader - it's business logic configuration.
type TopicProcessor struct {
	Topic        string
	Processor    queue.Processor[Message]
	DeliveryMode DeliveryMode
}

// Config holds configuration readers for Kafka infrastructure settings.
// All fields use config.Reader for composable configuration.
type Config struct {
	Brokers              config.Reader[[]string]
	GroupID              config.Reader[string]
	SessionTimeout       config.Reader[time.Duration]
	RebalanceTimeout     config.Reader[time.Duration]
	FetchMaxBytes        config.Reader[int32]
	MaxConcurrentFetches config.Reader[int]
	TLSConfig            config.Reader[*tls.Config]
}

// BrokersFromEnv reads Kafka broker addresses from the KAFKA_BROKERS environment variable.
// Brokers should be comma-separated (e.g., "localhost:9092,localhost:9093").
func BrokersFromEnv() config.Reader[[]string] {
	return config.Map(
		config.Env("KAFKA_BROKERS"),
		func(ctx context.Context, s string) ([]string, error) {
			return strings.Split(s, ","), nil
		},
	)
}

// GroupIDFromEnv reads the Kafka consumer group ID from the KAFKA_GROUP_ID environment variable.
func GroupIDFromEnv() config.Reader[string] {
	return config.Env("KAFKA_GROUP_ID")
}

// SessionTimeoutFromEnv reads the Kafka session timeout from the KAFKA_SESSION_TIMEOUT environment variable.
// The value should be a duration string (e.g., "45s", "1m30s").
func SessionTimeoutFromEnv() config.Reader[time.Duration] {
	return config.Map(
		config.Env("KAFKA_SESSION_TIMEOUT"),
		func(ctx context.Context, s string) (time.Duration, error) {
			return time.ParseDuration(s)
		},
	)
}

// RebalanceTimeoutFromEnv reads the Kafka rebalance timeout from the KAFKA_REBALANCE_TIMEOUT environment variable.
// The value should be a duration string (e.g., "30s", "1m").
func RebalanceTimeoutFromEnv() config.Reader[time.Duration] {
	return config.Map(
		config.Env("KAFKA_REBALANCE_TIMEOUT"),
		func(ctx context.Context, s string) (time.Duration, error) {
			return time.ParseDuration(s)
		},
	)
}

// FetchMaxBytesFromEnv reads the maximum fetch bytes from the KAFKA_FETCH_MAX_BYTES environment variable.
// The value should be a number (e.g., "52428800" for 50MB).
func FetchMaxBytesFromEnv() config.Reader[int32] {
	return config.Map(
		config.Env("KAFKA_FETCH_MAX_BYTES"),
		func(ctx context.Context, s string) (int32, error) {
			n, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return 0, err
			}
			return int32(n), nil
		},
	)
}

// MaxConcurrentFetchesFromEnv reads the maximum concurrent fetches from the KAFKA_MAX_CONCURRENT_FETCHES environment variable.
// The value should be a number (e.g., "10").
func MaxConcurrentFetchesFromEnv() config.Reader[int] {
	return config.Map(
		config.Env("KAFKA_MAX_CONCURRENT_FETCHES"),
		func(ctx context.Context, s string) (int, error) {
			return strconv.Atoi(s)
		},
	)
}

// TLSConfigFromFiles creates a config.Reader that loads TLS configuration from certificate files.
// This is a helper for common TLS setup patterns.
//
// Parameters:
//   - certFile: Path to client certificate file (required for mTLS)
//   - keyFile: Path to client key file (required for mTLS)
//   - caFile: Path to CA certificate file (required for TLS verification)
//
// Example:
//
//	tlsConfig := kafka.TLSConfigFromFiles(
//	    config.Literal("client-cert.pem"),
//	    config.Literal("client-key.pem"),
//	    config.Literal("ca-cert.pem"),
//	)
func TLSConfigFromFiles(
	certFile config.Reader[string],
	keyFile config.Reader[string],
	caFile config.Reader[string],
) config.Reader[*tls.Config] {
	return config.ReaderFunc[*tls.Config](func(ctx context.Context) (config.Value[*tls.Config], error) {
		certPath := config.Must(ctx, certFile)
		keyPath := config.Must(ctx, keyFile)
		caPath := config.Must(ctx, caFile)

		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return config.Value[*tls.Config]{}, fmt.Errorf("failed to load client certificate: %w", err)
		}

		caCert, err := os.ReadFile(caPath)
		if err != nil {
			return config.Value[*tls.Config]{}, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return config.Value[*tls.Config]{}, fmt.Errorf("failed to parse CA certificate %s", caPath)
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
		}

		return config.ValueOf(tlsConfig), nil
	})
}

// dispatchListener routes each record to the [TopicProcessor] registered for
// its topic and applies that topic's [DeliveryMode], acknowledging through
// the container's manual-ack path so at-most-once topics can ack before
// processing runs.
type dispatchListener struct {
	byTopic map[string]TopicProcessor
}

func (dispatchListener) Flags() ListenerFlags {
	return ListenerFlags{NeedsAck: true}
}

func (l dispatchListener) HandleRecord(ctx context.Context, lc ListenerContext) error {
	tp, ok := l.byTopic[lc.Record.Topic]
	if !ok {
		return fmt.Errorf("kafka: no processor registered for topic %s", lc.Record.Topic)
	}

	switch tp.DeliveryMode {
	case AtMostOnce:
		if err := lc.Ack.Acknowledge(ctx); err != nil {
			return err
		}
		if err := tp.Processor.Process(ctx, *lc.Record); err != nil {
			logger().Error("at-most-once processing failed after ack", TopicAttr(lc.Record.Topic), "error", err)
		}
		return nil
	case AtLeastOnce:
		if err := tp.Processor.Process(ctx, *lc.Record); err != nil {
			return err
		}
		return lc.Ack.Acknowledge(ctx)
	default:
		return fmt.Errorf("kafka: unknown delivery mode for topic %s", tp.Topic)
	}
}

// Runtime drives a single-threaded [Container] as a [queue.QueueRuntime].
type Runtime struct {
	container *Container
}

// ProcessQueue starts the underlying container and blocks until ctx is
// cancelled, then stops it.
func (r Runtime) ProcessQueue(ctx context.Context) error {
	if err := r.container.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return r.container.Stop(context.Background(), r.container.props.ShutdownTimeout)
}

// Build creates an app.Builder for a Kafka queue runtime.
//
// This function reads configuration from the provided Config readers and
// wires a single [Container] subscribed to every topic named in topics,
// dispatching each record according to its TopicProcessor's DeliveryMode.
//
// Example:
//
//	cfg := kafka.Config{
//	    Brokers:  kafka.BrokersFromEnv(),
//	    GroupID:  kafka.GroupIDFromEnv(),
//	}
//
//	topics := []kafka.TopicProcessor{
//	    {
//	        Topic:        "orders",
//	        Processor:    ordersProcessor,
//	        DeliveryMode: kafka.AtLeastOnce,
//	    },
//	}
//
//	builder := kafka.Build(cfg, topics)
func Build(cfg Config, topics []TopicProcessor) app.Builder[queue.QueueRuntime] {
	return app.BuilderFunc[queue.QueueRuntime](func(ctx context.Context) (queue.QueueRuntime, error) {
		brokers := config.Must(ctx, cfg.Brokers)
		groupID := config.Must(ctx, cfg.GroupID)

		sessionTimeout := config.MustOr(ctx, 45*time.Second, cfg.SessionTimeout)
		rebalanceTimeout := config.MustOr(ctx, 30*time.Second, cfg.RebalanceTimeout)
		fetchMaxBytes := config.MustOr(ctx, int32(50*1024*1024), cfg.FetchMaxBytes)
		maxConcurrentFetches := config.MustOr(ctx, 0, cfg.MaxConcurrentFetches)

		var tlsConfig *tls.Config
		if cfg.TLSConfig != nil {
			tlsConfig = config.MustOr(ctx, (*tls.Config)(nil), cfg.TLSConfig)
		}

		if len(topics) == 0 {
			return nil, fmt.Errorf("kafka: at least one topic must be configured")
		}

		byTopic := make(map[string]TopicProcessor, len(topics))
		topicNames := make([]string, 0, len(topics))
		for _, tp := range topics {
			byTopic[tp.Topic] = tp
			topicNames = append(topicNames, tp.Topic)
		}

		factory := &kgoConsumerFactory{
			brokers:              brokers,
			sessionTimeout:       sessionTimeout,
			rebalanceTimeout:     rebalanceTimeout,
			fetchMaxBytes:        fetchMaxBytes,
			maxConcurrentFetches: maxConcurrentFetches,
			tlsConfig:            tlsConfig,
			resetPolicy:          ResetLatest,
		}

		props := DefaultContainerProperties(groupID, topicNames...)
		props.AckMode = AckManual

		listener := dispatchListener{byTopic: byTopic}
		container := NewContainer(newContainerID(groupID), props, factory, listener)

		return Runtime{container: container}, nil
	})
}
