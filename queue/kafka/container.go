// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// containerState is the C7 lifecycle state machine.
type containerState int

const (
	stateStopped containerState = iota
	stateStarting
	stateRunning
	stateStopping
)

func (s containerState) String() string {
	switch s {
	case stateStopped:
		return "STOPPED"
	case stateStarting:
		return "STARTING"
	case stateRunning:
		return "RUNNING"
	case stateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Container is a single-threaded listener container (C7): it owns exactly
// one [Consumer] and runs its poll loop on exactly one goroutine. External
// callers (Pause, Resume, PausePartition, ResumePartition, Stop) never touch
// the consumer directly; they enqueue commands drained at the top of every
// poll iteration.
type Container struct {
	id       string
	props    ContainerProperties
	factory  ConsumerFactory
	listener RecordListener

	errorHandler   ErrorHandler
	afterRollback  AfterRollbackProcessor
	retryTopology  *RetryTopology
	producers      *TransactionalProducerCache
	userRebalance  RebalanceListener
	delayedHandler *DelayedRecordHandler

	recordInterceptor RecordInterceptor
	batchInterceptor  BatchInterceptor

	publisher EventPublisher
	log       *slog.Logger
	metrics   consumerMetrics

	mu       sync.Mutex
	state    containerState
	consumer Consumer

	commands chan func(context.Context)
	seeks    chan seekRequest

	tracker    *offsetTracker
	partitions map[TopicPartition]*partitionState

	pauseAll bool

	remainingRecords    []*Message
	remainingPartitions map[TopicPartition]struct{}

	partitionLastData    map[TopicPartition]time.Time
	partitionIdleEmitted map[TopicPartition]time.Time

	lastPollWithData time.Time
	lastPollReturn   time.Time
	firstPollDone    bool

	stopSignal chan struct{}
	stopped    chan struct{}
}

// ContainerOption configures optional collaborators of a [Container] beyond
// its required consumer factory and listener.
type ContainerOption func(*Container)

// WithErrorHandler installs a custom [ErrorHandler]. The default makes up to
// three attempts at a failing record, the first delivery included, before
// routing it onward.
func WithErrorHandler(h ErrorHandler) ContainerOption {
	return func(c *Container) { c.errorHandler = h }
}

// WithAfterRollbackProcessor installs a custom [AfterRollbackProcessor].
func WithAfterRollbackProcessor(p AfterRollbackProcessor) ContainerOption {
	return func(c *Container) { c.afterRollback = p }
}

// WithRetryTopology wires a [RetryTopology] so DecisionDeadLetter publishes
// the failed record to the next hop of the computed retry/DLT chain. The
// publish goes through the record's producer transaction, so it happens only
// when the container runs transactionally; otherwise a dead-lettered record
// is acked without being republished.
func WithRetryTopology(rt *RetryTopology, producers *TransactionalProducerCache) ContainerOption {
	return func(c *Container) {
		c.retryTopology = rt
		c.producers = producers
	}
}

// WithTransactionalProducers wires a producer cache without a retry topology,
// for containers that only need transactional commits.
func WithTransactionalProducers(producers *TransactionalProducerCache) ContainerOption {
	return func(c *Container) { c.producers = producers }
}

// WithRebalanceListener wraps a user-supplied [RebalanceListener]; the
// container still owns commit-before-revoke semantics and invokes the
// wrapped listener at the point described in the package documentation.
func WithRebalanceListener(l RebalanceListener) ContainerOption {
	return func(c *Container) { c.userRebalance = l }
}

// WithEventPublisher installs a custom [EventPublisher]. The default logs
// events via slog.
func WithEventPublisher(p EventPublisher) ContainerOption {
	return func(c *Container) { c.publisher = p }
}

// WithDelayedRecordHandling installs a [DelayedRecordHandler] so a container
// consuming a retry topic gates each record on its backoff-deadline header
// instead of delivering it straight to the listener: a record whose deadline
// hasn't elapsed causes its partition to be seeked back and paused until the
// deadline is reached.
func WithDelayedRecordHandling(h *DelayedRecordHandler) ContainerOption {
	return func(c *Container) { c.delayedHandler = h }
}

// WithRecordInterceptor installs a [RecordInterceptor] invoked around every
// record dispatch, after any active transaction has begun and before the
// listener runs.
func WithRecordInterceptor(ri RecordInterceptor) ContainerOption {
	return func(c *Container) { c.recordInterceptor = ri }
}

// WithBatchInterceptor installs a [BatchInterceptor] invoked once per poll
// batch, before any record in it is dispatched.
func WithBatchInterceptor(bi BatchInterceptor) ContainerOption {
	return func(c *Container) { c.batchInterceptor = bi }
}

// NewContainer builds a stopped container. Call Start to begin polling.
func NewContainer(id string, props ContainerProperties, factory ConsumerFactory, listener RecordListener, opts ...ContainerOption) *Container {
	c := &Container{
		id:        id,
		props:     props,
		factory:   factory,
		listener:  listener,
		publisher: SlogEventPublisher(),
		log:       logger().With("container_id", id),
		commands:  make(chan func(context.Context), 64),
		seeks:     make(chan seekRequest, 256),
	}
	c.metrics = initConsumerMetrics(c.log)
	for _, opt := range opts {
		opt(c)
	}
	if c.errorHandler == nil {
		c.errorHandler = NewDefaultErrorHandler(nil, 3, true, c.retryTopology)
	}
	if c.afterRollback == nil {
		c.afterRollback = DefaultAfterRollbackProcessor{}
	}
	return c
}

func (c *Container) emit(kind EventKind, tps []TopicPartition, err error, detail string) {
	c.publisher.Publish(Event{
		Kind:        kind,
		Source:      "container",
		ContainerID: c.id,
		Timestamp:   time.Now(),
		Partitions:  tps,
		Err:         err,
		Detail:      detail,
	})
}

// State reports the current lifecycle state.
func (c *Container) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// Start is idempotent: calling it while already starting or running is a
// no-op.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = stateStarting
	c.mu.Unlock()

	c.emit(EventStarting, nil, nil, "")

	clientID := c.props.ClientIDPrefix
	if clientID == "" {
		clientID = c.id
	}

	consumer, err := c.factory.Create(ctx, c.props.GroupID, clientID, c.props.Topics, c)
	if err != nil {
		c.mu.Lock()
		c.state = stateStopped
		c.mu.Unlock()
		c.emit(EventFailedToStart, nil, err, "")
		return fmt.Errorf("kafka: container %s failed to start: %w", c.id, err)
	}

	c.mu.Lock()
	c.consumer = consumer
	c.tracker = newOffsetTracker(c.props.AckMode)
	c.partitions = make(map[TopicPartition]*partitionState)
	c.remainingPartitions = make(map[TopicPartition]struct{})
	c.partitionLastData = make(map[TopicPartition]time.Time)
	c.partitionIdleEmitted = make(map[TopicPartition]time.Time)
	c.stopSignal = make(chan struct{})
	c.stopped = make(chan struct{})
	c.state = stateRunning
	c.mu.Unlock()

	c.emit(EventStarted, nil, nil, "")

	go c.run(ctx)

	if c.props.MonitorInterval > 0 {
		go c.monitor()
	}

	return nil
}

// Stop signals the poll loop to exit after its current iteration, waits up
// to timeout, then closes the consumer. Stopping an already-stopped
// container is a no-op.
func (c *Container) Stop(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.state == stateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = stateStopping
	stopSignal := c.stopSignal
	stopped := c.stopped
	consumer := c.consumer
	c.mu.Unlock()

	close(stopSignal)
	if consumer != nil {
		consumer.Wakeup()
	}

	select {
	case <-stopped:
	case <-time.After(timeout):
	}

	var closeErr error
	if consumer != nil {
		closeErr = consumer.Close(ctx)
	}

	c.mu.Lock()
	c.state = stateStopped
	c.mu.Unlock()

	c.emit(EventContainerStopped, nil, closeErr, "")
	return closeErr
}

// Pause requests that every currently and future assigned partition be
// effectively paused. Pausing twice has the same effect as pausing once.
func (c *Container) Pause() {
	c.enqueue(func(context.Context) {
		c.pauseAll = true
		for _, ps := range c.partitions {
			ps.pauseRequested = true
		}
		c.applyPauseState()
	})
}

// Resume undoes a prior Pause. Resuming a never-paused container is a no-op.
func (c *Container) Resume() {
	c.enqueue(func(context.Context) {
		c.pauseAll = false
		for _, ps := range c.partitions {
			ps.pauseRequested = false
		}
		c.applyPauseState()
	})
}

// PausePartition records the desire to pause tp even if it is not currently
// assigned; on (re)assignment it is paused immediately.
func (c *Container) PausePartition(tp TopicPartition) {
	c.enqueue(func(context.Context) {
		if ps, ok := c.partitions[tp]; ok {
			ps.pauseRequested = true
		}
		c.applyPauseState()
	})
}

// ResumePartition undoes a prior PausePartition.
func (c *Container) ResumePartition(tp TopicPartition) {
	c.enqueue(func(context.Context) {
		if ps, ok := c.partitions[tp]; ok {
			ps.pauseRequested = false
		}
		c.applyPauseState()
	})
}

// IsContainerPaused reports whether pause has been requested and every
// assigned partition is effectively paused.
func (c *Container) IsContainerPaused() bool {
	done := make(chan bool, 1)
	c.enqueue(func(context.Context) {
		if !c.pauseAll {
			done <- false
			return
		}
		for _, ps := range c.partitions {
			if !ps.effectivelyPaused {
				done <- false
				return
			}
		}
		done <- true
	})
	select {
	case v := <-done:
		return v
	case <-time.After(time.Second):
		return false
	}
}

// enqueue posts a command to the non-blocking command queue. If the queue is
// full, the command is dropped and logged rather than blocking the caller.
func (c *Container) enqueue(cmd func(context.Context)) {
	select {
	case c.commands <- cmd:
	default:
		c.log.Warn("command queue full, dropping command")
	}
}

func (c *Container) seekCallback() SeekCallback {
	return SeekCallback{enqueue: func(r seekRequest) {
		select {
		case c.seeks <- r:
		default:
			c.log.Warn("seek queue full, dropping seek request")
		}
	}}
}

// run is the poll loop. It owns the consumer exclusively.
func (c *Container) run(ctx context.Context) {
	defer close(c.stopped)

	for {
		select {
		case <-c.stopSignal:
			if !c.props.StopImmediate {
				c.drainCommands(ctx)
			}
			return
		default:
		}

		c.drainCommands(ctx)
		c.drainSeeks(ctx)

		if err := c.tick(ctx); err != nil {
			c.log.Error("poll iteration failed", "error", err)
			if ErrIsFatal(err) {
				c.emit(EventStopped, nil, err, "fatal listener error")
				go c.Stop(context.Background(), c.props.ShutdownTimeout)
				return
			}
			if c.props.StopContainerWhenFenced && ErrIsFenced(err) {
				go c.Stop(context.Background(), c.props.ShutdownTimeout)
				return
			}
		}
	}
}

func (c *Container) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-c.commands:
			cmd(ctx)
		default:
			return
		}
	}
}

func (c *Container) drainSeeks(ctx context.Context) {
	for {
		select {
		case req := <-c.seeks:
			c.applySeek(ctx, req)
		default:
			return
		}
	}
}

func (c *Container) applySeek(ctx context.Context, req seekRequest) {
	switch req.kind {
	case seekAbsolute:
		c.consumer.Seek(req.tp, req.offset)
	case seekRelative:
		pos := c.consumer.Position(req.tp)
		c.consumer.Seek(req.tp, pos+req.offset)
	case seekToTimestamp:
		if err := c.consumer.SeekToTimestamp(ctx, req.tp, req.timestamp); err != nil {
			c.log.Error("seek to timestamp failed", "partition", req.tp, "error", err)
		}
	}
}

// tick performs one poll-dispatch-ack-commit iteration.
func (c *Container) tick(ctx context.Context) error {
	// Drain any records retained in memory from a prior seeksAfterHandling=false
	// failure before polling for more.
	if len(c.remainingRecords) > 0 {
		return c.drainRemaining(ctx)
	}

	c.resumeReadyPartitions()

	// The transaction boundary is per record, not per poll batch (see
	// dispatch): the lease is held for the duration of the batch purely to
	// reuse one producer across every record's own begin/commit cycle.
	var lease *Lease
	var groupMeta GroupMetadata
	if c.props.Transactional && c.producers != nil {
		groupMeta = c.consumer.GroupMetadata()
		groupMeta.GroupID = c.props.GroupID
		l, err := c.producers.Acquire(ctx, c.props.GroupID, TopicPartition{})
		if err != nil {
			return err
		}
		lease = l
	}

	timeout := c.props.PollTimeout
	if c.pauseAll {
		timeout = c.props.PollTimeoutWhilePaused
	}

	records, err := c.consumer.Poll(ctx, timeout)
	c.lastPollReturn = time.Now()
	if err != nil {
		if lease != nil {
			// No transaction is open here: under the per-record commit
			// boundary, Begin only ever happens once a record is actually
			// being processed, never ahead of Poll.
			lease.Release()
		}
		if wait, ok := c.authRetryDelay(err); ok {
			c.log.Warn("poll failed with an authentication error, backing off",
				GroupIDAttr(c.props.GroupID), "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-c.stopSignal:
			}
			return nil
		}
		return err
	}

	if len(records) == 0 {
		if lease != nil {
			lease.Release()
		}
		c.checkIdle()
		if !c.props.AckMode.deferredToPollBoundary() {
			return c.commit(ctx)
		}
		return nil
	}
	c.firstPollDone = true
	c.lastPollWithData = time.Now()

	// Snapshot every touched partition's ack bookkeeping before this batch
	// mutates it, so a mid-batch failure can restore it exactly rather than
	// leaving offsets the batch never actually committed folded into
	// pendingOffset/inFlight.
	snaps := c.tracker.snapshotPartitions(partitionsOf(records))

	now := time.Now()
	for _, rec := range records {
		tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
		c.tracker.deliver(tp, rec.Offset)
		c.partitionLastData[tp] = now
	}

	// boundaries accumulates, per partition, the highest offset actually
	// committed to the broker by a per-record transaction in this poll batch.
	// A subsequent failure elsewhere in the batch rolls back everything the
	// tracker touched, but rollbackBatch uses boundaries to replay these
	// commits back in rather than silently redelivering already-committed
	// records.
	boundaries := make(map[TopicPartition]int64)

	if c.batchInterceptor != nil {
		filtered, ok := c.batchInterceptor.Intercept(ctx, records, c.consumer)
		if !ok {
			for _, rec := range records {
				tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
				if lease != nil {
					if err := lease.Producer.BeginTransaction(); err != nil {
						failed := c.rollbackBatch(records, snaps, boundaries)
						c.afterRollback.ProcessAfterRollback(ctx, failed, c.seekCallback())
						return err
					}
				}
				if ackErr := c.ackRecord(ctx, tp, rec.Offset, lease, groupMeta, boundaries); ackErr != nil {
					if lease != nil {
						lease.Release()
					}
					failed := c.rollbackBatch(records, snaps, boundaries)
					c.afterRollback.ProcessAfterRollback(ctx, failed, c.seekCallback())
					return ackErr
				}
			}
			if lease != nil {
				lease.Release()
			}
			return c.commit(ctx)
		}
		records = filtered
	}

	_, retained, dispatchErr := c.dispatch(ctx, records, lease, groupMeta, boundaries)

	if c.batchInterceptor != nil {
		if dispatchErr != nil {
			c.batchInterceptor.Failure(ctx, records, dispatchErr, c.consumer)
		} else if !retained {
			c.batchInterceptor.Success(ctx, records, c.consumer)
		}
	}

	if retained {
		// Part of the batch is now sitting in remainingRecords; the offsets
		// already genuinely acked (if any) still commit below via the normal
		// per-partition pendingOffset accounting, but AckBatch's unconditional
		// high-water commit must not fire until the retained tail resolves.
		if lease != nil {
			lease.Release()
		}
		if c.props.AckMode != AckBatch {
			return c.commit(ctx)
		}
		return nil
	}

	if lease != nil {
		lease.Release()
	}

	if dispatchErr != nil {
		// dispatch stops at the first unhandled failure. Every record it
		// already committed its own transaction for stays committed;
		// rollbackBatch only rewinds the partitions (or the trailing offsets
		// of a partially-advanced one) that never made it into a committed
		// transaction, so afterRollback only redelivers what genuinely wasn't
		// durable yet.
		failed := c.rollbackBatch(records, snaps, boundaries)
		c.afterRollback.ProcessAfterRollback(ctx, failed, c.seekCallback())
		return dispatchErr
	}

	if lease != nil {
		c.tracker.endBatch(time.Now())
		return nil
	}

	return c.commit(ctx)
}

// partitionsOf returns the distinct partitions represented in records, in
// first-seen order.
func partitionsOf(records []*Message) []TopicPartition {
	seen := make(map[TopicPartition]struct{}, len(records))
	tps := make([]TopicPartition, 0, len(records))
	for _, rec := range records {
		tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
		if _, ok := seen[tp]; ok {
			continue
		}
		seen[tp] = struct{}{}
		tps = append(tps, tp)
	}
	return tps
}

// earliestOffsets returns, for every partition represented in records, the
// lowest offset seen: the point a rolled-back batch must be redelivered from
// so no record in it is silently skipped.
func earliestOffsets(records []*Message) map[TopicPartition]int64 {
	out := make(map[TopicPartition]int64, len(records))
	for _, rec := range records {
		tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
		if cur, ok := out[tp]; !ok || rec.Offset < cur {
			out[tp] = rec.Offset
		}
	}
	return out
}

// offsetsBelow returns, in ascending order, every offset for tp in records
// strictly less than boundary.
func offsetsBelow(records []*Message, tp TopicPartition, boundary int64) []int64 {
	var out []int64
	for _, rec := range records {
		if rec.Topic != tp.Topic || rec.Partition != tp.Partition {
			continue
		}
		if rec.Offset < boundary {
			out = append(out, rec.Offset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// rollbackBatch undoes the tracker bookkeeping mutated by a poll batch that
// will not be committed as a whole and reports, per partition the batch
// touched, the offset it must be redelivered from. committed holds, per
// partition, the highest offset a per-record transaction already durably
// committed during this batch (see dispatch); those records must not be
// redelivered, so their delivery/ack is replayed back on top of the restored
// snapshot rather than left rolled back. The caller is responsible for
// actually seeking the consumer back, normally by handing the result to
// [Container.afterRollback].
func (c *Container) rollbackBatch(records []*Message, snaps map[TopicPartition]partitionBatchSnapshot, committed map[TopicPartition]int64) map[TopicPartition]int64 {
	c.tracker.restorePartitions(snaps)
	for tp, boundary := range committed {
		for _, o := range offsetsBelow(records, tp, boundary) {
			c.tracker.deliver(tp, o)
			c.tracker.ack(tp, o)
		}
	}

	redeliverFrom := earliestOffsets(records)
	for tp, boundary := range committed {
		if cur, ok := redeliverFrom[tp]; ok && boundary > cur {
			redeliverFrom[tp] = boundary
		}
	}
	return redeliverFrom
}

// authRetryDelay reports whether err is an authentication failure the
// configured error handler's classifier recognizes, and if so, how long the
// poll loop should back off before retrying. Auth failures are transient by
// nature (e.g. a rotating credential) so the container never treats them as
// fatal on their own.
func (c *Container) authRetryDelay(err error) (time.Duration, bool) {
	if c.props.AuthExceptionRetryInterval <= 0 {
		return 0, false
	}
	cp, ok := c.errorHandler.(classifierProvider)
	if !ok || cp.Classifier() == nil {
		return 0, false
	}
	if cp.Classifier().Classify(err) != KindAuth {
		return 0, false
	}
	return c.props.AuthExceptionRetryInterval, true
}

// resumeReadyPartitions resumes partitions the retry-topic deadline gate
// paused once their backoff-deadline header has elapsed. A partition also
// under an explicit user pause stays paused.
func (c *Container) resumeReadyPartitions() {
	now := time.Now()
	for tp, ps := range c.partitions {
		if ps.resumeAt.IsZero() || now.Before(ps.resumeAt) {
			continue
		}
		ps.resumeAt = time.Time{}
		if !ps.pauseRequested {
			c.setPartitionPaused(tp, false)
		}
	}
}

// dispatch delivers records to the listener in order, stopping at the first
// unhandled failure. It returns the failing record, if any, the routed
// error, and whether the remainder of records was retained in memory rather
// than failing the batch outright (see DecisionRetain). Records whose
// retry-topic backoff deadline hasn't elapsed are seeked back and skipped;
// their partition is paused until [Container.resumeReadyPartitions] resumes it.
//
// When lease is non-nil, each record that reaches the listener (or is vetoed
// by a record interceptor) gets its own transaction: begin immediately
// before it is handled, then commit on an outcome that acks it or abort on
// one that doesn't. This is the per-record commit boundary a transactional,
// non-batch-listener container uses: an unrelated record failing later in
// the same poll batch never touches a transaction that already committed.
func (c *Container) dispatch(ctx context.Context, records []*Message, lease *Lease, groupMeta GroupMetadata, boundaries map[TopicPartition]int64) (failedAt *Message, retainedBatch bool, err error) {
	notReady := make(map[TopicPartition]struct{})
	for i, rec := range records {
		tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}

		if _, skip := notReady[tp]; skip {
			continue
		}

		if c.delayedHandler != nil {
			if ready, deadline := c.delayedHandler.Ready(rec); !ready {
				notReady[tp] = struct{}{}
				c.consumer.Seek(tp, rec.Offset)
				if ps, ok := c.partitions[tp]; ok {
					ps.resumeAt = deadline
				}
				c.setPartitionPaused(tp, true)
				c.log.Debug("pausing partition for retry backoff deadline",
					TopicAttr(tp.Topic), PartitionAttr(tp.Partition), OffsetAttr(rec.Offset),
					"deadline", deadline)
				continue
			}
		}

		if lease != nil {
			if err := lease.Producer.BeginTransaction(); err != nil {
				return rec, false, err
			}
		}

		if c.recordInterceptor != nil {
			out, ok := c.recordInterceptor.Intercept(ctx, rec, c.consumer)
			if !ok {
				if ackErr := c.ackRecord(ctx, tp, rec.Offset, lease, groupMeta, boundaries); ackErr != nil {
					return rec, false, ackErr
				}
				continue
			}
			rec = out
		}

		acked := false
		lc := ListenerContext{
			Record:        rec,
			GroupMetadata: c.consumer.GroupMetadata(),
			Ack: Acknowledgment{
				record: rec,
				acked:  &acked,
				acker: func(ctx context.Context, r *Message) error {
					return c.ackRecord(ctx, tp, r.Offset, lease, groupMeta, boundaries)
				},
				nacker: func(ctx context.Context, r *Message, err error) error {
					// A manual Nack has no notion of "the rest of the current
					// poll batch" to retain, so DecisionRetain falls back to
					// seeking back instead of true in-memory retention.
					_, nackErr := c.handleFailure(ctx, r, err, nil, lease, groupMeta, boundaries)
					return nackErr
				},
			},
			Seek: c.seekCallback(),
		}

		handlerErr := c.listener.HandleRecord(ctx, lc)
		if handlerErr != nil {
			c.metrics.recordFailure(ctx, tp)
			if c.recordInterceptor != nil {
				c.recordInterceptor.Failure(ctx, rec, handlerErr, c.consumer)
			}
			retained, handleErr := c.handleFailure(ctx, rec, handlerErr, records[i:], lease, groupMeta, boundaries)
			if retained {
				return nil, true, nil
			}
			if handleErr != nil {
				return rec, false, handleErr
			}
			continue
		}
		c.metrics.recordProcessed(ctx, tp)

		if c.recordInterceptor != nil {
			c.recordInterceptor.Success(ctx, rec, c.consumer)
		}

		if !c.listener.Flags().NeedsAck {
			if ackErr := c.ackRecord(ctx, tp, rec.Offset, lease, groupMeta, boundaries); ackErr != nil {
				return records[i], false, ackErr
			}
		}
	}
	return nil, false, nil
}

// ackWithoutTx marks offset o on tp acked and adjusts pause state, with no
// transactional bookkeeping of its own; callers manage the surrounding
// transaction, if any.
func (c *Container) ackWithoutTx(tp TopicPartition, o int64) {
	pause := c.tracker.ack(tp, o)
	if ps, ok := c.tracker.state(tp); ok && pause != ps.effectivelyPaused {
		c.setPartitionPaused(tp, pause)
	}
}

// ackRecord marks offset o on tp acked and closes out whatever transaction
// dispatch already opened for this record (lease non-nil), or, under
// AckManualImmediate, commits it synchronously via the ordinary offset-commit
// API.
func (c *Container) ackRecord(ctx context.Context, tp TopicPartition, o int64, lease *Lease, groupMeta GroupMetadata, boundaries map[TopicPartition]int64) error {
	c.ackWithoutTx(tp, o)

	if lease != nil {
		return c.commitRecordTx(ctx, lease, groupMeta, tp, boundaries)
	}

	if c.props.AckMode == AckManualImmediate {
		offsets := map[TopicPartition]OffsetAndMetadata{tp: {Offset: o + 1}}
		return c.commitOffsets(ctx, offsets)
	}
	return nil
}

// commitRecordTx sends tp's newly-acked offset within lease's already-open
// transaction and commits it, one record at a time. Each call is a complete
// sendOffsets/commit cycle for a transaction dispatch began immediately
// before handing this record to the listener, so a later record elsewhere in
// the same poll batch failing cannot roll this commit back too.
func (c *Container) commitRecordTx(ctx context.Context, lease *Lease, groupMeta GroupMetadata, tp TopicPartition, boundaries map[TopicPartition]int64) error {
	ps, ok := c.tracker.state(tp)
	if !ok || ps.pendingOffset == nil {
		return lease.Producer.CommitTransaction(ctx)
	}

	offset := *ps.pendingOffset
	offsets := map[TopicPartition]OffsetAndMetadata{tp: offset}
	if err := lease.Producer.SendOffsetsToTransaction(ctx, offsets, groupMeta); err != nil {
		_ = lease.Producer.AbortTransaction(ctx)
		return err
	}
	if err := lease.Producer.CommitTransaction(ctx); err != nil {
		if ErrIsFenced(err) {
			lease.Invalidate(ctx)
			return &FencedError{TransactionalID: lease.Key.transactionalID(), Cause: err}
		}
		return err
	}
	c.metrics.recordCommitted(ctx, offsets)
	if boundaries != nil {
		boundaries[tp] = offset.Offset
	}
	return nil
}

// handleFailure routes a listener error through the configured error
// handler, applying the resulting [Decision]. remaining holds the records
// from the current poll batch starting at rec (rec included); it is
// consulted only for DecisionRetain and may be nil for out-of-band calls
// (manual Nack) that cannot retain part of a batch and fall back to seeking
// back instead. The returned bool reports whether the record was retained in
// memory rather than acked, seeked past, or routed onward.
func (c *Container) handleFailure(ctx context.Context, rec *Message, err error, remaining []*Message, lease *Lease, groupMeta GroupMetadata, boundaries map[TopicPartition]int64) (bool, error) {
	decision := c.errorHandler.HandleError(ctx, err, rec, false)
	tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
	switch decision {
	case DecisionHandled:
		return false, c.ackRecord(ctx, tp, rec.Offset, lease, groupMeta, boundaries)
	case DecisionSeekAndRetry:
		c.consumer.Seek(tp, rec.Offset)
		if lease != nil {
			_ = lease.Producer.AbortTransaction(ctx)
		}
		return false, err
	case DecisionRetain:
		if lease != nil || remaining == nil {
			c.consumer.Seek(tp, rec.Offset)
			if lease != nil {
				_ = lease.Producer.AbortTransaction(ctx)
			}
			return false, err
		}
		c.retainRemaining(remaining)
		return true, nil
	case DecisionDeadLetter:
		if c.retryTopology != nil && lease != nil {
			dest, out, ok := c.retryTopology.RouteFailure(ctx, rec, err)
			if ok {
				if sendErr := lease.Producer.Send(ctx, out); sendErr != nil {
					_ = lease.Producer.AbortTransaction(ctx)
					if dest.Kind == DestinationDLT && dest.DltStrategy == DltFailOnError {
						return false, &FatalError{Cause: sendErr}
					}
					return false, sendErr
				}
			}
		}
		return false, c.ackRecord(ctx, tp, rec.Offset, lease, groupMeta, boundaries)
	default:
		if lease != nil {
			_ = lease.Producer.AbortTransaction(ctx)
		}
		return false, &FatalError{Cause: err}
	}
}

// retainRemaining stores the tail of the current poll batch left undelivered
// after a DecisionRetain and pauses each of its partitions until
// drainRemaining works through them one record at a time.
func (c *Container) retainRemaining(records []*Message) {
	c.remainingRecords = append(c.remainingRecords, records...)
	for _, rec := range records {
		tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
		c.remainingPartitions[tp] = struct{}{}
		c.setPartitionPaused(tp, true)
	}
	c.log.Warn("retaining records in memory after listener failure",
		GroupIDAttr(c.props.GroupID), "count", len(records))
}

// setPartitionPaused applies pause/resume for a single partition to both
// local state and the underlying consumer.
func (c *Container) setPartitionPaused(tp TopicPartition, paused bool) {
	ps, ok := c.partitions[tp]
	if !ok {
		return
	}
	if paused == ps.effectivelyPaused {
		return
	}
	ps.effectivelyPaused = paused
	if paused {
		c.consumer.Pause([]TopicPartition{tp})
	} else {
		c.consumer.Resume([]TopicPartition{tp})
	}
}

// applyPauseState reconciles every partition's effectivelyPaused flag against
// pauseRequested. A partition paused because of an unresolved asyncAcks gap
// stays paused even across an explicit Resume, until the gap closes.
func (c *Container) applyPauseState() {
	for tp, ps := range c.partitions {
		want := ps.pauseRequested
		if !want && ps.effectivelyPaused && c.props.AsyncAcks && !c.tracker.resumeIfGapClosed(tp) {
			continue
		}
		if want != ps.effectivelyPaused {
			c.setPartitionPaused(tp, want)
		}
	}
}

func (c *Container) commit(ctx context.Context) error {
	if !c.tracker.dueForCommit(c.props.AckCount, c.props.AckTime, time.Now()) {
		return nil
	}
	offsets := c.tracker.commitOffsets()
	if len(offsets) == 0 {
		return nil
	}
	err := c.commitOffsets(ctx, offsets)
	if err == nil {
		c.tracker.endBatch(time.Now())
	}
	return err
}

func (c *Container) commitOffsets(ctx context.Context, offsets map[TopicPartition]OffsetAndMetadata) error {
	if c.props.CommitSync {
		ctx, cancel := context.WithTimeout(ctx, c.props.SyncCommitTimeout)
		defer cancel()

		var err error
		for attempt := 0; attempt <= c.props.CommitRetries; attempt++ {
			err = c.consumer.CommitSync(ctx, offsets)
			if err == nil {
				c.metrics.recordCommitted(ctx, offsets)
				return nil
			}
		}
		return err
	}

	c.consumer.CommitAsync(ctx, offsets, func(err error) {
		if err != nil {
			c.log.Error("async commit failed", "error", err)
			return
		}
		c.metrics.recordCommitted(ctx, offsets)
	})
	return nil
}

// drainRemaining redelivers records retained in memory after a
// seeksAfterHandling=false failure, one at a time.
func (c *Container) drainRemaining(ctx context.Context) error {
	rec := c.remainingRecords[0]
	c.remainingRecords = c.remainingRecords[1:]

	tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
	if _, stillRetained := c.remainingPartitions[tp]; !stillRetained {
		// tp was revoked between retention and drain; OnPartitionsRevoked
		// already pruned it, this is a defensive no-op.
		return nil
	}

	_, _, err := c.dispatch(ctx, []*Message{rec}, nil, GroupMetadata{}, nil)

	if len(c.remainingRecords) == 0 {
		for tp := range c.remainingPartitions {
			c.setPartitionPaused(tp, false)
		}
		c.remainingPartitions = make(map[TopicPartition]struct{})
		if err == nil {
			// The retained tail of the original poll batch has now fully
			// resolved; flush whatever it's safe to commit, including
			// AckBatch's high-water mark, which tick withheld while draining.
			return c.commit(ctx)
		}
	}
	return err
}

// checkIdle emits idle events when no records have arrived within the
// configured interval, both container-wide and per assigned partition.
func (c *Container) checkIdle() {
	if c.props.IdleEventInterval > 0 {
		threshold := c.props.IdleEventInterval
		if !c.firstPollDone && c.props.IdleBeforeDataMultiplier > 0 {
			threshold *= time.Duration(c.props.IdleBeforeDataMultiplier)
		}
		if time.Since(c.lastPollWithData) >= threshold {
			c.emit(EventIdle, nil, nil, "")
		}
	}

	if c.props.IdlePartitionEventInterval <= 0 {
		return
	}
	now := time.Now()
	for _, tp := range c.tracker.sortedPartitions() {
		last, ok := c.partitionLastData[tp]
		if !ok {
			last = now
		}
		if now.Sub(last) < c.props.IdlePartitionEventInterval {
			continue
		}
		if emittedAt, ok := c.partitionIdleEmitted[tp]; ok && now.Sub(emittedAt) < c.props.IdlePartitionEventInterval {
			continue
		}
		c.partitionIdleEmitted[tp] = now
		c.emit(EventIdlePartition, []TopicPartition{tp}, nil, "")
	}
}

// monitor periodically checks for a non-responsive consumer: one where too
// much time has elapsed since the last returned poll relative to the
// configured poll timeout.
func (c *Container) monitor() {
	ticker := time.NewTicker(c.props.MonitorInterval)
	defer ticker.Stop()

	threshold := time.Duration(float64(c.props.PollTimeout) * c.props.NoPollThresholdMultiplier)
	if threshold <= 0 {
		return
	}

	for {
		select {
		case <-c.stopped:
			return
		case <-ticker.C:
			if !c.lastPollReturn.IsZero() && time.Since(c.lastPollReturn) > threshold {
				c.emit(EventNonResponsive, nil, fmt.Errorf("no poll return in %s", threshold), "")
			}
		}
	}
}

// OnPartitionsAssigned implements [RebalanceListener]. It runs on the poll
// goroutine, guaranteed by franz-go's group-rebalance contract to complete
// before the next poll returns records for the new assignment.
func (c *Container) OnPartitionsAssigned(ctx context.Context, tps []TopicPartition) {
	first := len(c.partitions) == 0 && !c.firstPollDone

	for _, tp := range tps {
		ps := c.tracker.assign(tp)
		c.partitions[tp] = ps
		if c.pauseAll {
			ps.pauseRequested = true
		}
		if ps.pauseRequested {
			c.setPartitionPaused(tp, true)
		}
	}

	if first {
		c.maybeCommitInitialOffsets(ctx, tps)
	}

	if c.userRebalance != nil {
		c.userRebalance.OnPartitionsAssigned(ctx, tps)
	}
	c.emit(EventRebalancePartitionsAssigned, tps, nil, "")
}

func (c *Container) maybeCommitInitialOffsets(ctx context.Context, tps []TopicPartition) {
	opt := c.props.AssignmentCommitOption
	if opt == AssignmentCommitNever {
		return
	}

	toCommit := make(map[TopicPartition]OffsetAndMetadata)
	for _, tp := range tps {
		if opt == AssignmentCommitLatestOnly || opt == AssignmentCommitLatestOnlyNoTx {
			if c.consumer.ResetPolicy(tp) != ResetLatest {
				continue
			}
		}
		committed, err := c.consumer.Committed(ctx, []TopicPartition{tp})
		if err == nil {
			if _, exists := committed[tp]; exists {
				continue
			}
		}
		toCommit[tp] = OffsetAndMetadata{Offset: c.consumer.Position(tp)}
	}

	if len(toCommit) == 0 {
		return
	}
	if err := c.consumer.CommitSync(ctx, toCommit); err != nil {
		c.log.Error("initial assignment commit failed", "error", err)
	}
}

// OnPartitionsRevoked implements [RebalanceListener]. Any pending offset for
// a revoked partition is committed before the partition's state is
// discarded; records from a revoked partition waiting in remainingRecords
// are pruned.
func (c *Container) OnPartitionsRevoked(ctx context.Context, tps []TopicPartition) {
	if c.userRebalance != nil {
		c.userRebalance.OnPartitionsRevoked(ctx, tps)
	}

	toCommit := make(map[TopicPartition]OffsetAndMetadata)
	for _, tp := range tps {
		if ps, ok := c.partitions[tp]; ok && ps.pendingOffset != nil {
			toCommit[tp] = *ps.pendingOffset
		}
	}
	if len(toCommit) > 0 {
		if err := c.consumer.CommitSync(ctx, toCommit); err != nil {
			c.log.Error("pre-revoke commit failed", "error", err)
		}
	}

	revoked := make(map[TopicPartition]struct{}, len(tps))
	for _, tp := range tps {
		revoked[tp] = struct{}{}
		c.tracker.unassign(tp)
		delete(c.partitions, tp)
	}

	if len(c.remainingRecords) > 0 {
		pruned := c.remainingRecords[:0]
		for _, rec := range c.remainingRecords {
			tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
			if _, gone := revoked[tp]; gone {
				continue
			}
			pruned = append(pruned, rec)
		}
		c.remainingRecords = pruned
		for tp := range revoked {
			delete(c.remainingPartitions, tp)
		}
		if len(c.remainingRecords) == 0 {
			for tp := range c.remainingPartitions {
				c.setPartitionPaused(tp, false)
			}
			c.remainingPartitions = make(map[TopicPartition]struct{})
		}
	}

	c.emit(EventRebalancePartitionsRevoked, tps, nil, "")
}

// OnPartitionsLost implements [RebalanceListener]. Per the documented
// semantics, lost partitions never commit (their offsets are already gone
// group-side) and this never routes through OnPartitionsRevoked.
func (c *Container) OnPartitionsLost(ctx context.Context, tps []TopicPartition) {
	for _, tp := range tps {
		c.tracker.unassign(tp)
		delete(c.partitions, tp)
	}
	if c.userRebalance != nil {
		c.userRebalance.OnPartitionsLost(ctx, tps)
	}
	c.emit(EventRebalancePartitionsLost, tps, nil, "")
}

func newContainerID(prefix string) string {
	if prefix == "" {
		prefix = "container"
	}
	return prefix + "-" + uuid.NewString()
}
