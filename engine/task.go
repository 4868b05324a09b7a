package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/pkg/offsets"
	"github.com/siphon-data/siphon/pkg/queue"
	"github.com/siphon-data/siphon/types"
	"github.com/siphon-data/siphon/utils"
)

// TaskState is the lifecycle state of the task runtime.
type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskStarting
	TaskRunning
	TaskStopping
	TaskStopped
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "CREATED"
	case TaskStarting:
		return "STARTING"
	case TaskRunning:
		return "RUNNING"
	case TaskStopping:
		return "STOPPING"
	case TaskStopped:
		return "STOPPED"
	case TaskFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// RecordCallback observes every record after it leaves the queue. Offsets
// staged for a record become flushable only after its callback has returned,
// so callbacks that need that guarantee must process synchronously.
type RecordCallback func(record types.Record)

// taskRuntime drives one source task through its lifecycle: a dedicated
// worker goroutine runs the poll loop, a consumer goroutine drains the queue,
// dispatches notifications and checkpoints offsets.
type taskRuntime struct {
	task   SourceTask
	cfg    *Config
	q      *queue.Bounded[types.Record]
	store  *offsets.FileStore
	codec  Codec
	notify RecordCallback

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	taskErr error

	consumed      atomic.Int64
	flushes       atomic.Int64
	flushFailures int // consumer goroutine only
}

func newTaskRuntime(task SourceTask, cfg *Config, store *offsets.FileStore, codec Codec, notify RecordCallback) *taskRuntime {
	return &taskRuntime{
		task:   task,
		cfg:    cfg,
		q:      queue.NewBounded[types.Record](cfg.QueueSize),
		store:  store,
		codec:  codec,
		notify: notify,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *taskRuntime) State() TaskState {
	return TaskState(r.state.Load())
}

func (r *taskRuntime) setState(s TaskState) {
	r.state.Store(int32(s))
}

// start initializes the task with its configuration and prior offsets.
func (r *taskRuntime) start(taskConfig map[string]string) error {
	r.setState(TaskStarting)
	reader := &storeOffsetReader{load: r.store.Load, codec: r.codec}
	if err := r.task.Start(taskConfig, reader); err != nil {
		r.recordError(fmt.Errorf("%w: %w", ErrTask, err))
		r.setState(TaskFailed)
		return err
	}
	r.setState(TaskRunning)
	return nil
}

// run blocks until the runtime reaches a terminal state and returns the task
// error, if any.
func (r *taskRuntime) run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			r.requestStop()
		case <-r.done:
		}
	}()

	joinErr := utils.ErrExec(
		func() error {
			// Closing the queue once the worker exits lets the consumer finish
			// draining what was already enqueued, then observe the end of the
			// stream.
			defer r.q.Close()
			return r.workerLoop(ctx)
		},
		func() error {
			r.consumerLoop()
			return nil
		},
	)
	close(r.done)

	r.mu.Lock()
	err := r.taskErr
	r.mu.Unlock()
	if err == nil {
		err = joinErr
	}
	if err != nil {
		r.setState(TaskFailed)
		return err
	}
	r.setState(TaskStopped)
	return nil
}

// requestStop is idempotent and non-blocking; the worker observes the signal
// between poll batches.
func (r *taskRuntime) requestStop() {
	r.stopOnce.Do(func() {
		if r.State() == TaskRunning || r.State() == TaskStarting {
			r.setState(TaskStopping)
		}
		close(r.stopCh)
	})
}

func (r *taskRuntime) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *taskRuntime) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taskErr == nil {
		r.taskErr = err
	}
}

// workerLoop runs the poll loop and returns the task error that stopped it,
// if any.
func (r *taskRuntime) workerLoop(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	var loopErr error
	for !r.stopping() {
		batch, err := r.task.Poll(pollCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Cancellation observed between batches is a clean shutdown.
				break
			}
			loopErr = fmt.Errorf("%w: %w", ErrTask, err)
			r.recordError(loopErr)
			r.requestStop()
			break
		}
		if !r.enqueue(pollCtx, batch) {
			break
		}
	}

	if err := r.task.Stop(); err != nil {
		logger.Warnf("task stop returned error: %s", err)
	}
	r.drainFinalRecords()
	return loopErr
}

// enqueue pushes a poll batch into the queue, blocking on backpressure, and
// fires the optional per-record commit hook after each successful handoff.
func (r *taskRuntime) enqueue(ctx context.Context, batch []types.Record) bool {
	committer, commits := r.task.(RecordCommitter)
	for _, rec := range batch {
		if err := r.q.Put(ctx, rec); err != nil {
			return false
		}
		if commits {
			if err := committer.CommitRecord(rec); err != nil {
				logger.Warnf("commitRecord hook failed for %s: %s", rec.Position(), err)
			}
		}
	}
	return true
}

// drainFinalRecords gives the stopped task one last poll so records it
// buffered before observing the stop make it into the queue, best effort
// within the shutdown deadline.
func (r *taskRuntime) drainFinalRecords() {
	r.mu.Lock()
	failed := r.taskErr != nil
	r.mu.Unlock()
	if failed {
		return
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	batch, err := r.task.Poll(drainCtx)
	if err != nil || len(batch) == 0 {
		return
	}
	r.enqueue(drainCtx, batch)
}

func (r *taskRuntime) consumerLoop() {
	periodic := r.cfg.CommitPolicy == PolicyPeriodic && r.cfg.FlushInterval > 0
	nextFlush := time.Now().Add(r.cfg.FlushInterval)

	for {
		batch := r.q.Drain(r.cfg.QueueSize)
		if len(batch) == 0 {
			rec, ok := r.q.Take(r.cfg.PollInterval)
			if !ok {
				if r.q.IsClosed() && r.q.Len() == 0 {
					break
				}
				if periodic {
					if time.Now().After(nextFlush) {
						r.flushOffsets()
						nextFlush = time.Now().Add(r.cfg.FlushInterval)
					}
				} else if r.store.StagedCount() > 0 {
					// Retry a flush that failed while the stream is quiet.
					r.flushOffsets()
				}
				continue
			}
			batch = []types.Record{rec}
		}

		for _, rec := range batch {
			if r.notify != nil {
				r.notify(rec)
			}
			// Staged only after the notification returned, so a flush durably
			// covers every record whose callback completed before it began.
			r.stageOffset(rec)
			r.consumed.Add(1)
		}

		if !periodic {
			r.flushOffsets()
		} else if time.Now().After(nextFlush) {
			r.flushOffsets()
			nextFlush = time.Now().Add(r.cfg.FlushInterval)
		}
	}

	// Final flush covers everything consumed before shutdown.
	r.flushOffsets()
}

func (r *taskRuntime) stageOffset(rec types.Record) {
	key, err := r.codec.EncodePartition(rec.Partition)
	if err != nil {
		logger.Errorf("failed to encode partition for offset staging: %s", err)
		return
	}
	value, err := r.codec.EncodeOffset(rec.Offset)
	if err != nil {
		logger.Errorf("failed to encode offset for staging: %s", err)
		return
	}
	r.store.Stage(key, value)
}

// flushOffsets persists every staged partition/offset pair within the commit
// timeout. A failed flush keeps the staged set for the next attempt; repeated
// failures escalate to FAILED.
func (r *taskRuntime) flushOffsets() {
	if r.store.StagedCount() == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), r.cfg.CommitTimeout)
	defer cancel()
	if err := r.store.Flush(flushCtx); err != nil {
		r.flushFailures++
		logger.Warnf("failed to flush offsets (attempt %d of %d): %s", r.flushFailures, r.cfg.MaxFlushRetries, err)
		if r.flushFailures >= r.cfg.MaxFlushRetries {
			r.recordError(fmt.Errorf("offset flush failed %d consecutive times: %w", r.flushFailures, err))
			r.requestStop()
		}
		return
	}
	r.flushFailures = 0
	r.flushes.Add(1)
}
