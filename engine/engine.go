package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/pkg/offsets"
	"github.com/siphon-data/siphon/utils"
)

// CompletionCallback is invoked exactly once: on clean shutdown with
// success=true, on startup failure or task error with success=false and a
// populated error.
type CompletionCallback func(success bool, message string, err error)

// Engine is a single-connector embedded host. It configures, owns and
// supervises one task runtime and exposes the consumption and control
// surface.
type Engine struct {
	cfg        *Config
	connector  SourceConnector
	codec      Codec
	completion CompletionCallback
	notify     RecordCallback
	store      *offsets.FileStore
	runID      string

	runtimeMu sync.Mutex
	runtime   *taskRuntime

	running      atomic.Bool
	stopped      atomic.Bool
	completeOnce sync.Once
	done         chan struct{}
}

type Option func(*Engine)

// WithCompletionCallback sets the function notified when the engine finishes.
func WithCompletionCallback(callback CompletionCallback) Option {
	return func(e *Engine) {
		e.completion = callback
	}
}

// WithRecordCallback sets the observer that receives every record after it
// leaves the queue.
func WithRecordCallback(callback RecordCallback) Option {
	return func(e *Engine) {
		e.notify = callback
	}
}

// WithCodec overrides the partition/offset serializer. The codec must match
// the one the connector used for any offsets already on disk.
func WithCodec(codec Codec) Option {
	return func(e *Engine) {
		e.codec = codec
	}
}

// WithConnector supplies a connector instance directly, bypassing the
// factory registry lookup for "connector.class".
func WithConnector(connector SourceConnector) Option {
	return func(e *Engine) {
		e.connector = connector
	}
}

// New builds a configured engine. Missing or malformed options fail with
// ErrConfig before anything runs.
func New(options map[string]string, opts ...Option) (*Engine, error) {
	cfg, err := ParseConfig(options)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		codec: JSONCodec{},
		runID: utils.ULID(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.connector == nil {
		connector, err := BuildConnector(cfg.ConnectorClass)
		if err != nil {
			return nil, err
		}
		e.connector = connector
	}
	if e.completion == nil {
		e.completion = func(success bool, message string, err error) {
			if success {
				logger.Info(message)
			} else {
				logger.Errorf("%s: %s", message, err)
			}
		}
	}
	e.store = offsets.NewFileStore(cfg.OffsetStoragePath)
	return e, nil
}

// Run drives the connector until it stops or fails. It blocks; hosts run it
// on a goroutine of their own and use Stop/Await for control.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine [%s] is already running", e.cfg.Name)
	}
	defer close(e.done)
	defer e.running.Store(false)

	fail := func(message string, err error) error {
		e.complete(false, message, err)
		return err
	}

	if err := e.store.Start(); err != nil {
		return fail(fmt.Sprintf("engine [%s] could not read the offset store", e.cfg.Name), err)
	}
	// Every resource gets its stop call even when an earlier one fails.
	defer func() {
		if err := utils.ErrExecSequential(
			utils.ErrExecFormat("failed to stop connector: %s", e.connector.Stop),
			utils.ErrExecFormat("failed to stop offset store: %s", e.store.Stop),
		); err != nil {
			logger.Warnf("engine [%s] teardown: %s", e.cfg.Name, err)
		}
	}()

	taskConfigs, err := e.connector.Initialize(e.cfg.Raw)
	if err != nil {
		return fail(fmt.Sprintf("engine [%s] failed to initialize connector [%s]", e.cfg.Name, e.cfg.ConnectorClass), err)
	}
	if len(taskConfigs) == 0 {
		err := configErrorf("connector [%s] returned no task configuration", e.cfg.ConnectorClass)
		return fail(fmt.Sprintf("engine [%s] cannot build a task", e.cfg.Name), err)
	}
	if len(taskConfigs) > 1 {
		logger.Warnf("connector [%s] returned %d task configurations; the embedded engine runs only the first", e.cfg.ConnectorClass, len(taskConfigs))
	}

	rt := newTaskRuntime(e.connector.NewTask(), e.cfg, e.store, e.codec, e.notify)
	e.setRuntime(rt)
	if e.stopped.Load() {
		rt.requestStop()
	}

	if err := rt.start(taskConfigs[0]); err != nil {
		return fail(fmt.Sprintf("engine [%s] failed to start its task", e.cfg.Name), err)
	}
	logger.Infof("engine [%s] run [%s] started connector [%s]", e.cfg.Name, e.runID, e.cfg.ConnectorClass)

	runErr := rt.run(ctx)
	if runErr != nil {
		return fail(fmt.Sprintf("engine [%s] task failed", e.cfg.Name), runErr)
	}
	e.complete(true, fmt.Sprintf("engine [%s] stopped cleanly", e.cfg.Name), nil)
	return nil
}

// Stop signals the task worker to halt. Idempotent and non-blocking; the
// worker observes the signal between poll batches.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	if rt := e.getRuntime(); rt != nil {
		rt.requestStop()
	}
}

// Await blocks until the engine reaches a terminal state or the timeout
// elapses, reporting whether it terminated.
func (e *Engine) Await(timeout time.Duration) bool {
	select {
	case <-e.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// State reports the task runtime state; CREATED before the task was built.
func (e *Engine) State() TaskState {
	if rt := e.getRuntime(); rt != nil {
		return rt.State()
	}
	return TaskCreated
}

// Stats returns (records consumed, queue depth, completed offset flushes).
func (e *Engine) Stats() (int64, int64, int64) {
	rt := e.getRuntime()
	if rt == nil {
		return 0, 0, 0
	}
	return rt.consumed.Load(), int64(rt.q.Len()), rt.flushes.Load()
}

func (e *Engine) complete(success bool, message string, err error) {
	e.completeOnce.Do(func() {
		e.completion(success, message, err)
	})
}

func (e *Engine) setRuntime(rt *taskRuntime) {
	e.runtimeMu.Lock()
	defer e.runtimeMu.Unlock()
	e.runtime = rt
}

func (e *Engine) getRuntime() *taskRuntime {
	e.runtimeMu.Lock()
	defer e.runtimeMu.Unlock()
	return e.runtime
}
