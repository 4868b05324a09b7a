package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphon-data/siphon/types"
)

type mockTask struct {
	mu          sync.Mutex
	batches     [][]types.Record
	startErr    error
	resumedFrom map[string]types.Offset
	stopped     chan struct{}
	stopOnce    sync.Once
	commits     atomic.Int64
}

func newMockTask(batches ...[]types.Record) *mockTask {
	return &mockTask{batches: batches, stopped: make(chan struct{})}
}

func (m *mockTask) Start(_ map[string]string, offsets OffsetReader) error {
	if m.startErr != nil {
		return m.startErr
	}
	resumed, err := offsets.OffsetsFor(types.Partition{"server": "A"})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.resumedFrom = resumed
	m.mu.Unlock()
	return nil
}

func (m *mockTask) Poll(ctx context.Context) ([]types.Record, error) {
	m.mu.Lock()
	if len(m.batches) > 0 {
		batch := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopped:
		return nil, context.Canceled
	}
}

func (m *mockTask) CommitRecord(_ types.Record) error {
	m.commits.Add(1)
	return nil
}

func (m *mockTask) Stop() error {
	m.stopOnce.Do(func() { close(m.stopped) })
	return nil
}

func (m *mockTask) ResumedFrom() map[string]types.Offset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumedFrom
}

type mockConnector struct {
	task    SourceTask
	initErr error
	stops   atomic.Int64
}

func (c *mockConnector) Initialize(config map[string]string) ([]map[string]string, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	return []map[string]string{config}, nil
}

func (c *mockConnector) NewTask() SourceTask {
	return c.task
}

func (c *mockConnector) Stop() error {
	c.stops.Add(1)
	return nil
}

type completionResult struct {
	success bool
	message string
	err     error
}

type completionRecorder struct {
	mu      sync.Mutex
	results []completionResult
}

func (r *completionRecorder) callback(success bool, message string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, completionResult{success, message, err})
}

func (r *completionRecorder) all() []completionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completionResult{}, r.results...)
}

func record(offset int) types.Record {
	return types.Record{
		Topic:     "A.db.t",
		Key:       &types.Payload{Value: map[string]any{"id": offset}},
		Value:     &types.Payload{Value: map[string]any{"id": offset}},
		Partition: types.Partition{"server": "A"},
		Offset:    types.Offset{"pos": offset},
		Timestamp: time.Unix(0, 0).UTC(),
	}
}

func testOptions(t *testing.T, offsetPath string) map[string]string {
	t.Helper()
	return map[string]string{
		OptName:                "test-engine",
		OptConnectorClass:      "mock",
		OptOffsetStorageFile:   offsetPath,
		OptOffsetCommitPolicy:  string(PolicyAlways),
		OptOffsetCommitTimeout: "1000",
		OptPollInterval:        "50",
		OptShutdownTimeout:     "500",
		OptQueueSize:           "100",
	}
}

func runEngine(t *testing.T, e *Engine) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- e.Run(context.Background())
	}()
	return result
}

func TestMissingRequiredOptionsFailWithConfigError(t *testing.T) {
	testCases := []struct {
		name    string
		missing string
	}{
		{"missing name", OptName},
		{"missing connector class", OptConnectorClass},
		{"missing offset path", OptOffsetStorageFile},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			options := testOptions(t, filepath.Join(t.TempDir(), "offsets.dat"))
			delete(options, tc.missing)
			_, err := New(options, WithConnector(&mockConnector{task: newMockTask()}))
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestUnknownConnectorClassFails(t *testing.T) {
	options := testOptions(t, filepath.Join(t.TempDir(), "offsets.dat"))
	options[OptConnectorClass] = "does-not-exist"
	_, err := New(options)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCompletionCallbackOnTaskStartFailure(t *testing.T) {
	task := newMockTask()
	task.startErr = fmt.Errorf("%w: bad url", ErrConfig)
	connector := &mockConnector{task: task}
	recorder := &completionRecorder{}

	e, err := New(testOptions(t, filepath.Join(t.TempDir(), "offsets.dat")),
		WithConnector(connector),
		WithCompletionCallback(recorder.callback),
	)
	require.NoError(t, err)

	result := runEngine(t, e)
	require.Error(t, <-result)

	assert.True(t, e.Await(time.Second))
	assert.Equal(t, TaskFailed, e.State())

	results := recorder.all()
	require.Len(t, results, 1, "completion callback fires exactly once")
	assert.False(t, results[0].success)
	assert.ErrorIs(t, results[0].err, ErrConfig)
	assert.EqualValues(t, 1, connector.stops.Load())
}

func TestCleanRunNotifiesEveryRecordInOrder(t *testing.T) {
	var batches [][]types.Record
	for i := 1; i <= 100; i += 10 {
		var batch []types.Record
		for j := i; j < i+10; j++ {
			batch = append(batch, record(j))
		}
		batches = append(batches, batch)
	}
	task := newMockTask(batches...)
	recorder := &completionRecorder{}

	var mu sync.Mutex
	var seen []int
	var e *Engine
	e, err := New(testOptions(t, filepath.Join(t.TempDir(), "offsets.dat")),
		WithConnector(&mockConnector{task: task}),
		WithCompletionCallback(recorder.callback),
		WithRecordCallback(func(rec types.Record) {
			mu.Lock()
			seen = append(seen, rec.Key.Value.(map[string]any)["id"].(int))
			done := len(seen) == 100
			mu.Unlock()
			if done {
				e.Stop()
			}
		}),
	)
	require.NoError(t, err)

	result := runEngine(t, e)
	require.NoError(t, <-result)
	require.True(t, e.Await(time.Second))
	assert.Equal(t, TaskStopped, e.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 100)
	for i, got := range seen {
		assert.Equal(t, i+1, got, "records surface in enqueue order")
	}
	assert.EqualValues(t, 100, task.commits.Load(), "commitRecord fired per enqueued record")

	results := recorder.all()
	require.Len(t, results, 1)
	assert.True(t, results[0].success)
}

func TestCleanRestartResume(t *testing.T) {
	offsetPath := filepath.Join(t.TempDir(), "offsets.dat")

	var batch []types.Record
	for i := 1; i <= 100; i++ {
		batch = append(batch, record(i))
	}
	task := newMockTask(batch)

	consumed := make(chan struct{})
	var count atomic.Int64
	var e *Engine
	e, err := New(testOptions(t, offsetPath),
		WithConnector(&mockConnector{task: task}),
		WithRecordCallback(func(types.Record) {
			if count.Add(1) == 100 {
				close(consumed)
			}
		}),
	)
	require.NoError(t, err)
	result := runEngine(t, e)

	select {
	case <-consumed:
	case <-time.After(5 * time.Second):
		t.Fatal("records were not consumed")
	}
	e.Stop()
	require.NoError(t, <-result)

	// A fresh engine over the same store resumes the task from offset 100.
	restarted := newMockTask()
	e2, err := New(testOptions(t, offsetPath), WithConnector(&mockConnector{task: restarted}))
	require.NoError(t, err)
	result2 := runEngine(t, e2)

	require.Eventually(t, func() bool {
		return restarted.ResumedFrom() != nil
	}, 5*time.Second, 10*time.Millisecond)

	resumed := restarted.ResumedFrom()
	require.Contains(t, resumed, types.Partition{"server": "A"}.ID())
	assert.EqualValues(t, 100, resumed[types.Partition{"server": "A"}.ID()]["pos"])

	e2.Stop()
	require.NoError(t, <-result2)
}

func TestCrashBeforeFlushResumesFromLastCommit(t *testing.T) {
	offsetPath := filepath.Join(t.TempDir(), "offsets.dat")

	// First run consumes and flushes offsets 1..10; records 11..20, which a
	// crashed run would have emitted after that flush, never reach the store.
	var flushed []types.Record
	for i := 1; i <= 10; i++ {
		flushed = append(flushed, record(i))
	}
	task := newMockTask(flushed)

	consumed := make(chan struct{})
	var count atomic.Int64
	e, err := New(testOptions(t, offsetPath),
		WithConnector(&mockConnector{task: task}),
		WithRecordCallback(func(types.Record) {
			if count.Add(1) == 10 {
				close(consumed)
			}
		}),
	)
	require.NoError(t, err)
	result := runEngine(t, e)
	<-consumed
	e.Stop()
	require.NoError(t, <-result)

	// The restarted task sees offset 10 and may re-emit 11..20; downstream
	// consumers must expect those duplicates.
	restarted := newMockTask()
	e2, err := New(testOptions(t, offsetPath), WithConnector(&mockConnector{task: restarted}))
	require.NoError(t, err)
	result2 := runEngine(t, e2)

	require.Eventually(t, func() bool {
		return restarted.ResumedFrom() != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 10, restarted.ResumedFrom()[types.Partition{"server": "A"}.ID()]["pos"])

	e2.Stop()
	require.NoError(t, <-result2)
}

func TestStopIsIdempotent(t *testing.T) {
	task := newMockTask()
	recorder := &completionRecorder{}
	e, err := New(testOptions(t, filepath.Join(t.TempDir(), "offsets.dat")),
		WithConnector(&mockConnector{task: task}),
		WithCompletionCallback(recorder.callback),
	)
	require.NoError(t, err)
	result := runEngine(t, e)

	require.Eventually(t, e.IsRunning, time.Second, 5*time.Millisecond)
	for i := 0; i < 3; i++ {
		e.Stop()
	}
	require.NoError(t, <-result)
	assert.True(t, e.Await(time.Second))
	assert.Equal(t, TaskStopped, e.State())
	require.Len(t, recorder.all(), 1)
	assert.True(t, recorder.all()[0].success)
}

func TestContextCancellationStopsEngine(t *testing.T) {
	task := newMockTask()
	e, err := New(testOptions(t, filepath.Join(t.TempDir(), "offsets.dat")),
		WithConnector(&mockConnector{task: task}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- e.Run(ctx) }()

	require.Eventually(t, e.IsRunning, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-result)
	assert.Equal(t, TaskStopped, e.State())
}

func TestRepeatedFlushFailureEscalatesToFailed(t *testing.T) {
	// An offset path inside a missing directory makes every flush fail.
	offsetPath := filepath.Join(t.TempDir(), "missing", "offsets.dat")
	task := newMockTask([]types.Record{record(1)}, []types.Record{record(2)})
	recorder := &completionRecorder{}

	options := testOptions(t, offsetPath)
	options[OptOffsetFlushRetries] = "2"
	e, err := New(options,
		WithConnector(&mockConnector{task: task}),
		WithCompletionCallback(recorder.callback),
	)
	require.NoError(t, err)

	result := runEngine(t, e)
	require.Error(t, <-result)
	assert.Equal(t, TaskFailed, e.State())

	results := recorder.all()
	require.Len(t, results, 1)
	assert.False(t, results[0].success)
	assert.Error(t, results[0].err)
}

func TestConnectorInitializationFailureReportsOnce(t *testing.T) {
	connector := &mockConnector{task: newMockTask(), initErr: errors.New("cannot reach source")}
	recorder := &completionRecorder{}
	e, err := New(testOptions(t, filepath.Join(t.TempDir(), "offsets.dat")),
		WithConnector(connector),
		WithCompletionCallback(recorder.callback),
	)
	require.NoError(t, err)

	result := runEngine(t, e)
	require.Error(t, <-result)

	results := recorder.all()
	require.Len(t, results, 1)
	assert.False(t, results[0].success)
	assert.ErrorContains(t, results[0].err, "cannot reach source")
}

func TestRunTwiceFails(t *testing.T) {
	task := newMockTask()
	e, err := New(testOptions(t, filepath.Join(t.TempDir(), "offsets.dat")),
		WithConnector(&mockConnector{task: task}),
	)
	require.NoError(t, err)

	result := runEngine(t, e)
	require.Eventually(t, e.IsRunning, time.Second, 5*time.Millisecond)
	assert.Error(t, e.Run(context.Background()))

	e.Stop()
	require.NoError(t, <-result)
}
