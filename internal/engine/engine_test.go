// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/mocks"
	"github.com/xkilldash9x/formrunner/internal/orchestrator"
	"github.com/xkilldash9x/formrunner/internal/queue"
	"github.com/xkilldash9x/formrunner/internal/store"
)

// -- Test Helpers --

type fixture struct {
	cfg       *mocks.MockConfig
	queue     *queue.Queue
	processor *mocks.MockProcessor
	store     *mocks.MockStore
	sessions  *mocks.MockSessionCloser
	engine    *Engine
}

func newFixture(t *testing.T, engineCfg config.EngineConfig, logger *zap.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &fixture{
		cfg:       new(mocks.MockConfig),
		processor: new(mocks.MockProcessor),
		store:     new(mocks.MockStore),
		sessions:  new(mocks.MockSessionCloser),
	}
	f.cfg.On("Engine").Return(engineCfg)
	f.sessions.On("CloseAll", mock.Anything).Return(nil)
	f.queue = queue.New(queue.OptionsFromConfig(engineCfg), logger)

	eng, err := New(f.cfg, logger, f.queue, f.processor, f.store, f.sessions)
	require.NoError(t, err)
	f.engine = eng
	return f
}

func baseEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		WorkerConcurrency:  2,
		DefaultTaskTimeout: 5 * time.Second,
		MaxAttempts:        1,
		BackoffBase:        time.Millisecond,
		RateLimitMax:       1000,
		RateLimitWindow:    time.Second,
		ShutdownGrace:      2 * time.Second,
	}
}

func newTask(account string) schemas.Task {
	return schemas.Task{
		AccountID: account,
		SessionID: schemas.NewSessionID(account, time.Now()),
		FormData:  schemas.FormDataFromPairs("email", account+"@example.com"),
		TargetURL: "https://shop.example.com/checkout",
	}
}

func waitForState(t *testing.T, q *queue.Queue, id string, want queue.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := q.Status(id)
		return ok && st.State == want
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
}

func stop(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
}

// -- Test Suite --

func TestNew_RejectsNilDependencies(t *testing.T) {
	cfg := new(mocks.MockConfig)
	q := queue.New(queue.Options{}, nil)
	defer q.Close()
	proc := new(mocks.MockProcessor)
	st := new(mocks.MockStore)
	sc := new(mocks.MockSessionCloser)
	logger := zap.NewNop()

	tests := []struct {
		name string
		fn   func() (*Engine, error)
	}{
		{"config", func() (*Engine, error) { return New(nil, logger, q, proc, st, sc) }},
		{"logger", func() (*Engine, error) { return New(cfg, nil, q, proc, st, sc) }},
		{"source", func() (*Engine, error) { return New(cfg, logger, nil, proc, st, sc) }},
		{"processor", func() (*Engine, error) { return New(cfg, logger, q, nil, st, sc) }},
		{"store", func() (*Engine, error) { return New(cfg, logger, q, proc, nil, sc) }},
		{"sessions", func() (*Engine, error) { return New(cfg, logger, q, proc, st, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := tt.fn()
			assert.Nil(t, e)
			assert.Error(t, err)
		})
	}
}

// TestEngine_ProcessesAndPersists verifies the core lifecycle: start, drain
// jobs, record results and stop gracefully.
func TestEngine_ProcessesAndPersists(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, baseEngineConfig(), nil)

	result := &schemas.JobResult{Success: true, CheckoutType: schemas.CheckoutCartPanda, OrderNumber: "4412"}
	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(result, nil)
	f.store.On("PersistResult", mock.Anything, mock.MatchedBy(func(rec store.JobRecord) bool {
		return rec.State == "completed" && rec.Success && rec.OrderNumber == "4412" && rec.Attempts == 1
	})).Return(nil).Times(3)

	f.engine.Start(context.Background())

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.queue.Enqueue(newTask(fmt.Sprintf("acct%d", i)), queue.EnqueueOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForState(t, f.queue, id, queue.StateCompleted)
	}

	stop(t, f.engine)

	for _, id := range ids {
		st, _ := f.queue.Status(id)
		assert.Same(t, result, st.Result)
		assert.Equal(t, 100, st.Progress)
	}
	f.processor.AssertNumberOfCalls(t, "Process", 3)
	f.store.AssertExpectations(t)
	f.sessions.AssertCalled(t, "CloseAll", mock.Anything)
}

func TestEngine_DeclineIsCompletedNotFailed(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, baseEngineConfig(), nil)

	declined := &schemas.JobResult{Success: false, CheckoutType: schemas.CheckoutCartPanda}
	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(declined, nil)
	f.store.On("PersistResult", mock.Anything, mock.MatchedBy(func(rec store.JobRecord) bool {
		return rec.State == "completed" && !rec.Success
	})).Return(nil).Once()

	f.engine.Start(context.Background())
	id, err := f.queue.Enqueue(newTask("acct"), queue.EnqueueOptions{})
	require.NoError(t, err)
	waitForState(t, f.queue, id, queue.StateCompleted)

	stop(t, f.engine)
	f.store.AssertExpectations(t)
}

func TestEngine_ReportsProgressToQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, baseEngineConfig(), nil)

	reached := make(chan struct{})
	release := make(chan struct{})
	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			progress := args.Get(2).(orchestrator.ProgressReporter)
			progress.ReportProgress(40)
			close(reached)
			<-release
		}).
		Return(&schemas.JobResult{Success: true}, nil)
	f.store.On("PersistResult", mock.Anything, mock.Anything).Return(nil)

	f.engine.Start(context.Background())
	id, err := f.queue.Enqueue(newTask("acct"), queue.EnqueueOptions{})
	require.NoError(t, err)

	<-reached
	st, _ := f.queue.Status(id)
	assert.Equal(t, queue.StateActive, st.State)
	assert.Equal(t, 40, st.Progress)
	close(release)

	waitForState(t, f.queue, id, queue.StateCompleted)
	stop(t, f.engine)
}

func TestEngine_RetriesThenPersistsFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := baseEngineConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg, nil)

	boom := errors.New("navigate: net::ERR_TUNNEL_CONNECTION_FAILED")
	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)
	f.store.On("PersistResult", mock.Anything, mock.MatchedBy(func(rec store.JobRecord) bool {
		return rec.State == "failed" && rec.Attempts == 2 && rec.Error == boom.Error() && rec.Result == nil
	})).Return(nil).Once()

	f.engine.Start(context.Background())
	id, err := f.queue.Enqueue(newTask("acct"), queue.EnqueueOptions{})
	require.NoError(t, err)
	waitForState(t, f.queue, id, queue.StateFailed)

	stop(t, f.engine)
	f.processor.AssertNumberOfCalls(t, "Process", 2)
	f.store.AssertExpectations(t)
}

func TestEngine_TaskTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := baseEngineConfig()
	cfg.DefaultTaskTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, nil)

	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	f.store.On("PersistResult", mock.Anything, mock.Anything).Return(nil)

	f.engine.Start(context.Background())
	id, err := f.queue.Enqueue(newTask("slow"), queue.EnqueueOptions{})
	require.NoError(t, err)
	waitForState(t, f.queue, id, queue.StateFailed)

	stop(t, f.engine)
	st, _ := f.queue.Status(id)
	assert.Contains(t, st.Error, "deadline exceeded")
}

func TestEngine_StopWaitsForInFlightJob(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, baseEngineConfig(), nil)

	started := make(chan struct{})
	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			time.Sleep(50 * time.Millisecond)
		}).
		Return(&schemas.JobResult{Success: true}, nil)
	f.store.On("PersistResult", mock.Anything, mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	f.engine.Start(ctx)
	id, err := f.queue.Enqueue(newTask("acct"), queue.EnqueueOptions{})
	require.NoError(t, err)
	<-started

	// Cancelling the start context only stops workers from pulling more work.
	cancel()
	stop(t, f.engine)

	st, _ := f.queue.Status(id)
	assert.Equal(t, queue.StateCompleted, st.State)
	f.store.AssertExpectations(t)
}

func TestEngine_StopCancelsJobsAfterGrace(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := baseEngineConfig()
	cfg.MaxAttempts = 3
	cfg.ShutdownGrace = 20 * time.Millisecond
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, cfg, zap.New(core))

	started := make(chan struct{})
	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)
	f.store.On("PersistResult", mock.Anything, mock.MatchedBy(func(rec store.JobRecord) bool {
		return rec.State == "failed"
	})).Return(nil).Once()

	f.engine.Start(context.Background())
	id, err := f.queue.Enqueue(newTask("stuck"), queue.EnqueueOptions{})
	require.NoError(t, err)
	<-started

	stop(t, f.engine)

	st, _ := f.queue.Status(id)
	assert.Equal(t, queue.StateFailed, st.State, "a closed queue must not schedule retries")
	assert.Equal(t, 1, logs.FilterMessage("Shutdown grace period elapsed, cancelling in-flight jobs").Len())
	f.store.AssertExpectations(t)
	f.sessions.AssertCalled(t, "CloseAll", mock.Anything)
}

func TestEngine_PersistFailureIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newFixture(t, baseEngineConfig(), zap.New(core))

	f.processor.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(&schemas.JobResult{Success: true}, nil)
	f.store.On("PersistResult", mock.Anything, mock.Anything).Return(errors.New("db down"))

	f.engine.Start(context.Background())
	id, err := f.queue.Enqueue(newTask("acct"), queue.EnqueueOptions{})
	require.NoError(t, err)
	waitForState(t, f.queue, id, queue.StateCompleted)
	stop(t, f.engine)

	entries := logs.FilterMessage("Failed to persist job result").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["job_id"])
	assert.Contains(t, fields["session_id"], "acct-")
	assert.EqualValues(t, 1, fields["attempt"])
}

func TestEngine_StartTwiceIsIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, baseEngineConfig(), zap.New(core))

	f.engine.Start(context.Background())
	f.engine.Start(context.Background())
	stop(t, f.engine)

	assert.Equal(t, 1, logs.FilterMessage("Engine.Start called, but engine is already running.").Len())
	assert.NoError(t, f.engine.Stop(context.Background()), "stopping a stopped engine is a no-op")
}
