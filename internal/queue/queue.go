// internal/queue/queue.go
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/config"
)

var (
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("queue closed")
	// ErrJobNotFound is returned for ids the queue never issued or has pruned.
	ErrJobNotFound = errors.New("job not found")
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Options tunes retries, admission and retention.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	RetainCompleted config.RetentionConfig
	RetainFailed    config.RetentionConfig
}

// OptionsFromConfig maps the engine section onto queue options.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		RetainCompleted: cfg.RetainCompleted,
		RetainFailed:    cfg.RetainFailed,
	}
}

// EnqueueOptions are per-job overrides. Higher Priority is served first.
// A zero MaxAttempts uses the queue default.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
}

// Job is handed to a worker by Dequeue. Attempt starts at 1.
type Job struct {
	ID          string
	Task        schemas.Task
	Attempt     int
	MaxAttempts int
}

// JobStatus is the externally visible record of a job.
type JobStatus struct {
	ID            string             `json:"jobId"`
	SessionID     string             `json:"sessionId"`
	State         State              `json:"status"`
	Priority      int                `json:"priority"`
	Progress      int                `json:"progress"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"maxAttempts"`
	Result        *schemas.JobResult `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	NextAttemptAt *time.Time         `json:"nextAttemptAt,omitempty"`
	FinishedAt    *time.Time         `json:"finishedAt,omitempty"`
}

type record struct {
	status JobStatus
	task   schemas.Task
	seq    uint64
	index  int
	timer  *time.Timer
}

// waitingHeap orders by priority, then by enqueue sequence.
type waitingHeap []*record

func (h waitingHeap) Len() int { return len(h) }
func (h waitingHeap) Less(i, j int) bool {
	if h[i].status.Priority != h[j].status.Priority {
		return h[i].status.Priority > h[j].status.Priority
	}
	return h[i].seq < h[j].seq
}
func (h waitingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *waitingHeap) Push(x interface{}) {
	r := x.(*record)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *waitingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// Queue is an in-process job queue with priorities, delayed retries and
// rate limited admission. All methods are safe for concurrent use.
type Queue struct {
	opts    Options
	logger  *zap.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	records map[string]*record
	waiting waitingHeap
	seq     uint64
	wake    chan struct{}
	closed  bool

	// closing is cancelled by Close to interrupt admission waits.
	closing   context.Context
	stopAll   context.CancelFunc
	closeOnce sync.Once
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the clock used for timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue.
func New(opts Options, logger *zap.Logger, options ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	limit := rate.Inf
	burst := 1
	if opts.RateLimitMax > 0 && opts.RateLimitWindow > 0 {
		limit = rate.Every(opts.RateLimitWindow / time.Duration(opts.RateLimitMax))
		burst = opts.RateLimitMax
	}
	q := &Queue{
		opts:    opts,
		logger:  logger.Named("queue"),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		records: make(map[string]*record),
		wake:    make(chan struct{}),
	}
	q.closing, q.stopAll = context.WithCancel(context.Background())
	for _, o := range options {
		o(q)
	}
	return q
}

// Backoff returns the delay before retry number attempt: base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// broadcast wakes every blocked Dequeue. Callers hold q.mu.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Enqueue validates and queues task and returns the new job id.
func (q *Queue) Enqueue(task schemas.Task, opts EnqueueOptions) (string, error) {
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("invalid task: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	now := q.now().UTC()
	q.seq++
	r := &record{
		task: task,
		seq:  q.seq,
		status: JobStatus{
			ID:          uuid.NewString(),
			SessionID:   task.SessionID,
			State:       StateWaiting,
			Priority:    opts.Priority,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	q.records[r.status.ID] = r
	heap.Push(&q.waiting, r)
	q.broadcast()

	q.logger.Debug("Job enqueued",
		zap.String("job_id", r.status.ID),
		zap.String("session_id", task.SessionID),
		zap.Int("priority", opts.Priority))
	return r.status.ID, nil
}

// Dequeue blocks until a job is admitted by the rate limiter and available,
// ctx ends, or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.closing, cancel)
	defer stop()

	if err := q.limiter.Wait(waitCtx); err != nil {
		if q.closing.Err() != nil {
			return nil, ErrQueueClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if q.waiting.Len() > 0 {
			r := heap.Pop(&q.waiting).(*record)
			r.status.State = StateActive
			r.status.Attempts++
			r.status.Progress = 0
			r.status.NextAttemptAt = nil
			r.status.UpdatedAt = q.now().UTC()
			job := &Job{
				ID:          r.status.ID,
				Task:        r.task,
				Attempt:     r.status.Attempts,
				MaxAttempts: r.status.MaxAttempts,
			}
			q.mu.Unlock()
			return job, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Progress records pct, clamped to 0..100, for an active job.
func (q *Queue) Progress(id string, pct int) error {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok {
		return ErrJobNotFound
	}
	r.status.Progress = pct
	r.status.UpdatedAt = q.now().UTC()
	return nil
}

// Complete marks the job completed with result.
func (q *Queue) Complete(id string, result *schemas.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok {
		return ErrJobNotFound
	}
	now := q.now().UTC()
	r.status.State = StateCompleted
	r.status.Progress = 100
	r.status.Result = result
	r.status.Error = ""
	r.status.UpdatedAt = now
	r.status.FinishedAt = &now
	q.prune(now)
	return nil
}

// Fail records cause and returns the job's new state: delayed when a retry
// was scheduled after Backoff, failed once attempts are exhausted or the
// queue is closed.
func (q *Queue) Fail(id string, cause error) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok {
		return "", ErrJobNotFound
	}
	now := q.now().UTC()
	r.status.UpdatedAt = now
	if cause != nil {
		r.status.Error = cause.Error()
	}
	log := q.logger.With(zap.String("job_id", id), zap.Int("attempt", r.status.Attempts))

	if r.status.Attempts < r.status.MaxAttempts && !q.closed {
		delay := Backoff(q.opts.BackoffBase, r.status.Attempts)
		next := now.Add(delay)
		r.status.State = StateDelayed
		r.status.NextAttemptAt = &next
		r.timer = time.AfterFunc(delay, func() { q.promote(id) })
		log.Info("Job failed, retry scheduled", zap.Duration("delay", delay), zap.Error(cause))
		return StateDelayed, nil
	}

	r.status.State = StateFailed
	r.status.NextAttemptAt = nil
	r.status.FinishedAt = &now
	log.Warn("Job failed permanently", zap.Error(cause))
	q.prune(now)
	return StateFailed, nil
}

// promote moves a delayed job back to waiting.
func (q *Queue) promote(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok || q.closed || r.status.State != StateDelayed {
		return
	}
	r.timer = nil
	r.status.State = StateWaiting
	r.status.UpdatedAt = q.now().UTC()
	heap.Push(&q.waiting, r)
	q.broadcast()
}

// Status returns a copy of the job's record.
func (q *Queue) Status(id string) (JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok {
		return JobStatus{}, false
	}
	return r.status, true
}

// Counts returns the number of known jobs per state.
func (q *Queue) Counts() map[State]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[State]int, 5)
	for _, r := range q.records {
		counts[r.status.State]++
	}
	return counts
}

// prune drops finished records beyond the retention limits. Callers hold q.mu.
func (q *Queue) prune(now time.Time) {
	q.pruneState(StateCompleted, q.opts.RetainCompleted, now)
	q.pruneState(StateFailed, q.opts.RetainFailed, now)
}

func (q *Queue) pruneState(state State, keep config.RetentionConfig, now time.Time) {
	var finished []*record
	for _, r := range q.records {
		if r.status.State == state {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].status.FinishedAt.After(*finished[j].status.FinishedAt)
	})
	for i, r := range finished {
		expired := keep.Age > 0 && now.Sub(*r.status.FinishedAt) > keep.Age
		overflow := keep.Count > 0 && i >= keep.Count
		if expired || overflow {
			delete(q.records, r.status.ID)
		}
	}
}

// Close stops admission. Blocked and future Dequeue calls return
// ErrQueueClosed and pending retries are cancelled. Jobs already handed out
// may still report Progress, Complete and Fail.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		for _, r := range q.records {
			if r.timer != nil {
				r.timer.Stop()
				r.timer = nil
			}
		}
		q.broadcast()
		q.stopAll()
		q.logger.Info("Queue closed", zap.Int("waiting", q.waiting.Len()))
	})
}
