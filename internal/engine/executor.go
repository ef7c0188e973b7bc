package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/metrics"
	"github.com/leadkit/automation/internal/record"
)

// Task is one matched (automation, event) pair with its execution record.
// The automation snapshot is captured at dispatch time so the action list
// stays immutable for the lifetime of the execution.
type Task struct {
	Automation *automation.Automation
	Event      *event.Event
	Record     *record.ExecutionRecord

	// loadFailures counts consecutive failed record loads for this task.
	loadFailures int
}

// key returns the serialization key: tasks sharing an automation and a lead
// run one at a time, in event-timestamp order.
func (t *Task) key() string {
	return fmt.Sprintf("%d/%d", t.Automation.ID, t.Event.LeadID)
}

// Config holds executor tunables.
type Config struct {
	Workers       int
	QueueDepth    int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	ActionTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 16
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1024
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.ActionTimeout == 0 {
		c.ActionTimeout = 10 * time.Second
	}
}

// Executor runs action lists on a bounded worker pool. Intake never blocks:
// Enqueue fails fast when the queue is full and the caller reports that to
// the event source.
type Executor struct {
	records  record.Store
	handlers *action.Registry
	conf     Config

	pool *workerPool[string]

	mu      sync.Mutex
	closed  bool
	pending map[string][]*Task
	running map[string]struct{}
}

// NewExecutor starts the worker pool. Call Shutdown to drain it.
func NewExecutor(ctx context.Context, records record.Store, handlers *action.Registry, conf Config) *Executor {
	conf.applyDefaults()
	x := &Executor{
		records:  records,
		handlers: handlers,
		conf:     conf,
		pending:  make(map[string][]*Task),
		running:  make(map[string]struct{}),
	}
	x.pool = newWorkerPool(ctx, conf.Workers, conf.QueueDepth, x.processKey)
	return x
}

// Enqueue schedules a task, keeping per-key ordering by event timestamp.
// Returns false when the executor is shut down or the queue is full.
func (x *Executor) Enqueue(t *Task) bool {
	key := t.key()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return false
	}

	queue := append(x.pending[key], t)
	// Earliest event first: mutations for one lead under one automation
	// must apply in event-timestamp order.
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Event.OccurredAt.Before(queue[j].Event.OccurredAt)
	})
	x.pending[key] = queue

	if _, ok := x.running[key]; ok {
		return true
	}
	if !x.pool.Submit(key) {
		// Roll back: the task was never scheduled.
		x.removeLocked(key, t)
		return false
	}
	x.running[key] = struct{}{}
	return true
}

// removeLocked deletes t from the key's queue by identity. Callers hold x.mu.
func (x *Executor) removeLocked(key string, t *Task) {
	queue := x.pending[key]
	for i, q := range queue {
		if q == t {
			x.pending[key] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(x.pending[key]) == 0 {
		delete(x.pending, key)
	}
}

// QueueUtilization returns queue used / capacity (0–1).
func (x *Executor) QueueUtilization() float64 {
	if x.pool.QueueCap() == 0 {
		return 0
	}
	return float64(x.pool.QueueLen()) / float64(x.pool.QueueCap())
}

// Shutdown drains the pool. In-flight attempts complete; scheduled retries
// that fire afterwards are dropped and their records stay retrying until
// redelivery resumes them.
func (x *Executor) Shutdown() {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return
	}
	x.closed = true
	x.mu.Unlock()
	x.pool.Drain()
}

// processKey runs queued tasks for one serialization key until none remain.
// The head task stays queued while it runs, and a nonzero retry delay parks
// the whole key until the delay elapses, so later events for the same
// automation and lead cannot overtake an unfinished execution.
func (x *Executor) processKey(ctx context.Context, key string) {
	for {
		x.mu.Lock()
		queue := x.pending[key]
		if len(queue) == 0 {
			delete(x.pending, key)
			delete(x.running, key)
			x.mu.Unlock()
			return
		}
		t := queue[0]
		x.mu.Unlock()

		if delay := x.runTask(ctx, t); delay > 0 {
			// The key keeps its running mark while parked, so Enqueue
			// queues behind the retry instead of resubmitting the key.
			time.AfterFunc(delay, func() { x.resume(key) })
			return
		}

		x.mu.Lock()
		x.removeLocked(key, t)
		x.mu.Unlock()
	}
}

// resume puts a parked key back on the pool once its retry delay elapsed.
func (x *Executor) resume(key string) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		metrics.EventsDropped.Inc()
		slog.Warn("retry dropped, executor shut down", "key", key)
		return
	}
	if x.pool.Submit(key) {
		x.mu.Unlock()
		return
	}
	x.mu.Unlock()
	// Queue full. Try again later rather than stranding the key with its
	// running mark set.
	time.AfterFunc(x.conf.BackoffBase, func() { x.resume(key) })
}

// runTask executes one task and returns the delay before it must be
// retried, or zero when the task is finished.
func (x *Executor) runTask(ctx context.Context, t *Task) time.Duration {
	rec, err := x.records.Get(ctx, t.Record.ID)
	if err != nil {
		t.loadFailures++
		if t.loadFailures >= x.conf.MaxAttempts {
			slog.Error("load execution record, giving up",
				"record_id", t.Record.ID, "attempts", t.loadFailures, "err", err)
			return 0
		}
		slog.Error("load execution record",
			"record_id", t.Record.ID, "attempt", t.loadFailures, "err", err)
		return x.backoff(t.loadFailures)
	}
	t.loadFailures = 0
	if rec.Status.Terminal() {
		return 0
	}
	t.Record = rec
	actions := t.Automation.Actions

	for rec.ActionIndex < len(actions) {
		act := actions[rec.ActionIndex]
		h, err := x.handlers.Get(act.Type)
		if err != nil {
			x.fail(ctx, rec, err)
			return 0
		}

		rec.AttemptCount++
		applyErr := x.apply(ctx, h, t, act)

		if applyErr == nil {
			metrics.ActionsExecuted.WithLabelValues(string(act.Type), "success").Inc()
			rec.ActionIndex++
			rec.LastError = ""
			rec.Status = record.StatusPending
			if rec.ActionIndex < len(actions) {
				// The attempt counter tracks the current action.
				rec.AttemptCount = 0
			}
			if err := x.records.Update(ctx, rec); err != nil {
				slog.Error("persist execution record", "record_id", rec.ID, "err", err)
			}
			continue
		}

		if action.IsTransient(applyErr) && rec.AttemptCount < x.conf.MaxAttempts {
			metrics.ActionsExecuted.WithLabelValues(string(act.Type), "retry").Inc()
			metrics.ActionRetries.Inc()
			rec.Status = record.StatusRetrying
			rec.LastError = applyErr.Error()
			if err := x.records.Update(ctx, rec); err != nil {
				slog.Error("persist execution record", "record_id", rec.ID, "err", err)
			}
			delay := x.backoff(rec.AttemptCount)
			slog.Info("action retry scheduled",
				"record_id", rec.ID, "automation_id", rec.AutomationID,
				"action_index", rec.ActionIndex, "attempt", rec.AttemptCount, "delay", delay)
			return delay
		}

		metrics.ActionsExecuted.WithLabelValues(string(act.Type), "error").Inc()
		x.fail(ctx, rec, applyErr)
		return 0
	}

	rec.Status = record.StatusSucceeded
	rec.LastError = ""
	if err := x.records.Update(ctx, rec); err != nil {
		slog.Error("persist execution record", "record_id", rec.ID, "err", err)
	}
	metrics.ExecutionsCompleted.WithLabelValues(string(record.StatusSucceeded)).Inc()
	return 0
}

// apply invokes the handler with a per-action timeout and converts panics
// into permanent failures so one bad handler cannot take the worker down.
func (x *Executor) apply(ctx context.Context, h action.Handler, t *Task, act automation.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = action.Permanentf("action handler panic: %v", r)
		}
	}()
	actx, cancel := context.WithTimeout(ctx, x.conf.ActionTimeout)
	defer cancel()
	return h.Apply(actx, &action.Invocation{
		Automation: t.Automation,
		Action:     act,
		Index:      t.Record.ActionIndex,
		Event:      t.Event,
	})
}

func (x *Executor) fail(ctx context.Context, rec *record.ExecutionRecord, cause error) {
	rec.Status = record.StatusFailed
	rec.LastError = cause.Error()
	if err := x.records.Update(ctx, rec); err != nil {
		slog.Error("persist execution record", "record_id", rec.ID, "err", err)
	}
	metrics.ExecutionsCompleted.WithLabelValues(string(record.StatusFailed)).Inc()
	slog.Warn("execution failed",
		"record_id", rec.ID, "automation_id", rec.AutomationID,
		"action_index", rec.ActionIndex, "attempts", rec.AttemptCount, "err", cause)
}

func (x *Executor) backoff(attempt int) time.Duration {
	d := x.conf.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= x.conf.BackoffCap {
			return x.conf.BackoffCap
		}
	}
	if d > x.conf.BackoffCap {
		return x.conf.BackoffCap
	}
	return d
}
