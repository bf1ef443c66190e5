// Package parallel runs batches of independent workflow tasks on a bounded
// worker pool with reexecution, backoff and a stall watchdog.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/handshake-go/metrics"
	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/emit"
)

// Unbounded requests a pool without a concurrency limit.
const Unbounded = -1

const (
	defaultBackoffBase = 50 * time.Millisecond
	defaultBackoffMax  = 2 * time.Second
)

// Stats is a point-in-time view of an Executor's counters.
type Stats struct {
	Size         int
	Reexecutions int
	Submitted    int64
	Completed    int64
	Active       int64
}

// Executor runs task batches.
//
// An Executor may serve several batches, sequentially or concurrently. The
// pool size bounds the number of tasks running at once across all batches.
type Executor struct {
	size         int
	reexecutions int
	sem          *semaphore.Weighted

	backoffBase time.Duration
	backoffMax  time.Duration

	watchdogTimeout time.Duration
	watchdogTick    time.Duration
	recovery        RecoveryFunc

	logger   zerolog.Logger
	metrics  *metrics.PrometheusMetrics
	emitter  emit.Emitter
	execOpts []workflow.Option

	mu       sync.Mutex
	defaults workflow.Callbacks
	rng      *rand.Rand

	submitted atomic.Int64
	completed atomic.Int64
	active    atomic.Int64

	closed  atomic.Bool
	batches sync.WaitGroup
}

// New creates an Executor with at most size concurrent tasks (or Unbounded)
// that retries each failed task up to reexecutions times.
func New(size, reexecutions int, opts ...Option) (*Executor, error) {
	if size != Unbounded && size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, size)
	}
	if reexecutions < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReexecutions, reexecutions)
	}

	e := &Executor{
		size:         size,
		reexecutions: reexecutions,
		backoffBase:  defaultBackoffBase,
		backoffMax:   defaultBackoffMax,
		logger:       zerolog.Nop(),
		emitter:      emit.NewNullEmitter(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
	if size != Unbounded {
		e.sem = semaphore.NewWeighted(int64(size))
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.metrics != nil {
		e.execOpts = append([]workflow.Option{workflow.WithMetrics(e.metrics)}, e.execOpts...)
	}
	return e, nil
}

// SetDefaultCallbacks sets the callbacks inherited by tasks that have none.
// Set it before submitting a batch.
func (e *Executor) SetDefaultCallbacks(cb workflow.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = cb
}

// Stats returns the current counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Size:         e.size,
		Reexecutions: e.reexecutions,
		Submitted:    e.submitted.Load(),
		Completed:    e.completed.Load(),
		Active:       e.active.Load(),
	}
}

// Shutdown stops accepting new batches and waits for running batches to
// finish. Running tasks are never interrupted.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	e.closed.Store(true)
	e.mu.Unlock()
	e.batches.Wait()
}

// BulkExecute runs tasks and blocks until all of them completed. Results are
// returned in input order.
//
// A task whose every attempt failed is reported with HasError and does not
// fail the batch. A panicking task, a failed watchdog recovery or a cancelled
// ctx returns an error; tasks not yet started are then left unexecuted.
func (e *Executor) BulkExecute(ctx context.Context, tasks []Task) ([]Result, error) {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return nil, ErrExecutorShutdown
	}
	e.batches.Add(1)
	e.mu.Unlock()
	defer e.batches.Done()

	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i] = Result{Task: t, Index: i}
	}

	g, gctx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	if e.watchdogTimeout > 0 {
		g.Go(func() error { return e.watch(gctx, done) })
	}

	var running sync.WaitGroup
	for i, t := range tasks {
		if err := e.acquire(gctx); err != nil {
			break
		}
		e.submitted.Add(1)
		running.Add(1)
		g.Go(func() error {
			defer running.Done()
			defer e.release()
			return e.runTask(gctx, t, &results[i])
		})
	}
	g.Go(func() error {
		running.Wait()
		close(done)
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}

// BulkExecuteStates wraps each state in a StateTask and runs the batch.
func (e *Executor) BulkExecuteStates(ctx context.Context, states []*workflow.State) ([]*StateTask, error) {
	stateTasks := make([]*StateTask, len(states))
	tasks := make([]Task, len(states))
	for i, s := range states {
		stateTasks[i] = NewStateTask(s)
		tasks[i] = stateTasks[i]
	}

	results, err := e.BulkExecute(ctx, tasks)
	for _, r := range results {
		stateTasks[r.Index].apply(r)
	}
	return stateTasks, err
}

func (e *Executor) acquire(ctx context.Context) error {
	if e.sem == nil {
		return ctx.Err()
	}
	return e.sem.Acquire(ctx, 1)
}

func (e *Executor) release() {
	if e.sem != nil {
		e.sem.Release(1)
	}
}

func (e *Executor) runTask(ctx context.Context, t Task, res *Result) error {
	if d, ok := t.(DefaultsReceiver); ok {
		e.mu.Lock()
		cb := e.defaults
		e.mu.Unlock()
		d.InheritDefaults(cb, e.execOpts)
	}

	e.active.Add(1)
	e.metrics.AddInflightTasks(1)
	start := time.Now()
	defer func() {
		e.active.Add(-1)
		e.metrics.AddInflightTasks(-1)
		e.completed.Add(1)
	}()

	log := e.logger.With().Int("task", res.Index).Logger()

	for attempt := 0; attempt <= e.reexecutions; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt - 1)
			log.Debug().Int("attempt", attempt).Dur("delay", delay).Err(res.Err).Msg("reexecuting task")
			e.metrics.IncrementReexecutions()
			e.emitter.Emit(emit.Event{
				Step: res.Index,
				Msg:  emit.MsgTaskReexecution,
				Meta: map[string]interface{}{"attempt": attempt, "error": res.Err.Error()},
			})
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			t.Reset()
		}

		res.Attempts++
		err := e.attempt(ctx, t, res.Index)
		var panicErr *TaskPanicError
		if errors.As(err, &panicErr) {
			e.metrics.RecordTaskLatency(time.Since(start), "panic")
			log.Error().Interface("panic", panicErr.Value).Msg("task panicked")
			return err
		}
		res.Err = err
		if err == nil {
			e.metrics.RecordTaskLatency(time.Since(start), "success")
			e.emitter.Emit(emit.Event{
				Step: res.Index,
				Msg:  emit.MsgTaskComplete,
				Meta: map[string]interface{}{"attempt": attempt, "duration_ms": time.Since(start).Milliseconds()},
			})
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	res.HasError = true
	e.metrics.RecordTaskLatency(time.Since(start), "error")
	log.Warn().Err(res.Err).Int("attempts", res.Attempts).Msg("task failed after reexecutions")
	e.emitter.Emit(emit.Event{
		Step: res.Index,
		Msg:  emit.MsgTaskComplete,
		Meta: map[string]interface{}{"attempt": res.Attempts - 1, "error": res.Err.Error()},
	})
	return nil
}

func (e *Executor) attempt(ctx context.Context, t Task, index int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskPanicError{Index: index, Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Execute(ctx)
}

func (e *Executor) backoff(attempt int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return computeBackoff(attempt, e.backoffBase, e.backoffMax, e.rng)
}
