package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("queue_closed")

// Task is one unit of work. A returned error or a panic marks the task as
// failed without affecting other tasks.
type Task func(ctx context.Context) error

type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
}

type job struct {
	seq  int64
	name string
	task Task
}

// drainWaiter fires once every job with seq <= target has finished.
type drainWaiter struct {
	target int64
	fn     func(Stats)
}

// Queue runs submitted tasks on a fixed number of workers in submission
// order. It holds no business knowledge.
type Queue struct {
	ctx context.Context
	log *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	closed  bool
	// settled is the highest seq such that every job up to it has finished.
	settled   int64
	outOfTurn map[int64]struct{}
	waiters   []drainWaiter
	callbacks int

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	workers sync.WaitGroup
}

// New starts a queue with the given number of workers. Every task receives
// ctx.
func New(ctx context.Context, workers int, log *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		ctx:       ctx,
		log:       log.Named("queue"),
		outOfTurn: make(map[int64]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

// Submit enqueues a task. It never waits for a free worker.
func (q *Queue) Submit(name string, task Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	seq := q.submitted.Add(1)
	q.pending = append(q.pending, job{seq: seq, name: name, task: task})
	q.cond.Signal()
	return nil
}

// OnDrain registers fn to run exactly once after every task submitted before
// this call has finished. fn runs on its own goroutine.
func (q *Queue) OnDrain(fn func(Stats)) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	target := q.submitted.Load()
	if q.settled >= target {
		q.fireLocked(fn)
		return
	}
	q.waiters = append(q.waiters, drainWaiter{target: target, fn: fn})
}

// Close stops accepting tasks. Pending tasks still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Wait blocks until the queue is closed, every task has finished and every
// drain callback started so far has returned.
func (q *Queue) Wait() {
	q.workers.Wait()
	q.mu.Lock()
	for q.callbacks > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.run(next)
	}
}

func (q *Queue) run(j job) {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = j.task(q.ctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
		q.log.Error("task panicked", zap.String("task", j.name), zap.String("panic", recovered.String()))
	}

	if err != nil {
		q.failed.Add(1)
		q.log.Warn("task failed", zap.String("task", j.name), zap.Error(err))
	} else {
		q.succeeded.Add(1)
	}

	q.mu.Lock()
	q.settle(j.seq)
	remaining := q.waiters[:0]
	for _, w := range q.waiters {
		if q.settled >= w.target {
			q.fireLocked(w.fn)
			continue
		}
		remaining = append(remaining, w)
	}
	q.waiters = remaining
	q.mu.Unlock()
}

// settle records seq as finished and advances settled past every
// contiguous finished job. Callers hold q.mu.
func (q *Queue) settle(seq int64) {
	if seq != q.settled+1 {
		q.outOfTurn[seq] = struct{}{}
		return
	}
	q.settled = seq
	for {
		if _, ok := q.outOfTurn[q.settled+1]; !ok {
			return
		}
		delete(q.outOfTurn, q.settled+1)
		q.settled++
	}
}

// fireLocked runs fn on its own goroutine. Callers hold q.mu.
func (q *Queue) fireLocked(fn func(Stats)) {
	q.callbacks++
	go func() {
		defer func() {
			q.mu.Lock()
			q.callbacks--
			q.cond.Broadcast()
			q.mu.Unlock()
		}()
		fn(q.Stats())
	}()
}
