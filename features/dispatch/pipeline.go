package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// taskTimeout bounds a single evaluation plus enqueue, so a stuck work
// queue cannot wedge the drain.
const taskTimeout = 30 * time.Second

// Task is one unit of work: usually "decode, evaluate, maybe enqueue" for
// a single post, occasionally a maintenance callback.
type Task func(ctx context.Context)

// Pipeline decouples the stream reader from match evaluation and job
// submission: a single bounded queue, the listener as sole producer, and
// one or more workers consuming tasks. With one worker (the default) posts
// are evaluated in stream order.
type Pipeline struct {
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPipeline creates a Pipeline and starts its workers.
func NewPipeline(workers, queueSize int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pipeline{
		tasks: make(chan Task, queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}

	log.Debug().Int("workers", workers).Int("queue_size", queueSize).Msg("Dispatch pipeline started")

	return p
}

// Submit queues a task. It returns false once the pipeline has been
// closed; the caller drops the task and logs.
func (p *Pipeline) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.tasks <- task
	return true
}

// worker consumes tasks until the queue is closed and drained. A failure
// inside one task never stops the loop.
func (p *Pipeline) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		p.runTask(id, task)
	}
}

func (p *Pipeline) runTask(worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", worker).Any("panic", r).Msg("Dispatch task panicked")
		}
	}()

	// Tasks run on their own context, not the stop signal: queued work is
	// still processed during the shutdown drain.
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	task(ctx)
}

// Close marks the end of the task stream. No further Submit calls will be
// accepted; workers finish the queued tasks and exit.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

// Drain waits until every queued task has been processed, or ctx expires.
// Close must have been called first.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Dispatch pipeline drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
