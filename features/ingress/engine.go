package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	blockrepo "fedipull/features/blocks/repository"
	"fedipull/features/dispatch"
	"fedipull/features/filtercache"
	"fedipull/features/match"
	"fedipull/features/posts"
	rulerepo "fedipull/features/rules/repository"
	"fedipull/features/stream"
	"fedipull/internal/collector"
	"fedipull/internal/config"
	"fedipull/internal/runner"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxListRefreshFailures is how many consecutive periodic list-refresh
// failures are tolerated before the engine treats rule state as unknown
// and stops. Block-refresh failures stop immediately.
const maxListRefreshFailures = 3

// watcherJoinTimeout bounds the wait for the notification watcher to exit
// during shutdown.
const watcherJoinTimeout = 2 * time.Second

var errShuttingDown = errors.New("engine shutting down")

// Enqueuer submits one fetch job per matched post to the work queue.
type Enqueuer interface {
	EnqueueFetch(ctx context.Context, uri string) error
}

// Engine wires the filter cache, the stream listener, the dispatch
// pipeline and the work queue together, owns the shared stop signal, and
// sequences startup and teardown.
type Engine struct {
	cfg   *config.Config
	cache *filtercache.Cache
	queue Enqueuer

	pipeline *dispatch.Pipeline
	listener *stream.Listener
	runner   *runner.Runner

	listenDSN string
	watcher   *filtercache.Watcher

	stopCtx context.Context
	stop    context.CancelCauseFunc

	listenerDone chan struct{}
	watcherDone  chan struct{}

	listFailures atomic.Int32
	tracer       trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithListenDSN enables the LISTEN/NOTIFY invalidation watcher on its own
// store connection. Without it the cache refreshes on the timer alone.
func WithListenDSN(dsn string) Option {
	return func(e *Engine) {
		e.listenDSN = dsn
	}
}

// New builds an Engine over explicitly injected collaborators.
func New(cfg *config.Config, ruleRepo rulerepo.RuleRepository, blockRepo blockrepo.BlockRepository, queue Enqueuer, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		cache:        filtercache.New(ruleRepo, blockRepo, cfg.Cache.CompileWorkers),
		queue:        queue,
		listenerDone: make(chan struct{}),
		watcherDone:  make(chan struct{}),
		tracer:       otel.Tracer("fedipull/ingress"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start performs the initial cache load and launches the refresh
// scheduler, the invalidation watcher, the dispatch workers and the stream
// listener. The engine cannot start without a populated cache: evaluating
// posts against unknown block state is the one thing it must never do.
func (e *Engine) Start(ctx context.Context) error {
	e.stopCtx, e.stop = context.WithCancelCause(ctx)

	if err := e.cache.RefreshBlocks(ctx); err != nil {
		return fmt.Errorf("initial block load: %w", err)
	}
	if err := e.cache.RefreshLists(ctx); err != nil {
		return fmt.Errorf("initial list load: %w", err)
	}

	sched, err := runner.NewRunner()
	if err != nil {
		return err
	}
	e.runner = sched

	if err := sched.ScheduleEvery("refresh_blocks", e.cfg.Cache.BlocksInterval, e.refreshBlocksJob); err != nil {
		return err
	}
	if err := sched.ScheduleEvery("refresh_lists", e.cfg.Cache.ListsInterval, e.refreshListsJob); err != nil {
		return err
	}
	sched.Start()

	if e.listenDSN != "" {
		watcher, err := filtercache.NewWatcher(e.listenDSN, e.cfg.Cache.NotifyChannel, e.cache, func(err error) {
			e.stop(err)
		})
		if err != nil {
			return fmt.Errorf("start invalidation watcher: %w", err)
		}
		e.watcher = watcher

		go func() {
			defer close(e.watcherDone)
			watcher.Run(e.stopCtx)
		}()
	} else {
		close(e.watcherDone)
	}

	e.pipeline = dispatch.NewPipeline(e.cfg.Dispatch.Workers, e.cfg.Dispatch.QueueSize)
	e.listener = stream.NewListener(&e.cfg.Firehose, e.submitPayload)

	go func() {
		defer close(e.listenerDone)
		e.listener.Run(e.stopCtx)
	}()

	log.Info().Msg("Ingress engine started")

	return nil
}

// Done is closed when the stop signal has been raised, whether by a
// shutdown call, the parent context, or a systemic failure.
func (e *Engine) Done() <-chan struct{} {
	return e.stopCtx.Done()
}

// Err returns the stop cause, or nil while running.
func (e *Engine) Err() error {
	if e.stopCtx == nil {
		return nil
	}
	cause := context.Cause(e.stopCtx)
	if errors.Is(cause, errShuttingDown) {
		return nil
	}
	return cause
}

// Shutdown tears the engine down in the order that guarantees no queued
// task is lost: raise the stop signal, wait for the listener to exit, end
// the task stream, drain the workers, then cancel periodic work and
// release the watcher with a bounded join.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop(errShuttingDown)

	select {
	case <-e.listenerDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for listener exit: %w", ctx.Err())
	}

	e.pipeline.Close()
	if err := e.pipeline.Drain(ctx); err != nil {
		return fmt.Errorf("draining dispatch pipeline: %w", err)
	}

	if err := e.runner.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop refresh scheduler")
	}

	if e.watcher != nil {
		_ = e.watcher.Close()
		select {
		case <-e.watcherDone:
		case <-time.After(watcherJoinTimeout):
			log.Warn().Msg("Invalidation watcher did not exit in time")
		}
	}

	e.cache.Close()

	log.Info().Msg("Ingress engine stopped")

	return nil
}

// submitPayload is the stream listener's handoff into the pipeline. The
// read loop continues immediately; decode and evaluation happen on a
// worker.
func (e *Engine) submitPayload(payload []byte) bool {
	return e.pipeline.Submit(e.evaluateTask(payload))
}

func (e *Engine) evaluateTask(payload []byte) dispatch.Task {
	return func(ctx context.Context) {
		ctx, span := e.tracer.Start(ctx, "ingress.evaluate")
		defer span.End()

		post, err := posts.Decode(payload)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable firehose payload")
			span.RecordError(err)
			if mc, _ := collector.GetMetricsCollector(); mc != nil {
				mc.IncrementPostsDropped()
			}
			return
		}

		span.SetAttributes(attribute.String("post.uri", post.URI))

		listID, ok := match.ShouldFetch(post, e.cache.Snapshot())
		if !ok {
			return
		}

		span.SetAttributes(attribute.Int64("list.id", listID))

		if mc, _ := collector.GetMetricsCollector(); mc != nil {
			mc.IncrementPostsMatched()
		}

		if err := e.queue.EnqueueFetch(ctx, post.URI); err != nil {
			log.Error().Err(err).Str("uri", post.URI).Msg("Failed to enqueue fetch job")
			span.RecordError(err)
			if mc, _ := collector.GetMetricsCollector(); mc != nil {
				mc.IncrementEnqueueFailures()
			}
			return
		}

		if mc, _ := collector.GetMetricsCollector(); mc != nil {
			mc.IncrementJobsEnqueued()
		}
	}
}

// refreshBlocksJob runs on the scheduler. Any failure escalates: a stale
// block set silently leaking suspended domains is worse than stopping.
func (e *Engine) refreshBlocksJob() {
	err := e.cache.RefreshBlocks(e.stopCtx)
	if mc, _ := collector.GetMetricsCollector(); mc != nil {
		mc.IncrementRefresh("blocks", err)
	}
	if err != nil && e.stopCtx.Err() == nil {
		log.Error().Err(err).Msg("Domain block refresh failed, stopping engine")
		e.stop(err)
	}
}

// refreshListsJob runs on the scheduler. Isolated failures are retried on
// the next tick; repeated failure means rule state is unknown and stops
// the engine.
func (e *Engine) refreshListsJob() {
	err := e.cache.RefreshLists(e.stopCtx)
	if mc, _ := collector.GetMetricsCollector(); mc != nil {
		mc.IncrementRefresh("lists", err)
	}

	if err == nil {
		e.listFailures.Store(0)
		return
	}
	if e.stopCtx.Err() != nil {
		return
	}

	failures := e.listFailures.Add(1)
	log.Error().Err(err).Int32("consecutive_failures", failures).Msg("List refresh failed")

	if failures >= maxListRefreshFailures {
		e.stop(fmt.Errorf("list refresh failed %d times: %w", failures, err))
	}
}

// Status is the engine state reported by the operations server.
type Status struct {
	Running        bool      `json:"running"`
	Generation     uint64    `json:"snapshot_generation"`
	Lists          int       `json:"list_definitions"`
	BlockedDomains int       `json:"blocked_domains"`
	ChangedAt      time.Time `json:"lists_changed_at"`
}

// Status reports the current snapshot shape.
func (e *Engine) Status() Status {
	snapshot := e.cache.Snapshot()

	running := e.stopCtx != nil && e.stopCtx.Err() == nil

	return Status{
		Running:        running,
		Generation:     snapshot.Generation,
		Lists:          len(snapshot.Lists),
		BlockedDomains: len(snapshot.Blocks),
		ChangedAt:      snapshot.ChangedAt,
	}
}

// Cache exposes the filter cache for the check command and tests.
func (e *Engine) Cache() *filtercache.Cache {
	return e.cache
}
