package batch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/surge/internal/archive"
	"github.com/smallbiznis/surge/internal/config"
	"github.com/smallbiznis/surge/internal/events"
	"github.com/smallbiznis/surge/internal/observability/metrics"
	"github.com/smallbiznis/surge/internal/packet"
	"github.com/smallbiznis/surge/internal/queue"
	"github.com/smallbiznis/surge/internal/ratelimit"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Builder interface {
	Build(ctx context.Context, s *surgedomain.Surge, householdID snowflake.ID, progress packet.ProgressFunc) (*surgedomain.Snapshot, error)
}

type Archiver interface {
	BuildArchive(ctx context.Context, surgeID snowflake.ID, householdIDs []snowflake.ID) (archive.Ref, error)
}

type Limiter interface {
	Allow(ctx context.Context, actorID string) (*ratelimit.RateLimitResult, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Surges   surgedomain.Repository
	Builder  Builder
	Archiver Archiver
	Limiter  Limiter
	Guard    *ratelimit.BuildGuard
	Emitter  events.Emitter
	Pipeline *config.PipelineConfigHolder
	Metrics  *metrics.PipelineMetrics `optional:"true"`
}

// Orchestrator accepts prepare requests and runs their builds in the
// background. Callers observe progress only through emitted events.
type Orchestrator struct {
	db        *gorm.DB
	log       *zap.Logger
	surgeRepo surgedomain.Repository
	builder   Builder
	archiver  Archiver
	limiter   Limiter
	guard     *ratelimit.BuildGuard
	emitter   events.Emitter
	pipeline  *config.PipelineConfigHolder
	metrics   *metrics.PipelineMetrics
	tracer    trace.Tracer

	mu       sync.Mutex
	stopping bool
	running  sync.WaitGroup
}

func NewOrchestrator(p Params) *Orchestrator {
	return &Orchestrator{
		db:        p.DB,
		log:       p.Log.Named("batch.orchestrator"),
		surgeRepo: p.Surges,
		builder:   p.Builder,
		archiver:  p.Archiver,
		limiter:   p.Limiter,
		guard:     p.Guard,
		emitter:   p.Emitter,
		pipeline:  p.Pipeline,
		metrics:   p.Metrics,
		tracer:    otel.Tracer("surge/batch"),
	}
}

// Prepare validates the request, emits the initial progress event, queues one
// build per household and returns without waiting for any build.
func (o *Orchestrator) Prepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error) {
	actorID := strings.TrimSpace(req.ActorID)
	if actorID == "" {
		return PrepareResponse{}, ErrActorRequired
	}
	action, err := ParsePostAction(string(req.PostAction))
	if err != nil {
		return PrepareResponse{}, err
	}

	if err := o.admit(ctx, actorID); err != nil {
		return PrepareResponse{}, err
	}

	s, err := o.surgeRepo.FindByID(ctx, o.db, req.SurgeID)
	if err != nil {
		return PrepareResponse{}, err
	}
	if s == nil {
		return PrepareResponse{}, surgedomain.ErrSurgeNotFound
	}

	households := submissionOrder(req.Order, req.HouseholdIDs)
	if len(households) == 0 {
		return PrepareResponse{}, ErrNoHouseholds
	}

	cfg := o.pipeline.Get()
	b := &run{
		id:       strings.ToLower(ulid.Make().String()),
		channel:  events.ActorChannel(actorID),
		surge:    s,
		action:   action,
		steps:    int64(s.StepsPerHousehold()),
		count:    len(households),
		emitter:  o.emitter,
		log:      o.log,
		selected: households,
	}
	b.total = b.steps * int64(b.count)

	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return PrepareResponse{}, ErrShuttingDown
	}
	o.running.Add(1)
	o.mu.Unlock()

	// Builds outlive the request that started them.
	workCtx := context.WithoutCancel(ctx)
	workCtx, span := o.tracer.Start(workCtx, "batch.run", trace.WithAttributes(
		attribute.String("batch.id", b.id),
		attribute.String("surge.id", s.ID.String()),
		attribute.Int("batch.households", b.count),
		attribute.Int64("batch.total_steps", b.total),
	))

	b.emitProgress(workCtx, 0)

	q := queue.New(workCtx, cfg.Workers, o.log)
	for _, householdID := range households {
		if err := q.Submit(householdID.String(), o.task(b, householdID)); err != nil {
			o.log.Error("batch.submit_failed", zap.String("batch_id", b.id), zap.Error(err))
		}
	}
	q.OnDrain(func(stats queue.Stats) {
		defer o.running.Done()
		defer span.End()
		o.finish(workCtx, b, stats)
	})
	q.Close()

	o.metrics.RecordBatch(string(action))
	o.log.Info("batch.accepted",
		zap.String("batch_id", b.id),
		zap.String("surge_id", s.ID.String()),
		zap.String("actor_id", actorID),
		zap.Int("households", b.count),
		zap.Int64("total_steps", b.total),
		zap.String("action", string(action)),
		zap.Int("workers", cfg.Workers),
	)

	return PrepareResponse{
		Accepted:        true,
		TotalHouseholds: b.count,
		TotalSteps:      b.total,
		BatchID:         b.id,
	}, nil
}

// Wait blocks until every accepted batch has emitted its final event or ctx
// ends. No new batches are accepted afterwards.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	o.stopping = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) admit(ctx context.Context, actorID string) error {
	if o.limiter == nil {
		return nil
	}
	result, err := o.limiter.Allow(ctx, actorID)
	if err != nil {
		o.log.Warn("batch.rate_limit_check_failed", zap.String("actor_id", actorID), zap.Error(err))
		return nil
	}
	if result != nil && !result.Allowed {
		o.metrics.RecordRateLimitDenied()
		return &RateLimitError{RetryAfter: result.RetryAfter}
	}
	return nil
}

// task builds one household. The household always accounts for exactly its
// share of steps, however far the build got.
func (o *Orchestrator) task(b *run, householdID snowflake.ID) queue.Task {
	return func(ctx context.Context) error {
		var ticked int64
		progress := func() {
			if ticked < b.steps {
				ticked++
				b.tick(ctx)
			}
		}
		defer func() {
			for ticked < b.steps {
				ticked++
				b.tick(ctx)
			}
		}()

		if o.guard != nil {
			release, ok, err := o.guard.Acquire(ctx, b.surge.ID, householdID)
			switch {
			case err != nil:
				o.log.Warn("batch.build_guard_failed", zap.String("household_id", householdID.String()), zap.Error(err))
			case !ok:
				o.log.Warn("batch.build_in_progress",
					zap.String("batch_id", b.id),
					zap.String("household_id", householdID.String()),
				)
				return ErrBuildInProgress
			default:
				defer release()
			}
		}

		if _, err := o.builder.Build(ctx, b.surge, householdID, progress); err != nil {
			return err
		}
		b.markBuilt(householdID)
		return nil
	}
}

func (o *Orchestrator) finish(ctx context.Context, b *run, stats queue.Stats) {
	b.forceComplete(ctx)

	done := AllDoneEvent{
		SurgeID:      b.surge.ID.String(),
		BatchID:      b.id,
		Action:       b.action,
		SuccessCount: stats.Succeeded,
		ErrorCount:   stats.Failed,
		Total:        b.count,
	}

	if b.action == PostActionDownload && o.archiver != nil {
		o.archive(ctx, b, &done)
	}

	o.metrics.RecordBatchResult(stats.Succeeded, stats.Failed)
	if err := o.emitter.Emit(ctx, b.channel, events.EventAllDone, done); err != nil {
		o.log.Warn("batch.emit_failed", zap.String("batch_id", b.id), zap.String("event", events.EventAllDone), zap.Error(err))
	}
	o.log.Info("batch.drained",
		zap.String("batch_id", b.id),
		zap.String("surge_id", done.SurgeID),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
		zap.Bool("archived", done.ArchiveRef != ""),
	)
}

// archive bundles only the packets built by this batch. A household that
// failed keeps its previous snapshot, which must not reach the download.
func (o *Orchestrator) archive(ctx context.Context, b *run, done *AllDoneEvent) {
	built := b.builtHouseholds()
	if len(built) == 0 {
		o.log.Warn("batch.archive_skipped", zap.String("batch_id", b.id), zap.String("reason", "nothing_built"))
		return
	}
	ref, err := o.archiver.BuildArchive(ctx, b.surge.ID, built)
	if err != nil {
		o.log.Warn("batch.archive_failed", zap.String("batch_id", b.id), zap.Error(err))
		return
	}
	expiresAt := ref.ExpiresAt
	done.ArchiveRef = ref.URL
	done.ArchiveKey = ref.Key
	done.ExpiresAt = &expiresAt
}

// submissionOrder filters order to the selection, appends selected
// households it does not mention, and drops repeats.
func submissionOrder(order, selection []snowflake.ID) []snowflake.ID {
	selected := make(map[snowflake.ID]struct{}, len(selection))
	for _, id := range selection {
		selected[id] = struct{}{}
	}

	queued := make(map[snowflake.ID]struct{}, len(selected))
	out := make([]snowflake.ID, 0, len(selected))
	push := func(id snowflake.ID) {
		if _, ok := selected[id]; !ok {
			return
		}
		if _, dup := queued[id]; dup {
			return
		}
		queued[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range order {
		push(id)
	}
	for _, id := range selection {
		push(id)
	}
	return out
}

// run is the shared state of one accepted batch.
type run struct {
	id       string
	channel  string
	surge    *surgedomain.Surge
	action   PostAction
	steps    int64
	count    int
	total    int64
	selected []snowflake.ID

	emitter events.Emitter
	log     *zap.Logger

	completed atomic.Int64

	builtMu sync.Mutex
	built   map[snowflake.ID]struct{}

	emitMu   sync.Mutex
	lastSent int64
}

func (b *run) markBuilt(householdID snowflake.ID) {
	b.builtMu.Lock()
	defer b.builtMu.Unlock()
	if b.built == nil {
		b.built = make(map[snowflake.ID]struct{}, b.count)
	}
	b.built[householdID] = struct{}{}
}

// builtHouseholds returns the households built by this batch in submission
// order.
func (b *run) builtHouseholds() []snowflake.ID {
	b.builtMu.Lock()
	defer b.builtMu.Unlock()
	out := make([]snowflake.ID, 0, len(b.built))
	for _, id := range b.selected {
		if _, ok := b.built[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (b *run) tick(ctx context.Context) {
	n := b.completed.Add(1)
	if n > b.total {
		n = b.total
	}
	b.emitProgress(ctx, n)
}

func (b *run) forceComplete(ctx context.Context) {
	b.completed.Store(b.total)
	b.emitProgress(ctx, b.total)
}

// emitProgress never emits a value lower than one already sent. The zero
// event and the final tick are always sent.
func (b *run) emitProgress(ctx context.Context, completed int64) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	if completed != 0 && completed != b.total && completed <= b.lastSent {
		return
	}
	if completed > b.lastSent {
		b.lastSent = completed
	}
	err := b.emitter.Emit(ctx, b.channel, events.EventProgress, ProgressEvent{
		SurgeID:   b.surge.ID.String(),
		BatchID:   b.id,
		Completed: completed,
		Total:     b.total,
	})
	if err != nil {
		b.log.Warn("batch.emit_failed", zap.String("batch_id", b.id), zap.String("event", events.EventProgress), zap.Error(err))
	}
}
