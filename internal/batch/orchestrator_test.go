package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/archive"
	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/config"
	"github.com/smallbiznis/surge/internal/events"
	householdrepo "github.com/smallbiznis/surge/internal/household/repository"
	"github.com/smallbiznis/surge/internal/packet"
	"github.com/smallbiznis/surge/internal/ratelimit"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	reportrepo "github.com/smallbiznis/surge/internal/report/repository"
	"github.com/smallbiznis/surge/internal/storage"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	surgerepo "github.com/smallbiznis/surge/internal/surge/repository"
	"github.com/smallbiznis/surge/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) Emit(_ context.Context, channel, name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events.Event{Channel: channel, Name: name, Payload: payload})
	if name == events.EventAllDone {
		close(r.done)
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}
}

func (r *recorder) progress() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProgressEvent
	for _, e := range r.events {
		if e.Name == events.EventProgress {
			out = append(out, e.Payload.(ProgressEvent))
		}
	}
	return out
}

func (r *recorder) allDone(t *testing.T) AllDoneEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []AllDoneEvent
	for _, e := range r.events {
		if e.Name == events.EventAllDone {
			found = append(found, e.Payload.(AllDoneEvent))
		}
	}
	require.Len(t, found, 1)
	return found[0]
}

func (r *recorder) channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Channel)
	}
	return out
}

type stubBuilder struct {
	mu    sync.Mutex
	calls []snowflake.ID
	fail  map[snowflake.ID]error
	ticks int
	gate  chan struct{}
}

func (b *stubBuilder) Build(ctx context.Context, s *surgedomain.Surge, householdID snowflake.ID, progress packet.ProgressFunc) (*surgedomain.Snapshot, error) {
	if b.gate != nil {
		<-b.gate
	}
	for i := 0; i < b.ticks; i++ {
		progress()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, householdID)
	if err := b.fail[householdID]; err != nil {
		return nil, err
	}
	return &surgedomain.Snapshot{SurgeID: s.ID, HouseholdID: householdID}, nil
}

func (b *stubBuilder) Calls() []snowflake.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]snowflake.ID(nil), b.calls...)
}

type stubArchiver struct {
	ref archive.Ref
	err error
	got []snowflake.ID
}

func (a *stubArchiver) BuildArchive(_ context.Context, _ snowflake.ID, householdIDs []snowflake.ID) (archive.Ref, error) {
	a.got = householdIDs
	return a.ref, a.err
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (*ratelimit.RateLimitResult, error) {
	return &ratelimit.RateLimitResult{Allowed: false, RetryAfter: 12 * time.Second}, nil
}

type env struct {
	db      *gorm.DB
	seed    *testutil.Seeder
	emitter *recorder
	guard   *ratelimit.BuildGuard
	params  Params
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenDB(t)
	e := &env{
		db:      db,
		seed:    testutil.NewSeeder(t, db),
		emitter: newRecorder(),
		guard:   ratelimit.NewBuildGuard(nil, time.Minute),
	}
	pipeline := config.NewStaticPipelineConfig(config.PipelineConfig{Workers: 2, PrepareLimit: 100})
	e.params = Params{
		DB:       db,
		Log:      zap.NewNop(),
		Surges:   surgerepo.Provide(),
		Builder:  &stubBuilder{},
		Limiter:  ratelimit.NewPrepareLimiter(nil, ratelimit.NewWindowLimiter(clock.NewFakeClock(testutil.Epoch)), pipeline),
		Guard:    e.guard,
		Emitter:  e.emitter,
		Pipeline: pipeline,
	}
	return e
}

func (e *env) surge(t *testing.T, households int) (*surgedomain.Surge, []snowflake.ID) {
	t.Helper()
	org := e.seed.Organization(t, "Northwind", "logo.png")
	s := e.seed.Surge(t, org.ID, "Spring Review",
		[]reportdomain.ReportType{reportdomain.ReportTypeBuckets, reportdomain.ReportTypeNetWorth},
		nil, []string{"BUCKETS", "NET_WORTH"})
	ids := make([]snowflake.ID, 0, households)
	for i := 0; i < households; i++ {
		ids = append(ids, e.seed.Household(t, org.ID, "Household").ID)
	}
	return s, ids
}

func assertProgress(t *testing.T, progress []ProgressEvent, total int64) {
	t.Helper()
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(0), progress[0].Completed)
	assert.Equal(t, total, progress[len(progress)-1].Completed)
	last := int64(-1)
	for _, p := range progress {
		assert.Equal(t, total, p.Total)
		assert.LessOrEqual(t, p.Completed, total)
		assert.GreaterOrEqual(t, p.Completed, last)
		last = p.Completed
	}
}

func TestPrepare_StorageFailureCountsOneError(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 3)

	store := &testutil.FailingStorage{
		Storage:  storage.NewFromFs(afero.NewMemMapFs()),
		FailKeys: []string{"/packets/" + ids[1].String()},
	}
	e.params.Builder = packet.NewAssembler(packet.AssemblerParams{
		DB:         e.db,
		Log:        zap.NewNop(),
		GenID:      e.seed.Node,
		Clock:      clock.NewFakeClock(testutil.Epoch),
		Storage:    store,
		Renderer:   &testutil.FakeRenderer{},
		Merger:     testutil.JoinMerger{},
		Reports:    reportrepo.Provide(),
		Households: householdrepo.Provide(),
		Surges:     e.params.Surges,
		Pipeline:   e.params.Pipeline,
	})
	o := NewOrchestrator(e.params)

	resp, err := o.Prepare(context.Background(), PrepareRequest{
		ActorID:      "user-7",
		SurgeID:      s.ID,
		HouseholdIDs: ids,
		Order:        ids,
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, 3, resp.TotalHouseholds)
	assert.Equal(t, int64(6), resp.TotalSteps)
	assert.NotEmpty(t, resp.BatchID)

	e.emitter.wait(t)
	require.NoError(t, o.Wait(context.Background()))

	done := e.emitter.allDone(t)
	assert.Equal(t, int64(2), done.SuccessCount)
	assert.Equal(t, int64(1), done.ErrorCount)
	assert.Equal(t, 3, done.Total)
	assert.Equal(t, PostActionNone, done.Action)
	assert.Empty(t, done.ArchiveRef)
	assert.Equal(t, resp.BatchID, done.BatchID)
	assertProgress(t, e.emitter.progress(), 6)

	for _, channel := range e.emitter.channels() {
		assert.Equal(t, "actor:user-7", channel)
	}

	snapshots, err := e.params.Surges.ListSnapshots(context.Background(), e.db, s.ID)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestPrepare_FinalTickCoversSkippedSteps(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 2)
	builder := &stubBuilder{ticks: 0, fail: map[snowflake.ID]error{ids[0]: errors.New("boom")}}
	e.params.Builder = builder
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.NoError(t, err)
	e.emitter.wait(t)

	assertProgress(t, e.emitter.progress(), 4)
	done := e.emitter.allDone(t)
	assert.Equal(t, int64(1), done.SuccessCount)
	assert.Equal(t, int64(1), done.ErrorCount)
}

func TestPrepare_ExtraTicksAreClamped(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 2)
	e.params.Builder = &stubBuilder{ticks: 10}
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.NoError(t, err)
	e.emitter.wait(t)

	assertProgress(t, e.emitter.progress(), 4)
}

func TestPrepare_SubmitsInCallerOrder(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 4)
	builder := &stubBuilder{}
	e.params.Builder = builder
	e.params.Pipeline = config.NewStaticPipelineConfig(config.PipelineConfig{Workers: 1, PrepareLimit: 100})
	o := NewOrchestrator(e.params)

	stranger := snowflake.ID(424242)
	_, err := o.Prepare(context.Background(), PrepareRequest{
		ActorID:      "user-1",
		SurgeID:      s.ID,
		HouseholdIDs: []snowflake.ID{ids[0], ids[1], ids[2], ids[3]},
		Order:        []snowflake.ID{ids[2], stranger, ids[0]},
	})
	require.NoError(t, err)
	e.emitter.wait(t)

	assert.Equal(t, []snowflake.ID{ids[2], ids[0], ids[1], ids[3]}, builder.Calls())
}

func TestPrepare_ReturnsBeforeBuildsFinish(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 2)
	gate := make(chan struct{})
	e.params.Builder = &stubBuilder{gate: gate, ticks: 2}
	o := NewOrchestrator(e.params)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := o.Prepare(ctx, PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	cancel()

	progress := e.emitter.progress()
	require.Len(t, progress, 1)
	assert.Equal(t, int64(0), progress[0].Completed)

	close(gate)
	e.emitter.wait(t)
	assert.Equal(t, int64(2), e.emitter.allDone(t).SuccessCount)
}

func TestPrepare_DuplicateBuildIsRejected(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 2)
	builder := &stubBuilder{ticks: 2}
	e.params.Builder = builder
	o := NewOrchestrator(e.params)

	release, ok, err := e.guard.Acquire(context.Background(), s.ID, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.NoError(t, err)
	e.emitter.wait(t)

	done := e.emitter.allDone(t)
	assert.Equal(t, int64(1), done.SuccessCount)
	assert.Equal(t, int64(1), done.ErrorCount)
	assert.Equal(t, []snowflake.ID{ids[1]}, builder.Calls())
	assertProgress(t, e.emitter.progress(), 4)
}

func TestPrepare_DownloadBuildsArchive(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 2)
	archiver := &stubArchiver{ref: archive.Ref{
		Key:       "surges/1/archives/x.zip",
		URL:       "https://surge.test/downloads/token",
		ExpiresAt: testutil.Epoch.Add(time.Hour),
	}}
	e.params.Archiver = archiver
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{
		ActorID:      "user-1",
		SurgeID:      s.ID,
		HouseholdIDs: ids,
		PostAction:   PostActionDownload,
	})
	require.NoError(t, err)
	e.emitter.wait(t)

	done := e.emitter.allDone(t)
	assert.Equal(t, PostActionDownload, done.Action)
	assert.Equal(t, "https://surge.test/downloads/token", done.ArchiveRef)
	require.NotNil(t, done.ExpiresAt)
	assert.Equal(t, ids, archiver.got)
}

func TestPrepare_DownloadLeavesOutFailedHouseholds(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 3)
	e.params.Builder = &stubBuilder{ticks: 2, fail: map[snowflake.ID]error{ids[1]: errors.New("boom")}}
	archiver := &stubArchiver{ref: archive.Ref{Key: "surges/1/archives/x.zip", URL: "https://surge.test/downloads/token"}}
	e.params.Archiver = archiver
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{
		ActorID:      "user-1",
		SurgeID:      s.ID,
		HouseholdIDs: ids,
		PostAction:   PostActionDownload,
	})
	require.NoError(t, err)
	e.emitter.wait(t)

	done := e.emitter.allDone(t)
	assert.Equal(t, int64(1), done.ErrorCount)
	assert.Equal(t, []snowflake.ID{ids[0], ids[2]}, archiver.got)
}

func TestPrepare_DownloadWithNothingBuiltSkipsArchive(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 1)
	e.params.Builder = &stubBuilder{fail: map[snowflake.ID]error{ids[0]: errors.New("boom")}}
	archiver := &stubArchiver{ref: archive.Ref{URL: "https://surge.test/downloads/token"}}
	e.params.Archiver = archiver
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{
		ActorID:      "user-1",
		SurgeID:      s.ID,
		HouseholdIDs: ids,
		PostAction:   PostActionDownload,
	})
	require.NoError(t, err)
	e.emitter.wait(t)

	done := e.emitter.allDone(t)
	assert.Empty(t, done.ArchiveRef)
	assert.Nil(t, archiver.got)
}

func TestPrepare_DownloadSkipsStalePacketOfFailedRebuild(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 2)

	fs := afero.NewMemMapFs()
	store := &testutil.FailingStorage{Storage: storage.NewFromFs(fs)}
	fake := clock.NewFakeClock(testutil.Epoch)
	signer, err := storage.NewSigner("batch-test-secret", "https://surge.test", fake)
	require.NoError(t, err)

	e.params.Builder = packet.NewAssembler(packet.AssemblerParams{
		DB:         e.db,
		Log:        zap.NewNop(),
		GenID:      e.seed.Node,
		Clock:      fake,
		Storage:    store,
		Renderer:   &testutil.FakeRenderer{},
		Merger:     testutil.JoinMerger{},
		Reports:    reportrepo.Provide(),
		Households: householdrepo.Provide(),
		Surges:     e.params.Surges,
		Pipeline:   e.params.Pipeline,
	})
	e.params.Archiver = archive.New(archive.Params{
		DB:         e.db,
		Log:        zap.NewNop(),
		Config:     config.Config{Storage: config.StorageConfig{ArchiveURLTTL: time.Hour}},
		Storage:    store,
		Signer:     signer,
		Surges:     e.params.Surges,
		Households: householdrepo.Provide(),
	})

	prepare := func() AllDoneEvent {
		e.emitter = newRecorder()
		e.params.Emitter = e.emitter
		o := NewOrchestrator(e.params)
		_, err := o.Prepare(context.Background(), PrepareRequest{
			ActorID:      "user-1",
			SurgeID:      s.ID,
			HouseholdIDs: ids,
			PostAction:   PostActionDownload,
		})
		require.NoError(t, err)
		e.emitter.wait(t)
		require.NoError(t, o.Wait(context.Background()))
		return e.emitter.allDone(t)
	}

	first := prepare()
	require.Equal(t, int64(2), first.SuccessCount)

	store.FailKeys = []string{"/packets/" + ids[1].String()}
	second := prepare()
	assert.Equal(t, int64(1), second.ErrorCount)
	require.NotEmpty(t, second.ArchiveKey)

	snapshots, err := e.params.Surges.ListSnapshots(context.Background(), e.db, s.ID)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)

	data, err := store.Get(context.Background(), second.ArchiveKey)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "Household - Spring Review.pdf", zr.File[0].Name)
}

func TestPrepare_ArchiveFailureStillFinishes(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 1)
	e.params.Archiver = &stubArchiver{err: archive.ErrEmptyArchive}
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{
		ActorID:      "user-1",
		SurgeID:      s.ID,
		HouseholdIDs: ids,
		PostAction:   PostActionDownload,
	})
	require.NoError(t, err)
	e.emitter.wait(t)

	done := e.emitter.allDone(t)
	assert.Empty(t, done.ArchiveRef)
	assert.Nil(t, done.ExpiresAt)
	assert.Equal(t, int64(1), done.SuccessCount)
}

func TestPrepare_Rejections(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 1)

	tests := []struct {
		name    string
		limiter Limiter
		req     PrepareRequest
		wantErr error
	}{
		{
			name:    "rate limited",
			limiter: denyLimiter{},
			req:     PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids},
			wantErr: ErrRateLimited,
		},
		{
			name:    "unknown surge",
			req:     PrepareRequest{ActorID: "user-1", SurgeID: 777, HouseholdIDs: ids},
			wantErr: surgedomain.ErrSurgeNotFound,
		},
		{
			name:    "empty selection",
			req:     PrepareRequest{ActorID: "user-1", SurgeID: s.ID, Order: ids},
			wantErr: ErrNoHouseholds,
		},
		{
			name:    "missing actor",
			req:     PrepareRequest{SurgeID: s.ID, HouseholdIDs: ids},
			wantErr: ErrActorRequired,
		},
		{
			name:    "unknown post action",
			req:     PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids, PostAction: "email"},
			wantErr: ErrInvalidAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := e.params
			if tt.limiter != nil {
				params.Limiter = tt.limiter
			}
			o := NewOrchestrator(params)

			resp, err := o.Prepare(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, resp.Accepted)
		})
	}
	assert.Empty(t, e.emitter.progress())
}

func TestPrepare_RateLimitCarriesRetryAfter(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 1)
	e.params.Limiter = denyLimiter{}
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	var limited *RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 12*time.Second, limited.RetryAfter)
}

func TestPrepare_WindowLimiterPerActor(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 1)
	pipeline := config.NewStaticPipelineConfig(config.PipelineConfig{Workers: 1, PrepareLimit: 1})
	e.params.Pipeline = pipeline
	e.params.Limiter = ratelimit.NewPrepareLimiter(nil, ratelimit.NewWindowLimiter(clock.NewFakeClock(testutil.Epoch)), pipeline)
	o := NewOrchestrator(e.params)

	_, err := o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.NoError(t, err)
	_, err = o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.ErrorIs(t, err, ErrRateLimited)

	require.NoError(t, o.Wait(context.Background()))
}

func TestWait_RejectsNewBatches(t *testing.T) {
	e := newEnv(t)
	s, ids := e.surge(t, 1)
	o := NewOrchestrator(e.params)

	require.NoError(t, o.Wait(context.Background()))
	_, err := o.Prepare(context.Background(), PrepareRequest{ActorID: "user-1", SurgeID: s.ID, HouseholdIDs: ids})
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestSubmissionOrder(t *testing.T) {
	assert.Equal(t,
		[]snowflake.ID{3, 1, 2},
		submissionOrder([]snowflake.ID{3, 9, 1, 3}, []snowflake.ID{1, 2, 3, 2}),
	)
	assert.Empty(t, submissionOrder([]snowflake.ID{1}, nil))
}
