package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/storage"
	"github.com/smallbiznis/surge/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, store storage.Storage, clk clock.Clock, cfg Config) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Storage: store,
		Log:     zap.NewNop(),
		Clock:   clk,
		Config:  cfg,
	})
	require.NoError(t, err)
	return sched
}

func seedObjects(t *testing.T, store *storage.FileStorage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "surges/1/archives/a.zip", []byte("zip")))
	require.NoError(t, store.Put(ctx, "surges/1/packets/2.pdf", []byte("%PDF")))
	require.NoError(t, store.Put(ctx, "surges/1/uploads/3.pdf", []byte("%PDF")))

	// never closed, stays partial
	_, err := store.Create(ctx, "surges/1/packets/4.pdf")
	require.NoError(t, err)
}

func keys(t *testing.T, store storage.Storage) []string {
	t.Helper()
	objects, err := store.List(context.Background(), "surges/")
	require.NoError(t, err)
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		out = append(out, obj.Key)
	}
	return out
}

func TestRunOnce_RemovesExpiredObjects(t *testing.T) {
	store := storage.NewFromFs(afero.NewMemMapFs())
	seedObjects(t, store)

	clk := clock.NewFakeClock(time.Now().Add(2 * time.Hour))
	sched := newTestScheduler(t, store, clk, Config{ArchiveRetention: time.Hour, PartialRetention: time.Hour})

	require.NoError(t, sched.RunOnce(context.Background()))

	remaining := keys(t, store)
	assert.ElementsMatch(t, []string{"surges/1/packets/2.pdf", "surges/1/uploads/3.pdf"}, remaining)
}

func TestRunOnce_KeepsFreshObjects(t *testing.T) {
	store := storage.NewFromFs(afero.NewMemMapFs())
	seedObjects(t, store)

	clk := clock.NewFakeClock(time.Now())
	sched := newTestScheduler(t, store, clk, Config{ArchiveRetention: time.Hour, PartialRetention: time.Hour})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Len(t, keys(t, store), 4)
}

func TestRunOnce_OnlyEnabledJobs(t *testing.T) {
	store := storage.NewFromFs(afero.NewMemMapFs())
	seedObjects(t, store)

	clk := clock.NewFakeClock(time.Now().Add(2 * time.Hour))
	sched := newTestScheduler(t, store, clk, Config{
		ArchiveRetention: time.Hour,
		PartialRetention: time.Hour,
		EnabledJobs:      []string{"ARCHIVE_SWEEP"},
	})

	require.NoError(t, sched.RunOnce(context.Background()))

	remaining := keys(t, store)
	assert.NotContains(t, remaining, "surges/1/archives/a.zip")
	assert.Len(t, remaining, 3)
}

func TestSweepArchives_ReportsDeleteFailures(t *testing.T) {
	inner := storage.NewFromFs(afero.NewMemMapFs())
	seedObjects(t, inner)
	store := &testutil.FailingStorage{Storage: inner, FailDeletes: []string{"archives/"}}

	clk := clock.NewFakeClock(time.Now().Add(2 * time.Hour))
	sched := newTestScheduler(t, store, clk, Config{ArchiveRetention: time.Hour})

	removed, err := sched.SweepArchives(context.Background())
	assert.Equal(t, 0, removed)
	assert.Error(t, err)

	assert.Error(t, sched.RunOnce(context.Background()))
}

func TestNew_RequiresStorage(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop(), Clock: clock.NewSystem()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvideConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 10*time.Minute, cfg.RunInterval)
	assert.Equal(t, time.Minute, cfg.JobTimeout)
	assert.True(t, isArchiveKey("surges/1/archives/01hx.zip"))
	assert.False(t, isArchiveKey("surges/1/archives/01hx.zip.abc.partial"))
	assert.True(t, isPartialKey("surges/1/archives/01hx.zip.abc.partial"))
}
