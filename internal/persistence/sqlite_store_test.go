package persistence

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "storyclip.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func createJob(t *testing.T, store *SQLiteStore, id string, owner *string, url string) {
	t.Helper()
	created, err := store.Create(context.Background(), &jobs.Job{
		ID:        id,
		Owner:     owner,
		SourceURL: url,
		Status:    jobs.StatusQueued,
		Stage:     jobs.StageQueued,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	profile := &jobs.Profile{Width: 1080, Height: 1920}
	created, err := store.Create(ctx, &jobs.Job{
		ID:        "job-1",
		Owner:     strPtr("42"),
		SourceURL: "https://youtu.be/dQw4w9WgXcQ",
		Metadata:  jobs.Metadata{Profile: profile},
	})
	require.NoError(t, err)
	require.True(t, created)

	again, err := store.Create(ctx, &jobs.Job{ID: "job-1", SourceURL: "https://other"})
	require.NoError(t, err)
	assert.False(t, again)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", got.SourceURL)
	require.NotNil(t, got.Owner)
	assert.Equal(t, "42", *got.Owner)
	assert.Equal(t, jobs.StatusQueued, got.Status)
	assert.Equal(t, jobs.StageQueued, got.Stage)
	assert.Zero(t, got.ProgressPercent)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Metadata.Parts)
	require.NotNil(t, got.Metadata.Profile)
	assert.Equal(t, 1080, got.Metadata.Profile.Width)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestSQLiteStore_UpdateProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1", nil, "https://example.com/v")

	require.NoError(t, store.UpdateProgress(ctx, "job-1", 30, jobs.StageSegmenting))
	first, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, first.StartedAt)
	assert.Equal(t, jobs.StatusProcessing, first.Status)

	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, store.UpdateProgress(ctx, "job-1", 10, jobs.StageRetrying))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", 150, jobs.StageTranscoding))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 99, got.ProgressPercent)
	assert.Equal(t, jobs.StageTranscoding, got.Stage)
	assert.True(t, first.StartedAt.Equal(*got.StartedAt), "started_at is written once")
}

func TestSQLiteStore_FailedJobIsFrozen(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1", nil, "https://example.com/v")

	require.NoError(t, store.UpdateProgress(ctx, "job-1", 47, jobs.StageTranscoding))
	require.NoError(t, store.MarkFailed(ctx, "job-1", "  ffmpeg failed: exit status 1  "))

	require.NoError(t, store.UpdateProgress(ctx, "job-1", 80, jobs.StageTranscoding))
	require.NoError(t, store.UpdateSegments(ctx, "job-1", []jobs.Segment{{Index: 1, Status: jobs.StatusDone}}))
	require.NoError(t, store.MarkDone(ctx, "job-1", jobs.DoneUpdate{Output: "outputs/x.mp4"}))
	require.NoError(t, store.MarkFailed(ctx, "job-1", "second failure"))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.StageFailed, got.Stage)
	assert.Equal(t, 47, got.ProgressPercent)
	assert.Equal(t, "ffmpeg failed: exit status 1", got.ErrorMessage)
	assert.Empty(t, got.Metadata.Parts)
	assert.Empty(t, got.Metadata.Output)
	assert.NotNil(t, got.FinishedAt)
}

func TestSQLiteStore_MarkFailedTruncatesMessage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1", nil, "https://example.com/v")

	require.NoError(t, store.MarkFailed(ctx, "job-1", strings.Repeat("x", 5000)))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, got.ErrorMessage, MaxErrorMessageLen)
}

func TestSQLiteStore_SegmentsAndMarkDone(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1", nil, "https://example.com/v")

	parts := jobs.PlanSegments(90, true, 60)
	require.NoError(t, store.UpdateSegments(ctx, "job-1", parts))
	parts[0].Status = jobs.StatusDone

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got.Metadata.Parts, 2)
	assert.Equal(t, jobs.StatusQueued, got.Metadata.Parts[0].Status, "stored list is a snapshot")

	for i := range parts {
		parts[i].Status = jobs.StatusDone
		parts[i].Progress = 100
		parts[i].Output = "outputs/p" + string(rune('1'+i)) + ".mp4"
	}
	require.NoError(t, store.MarkDone(ctx, "job-1", jobs.DoneUpdate{
		Output:  parts[0].Output,
		VideoID: "dQw4w9WgXcQ",
		Parts:   parts,
	}))

	got, err = store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDone, got.Status)
	assert.Equal(t, jobs.StageDone, got.Stage)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Equal(t, "outputs/p1.mp4", got.Metadata.Output)
	assert.Equal(t, "dQw4w9WgXcQ", got.Metadata.VideoID)
	assert.Equal(t, "outputs/p2.mp4", got.Metadata.Parts[1].Output)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
}

func TestSQLiteStore_FindReusableSkipsFailed(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/v"

	createJob(t, store, "old", strPtr("1"), url)
	require.NoError(t, store.MarkDone(ctx, "old", jobs.DoneUpdate{}))
	createJob(t, store, "newer", strPtr("1"), url)
	require.NoError(t, store.MarkFailed(ctx, "newer", "boom"))

	got, err := store.FindReusable(ctx, strPtr("1"), url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old", got.ID)

	none, err := store.FindReusable(ctx, strPtr("2"), url)
	require.NoError(t, err)
	assert.Nil(t, none)

	anon, err := store.FindReusable(ctx, nil, url)
	require.NoError(t, err)
	assert.Nil(t, anon)
}

func TestSQLiteStore_ResolveOrCreateConcurrent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.ResolveOrCreate(ctx, &jobs.Job{
				ID:        "job-" + string(rune('a'+i)),
				Owner:     strPtr("42"),
				SourceURL: "https://example.com/v",
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSQLiteStore_ListActive(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	createJob(t, store, "a", nil, "https://example.com/a")
	createJob(t, store, "b", nil, "https://example.com/b")
	createJob(t, store, "c", nil, "https://example.com/c")
	require.NoError(t, store.UpdateProgress(ctx, "b", 10, jobs.StageDownloading))
	require.NoError(t, store.MarkFailed(ctx, "c", "x"))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, job := range active {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSQLiteStore_DeleteByOwner(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	createJob(t, store, "mine", strPtr("7"), "https://example.com/a")
	createJob(t, store, "theirs", strPtr("8"), "https://example.com/a")

	deleted, err := store.DeleteByOwner(ctx, "7")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "mine", deleted[0].ID)

	_, err = store.Get(ctx, "mine")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = store.Get(ctx, "theirs")
	assert.NoError(t, err)

	// an executor still running the deleted job must not fail its writes
	assert.NoError(t, store.UpdateProgress(ctx, "mine", 50, jobs.StageTranscoding))
	assert.NoError(t, store.UpdateSegments(ctx, "mine", []jobs.Segment{{Index: 1}}))
	assert.NoError(t, store.MarkDone(ctx, "mine", jobs.DoneUpdate{}))
	assert.NoError(t, store.MarkFailed(ctx, "mine", "x"))
	_, err = store.Get(ctx, "mine")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestSQLiteStore_ReopenKeepsJobs(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "storyclip.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), &jobs.Job{ID: "job-1", SourceURL: "https://example.com/v"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, got.Status)
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "abc", TruncateMessage(" abc ", 10))
	assert.Equal(t, "ab", TruncateMessage("abcdef", 2))
	// "é" is two bytes; cutting inside it backs off to the rune start
	assert.Equal(t, "a", TruncateMessage("aé", 2))
	assert.Equal(t, "abc", TruncateMessage("abc", 0))
	// "ж" is two bytes, "€" is three
	assert.Equal(t, "ж", TruncateMessage("ж€", 4))

	long := strings.Repeat("ошибка ", 300)
	cut := TruncateMessage(long, MaxErrorMessageLen)
	assert.LessOrEqual(t, len(cut), MaxErrorMessageLen)
	assert.True(t, utf8.ValidString(cut))
}
