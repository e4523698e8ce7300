package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjscal/pkg/models"
	"sjscal/pkg/storage"
)

func TestRunStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore()

	run := &models.Run{Workflow: "scrape", Event: models.EventWorkflowDispatch, QueuedAt: time.Now()}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, models.RunQueued, run.Status)

	assert.ErrorIs(t, store.CreateRun(ctx, run), storage.ErrConflict)

	started := time.Now()
	require.NoError(t, store.MarkStarted(ctx, run.ID, "node-1", started))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunInProgress, got.Status)
	require.NotNil(t, got.NodeID)
	assert.Equal(t, "node-1", *got.NodeID)

	got.Conclusion = models.ConclusionSuccess
	got.Steps = models.StepRecords{{Number: 1, Name: "checkout", Outcome: models.StepSuccess}}
	got.LogURI = "logs/x.log"
	require.NoError(t, store.CompleteRun(ctx, got))

	final, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, final.Status)
	assert.Equal(t, models.ConclusionSuccess, final.Conclusion)
	assert.Len(t, final.Steps, 1)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, "logs/x.log", final.LogURI)
}

func TestRunStore_GetMissing(t *testing.T) {
	_, err := NewRunStore().GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore()
	base := time.Now()

	for i, wf := range []string{"scrape", "other", "scrape"} {
		require.NoError(t, store.CreateRun(ctx, &models.Run{
			Workflow: wf,
			QueuedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[0].QueuedAt.After(all[1].QueuedAt))

	scrape, err := store.ListRuns(ctx, "scrape", 1)
	require.NoError(t, err)
	require.Len(t, scrape, 1)
	assert.Equal(t, base.Add(2*time.Minute), scrape[0].QueuedAt)
}

func TestRunStore_MarkOrphansAsFailed(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore()

	alive := &models.Run{Workflow: "scrape"}
	dead := &models.Run{Workflow: "scrape"}
	queued := &models.Run{Workflow: "scrape"}
	for _, r := range []*models.Run{alive, dead, queued} {
		require.NoError(t, store.CreateRun(ctx, r))
	}
	require.NoError(t, store.MarkStarted(ctx, alive.ID, "node-a", time.Now()))
	require.NoError(t, store.MarkStarted(ctx, dead.ID, "node-b", time.Now()))

	n, err := store.MarkOrphansAsFailed(ctx, []string{"node-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := store.GetRun(ctx, dead.ID)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, models.ConclusionFailure, got.Conclusion)

	got, _ = store.GetRun(ctx, alive.ID)
	assert.Equal(t, models.RunInProgress, got.Status)

	got, _ = store.GetRun(ctx, queued.ID)
	assert.Equal(t, models.RunQueued, got.Status)
}

func TestQueue_PushPopAck(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(4).WithPollTimeout(50 * time.Millisecond)

	id := uuid.New()
	require.NoError(t, q.Push(ctx, &models.RunRequest{RunID: id, Workflow: "scrape"}))
	assert.Equal(t, 1, q.Len())

	msgID, req, err := q.Pop(ctx, "runners", "c1")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, id, req.RunID)
	assert.Equal(t, 1, q.Pending())

	require.NoError(t, q.Ack(ctx, "runners", msgID))
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_PopTimesOutEmpty(t *testing.T) {
	q := NewQueue(1).WithPollTimeout(20 * time.Millisecond)

	msgID, req, err := q.Pop(context.Background(), "runners", "c1")
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Empty(t, msgID)
}
