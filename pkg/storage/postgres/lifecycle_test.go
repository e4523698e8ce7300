package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sjscal/pkg/models"
	"sjscal/pkg/storage"
	"sjscal/pkg/storage/postgres"
	"sjscal/pkg/storage/redis"
)

// RunLifecycleSuite exercises the Postgres run store together with the Redis
// queue. It needs both services and skips when either is unreachable.
type RunLifecycleSuite struct {
	suite.Suite
	store *postgres.PostgresStore
	queue *redis.RedisQueue
}

func (s *RunLifecycleSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "sjscal"),
		getEnv("TEST_DB_PASS", "password"),
		getEnv("TEST_DB_NAME", "sjscal_test"),
	)

	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store

	queue, err := redis.NewRedisQueue(fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	))
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.queue = queue
}

func (s *RunLifecycleSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.queue != nil {
		s.queue.Close()
	}
}

// TestRunLifecycle walks a run from queued through the queue to completed.
func (s *RunLifecycleSuite) TestRunLifecycle() {
	ctx := context.Background()
	t := s.T()

	run := &models.Run{
		Workflow: "integration-scrape",
		Event:    models.EventWorkflowDispatch,
		Actor:    "tester",
		QueuedAt: time.Now(),
	}
	require.NoError(t, s.store.CreateRun(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)

	const group = "test-runners"
	require.NoError(t, s.queue.EnsureGroup(ctx, group))
	require.NoError(t, s.queue.Push(ctx, &models.RunRequest{
		RunID:    run.ID,
		Workflow: run.Workflow,
		Event:    run.Event,
		QueuedAt: run.QueuedAt,
	}))

	// Other tests share the stream; drain until this run's request shows up.
	var msgID string
	var popped *models.RunRequest
	for i := 0; i < 50 && (popped == nil || popped.RunID != run.ID); i++ {
		id, req, err := s.queue.Pop(ctx, group, "consumer-1")
		require.NoError(t, err)
		if req != nil {
			msgID, popped = id, req
			_ = s.queue.Ack(ctx, group, id)
		}
	}
	require.NotNil(t, popped)
	assert.Equal(t, run.ID, popped.RunID)
	assert.NotEmpty(t, msgID)

	require.NoError(t, s.store.MarkStarted(ctx, run.ID, "node-it", time.Now()))

	now := time.Now()
	run.Conclusion = models.ConclusionFailure
	run.CompletedAt = &now
	run.Steps = models.StepRecords{
		{Number: 1, Name: "checkout", Outcome: models.StepSuccess},
		{Number: 2, Name: "scrape", Outcome: models.StepFailure, ExitCode: 1},
	}
	run.Artifacts = models.ArtifactRefs{{Name: "generated-output", URI: "artifacts/x.zip", Files: 3}}
	run.LogURI = "logs/" + run.ID.String() + ".log"
	require.NoError(t, s.store.CompleteRun(ctx, run))

	got, err := s.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, models.ConclusionFailure, got.Conclusion)
	assert.Len(t, got.Steps, 2)
	assert.Equal(t, 1, got.Steps[1].ExitCode)
	ref, ok := got.Artifacts.Find("generated-output")
	assert.True(t, ok)
	assert.Equal(t, 3, ref.Files)
}

func (s *RunLifecycleSuite) TestOrphansAreFailed() {
	ctx := context.Background()
	t := s.T()

	run := &models.Run{Workflow: "integration-orphan", Event: models.EventSchedule, QueuedAt: time.Now()}
	require.NoError(t, s.store.CreateRun(ctx, run))
	require.NoError(t, s.store.MarkStarted(ctx, run.ID, "node-gone-"+uuid.NewString(), time.Now()))

	n, err := s.store.MarkOrphansAsFailed(ctx, []string{"node-alive"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := s.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionFailure, got.Conclusion)
}

func (s *RunLifecycleSuite) TestMissingRun() {
	_, err := s.store.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(s.T(), err, storage.ErrNotFound)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestRunLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RunLifecycleSuite))
}
