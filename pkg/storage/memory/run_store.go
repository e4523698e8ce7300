// Package memory holds in-process implementations of the storage
// interfaces, used by the all-in-one server and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sjscal/pkg/models"
	"sjscal/pkg/storage"
)

type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]models.Run
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]models.Run)}
}

func (s *RunStore) CreateRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := s.runs[run.ID]; exists {
		return storage.ErrConflict
	}
	now := time.Now()
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = models.RunQueued
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneRun(run)
	return &out, nil
}

func (s *RunStore) ListRuns(ctx context.Context, workflow string, limit int) ([]models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if workflow != "" && run.Workflow != workflow {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].QueuedAt.After(runs[j].QueuedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *RunStore) MarkStarted(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	run.Status = models.RunInProgress
	run.NodeID = &nodeID
	run.StartedAt = &startedAt
	run.UpdatedAt = time.Now()
	s.runs[id] = run
	return nil
}

func (s *RunStore) CompleteRun(ctx context.Context, completed *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[completed.ID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	run.Status = models.RunCompleted
	run.Conclusion = completed.Conclusion
	run.Steps = append(models.StepRecords(nil), completed.Steps...)
	run.Artifacts = append(models.ArtifactRefs(nil), completed.Artifacts...)
	run.LogURI = completed.LogURI
	if completed.StartedAt != nil {
		run.StartedAt = completed.StartedAt
	}
	if completed.CompletedAt != nil {
		run.CompletedAt = completed.CompletedAt
	} else {
		run.CompletedAt = &now
	}
	run.UpdatedAt = now
	s.runs[run.ID] = run
	return nil
}

func (s *RunStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive := make(map[string]bool, len(activeNodeIDs))
	for _, id := range activeNodeIDs {
		alive[id] = true
	}

	var count int64
	now := time.Now()
	for id, run := range s.runs {
		if run.Status != models.RunInProgress {
			continue
		}
		if run.NodeID != nil && alive[*run.NodeID] {
			continue
		}
		run.Status = models.RunCompleted
		run.Conclusion = models.ConclusionFailure
		run.CompletedAt = &now
		run.UpdatedAt = now
		s.runs[id] = run
		count++
	}
	return count, nil
}

func cloneRun(run models.Run) models.Run {
	run.Steps = append(models.StepRecords(nil), run.Steps...)
	run.Artifacts = append(models.ArtifactRefs(nil), run.Artifacts...)
	return run
}
