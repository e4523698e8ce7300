package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"sjscal/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// RunStore is the data access layer for run history.
type RunStore interface {
	// CreateRun persists a newly queued run.
	CreateRun(ctx context.Context, run *models.Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)

	// ListRuns returns the most recent runs, newest first. An empty workflow
	// matches every workflow.
	ListRuns(ctx context.Context, workflow string, limit int) ([]models.Run, error)

	// MarkStarted moves a run to in_progress on the given node.
	MarkStarted(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error

	// CompleteRun stores the final outcome of a run.
	CompleteRun(ctx context.Context, run *models.Run) error

	// MarkOrphansAsFailed fails runs stuck in_progress on nodes that are no
	// longer alive.
	MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error)
}

// Queue hands run requests from triggers to runners.
type Queue interface {
	// Push adds a request to the pending queue.
	Push(ctx context.Context, req *models.RunRequest) error

	// Pop retrieves a request for a consumer of the group. It returns a nil
	// request when nothing arrived within the poll window.
	Pop(ctx context.Context, group string, consumer string) (string, *models.RunRequest, error)

	// Ack acknowledges a request as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error
}

// BlobStore holds run logs and artifact archives.
type BlobStore interface {
	// Put stores the content under key and returns a reference to it.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)

	// Open fetches content by the reference Put returned.
	Open(ctx context.Context, reference string) (io.ReadCloser, error)
}
