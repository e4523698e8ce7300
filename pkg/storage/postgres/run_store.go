package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sjscal/pkg/models"
	"sjscal/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens the connection pool and migrates the runs table.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		PrepareStmt:    true,
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Run{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun persists a queued run.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.Status == "" {
		run.Status = models.RunQueued
	}
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create run: %w", result.Error)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	result := s.db.WithContext(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// ListRuns returns recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, workflow string, limit int) ([]models.Run, error) {
	var runs []models.Run

	query := s.db.WithContext(ctx).Order("queued_at desc")
	if workflow != "" {
		query = query.Where("workflow = ?", workflow)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if result := query.Find(&runs); result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}

// MarkStarted moves a run to in_progress on the given node.
func (s *PostgresStore) MarkStarted(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.RunInProgress,
			"node_id":    nodeID,
			"started_at": startedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark run started: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompleteRun writes the conclusion, step records, artifacts and log reference.
func (s *PostgresStore) CompleteRun(ctx context.Context, run *models.Run) error {
	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	updates := map[string]interface{}{
		"status":       models.RunCompleted,
		"conclusion":   run.Conclusion,
		"steps":        run.Steps,
		"artifacts":    run.Artifacts,
		"log_uri":      run.LogURI,
		"completed_at": completedAt,
	}
	if run.StartedAt != nil {
		updates["started_at"] = *run.StartedAt
	}

	result := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", run.ID).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to complete run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkOrphansAsFailed fails in_progress runs whose node is no longer alive.
// With no active nodes every in_progress run is an orphan.
func (s *PostgresStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("status = ?", models.RunInProgress)

	if len(activeNodeIDs) > 0 {
		query = query.Where("node_id IS NULL OR node_id NOT IN ?", activeNodeIDs)
	}

	result := query.Updates(map[string]interface{}{
		"status":       models.RunCompleted,
		"conclusion":   models.ConclusionFailure,
		"completed_at": time.Now(),
	})
	return result.RowsAffected, result.Error
}
