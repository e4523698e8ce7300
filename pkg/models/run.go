package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TriggerEvent is the event class that started a run.
type TriggerEvent string

const (
	EventSchedule         TriggerEvent = "schedule"
	EventWorkflowDispatch TriggerEvent = "workflow_dispatch"
)

// RunStatus is the lifecycle position of a run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// Conclusion is the final verdict of a completed run.
type Conclusion string

const (
	ConclusionNone      Conclusion = ""
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
)

// StepOutcome is the result of a single step.
type StepOutcome string

const (
	StepSuccess StepOutcome = "success"
	StepFailure StepOutcome = "failure"
	StepSkipped StepOutcome = "skipped"
)

// StepRecord is the persisted outcome of one workflow step.
type StepRecord struct {
	Number    int           `json:"number"`
	Name      string        `json:"name"`
	Uses      string        `json:"uses,omitempty"`
	Run       string        `json:"run,omitempty"`
	Condition string        `json:"condition"`
	Outcome   StepOutcome   `json:"outcome"`
	ExitCode  int           `json:"exit_code"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// StepRecords is stored as jsonb.
type StepRecords []StepRecord

func (s *StepRecords) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, s)
}

func (s StepRecords) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// ArtifactRef points at an uploaded artifact archive.
type ArtifactRef struct {
	Name      string `json:"name"`
	URI       string `json:"uri"`
	Files     int    `json:"files"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// ArtifactRefs is stored as jsonb.
type ArtifactRefs []ArtifactRef

func (a *ArtifactRefs) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, a)
}

func (a ArtifactRefs) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Find returns the artifact with the given name.
func (a ArtifactRefs) Find(name string) (ArtifactRef, bool) {
	for _, ref := range a {
		if ref.Name == name {
			return ref, true
		}
	}
	return ArtifactRef{}, false
}

// Run is one execution of a workflow.
type Run struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	Workflow    string       `json:"workflow" gorm:"not null;index"`
	Event       TriggerEvent `json:"event" gorm:"type:varchar(32);not null"`
	Actor       string       `json:"actor"`
	Status      RunStatus    `json:"status" gorm:"type:varchar(20);default:'queued';index"`
	Conclusion  Conclusion   `json:"conclusion" gorm:"type:varchar(20)"`
	NodeID      *string      `json:"node_id"`
	QueuedAt    time.Time    `json:"queued_at" gorm:"not null;index"`
	StartedAt   *time.Time   `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at"`
	Steps       StepRecords  `json:"steps" gorm:"type:jsonb"`
	Artifacts   ArtifactRefs `json:"artifacts" gorm:"type:jsonb"`
	LogURI      string       `json:"log_uri"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// BeforeCreate hook to generate UUID if not present
func (r *Run) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// RunRequest is the queue payload handed from a trigger to a runner.
type RunRequest struct {
	RunID    uuid.UUID    `json:"run_id"`
	Workflow string       `json:"workflow"`
	Event    TriggerEvent `json:"event"`
	Actor    string       `json:"actor"`
	QueuedAt time.Time    `json:"queued_at"`
}
