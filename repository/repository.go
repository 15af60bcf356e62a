package repository

import (
	"context"
	"errors"

	"penaltydesk-backend/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ChatRepository persists chat transcripts
type ChatRepository interface {
	Create(ctx context.Context, chat *models.Chat) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	// AppendMessages atomically appends to the transcript and returns the updated chat
	AppendMessages(ctx context.Context, id uuid.UUID, messages ...models.Message) (*models.Chat, error)
	// List returns chats newest first
	List(ctx context.Context, limit, offset int) ([]*models.Chat, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AnalysisRepository persists verdicts
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	// List returns analyses newest first, optionally filtered by severity
	List(ctx context.Context, severity *models.Severity, limit, offset int) ([]*models.Analysis, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AnalysisJobRepository persists asynchronous analysis jobs
type AnalysisJobRepository interface {
	Create(ctx context.Context, job *models.AnalysisJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AnalysisJobStatus) error
	UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.AnalysisSteps) error
	Complete(ctx context.Context, id uuid.UUID, analysisID uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}
