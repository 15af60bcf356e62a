package repository

import (
	"context"
	"time"

	"penaltydesk-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAnalysisJobRepository handles database operations for analysis jobs
type PostgresAnalysisJobRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAnalysisJobRepository creates a new analysis job repository
func NewPostgresAnalysisJobRepository(db *pgxpool.Pool) *PostgresAnalysisJobRepository {
	return &PostgresAnalysisJobRepository{db: db}
}

// Create creates a new analysis job
func (r *PostgresAnalysisJobRepository) Create(ctx context.Context, job *models.AnalysisJob) error {
	if job.Steps == nil {
		job.Steps = make(models.AnalysisSteps, 0)
	}

	query := `
		INSERT INTO analysis_jobs (
			id, prompt, mode, llm_choice, status, current_step, steps, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		job.ID,
		job.Prompt,
		job.Mode,
		job.LLMChoice,
		job.Status,
		job.CurrentStep,
		job.Steps,
		job.ErrorMessage,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetByID retrieves an analysis job by ID
func (r *PostgresAnalysisJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	job := &models.AnalysisJob{}
	query := `
		SELECT id, prompt, mode, llm_choice, status, current_step, steps,
			analysis_id, error_message, created_at, updated_at, completed_at
		FROM analysis_jobs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.Prompt,
		&job.Mode,
		&job.LLMChoice,
		&job.Status,
		&job.CurrentStep,
		&job.Steps,
		&job.AnalysisID,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}

	if job.Steps == nil {
		job.Steps = make(models.AnalysisSteps, 0)
	}

	return job, nil
}

// UpdateStatus updates the status of an analysis job
func (r *PostgresAnalysisJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AnalysisJobStatus) error {
	query := `
		UPDATE analysis_jobs SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// UpdateProgress updates the progress of an analysis job
func (r *PostgresAnalysisJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.AnalysisSteps) error {
	query := `
		UPDATE analysis_jobs SET
			current_step = $2,
			steps = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, currentStep, steps)
	return err
}

// Complete marks an analysis job as completed and links the saved analysis
func (r *PostgresAnalysisJobRepository) Complete(ctx context.Context, id uuid.UUID, analysisID uuid.UUID) error {
	now := time.Now()
	query := `
		UPDATE analysis_jobs SET
			status = $2,
			analysis_id = $3,
			completed_at = $4,
			updated_at = $4
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.JobStatusCompleted, analysisID, now)
	return err
}

// Fail marks an analysis job as failed
func (r *PostgresAnalysisJobRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	now := time.Now()
	query := `
		UPDATE analysis_jobs SET
			status = $2,
			error_message = $3,
			completed_at = $4,
			updated_at = $4
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.JobStatusFailed, errorMessage, now)
	return err
}
