package repository

import (
	"context"
	"fmt"

	"penaltydesk-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAnalysisRepository handles database operations for analyses
type PostgresAnalysisRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAnalysisRepository creates a new analysis repository
func NewPostgresAnalysisRepository(db *pgxpool.Pool) *PostgresAnalysisRepository {
	return &PostgresAnalysisRepository{db: db}
}

// Create creates a new analysis record
func (r *PostgresAnalysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	query := `
		INSERT INTO analyses (
			id, prompt, mode, llm_choice, severity, verdict,
			source_path, source_filename, source_mime_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		analysis.ID,
		analysis.Prompt,
		analysis.Mode,
		analysis.LLMChoice,
		analysis.Verdict.PenaltySeverity,
		analysis.Verdict,
		analysis.SourcePath,
		analysis.SourceFilename,
		analysis.SourceMimeType,
	).Scan(&analysis.CreatedAt)
}

// GetByID retrieves an analysis by ID
func (r *PostgresAnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	analysis := &models.Analysis{}
	query := `
		SELECT id, prompt, mode, llm_choice, verdict,
			source_path, source_filename, source_mime_type, created_at
		FROM analyses
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&analysis.ID,
		&analysis.Prompt,
		&analysis.Mode,
		&analysis.LLMChoice,
		&analysis.Verdict,
		&analysis.SourcePath,
		&analysis.SourceFilename,
		&analysis.SourceMimeType,
		&analysis.CreatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}

	return analysis, nil
}

// List retrieves analyses newest first, optionally filtered by severity
func (r *PostgresAnalysisRepository) List(ctx context.Context, severity *models.Severity, limit, offset int) ([]*models.Analysis, error) {
	query := `
		SELECT id, prompt, mode, llm_choice, verdict,
			source_path, source_filename, source_mime_type, created_at
		FROM analyses
		WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	if severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argIndex)
		args = append(args, *severity)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]*models.Analysis, 0)
	for rows.Next() {
		analysis := &models.Analysis{}
		err := rows.Scan(
			&analysis.ID,
			&analysis.Prompt,
			&analysis.Mode,
			&analysis.LLMChoice,
			&analysis.Verdict,
			&analysis.SourcePath,
			&analysis.SourceFilename,
			&analysis.SourceMimeType,
			&analysis.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}

	return analyses, rows.Err()
}

// Delete deletes an analysis record
func (r *PostgresAnalysisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
