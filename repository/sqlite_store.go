package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"penaltydesk-backend/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so TEXT columns sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements every repository on a single embedded database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// one writer; also keeps ":memory:" on a single shared connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Chats returns the chat repository view of the store
func (s *SQLiteStore) Chats() ChatRepository { return sqliteChats{s} }

// Analyses returns the analysis repository view of the store
func (s *SQLiteStore) Analyses() AnalysisRepository { return sqliteAnalyses{s} }

// Jobs returns the analysis job repository view of the store
func (s *SQLiteStore) Jobs() AnalysisJobRepository { return sqliteJobs{s} }

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			messages   TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chats_created_at ON chats(created_at);

		CREATE TABLE IF NOT EXISTS analyses (
			id               TEXT PRIMARY KEY,
			prompt           TEXT NOT NULL,
			mode             TEXT NOT NULL,
			llm_choice       TEXT NOT NULL DEFAULT '',
			severity         TEXT NOT NULL,
			verdict          TEXT NOT NULL,
			source_path      TEXT,
			source_filename  TEXT,
			source_mime_type TEXT,
			created_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_analyses_severity ON analyses(severity);
		CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);

		CREATE TABLE IF NOT EXISTS analysis_jobs (
			id            TEXT PRIMARY KEY,
			prompt        TEXT NOT NULL,
			mode          TEXT NOT NULL,
			llm_choice    TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			current_step  TEXT,
			steps         TEXT NOT NULL DEFAULT '[]',
			analysis_id   TEXT,
			error_message TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			completed_at  TEXT
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func mapSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// ─── Chats ───────────────────────────────────────────────────────────────────

type sqliteChats struct{ s *SQLiteStore }

func (r sqliteChats) Create(ctx context.Context, chat *models.Chat) error {
	if chat.Messages == nil {
		chat.Messages = make(models.Messages, 0)
	}
	now := time.Now().UTC()

	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, messages, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID.String(), chat.Title, chat.Messages, formatTime(now), formatTime(now),
	)
	if err != nil {
		return err
	}
	chat.CreatedAt = now
	chat.UpdatedAt = now
	return nil
}

const chatColumns = `id, title, messages, created_at, updated_at`

func scanChat(row scanner) (*models.Chat, error) {
	var (
		chat               models.Chat
		id                 string
		createdAt, updated string
	)
	if err := row.Scan(&id, &chat.Title, &chat.Messages, &createdAt, &updated); err != nil {
		return nil, err
	}

	var err error
	if chat.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if chat.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if chat.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r sqliteChats) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id.String())
	chat, err := scanChat(row)
	if err != nil {
		return nil, mapSQLError(err)
	}
	return chat, nil
}

func (r sqliteChats) AppendMessages(ctx context.Context, id uuid.UUID, messages ...models.Message) (*models.Chat, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	chat, err := scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id.String()))
	if err != nil {
		return nil, mapSQLError(err)
	}

	chat.Messages = append(chat.Messages, messages...)
	chat.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET messages = ?, updated_at = ? WHERE id = ?`,
		chat.Messages, formatTime(chat.UpdatedAt), id.String(),
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return chat, nil
}

func (r sqliteChats) List(ctx context.Context, limit, offset int) ([]*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	query, args = appendPaging(query, args, limit, offset)

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (r sqliteChats) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func appendPaging(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

// ─── Analyses ────────────────────────────────────────────────────────────────

type sqliteAnalyses struct{ s *SQLiteStore }

const analysisColumns = `id, prompt, mode, llm_choice, verdict, source_path, source_filename, source_mime_type, created_at`

func (r sqliteAnalyses) Create(ctx context.Context, analysis *models.Analysis) error {
	now := time.Now().UTC()
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO analyses (
			id, prompt, mode, llm_choice, severity, verdict,
			source_path, source_filename, source_mime_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		analysis.ID.String(),
		analysis.Prompt,
		string(analysis.Mode),
		analysis.LLMChoice,
		string(analysis.Verdict.PenaltySeverity),
		analysis.Verdict,
		analysis.SourcePath,
		analysis.SourceFilename,
		analysis.SourceMimeType,
		formatTime(now),
	)
	if err != nil {
		return err
	}
	analysis.CreatedAt = now
	return nil
}

func scanAnalysis(row scanner) (*models.Analysis, error) {
	var (
		a                              models.Analysis
		id, mode, createdAt            string
		sourcePath, filename, mimeType sql.NullString
	)
	err := row.Scan(&id, &a.Prompt, &mode, &a.LLMChoice, &a.Verdict, &sourcePath, &filename, &mimeType, &createdAt)
	if err != nil {
		return nil, err
	}

	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	a.Mode = models.AnalysisMode(mode)
	a.SourcePath = nullString(sourcePath)
	a.SourceFilename = nullString(filename)
	a.SourceMimeType = nullString(mimeType)
	return &a, nil
}

func (r sqliteAnalyses) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id.String())
	a, err := scanAnalysis(row)
	if err != nil {
		return nil, mapSQLError(err)
	}
	return a, nil
}

func (r sqliteAnalyses) List(ctx context.Context, severity *models.Severity, limit, offset int) ([]*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses`
	args := []any{}
	if severity != nil {
		query += ` WHERE severity = ?`
		args = append(args, string(*severity))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	query, args = appendPaging(query, args, limit, offset)

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]*models.Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

func (r sqliteAnalyses) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// ─── Analysis jobs ───────────────────────────────────────────────────────────

type sqliteJobs struct{ s *SQLiteStore }

func (r sqliteJobs) Create(ctx context.Context, job *models.AnalysisJob) error {
	if job.Steps == nil {
		job.Steps = make(models.AnalysisSteps, 0)
	}
	now := time.Now().UTC()

	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (
			id, prompt, mode, llm_choice, status, current_step, steps, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(),
		job.Prompt,
		string(job.Mode),
		job.LLMChoice,
		string(job.Status),
		job.CurrentStep,
		job.Steps,
		job.ErrorMessage,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return err
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func (r sqliteJobs) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var (
		job                          models.AnalysisJob
		jobID, mode, status          string
		createdAt, updatedAt         string
		currentStep, analysisID      sql.NullString
		errorMessage, completedAtStr sql.NullString
	)

	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, prompt, mode, llm_choice, status, current_step, steps,
			analysis_id, error_message, created_at, updated_at, completed_at
		FROM analysis_jobs
		WHERE id = ?`, id.String(),
	).Scan(
		&jobID, &job.Prompt, &mode, &job.LLMChoice, &status, &currentStep, &job.Steps,
		&analysisID, &errorMessage, &createdAt, &updatedAt, &completedAtStr,
	)
	if err != nil {
		return nil, mapSQLError(err)
	}

	if job.ID, err = uuid.Parse(jobID); err != nil {
		return nil, err
	}
	job.Mode = models.AnalysisMode(mode)
	job.Status = models.AnalysisJobStatus(status)
	job.CurrentStep = nullString(currentStep)
	job.ErrorMessage = nullString(errorMessage)
	if analysisID.Valid {
		aid, err := uuid.Parse(analysisID.String)
		if err != nil {
			return nil, err
		}
		job.AnalysisID = &aid
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completedAtStr); err != nil {
		return nil, err
	}
	if job.Steps == nil {
		job.Steps = make(models.AnalysisSteps, 0)
	}
	return &job, nil
}

func (r sqliteJobs) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AnalysisJobStatus) error {
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id.String(),
	)
	return err
}

func (r sqliteJobs) UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.AnalysisSteps) error {
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET current_step = ?, steps = ?, updated_at = ? WHERE id = ?`,
		currentStep, steps, formatTime(time.Now()), id.String(),
	)
	return err
}

func (r sqliteJobs) Complete(ctx context.Context, id uuid.UUID, analysisID uuid.UUID) error {
	now := formatTime(time.Now())
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, analysis_id = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(models.JobStatusCompleted), analysisID.String(), now, now, id.String(),
	)
	return err
}

func (r sqliteJobs) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	now := formatTime(time.Now())
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(models.JobStatusFailed), errorMessage, now, now, id.String(),
	)
	return err
}
