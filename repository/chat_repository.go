package repository

import (
	"context"
	"errors"
	"fmt"

	"penaltydesk-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChatRepository handles database operations for chats
type PostgresChatRepository struct {
	db *pgxpool.Pool
}

// NewPostgresChatRepository creates a new chat repository
func NewPostgresChatRepository(db *pgxpool.Pool) *PostgresChatRepository {
	return &PostgresChatRepository{db: db}
}

// Create creates a new chat
func (r *PostgresChatRepository) Create(ctx context.Context, chat *models.Chat) error {
	if chat.Messages == nil {
		chat.Messages = make(models.Messages, 0)
	}

	query := `
		INSERT INTO chats (id, title, messages)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		chat.ID,
		chat.Title,
		chat.Messages,
	).Scan(&chat.CreatedAt, &chat.UpdatedAt)
}

// GetByID retrieves a chat by ID
func (r *PostgresChatRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	query := `
		SELECT id, title, messages, created_at, updated_at
		FROM chats
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&chat.ID,
		&chat.Title,
		&chat.Messages,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}

	return chat, nil
}

// AppendMessages appends messages in a single statement so concurrent turns do not overwrite each other
func (r *PostgresChatRepository) AppendMessages(ctx context.Context, id uuid.UUID, messages ...models.Message) (*models.Chat, error) {
	chat := &models.Chat{}
	query := `
		UPDATE chats SET
			messages = messages || $2::jsonb,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, title, messages, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, id, models.Messages(messages)).Scan(
		&chat.ID,
		&chat.Title,
		&chat.Messages,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}

	return chat, nil
}

// List retrieves chats newest first
func (r *PostgresChatRepository) List(ctx context.Context, limit, offset int) ([]*models.Chat, error) {
	query := `
		SELECT id, title, messages, created_at, updated_at
		FROM chats
		ORDER BY created_at DESC`

	args := []interface{}{}
	argIndex := 1
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

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		chat := &models.Chat{}
		err := rows.Scan(
			&chat.ID,
			&chat.Title,
			&chat.Messages,
			&chat.CreatedAt,
			&chat.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// Delete deletes a chat
func (r *PostgresChatRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapPgError translates pgx's no-rows error into ErrNotFound
func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
