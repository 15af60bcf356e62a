package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"penaltydesk-backend/config"
	"penaltydesk-backend/models"
	"penaltydesk-backend/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	seedQuestion = "What is a black and white flag?"
	seedAnswer   = "A black and white flag is shown for unsportsmanlike behaviour."
)

// seedChatID is fixed so reseeding is idempotent
var seedChatID = uuid.MustParse("00000000-0000-4000-8000-00000000f1a9")

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	var chats repository.ChatRepository
	switch cfg.Store.Type {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		chats = repository.NewPostgresChatRepository(pool)
	default:
		store, err := repository.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open SQLite store: %v", err)
		}
		defer store.Close()
		chats = store.Chats()
	}

	// Check if the sample chat already exists
	if existing, err := chats.GetByID(ctx, seedChatID); err == nil {
		log.Printf("Sample chat already exists (ID: %s, %d messages)", existing.ID, len(existing.Messages))
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Fatalf("Failed to look up sample chat: %v", err)
	}

	now := time.Now().UTC()
	chat := &models.Chat{
		ID:    seedChatID,
		Title: "Black and white flag",
		Messages: models.Messages{
			{ID: uuid.New(), Role: models.RoleUser, Content: seedQuestion, Timestamp: now},
			{ID: uuid.New(), Role: models.RoleAssistant, Content: seedAnswer, Timestamp: now},
		},
	}
	if err := chats.Create(ctx, chat); err != nil {
		log.Fatalf("Failed to create sample chat: %v", err)
	}

	fmt.Printf("✅ Sample chat created successfully!\n")
	fmt.Printf("   ID: %s\n", chat.ID)
	fmt.Printf("   Title: %s\n", chat.Title)
	fmt.Printf("   Messages: %d\n", len(chat.Messages))
}
