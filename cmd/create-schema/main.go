package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"penaltydesk-backend/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chats (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    messages JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS analyses (
    id UUID PRIMARY KEY,
    prompt TEXT NOT NULL,
    mode VARCHAR(20) NOT NULL CHECK (mode IN ('heuristic', 'structured')),
    llm_choice VARCHAR(50) NOT NULL DEFAULT '',
    severity VARCHAR(30) NOT NULL CHECK (severity IN ('No Action', 'Warning', 'Time Penalty', 'Grid Drop', 'Disqualification')),
    verdict JSONB NOT NULL,
    source_path TEXT,
    source_filename TEXT,
    source_mime_type VARCHAR(100),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
    id UUID PRIMARY KEY,
    prompt TEXT NOT NULL,
    mode VARCHAR(20) NOT NULL,
    llm_choice VARCHAR(50) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'completed', 'failed')),
    current_step TEXT,
    steps JSONB NOT NULL DEFAULT '[]'::jsonb,
    analysis_id UUID REFERENCES analyses(id) ON DELETE SET NULL,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	drop := flag.Bool("drop", false, "drop existing tables first (development only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Store.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if *drop {
		_, err = pool.Exec(ctx, "DROP TABLE IF EXISTS analysis_jobs, analyses, chats CASCADE")
		if err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✓ Dropped existing tables")
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}
	log.Println("✓ Created chats, analyses and analysis_jobs tables")

	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "Chats by recency",
			sql:  "CREATE INDEX IF NOT EXISTS idx_chats_created_at ON chats(created_at DESC);",
		},
		{
			name: "Analyses by recency",
			sql:  "CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);",
		},
		{
			name: "Severity filtering",
			sql:  "CREATE INDEX IF NOT EXISTS idx_analyses_severity ON analyses(severity);",
		},
		{
			name: "Open jobs",
			sql:  "CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status) WHERE status IN ('pending', 'in_progress');",
		},
	}

	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx.sql); err != nil {
			log.Printf("Warning: Failed to create index %s: %v", idx.name, err)
		} else {
			log.Printf("✓ Created index: %s", idx.name)
		}
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Println("   Tables: chats, analyses, analysis_jobs")
}
