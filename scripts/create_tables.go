package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tangent/internal/config"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	prefix := config.TablePrefixFor(env)

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }() // Error ignored: script exiting

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %schats (
			chat_id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_id       TEXT NOT NULL,
			kind           TEXT NOT NULL,
			name           TEXT NOT NULL,
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			parent_chat_id UUID REFERENCES %schats(chat_id),
			parent_turn_id TEXT,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %schats_owner_idx ON %schats (owner_id) WHERE active;
		CREATE INDEX IF NOT EXISTS %schats_parent_idx ON %schats (parent_chat_id) WHERE active;
	`, prefix, prefix, prefix, prefix, prefix, prefix)

	if _, err := db.Exec(createSQL); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	fmt.Printf("Tables created successfully (prefix: %s)\n", prefix)
}
