package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Seeds a demo user and a few well-known stocks so the server has something
// to show right after a fresh migration.
func main() {
	godotenv.Load()
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	stocks := map[string]string{
		"AAPL": "Apple Inc",
		"MSFT": "Microsoft Corporation",
		"NFLX": "Netflix Inc",
	}
	for sym, name := range stocks {
		_, err := db.ExecContext(ctx, `INSERT INTO stocks (symbol, name) VALUES ($1, $2) ON CONFLICT (symbol) DO NOTHING`, sym, name)
		if err != nil {
			fmt.Printf("Warning: could not insert stock %s: %v\n", sym, err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("demo-password"), 12)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, cash)
		VALUES ($1, $2, 10000.0000)
		ON CONFLICT (username) DO NOTHING`,
		"demo", string(hash))
	if err != nil {
		log.Fatalf("could not insert demo user: %v", err)
	}

	fmt.Println("Seeded demo user (demo / demo-password) and sample stocks.")
}
