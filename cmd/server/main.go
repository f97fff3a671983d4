package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"tradebook/internal/auth"
	"tradebook/internal/config"
	"tradebook/internal/database"
	"tradebook/internal/engine"
	"tradebook/internal/handlers"
	"tradebook/internal/quote"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	db, err := initDB(cfg.PostgresURL)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := database.New(db, logger)
	quotes := quote.NewClient(quote.Config{
		BaseURL: cfg.QuoteAPIURL,
		APIKey:  cfg.QuoteAPIKey,
		Timeout: cfg.QuoteTimeout,
	}, logger)
	eng := engine.New(repo, quotes, logger)
	authSvc := auth.New(repo, []byte(cfg.JWTSecret), cfg.StartingCash, logger)

	h := handlers.New(eng, authSvc, logger)

	r := gin.Default()
	r.Use(handlers.Metrics())
	h.Routes(r)

	logger.Infof("server starting on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

func initDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}
