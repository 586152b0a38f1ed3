package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"dmchat/backend/internal/api/handler"
	"dmchat/backend/internal/config"
	"dmchat/backend/internal/models"
	"dmchat/backend/internal/storage"
	"dmchat/backend/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
	)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func main() {
	log.Println("Starting dmchat API...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	db, rdb := setupDependencies(cfg)
	s := storage.NewStorageService(db, rdb)

	issuer := token.NewIssuer(cfg.SocketTokenSecret, cfg.TokenTTL)
	verifier := token.NewVerifier(cfg.SocketTokenSecret)
	notifier := handler.NewHTTPNotifier(cfg.RelayURL, cfg.ServerSecret)

	r := gin.Default()
	h := handler.NewHandler(s, issuer, verifier, notifier)
	handler.RegisterRoutes(r, h)

	server := &http.Server{
		Addr:           cfg.APIAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Printf("API listening on %s", cfg.APIAddr)
	log.Fatal(server.ListenAndServe())
}
