package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"dmchat/backend/internal/config"
	"dmchat/backend/internal/relay"
	"dmchat/backend/internal/storage"
	"dmchat/backend/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	log.Println("Starting dmchat relay...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// The relay shares the store with the API: sends over the socket land in
	// the same tables, and Redis fans deliveries out across relay nodes.
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}
	s := storage.NewStorageService(db, rdb)

	hub := relay.NewHub(s)
	go hub.Run()
	hub.StartPubSubListener()

	verifier := token.NewVerifier(cfg.SocketTokenSecret)
	h := relay.NewHandler(hub, verifier, cfg.ServerSecret)

	r := gin.Default()
	r.GET("/ws", h.ServeWS)
	r.POST("/emit-message", h.EmitMessage)

	server := &http.Server{
		Addr:           cfg.RelayAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Printf("Relay listening on %s", cfg.RelayAddr)
	log.Fatal(server.ListenAndServe())
}
