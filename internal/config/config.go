package config

import (
	"errors"
	"os"
	"time"
)

// Config holds the environment-level settings shared by the API and relay
// processes. Call godotenv.Load in main before Load.
type Config struct {
	DatabaseDSN string
	RedisAddr   string

	APIAddr   string // listen address of the API process
	RelayAddr string // listen address of the relay process
	APIURL    string // base URL clients use to reach the API
	RelayURL  string // base URL clients use to reach the relay

	// SocketTokenSecret signs SocketTokens. ServerSecret guards the
	// server-to-server /emit-message endpoint.
	SocketTokenSecret string
	ServerSecret      string

	TokenTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:       getenv("DATABASE_DSN", "host=localhost user=user password=password dbname=dmchat port=5432 sslmode=disable"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		APIAddr:           getenv("API_ADDR", ":8080"),
		RelayAddr:         getenv("RELAY_ADDR", ":4000"),
		APIURL:            getenv("API_URL", "http://localhost:8080"),
		RelayURL:          getenv("RELAY_URL", "http://localhost:4000"),
		SocketTokenSecret: os.Getenv("SOCKET_TOKEN_SECRET"),
		ServerSecret:      os.Getenv("SERVER_SECRET"),
		TokenTTL:          DefaultTokenTTL,
	}

	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("config: invalid TOKEN_TTL: " + v)
		}
		cfg.TokenTTL = ttl
	}

	if cfg.SocketTokenSecret == "" {
		return nil, errors.New("config: SOCKET_TOKEN_SECRET is not set")
	}
	if cfg.ServerSecret == "" {
		return nil, errors.New("config: SERVER_SECRET is not set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
