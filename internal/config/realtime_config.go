package config

import "time"

const (
	// Socket acknowledgements
	AckTimeout  = 5 * time.Second
	JoinTimeout = 5 * time.Second

	// Reconnection
	ReconnectDelay       = 5 * time.Second
	ReconnectDelaySlow   = 10 * time.Second
	MaxReconnectAttempts = 5

	// WebSocket transport
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 4096
	SendBufferSize = 256

	// Tokens
	DefaultTokenTTL = 15 * time.Minute
)
