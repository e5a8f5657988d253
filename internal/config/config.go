package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the client.
type Config struct {
	// Ledger service
	LedgerURL   string
	LedgerWSURL string // defaults to LedgerURL

	// Local wallet store
	WalletPath string

	// RPC
	RPCTimeout time.Duration
	RPCRPS     int
	RPCBurst   int

	// WebSocket
	WSMaxRetries     int
	WSReconnectDelay time.Duration

	// Mining animation
	MiningTick         time.Duration
	MiningDisplayDelay time.Duration

	// Logging
	LogLevel string

	// HTTP API
	HTTPEnabled bool
	HTTPAddr    string

	// Redis snapshot stream (empty RedisURL disables publishing)
	RedisURL       string
	SnapshotsTopic string
	ConsumerGroup  string
}

// Load loads configuration from environment variables.
// Values in a .env file in the working directory are used for unset variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env", "err", err)
	}

	cfg := &Config{
		// Defaults
		LedgerURL:          "http://localhost:5000",
		WalletPath:         defaultWalletPath(),
		RPCTimeout:         5 * time.Minute,
		RPCRPS:             20,
		RPCBurst:           40,
		WSMaxRetries:       25,
		WSReconnectDelay:   time.Second,
		MiningTick:         60 * time.Millisecond,
		MiningDisplayDelay: 1200 * time.Millisecond,
		LogLevel:           "info",
		HTTPAddr:           ":8080",
		SnapshotsTopic:     "ledger-snapshots",
		ConsumerGroup:      "ledgerwatch-mirrors",
	}

	if v := os.Getenv("LEDGER_URL"); v != "" {
		cfg.LedgerURL = v
	}

	cfg.LedgerWSURL = os.Getenv("LEDGER_WS_URL")
	if cfg.LedgerWSURL == "" {
		cfg.LedgerWSURL = cfg.LedgerURL
	}

	if v := os.Getenv("WALLET_PATH"); v != "" {
		cfg.WalletPath = v
	}

	if v := os.Getenv("RPC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RPCTimeout = d
		}
	}

	if v := os.Getenv("RPC_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCRPS = n
		}
	}

	if v := os.Getenv("RPC_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCBurst = n
		}
	}

	if v := os.Getenv("WS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSMaxRetries = n
		}
	}

	if v := os.Getenv("WS_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WSReconnectDelay = d
		}
	}

	if v := os.Getenv("MINING_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.MiningTick = d
		}
	}

	if v := os.Getenv("MINING_DISPLAY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.MiningDisplayDelay = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// HTTP API Configuration
	if v := os.Getenv("HTTP_ENABLED"); v != "" {
		cfg.HTTPEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	if v := os.Getenv("SNAPSHOTS_TOPIC"); v != "" {
		cfg.SnapshotsTopic = v
	}

	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		cfg.ConsumerGroup = v
	}

	if cfg.RPCRPS <= 0 || cfg.RPCBurst <= 0 {
		return nil, fmt.Errorf("RPC_RPS and RPC_BURST must be positive")
	}

	return cfg, nil
}

func defaultWalletPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ledgerwatch/wallet"
	}
	return dir + "/ledgerwatch/wallet"
}
