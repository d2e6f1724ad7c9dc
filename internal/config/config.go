package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultHTTPAddr          = ":8080"
	defaultDBPath            = "./db/serverzap.db"
	defaultSessionDir        = "./session"
	defaultWorkerCount       = 4
	defaultSendTimeoutSec    = 30
	defaultReconnectDelaySec = 5
	defaultMaxAttempts       = 3
	defaultBackoffBaseMS     = 1000
	defaultPollIntervalMS    = 250
	defaultResultRetentionD  = 30
	defaultLogLevel          = "info"
)

type Config struct {
	HTTPAddr        string
	DBPath          string
	SessionDir      string
	WorkerCount     int
	SendTimeout     time.Duration
	ReconnectDelay  time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	PollInterval    time.Duration
	ResultRetention time.Duration
	APIKey          string
	APIKeyHash      string
	LogLevel        string
}

func Load() Config {
	sendTimeoutSec := parsePositiveIntEnv("SERVERZAP_SEND_TIMEOUT_SEC", defaultSendTimeoutSec)
	reconnectDelaySec := parsePositiveIntEnv("SERVERZAP_RECONNECT_DELAY_SEC", defaultReconnectDelaySec)
	backoffBaseMS := parsePositiveIntEnv("SERVERZAP_BACKOFF_BASE_MS", defaultBackoffBaseMS)
	pollIntervalMS := parsePositiveIntEnv("SERVERZAP_POLL_INTERVAL_MS", defaultPollIntervalMS)
	resultRetentionDays := parsePositiveIntEnv("SERVERZAP_RESULT_RETENTION_DAY", defaultResultRetentionD)

	return Config{
		HTTPAddr:        getEnv("SERVERZAP_HTTP_ADDR", defaultHTTPAddr),
		DBPath:          getEnv("SERVERZAP_DB_PATH", defaultDBPath),
		SessionDir:      getEnv("SERVERZAP_SESSION_DIR", defaultSessionDir),
		WorkerCount:     parsePositiveIntEnv("SERVERZAP_WORKER_COUNT", defaultWorkerCount),
		SendTimeout:     time.Duration(sendTimeoutSec) * time.Second,
		ReconnectDelay:  time.Duration(reconnectDelaySec) * time.Second,
		MaxAttempts:     parsePositiveIntEnv("SERVERZAP_MAX_ATTEMPTS", defaultMaxAttempts),
		BackoffBase:     time.Duration(backoffBaseMS) * time.Millisecond,
		PollInterval:    time.Duration(pollIntervalMS) * time.Millisecond,
		ResultRetention: time.Duration(resultRetentionDays) * 24 * time.Hour,
		APIKey:          os.Getenv("SERVERZAP_API_KEY"),
		APIKeyHash:      os.Getenv("SERVERZAP_API_KEY_HASH"),
		LogLevel:        getEnv("SERVERZAP_LOG_LEVEL", defaultLogLevel),
	}
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parsePositiveIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
