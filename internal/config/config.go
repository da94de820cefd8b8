package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the audio service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIVoice   string

	MaxChunkChars       int
	ChunkRequestTimeout time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	InterChunkDelay     time.Duration
	JobTimeout          time.Duration
	TimeoutRetryWait    time.Duration

	KeepAliveHeartbeat time.Duration
	KeepAliveWake      time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("SONARA_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("SONARA_METRICS_NAMESPACE", "sonara"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:     envTrimmed("OPENAI_API_KEY"),
		OpenAIVoice:      envOrDefault("SONARA_VOICE", "coral"),

		ShutdownTimeout: 15 * time.Second,
		// The remote API rejects inputs above 4096 characters per request.
		MaxChunkChars: 4096,
		// Long articles need long per-chunk waits; a timed-out chunk is not
		// retried (the whole job is, later).
		ChunkRequestTimeout: 2 * time.Minute,
		RetryMaxAttempts:    3,
		RetryBaseDelay:      2 * time.Second,
		InterChunkDelay:     300 * time.Millisecond,
		JobTimeout:          10 * time.Minute,
		TimeoutRetryWait:    10 * time.Minute,
		KeepAliveHeartbeat:  20 * time.Second,
		KeepAliveWake:       30 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("SONARA_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkRequestTimeout, err = durationFromEnv("SONARA_CHUNK_REQUEST_TIMEOUT", cfg.ChunkRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBaseDelay, err = durationFromEnv("SONARA_RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.InterChunkDelay, err = durationFromEnv("SONARA_INTER_CHUNK_DELAY", cfg.InterChunkDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.JobTimeout, err = durationFromEnv("SONARA_JOB_TIMEOUT", cfg.JobTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TimeoutRetryWait, err = durationFromEnv("SONARA_TIMEOUT_RETRY_WAIT", cfg.TimeoutRetryWait)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepAliveHeartbeat, err = durationFromEnv("SONARA_KEEPALIVE_HEARTBEAT", cfg.KeepAliveHeartbeat)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepAliveWake, err = durationFromEnv("SONARA_KEEPALIVE_WAKE", cfg.KeepAliveWake)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxChunkChars, err = intFromEnv("SONARA_MAX_CHUNK_CHARS", cfg.MaxChunkChars)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryMaxAttempts, err = intFromEnv("SONARA_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("SONARA_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxChunkChars <= 0 {
		return Config{}, fmt.Errorf("SONARA_MAX_CHUNK_CHARS must be positive")
	}
	if cfg.RetryMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("SONARA_RETRY_MAX_ATTEMPTS must be positive")
	}
	if cfg.JobTimeout < time.Minute {
		return Config{}, fmt.Errorf("SONARA_JOB_TIMEOUT must be at least 1m")
	}
	if cfg.KeepAliveHeartbeat <= 0 || cfg.KeepAliveWake <= 0 {
		return Config{}, fmt.Errorf("keep-alive intervals must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
