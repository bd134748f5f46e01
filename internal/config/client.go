package config

import (
	"os"
	"strings"
	"time"
)

// ClientConfig configures a POS client and its sync engine.
type ClientConfig struct {
	ServerURL          string
	StatePath          string
	Username           string
	Password           string
	PushMode           string
	PushDebounceMS     int
	MaxAttempts        int
	SyncTimeoutSeconds int
	PollSeconds        int
}

func LoadClient() ClientConfig {
	mode := strings.ToLower(strings.TrimSpace(getEnv("TOKOKU_PUSH_MODE", "partial")))
	if mode != "partial" && mode != "all" {
		mode = "partial"
	}

	return ClientConfig{
		ServerURL:          strings.TrimRight(getEnv("TOKOKU_SERVER_URL", "http://127.0.0.1:8080"), "/"),
		StatePath:          getEnv("TOKOKU_STATE_PATH", "tokoku-state.db"),
		Username:           getEnv("TOKOKU_USERNAME", "admin"),
		Password:           os.Getenv("TOKOKU_PASSWORD"),
		PushMode:           mode,
		PushDebounceMS:     getNonNegativeInt("TOKOKU_PUSH_DEBOUNCE_MS", 400),
		MaxAttempts:        getNonNegativeInt("TOKOKU_MAX_ATTEMPTS", 10),
		SyncTimeoutSeconds: getPositiveInt("TOKOKU_SYNC_TIMEOUT_SECONDS", 30),
		PollSeconds:        getNonNegativeInt("TOKOKU_POLL_SECONDS", 0),
	}
}

func (c ClientConfig) PushDebounce() time.Duration {
	return time.Duration(c.PushDebounceMS) * time.Millisecond
}

func (c ClientConfig) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}
