package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HubURL    string
	AuthToken string
	ActorID   string

	LogLevel  string
	LogFormat string

	// Push transport: "sse" (default) or "ws".
	Transport string

	PageSize          int
	ReconnectDelay    time.Duration
	MaxReconnects     int
	TokenSafetyBuffer time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HubURL:    EnvString("RIPPLE_HUB_URL", "http://127.0.0.1:8080"),
		AuthToken: EnvString("RIPPLE_AUTH_TOKEN", ""),
		ActorID:   EnvString("RIPPLE_ACTOR_ID", ""),

		LogLevel:  EnvString("RIPPLE_LOG_LEVEL", "info"),
		LogFormat: EnvString("RIPPLE_LOG_FORMAT", "json"),

		Transport: EnvString("RIPPLE_TRANSPORT", "sse"),

		PageSize:          EnvInt("RIPPLE_PAGE_SIZE", 30),
		ReconnectDelay:    EnvDuration("RIPPLE_RECONNECT_DELAY", 3*time.Second),
		MaxReconnects:     EnvInt("RIPPLE_MAX_RECONNECTS", 10),
		TokenSafetyBuffer: EnvDuration("RIPPLE_TOKEN_SAFETY_BUFFER", 60*time.Second),
	}
}
