package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("RIPPLE_TEST_STR", "  value  ")
	if got := EnvString("RIPPLE_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q want=value", got)
	}
	t.Setenv("RIPPLE_TEST_STR", "")
	if got := EnvString("RIPPLE_TEST_STR", "def"); got != "def" {
		t.Fatalf("EnvString=%q want=def", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("RIPPLE_TEST_BOOL", "true")
	if !EnvBool("RIPPLE_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("RIPPLE_TEST_BOOL", "not-a-bool")
	if !EnvBool("RIPPLE_TEST_BOOL", true) {
		t.Fatalf("invalid value must fall back to default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("RIPPLE_TEST_INT", "42")
	if got := EnvInt("RIPPLE_TEST_INT", 7); got != 42 {
		t.Fatalf("EnvInt=%d want=42", got)
	}
	t.Setenv("RIPPLE_TEST_INT", "-3")
	if got := EnvInt("RIPPLE_TEST_INT", 7); got != 7 {
		t.Fatalf("non-positive must fall back: got=%d", got)
	}
	t.Setenv("RIPPLE_TEST_INT", "abc")
	if got := EnvInt("RIPPLE_TEST_INT", 7); got != 7 {
		t.Fatalf("invalid must fall back: got=%d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("RIPPLE_TEST_DUR", "45s")
	if got := EnvDuration("RIPPLE_TEST_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("EnvDuration=%v want=45s", got)
	}
	t.Setenv("RIPPLE_TEST_DUR", "0s")
	if got := EnvDuration("RIPPLE_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("non-positive must fall back: got=%v", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"RIPPLE_HUB_URL", "RIPPLE_TRANSPORT", "RIPPLE_PAGE_SIZE",
		"RIPPLE_RECONNECT_DELAY", "RIPPLE_MAX_RECONNECTS", "RIPPLE_TOKEN_SAFETY_BUFFER",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	if cfg.HubURL != "http://127.0.0.1:8080" {
		t.Fatalf("HubURL=%q", cfg.HubURL)
	}
	if cfg.Transport != "sse" {
		t.Fatalf("Transport=%q want=sse", cfg.Transport)
	}
	if cfg.PageSize != 30 {
		t.Fatalf("PageSize=%d want=30", cfg.PageSize)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("ReconnectDelay=%v want=3s", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnects != 10 {
		t.Fatalf("MaxReconnects=%d want=10", cfg.MaxReconnects)
	}
	if cfg.TokenSafetyBuffer != 60*time.Second {
		t.Fatalf("TokenSafetyBuffer=%v want=60s", cfg.TokenSafetyBuffer)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("RIPPLE_HUB_URL", "https://hub.example.com")
	t.Setenv("RIPPLE_TRANSPORT", "ws")
	t.Setenv("RIPPLE_RECONNECT_DELAY", "500ms")

	cfg := LoadConfig()
	if cfg.HubURL != "https://hub.example.com" {
		t.Fatalf("HubURL=%q", cfg.HubURL)
	}
	if cfg.Transport != "ws" {
		t.Fatalf("Transport=%q want=ws", cfg.Transport)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("ReconnectDelay=%v want=500ms", cfg.ReconnectDelay)
	}
}
