package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LISTEN_ADDR", "ALLOWED_ORIGINS", "RESET_DELAY", "SESSION_EVENT_BUFFER", "CLIENT_SEND_BUFFER",
		"MESSAGES_DIR", "REDIS_URL", "DATABASE_URL", "AMQP_URL", "RABBITMQ_URL", "NOTIFY_BASE_URL", "NOTIFY_ROOM", "NOTIFY_USER_ID"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir()) // no .env
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":3000" || cfg.ResetDelay != 5*time.Second || cfg.EventBuffer != 128 || cfg.ClientSendBuffer != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 0 || cfg.RedisURL != "" {
		t.Fatalf("optional integrations should be off: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":8080")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("RESET_DELAY", "750ms")
	t.Setenv("RABBITMQ_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("NOTIFY_BASE_URL", "http://iris:3000")
	t.Setenv("NOTIFY_ROOM", "room-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.ResetDelay != 750*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("origins: %v", cfg.AllowedOrigins)
	}
	if cfg.AMQPURL != "amqp://guest:guest@mq:5672/" {
		t.Fatalf("AMQP fallback to RABBITMQ_URL not applied: %q", cfg.AMQPURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESET_DELAY", "-3")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative delay")
	}
	t.Setenv("RESET_DELAY", "7")
	t.Setenv("NOTIFY_BASE_URL", "http://iris")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for notifier without room")
	}
}
