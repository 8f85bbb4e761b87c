package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr     string
	AllowedOrigins []string

	ResetDelay       time.Duration
	EventBuffer      int
	ClientSendBuffer int

	MessagesDir string

	RedisURL    string
	DatabaseURL string
	AMQPURL     string

	NotifyBaseURL string
	NotifyRoom    string
	NotifyUserID  string
}

// Load reads the environment (after an optional .env in the working
// directory) and applies defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{
		ListenAddr:       ":3000",
		ResetDelay:       5 * time.Second,
		EventBuffer:      128,
		ClientSendBuffer: 64,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	if v := strings.TrimSpace(os.Getenv("RESET_DELAY")); v != "" {
		d, err := parseDelay(v)
		if err != nil {
			return nil, fmt.Errorf("RESET_DELAY: %w", err)
		}
		cfg.ResetDelay = d
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_EVENT_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLIENT_SEND_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClientSendBuffer = n
		}
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	if cfg.AMQPURL == "" {
		cfg.AMQPURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	}

	cfg.NotifyBaseURL = strings.TrimSpace(os.Getenv("NOTIFY_BASE_URL"))
	cfg.NotifyRoom = strings.TrimSpace(os.Getenv("NOTIFY_ROOM"))
	cfg.NotifyUserID = strings.TrimSpace(os.Getenv("NOTIFY_USER_ID"))

	if cfg.NotifyBaseURL != "" && cfg.NotifyRoom == "" {
		return nil, errors.New("NOTIFY_ROOM is required when NOTIFY_BASE_URL is set")
	}
	return cfg, nil
}

// parseDelay accepts a Go duration ("5s", "1m") or a bare number of seconds.
func parseDelay(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
