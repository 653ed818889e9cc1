package main

import (
	"fmt"
	"time"

	"github.com/opsdesk/chatlink"
	"go.uber.org/zap"
)

// session bundles what every networked command needs.
type session struct {
	cfg    *Config
	client *chatlink.Client
	log    *zap.Logger
}

// getSession loads the effective config and builds an authenticated client.
func getSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.Token == "" {
		return nil, fmt.Errorf("no access token: run 'chatlink init <token>' first")
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if level == "" {
		level = "warn"
	}
	log := newLogger(level)

	var opts []chatlink.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatlink.WithBaseURL(cfg.Default.BaseURL))
	}
	opts = append(opts, chatlink.WithLogger(log))

	return &session{cfg: cfg, client: chatlink.NewClient(cfg.Default.Token, opts...), log: log}, nil
}

// thread picks the thread argument, falling back to default.thread.
func (s *session) thread(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if s.cfg.Default.Thread != "" {
		return s.cfg.Default.Thread, nil
	}
	return "", fmt.Errorf("no thread given and default.thread is not set")
}

// realtimeConfig translates the [live] section into library settings.
func (s *session) realtimeConfig() *chatlink.RealtimeConfig {
	return &chatlink.RealtimeConfig{
		HeartbeatInterval: time.Duration(s.cfg.Live.HeartbeatSeconds) * time.Second,
		ReconnectMaxDelay: time.Duration(s.cfg.Live.ReconnectMaxDelaySeconds) * time.Second,
		Logger:            s.log,
	}
}

// maskKey shows the first and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
