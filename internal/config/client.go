package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EnvServerURL       = "FOURSIGHT_SERVER_URL"
	EnvRequestTimeout  = "FOURSIGHT_REQUEST_TIMEOUT"
	EnvDiscordBotToken = "DISCORD_BOT_TOKEN"
)

const (
	DefaultServerURL = "http://127.0.0.1:8080"
	// Pass 2 plus synthesis can run several worker timeouts back to back.
	DefaultRequestTimeout = 3 * time.Minute
)

type ClientConfig struct {
	ServerURL       string
	RequestTimeout  time.Duration
	DiscordBotToken string
}

func ClientFromYAMLAndEnv() (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:      DefaultServerURL,
		RequestTimeout: DefaultRequestTimeout,
	}

	fileCfg, err := loadFileConfig()
	if err != nil {
		return ClientConfig{}, err
	}
	if value := strings.TrimSpace(fileCfg.Client.ServerURL); value != "" {
		cfg.ServerURL = value
	}
	timeout, err := parseOptionalDuration(fileCfg.Client.RequestTimeout, cfg.RequestTimeout, "client.request_timeout")
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.RequestTimeout = timeout
	if value := strings.TrimSpace(fileCfg.Client.DiscordBotToken); value != "" {
		cfg.DiscordBotToken = value
	}

	cfg.ServerURL = strings.TrimRight(EnvOrDefault(EnvServerURL, cfg.ServerURL), "/")
	cfg.RequestTimeout = parseDurationEnv(EnvRequestTimeout, cfg.RequestTimeout)
	cfg.DiscordBotToken = EnvOrDefault(EnvDiscordBotToken, cfg.DiscordBotToken)
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if err := validateHTTPURL(c.ServerURL); err != nil {
		return fmt.Errorf("%s: %w", EnvServerURL, err)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvRequestTimeout)
	}
	return nil
}

func (c ClientConfig) ValidateDiscord() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.DiscordBotToken) == "" {
		return fmt.Errorf("%s must not be empty", EnvDiscordBotToken)
	}
	return nil
}

// WebSocketURL converts the server base URL to its ws:// or wss:// form.
func (c ClientConfig) WebSocketURL(path string) (string, error) {
	parsed, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	return parsed.String(), nil
}
