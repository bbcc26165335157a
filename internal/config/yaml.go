package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile = "FOURSIGHT_CONFIG_FILE"

	configDirName           = ".foursight"
	defaultConfigFileName   = "config.yaml"
	alternateConfigFileName = "config.yml"
)

type fileConfig struct {
	Version      int                `yaml:"version"`
	Orchestrator fileServerConfig   `yaml:"orchestrator"`
	Client       fileClientConfig   `yaml:"client"`
	Workers      []fileWorkerConfig `yaml:"workers"`
}

type fileServerConfig struct {
	HTTPAddr                     string   `yaml:"http_addr"`
	DBDriver                     string   `yaml:"db_driver"`
	DBDSN                        string   `yaml:"db_dsn"`
	SelectionSize                int      `yaml:"selection_size"`
	DefaultSelection             []string `yaml:"default_selection"`
	RequireSelectionConfirmation *bool    `yaml:"require_selection_confirmation"`
	WorkerTimeout                string   `yaml:"worker_timeout"`
	MaxParallel                  int      `yaml:"max_parallel"`
	SessionQueueSize             int      `yaml:"session_queue_size"`
	RankerURL                    string   `yaml:"ranker_url"`
	RankerModel                  string   `yaml:"ranker_model"`
	WorkerModel                  string   `yaml:"worker_model"`
	KnowledgeDir                 string   `yaml:"knowledge_dir"`
	SynthesisModel               string   `yaml:"synthesis_model"`
	DefaultConfidence            *float64 `yaml:"default_confidence"`
	AnthropicAPIKey              string   `yaml:"anthropic_api_key"`
	OpenAIAPIKey                 string   `yaml:"openai_api_key"`
	WebhookURLs                  []string `yaml:"webhook_urls"`
	WebhookSecret                string   `yaml:"webhook_secret"`
	EventLogPath                 string   `yaml:"event_log_path"`
}

type fileWorkerConfig struct {
	ID          string `yaml:"id"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

type fileClientConfig struct {
	ServerURL       string `yaml:"server_url"`
	RequestTimeout  string `yaml:"request_timeout"`
	DiscordBotToken string `yaml:"discord_bot_token"`
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := EnvString(EnvConfigFile); explicit != "" {
		resolvedPath, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve %s: %w", EnvConfigFile, err)
		}
		info, err := os.Stat(resolvedPath)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolvedPath, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolvedPath)
		}
		return resolvedPath, true, nil
	}

	candidates := []string{
		filepath.Join(configDirName, defaultConfigFileName),
		filepath.Join(configDirName, alternateConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(homeDir, configDirName, defaultConfigFileName),
			filepath.Join(homeDir, configDirName, alternateConfigFileName),
		)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}
