package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EnvHTTPAddr                     = "FOURSIGHT_HTTP_ADDR"
	EnvDBDriver                     = "FOURSIGHT_DB_DRIVER"
	EnvDBDSN                        = "FOURSIGHT_DB_DSN"
	EnvSelectionSize                = "FOURSIGHT_SELECTION_SIZE"
	EnvDefaultSelection             = "FOURSIGHT_DEFAULT_SELECTION"
	EnvRequireSelectionConfirmation = "FOURSIGHT_REQUIRE_SELECTION_CONFIRMATION"
	EnvWorkerTimeout                = "FOURSIGHT_WORKER_TIMEOUT"
	EnvMaxParallel                  = "FOURSIGHT_MAX_PARALLEL"
	EnvSessionQueueSize             = "FOURSIGHT_SESSION_QUEUE_SIZE"
	EnvRankerURL                    = "FOURSIGHT_RANKER_URL"
	EnvRankerModel                  = "FOURSIGHT_RANKER_MODEL"
	EnvWorkerModel                  = "FOURSIGHT_WORKER_MODEL"
	EnvKnowledgeDir                 = "FOURSIGHT_KNOWLEDGE_DIR"
	EnvSynthesisModel               = "FOURSIGHT_SYNTHESIS_MODEL"
	EnvDefaultConfidence            = "FOURSIGHT_DEFAULT_CONFIDENCE"
	EnvAnthropicAPIKey              = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey                 = "OPENAI_API_KEY"
	EnvWebhookURLs                  = "FOURSIGHT_WEBHOOK_URLS"
	EnvWebhookSecret                = "FOURSIGHT_WEBHOOK_SECRET"
	EnvEventLogPath                 = "FOURSIGHT_EVENT_LOG_PATH"

	// WorkerURLEnvSuffix is appended to the upper-cased worker id, e.g. SWOT_AGENT_URL.
	WorkerURLEnvSuffix = "_AGENT_URL"
)

const (
	DefaultHTTPAddr          = ":8080"
	DefaultDBDriver          = "sqlite"
	DefaultDBDSN             = "foursight.db"
	DefaultSelectionSize     = 4
	MaxSelectionSize         = 10
	DefaultWorkerTimeout     = 30 * time.Second
	DefaultSessionQueueSize  = 64
	DefaultSynthesisModel    = "anthropic/claude-sonnet-4-20250514"
	DefaultDefaultConfidence = 0.8
)

var DefaultSelection = []string{"swot", "pros_cons", "cost_benefit", "decide_model"}

type WorkerConfig struct {
	ID          string
	URL         string
	Description string
}

type ServerConfig struct {
	HTTPAddr                     string
	DBDriver                     string
	DBDSN                        string
	SelectionSize                int
	DefaultSelection             []string
	RequireSelectionConfirmation bool
	WorkerTimeout                time.Duration
	MaxParallel                  int
	SessionQueueSize             int
	RankerURL                    string
	RankerModel                  string
	WorkerModel                  string
	KnowledgeDir                 string
	SynthesisModel               string
	DefaultConfidence            float64
	Workers                      []WorkerConfig
	AnthropicAPIKey              string
	OpenAIAPIKey                 string
	WebhookURLs                  []string
	WebhookSecret                string
	EventLogPath                 string
}

func ServerFromEnv() ServerConfig {
	cfg := defaultServerConfig()
	applyServerEnv(&cfg)
	return cfg
}

func ServerFromYAMLAndEnv() (ServerConfig, error) {
	cfg := defaultServerConfig()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return ServerConfig{}, err
	}
	if err := applyServerYAML(&cfg, fileCfg.Orchestrator, fileCfg.Workers); err != nil {
		return ServerConfig{}, err
	}
	applyServerEnv(&cfg)
	return cfg, nil
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          DefaultHTTPAddr,
		DBDriver:          DefaultDBDriver,
		DBDSN:             DefaultDBDSN,
		SelectionSize:     DefaultSelectionSize,
		DefaultSelection:  append([]string(nil), DefaultSelection...),
		WorkerTimeout:     DefaultWorkerTimeout,
		SessionQueueSize:  DefaultSessionQueueSize,
		SynthesisModel:    DefaultSynthesisModel,
		DefaultConfidence: DefaultDefaultConfidence,
	}
}

func applyServerYAML(cfg *ServerConfig, source fileServerConfig, workers []fileWorkerConfig) error {
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if source.SelectionSize != 0 {
		cfg.SelectionSize = source.SelectionSize
	}
	if len(source.DefaultSelection) > 0 {
		cfg.DefaultSelection = normalizeIDs(source.DefaultSelection)
	}
	if source.RequireSelectionConfirmation != nil {
		cfg.RequireSelectionConfirmation = *source.RequireSelectionConfirmation
	}

	timeout, err := parseOptionalDuration(source.WorkerTimeout, cfg.WorkerTimeout, "orchestrator.worker_timeout")
	if err != nil {
		return err
	}
	cfg.WorkerTimeout = timeout

	if source.MaxParallel != 0 {
		cfg.MaxParallel = source.MaxParallel
	}
	if source.SessionQueueSize != 0 {
		cfg.SessionQueueSize = source.SessionQueueSize
	}
	if value := strings.TrimSpace(source.RankerURL); value != "" {
		cfg.RankerURL = value
	}
	if value := strings.TrimSpace(source.RankerModel); value != "" {
		cfg.RankerModel = value
	}
	if value := strings.TrimSpace(source.WorkerModel); value != "" {
		cfg.WorkerModel = value
	}
	if value := strings.TrimSpace(source.KnowledgeDir); value != "" {
		dir, err := expandPath(value)
		if err != nil {
			return fmt.Errorf("resolve orchestrator.knowledge_dir: %w", err)
		}
		cfg.KnowledgeDir = dir
	}
	if value := strings.TrimSpace(source.SynthesisModel); value != "" {
		cfg.SynthesisModel = value
	}
	if source.DefaultConfidence != nil {
		cfg.DefaultConfidence = *source.DefaultConfidence
	}
	if value := strings.TrimSpace(source.AnthropicAPIKey); value != "" {
		cfg.AnthropicAPIKey = value
	}
	if value := strings.TrimSpace(source.OpenAIAPIKey); value != "" {
		cfg.OpenAIAPIKey = value
	}
	if len(source.WebhookURLs) > 0 {
		cfg.WebhookURLs = SplitList(strings.Join(source.WebhookURLs, ","))
	}
	if value := strings.TrimSpace(source.WebhookSecret); value != "" {
		cfg.WebhookSecret = value
	}
	if value := strings.TrimSpace(source.EventLogPath); value != "" {
		cfg.EventLogPath = value
	}

	for i, w := range workers {
		id := normalizeID(w.ID)
		if id == "" {
			return fmt.Errorf("workers[%d].id must not be empty", i)
		}
		cfg.setWorker(WorkerConfig{ID: id, URL: strings.TrimSpace(w.URL), Description: strings.TrimSpace(w.Description)})
	}
	return nil
}

func applyServerEnv(cfg *ServerConfig) {
	cfg.HTTPAddr = EnvOrDefault(EnvHTTPAddr, cfg.HTTPAddr)
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = EnvOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.SelectionSize = parseIntEnv(EnvSelectionSize, cfg.SelectionSize)
	if raw := EnvString(EnvDefaultSelection); raw != "" {
		cfg.DefaultSelection = normalizeIDs(SplitList(raw))
	}
	cfg.RequireSelectionConfirmation = parseBoolEnv(EnvRequireSelectionConfirmation, cfg.RequireSelectionConfirmation)
	cfg.WorkerTimeout = parseDurationEnv(EnvWorkerTimeout, cfg.WorkerTimeout)
	cfg.MaxParallel = parseIntEnv(EnvMaxParallel, cfg.MaxParallel)
	cfg.SessionQueueSize = parseIntEnv(EnvSessionQueueSize, cfg.SessionQueueSize)
	cfg.RankerURL = EnvOrDefault(EnvRankerURL, cfg.RankerURL)
	cfg.RankerModel = EnvOrDefault(EnvRankerModel, cfg.RankerModel)
	cfg.WorkerModel = EnvOrDefault(EnvWorkerModel, cfg.WorkerModel)
	cfg.KnowledgeDir = EnvOrDefault(EnvKnowledgeDir, cfg.KnowledgeDir)
	cfg.SynthesisModel = EnvOrDefault(EnvSynthesisModel, cfg.SynthesisModel)
	cfg.DefaultConfidence = parseFloatEnv(EnvDefaultConfidence, cfg.DefaultConfidence)
	cfg.AnthropicAPIKey = EnvOrDefault(EnvAnthropicAPIKey, cfg.AnthropicAPIKey)
	cfg.OpenAIAPIKey = EnvOrDefault(EnvOpenAIAPIKey, cfg.OpenAIAPIKey)
	if raw := EnvString(EnvWebhookURLs); raw != "" {
		cfg.WebhookURLs = SplitList(raw)
	}
	cfg.WebhookSecret = EnvOrDefault(EnvWebhookSecret, cfg.WebhookSecret)
	cfg.EventLogPath = EnvOrDefault(EnvEventLogPath, cfg.EventLogPath)

	for i := range cfg.Workers {
		cfg.Workers[i].URL = EnvOrDefault(WorkerURLEnv(cfg.Workers[i].ID), cfg.Workers[i].URL)
	}
}

// ApplyWorkerEnv registers endpoints for ids that are not configured in the
// file but have a <ID>_AGENT_URL variable set.
func (c *ServerConfig) ApplyWorkerEnv(ids []string) {
	for _, id := range ids {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		if raw := EnvString(WorkerURLEnv(id)); raw != "" {
			existing, _ := c.Worker(id)
			existing.ID = id
			existing.URL = raw
			c.setWorker(existing)
		}
	}
}

func (c ServerConfig) Worker(id string) (WorkerConfig, bool) {
	id = normalizeID(id)
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerConfig{}, false
}

func (c *ServerConfig) setWorker(w WorkerConfig) {
	for i := range c.Workers {
		if c.Workers[i].ID == w.ID {
			if w.Description == "" {
				w.Description = c.Workers[i].Description
			}
			c.Workers[i] = w
			return
		}
	}
	c.Workers = append(c.Workers, w)
}

// WorkerEndpoints returns id -> base URL for workers that have a URL.
func (c ServerConfig) WorkerEndpoints() map[string]string {
	out := make(map[string]string)
	for _, w := range c.Workers {
		if w.URL != "" {
			out[w.ID] = w.URL
		}
	}
	return out
}

func WorkerURLEnv(id string) string {
	return strings.ToUpper(normalizeID(id)) + WorkerURLEnvSuffix
}

func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("%s must be sqlite, postgres or memory", EnvDBDriver)
	}
	if c.DBDriver != "memory" && strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("%s must not be empty", EnvDBDSN)
	}
	if c.SelectionSize < 1 || c.SelectionSize > MaxSelectionSize {
		return fmt.Errorf("%s must be between 1 and %d", EnvSelectionSize, MaxSelectionSize)
	}
	if len(c.DefaultSelection) == 0 {
		return fmt.Errorf("%s must not be empty", EnvDefaultSelection)
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvWorkerTimeout)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("%s must be >= 0", EnvMaxParallel)
	}
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return fmt.Errorf("%s must be between 0 and 1", EnvDefaultConfidence)
	}
	if c.RankerURL != "" {
		if err := validateHTTPURL(c.RankerURL); err != nil {
			return fmt.Errorf("%s: %w", EnvRankerURL, err)
		}
	}
	for _, w := range c.Workers {
		if w.URL == "" {
			continue
		}
		if err := validateHTTPURL(w.URL); err != nil {
			return fmt.Errorf("%s: %w", WorkerURLEnv(w.ID), err)
		}
	}
	for _, raw := range c.WebhookURLs {
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("%s: %w", EnvWebhookURLs, err)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q must include a host", raw)
	}
	return nil
}

// normalizeID lower-cases and strips the legacy "_agent" suffix.
func normalizeID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimSuffix(id, "_agent")
}

func normalizeIDs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if id := normalizeID(r); id != "" {
			out = append(out, id)
		}
	}
	return out
}
