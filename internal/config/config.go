package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"tasksync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
	Notion     NotionConfig     `yaml:"notion"`
	Google     GoogleConfig     `yaml:"google"`
	Gmail      GmailConfig      `yaml:"gmail"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Retry      RetryConfig      `yaml:"retry"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	LabelTTL time.Duration `yaml:"label_ttl"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type NotionConfig struct {
	Token      string           `yaml:"token"`
	DatabaseID string           `yaml:"database_id"`
	BaseURL    string           `yaml:"base_url"`
	APIVersion string           `yaml:"api_version"`
	Timeout    time.Duration    `yaml:"timeout"`
	Properties NotionProperties `yaml:"properties"`
}

// NotionProperties names the database columns the service reads and writes.
type NotionProperties struct {
	Title      string `yaml:"title"`
	Status     string `yaml:"status"`
	StatusType string `yaml:"status_type"`
	Due        string `yaml:"due"`
	EventID    string `yaml:"event_id"`
	MessageID  string `yaml:"message_id"`
	EmailLink  string `yaml:"email_link"`
	Sender     string `yaml:"sender"`
	Receiver   string `yaml:"receiver"`
}

type GoogleConfig struct {
	CredentialsFile string        `yaml:"credentials_file"`
	AccessToken     string        `yaml:"access_token"`
	Subject         string        `yaml:"subject"`
	CalendarID      string        `yaml:"calendar_id"`
	TimeZone        string        `yaml:"timezone"`
	EventDuration   time.Duration `yaml:"event_duration"`
	// ClientEventIDs enables create-with-id on the calendar.
	ClientEventIDs *bool `yaml:"client_event_ids"`
}

type GmailConfig struct {
	Enabled        bool          `yaml:"enabled"`
	UserID         string        `yaml:"user_id"`
	Query          string        `yaml:"query"`
	ProcessedLabel string        `yaml:"processed_label"`
	MaxResults     int64         `yaml:"max_results"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type AnthropicConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RetryConfig overrides the built-in per-service retry policies.
type RetryConfig struct {
	Mail     ServiceRetryConfig `yaml:"mail"`
	DocStore ServiceRetryConfig `yaml:"docstore"`
	Calendar ServiceRetryConfig `yaml:"calendar"`
	AI       ServiceRetryConfig `yaml:"ai"`
}

type ServiceRetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	MaxJitter     time.Duration `yaml:"max_jitter"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
}

type WorkerConfig struct {
	Count         int           `yaml:"count"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	QueueKey      string        `yaml:"queue_key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Notion.Token == "" {
		return errors.New("notion token is required")
	}
	if c.Notion.DatabaseID == "" {
		return errors.New("notion database_id is required")
	}
	if c.Google.CredentialsFile == "" && c.Google.AccessToken == "" {
		return errors.New("google credentials_file or access_token is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Anthropic.Enabled && c.Anthropic.APIKey == "" {
		return errors.New("anthropic api_key is required when anthropic is enabled")
	}
	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth.api_keys is required when the API is enabled")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be positive, got %d", c.Worker.Count)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tasksync"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/tasksync.db"
	}
	if c.Redis.LabelTTL == 0 {
		c.Redis.LabelTTL = 24 * time.Hour
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	c.applyNotionDefaults()
	c.applyGoogleDefaults()

	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = 1024
	}
	if c.Anthropic.Timeout == 0 {
		c.Anthropic.Timeout = 60 * time.Second
	}

	if c.Worker.Count == 0 {
		c.Worker.Count = 1
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 30 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = 30 * time.Minute
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 10 * time.Minute
	}
	if c.Worker.QueueKey == "" {
		c.Worker.QueueKey = "tasksync:queue"
	}
	if c.Worker.DeadLetterKey == "" {
		c.Worker.DeadLetterKey = "tasksync:deadletter"
	}
}

func (c *Config) applyNotionDefaults() {
	n := &c.Notion
	if n.BaseURL == "" {
		n.BaseURL = "https://api.notion.com"
	}
	if n.APIVersion == "" {
		n.APIVersion = "2022-06-28"
	}
	if n.Timeout == 0 {
		n.Timeout = 30 * time.Second
	}
	p := &n.Properties
	if p.Title == "" {
		p.Title = "Task name"
	}
	if p.Status == "" {
		p.Status = "Status"
	}
	if p.StatusType == "" {
		p.StatusType = "status"
	}
	if p.Due == "" {
		p.Due = "Due Date"
	}
	if p.EventID == "" {
		p.EventID = "Google Event ID"
	}
	if p.MessageID == "" {
		p.MessageID = "Message ID"
	}
	if p.EmailLink == "" {
		p.EmailLink = "Original Email Link"
	}
	if p.Sender == "" {
		p.Sender = "Sender"
	}
	if p.Receiver == "" {
		p.Receiver = "To"
	}
}

func (c *Config) applyGoogleDefaults() {
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.TimeZone == "" {
		c.Google.TimeZone = "UTC"
	}
	if c.Google.EventDuration == 0 {
		c.Google.EventDuration = models.DefaultEventDuration
	}
	if c.Google.ClientEventIDs == nil {
		enabled := true
		c.Google.ClientEventIDs = &enabled
	}

	if c.Gmail.UserID == "" {
		c.Gmail.UserID = "me"
	}
	if c.Gmail.ProcessedLabel == "" {
		c.Gmail.ProcessedLabel = models.ProcessedLabel
	}
	if c.Gmail.Query == "" {
		c.Gmail.Query = "-label:" + c.Gmail.ProcessedLabel + " newer_than:2d"
	}
	if c.Gmail.MaxResults == 0 {
		c.Gmail.MaxResults = models.DefaultInboxMax
	}
	if c.Gmail.PollInterval == 0 {
		c.Gmail.PollInterval = 5 * time.Minute
	}
}

// ClientIDsEnabled reports whether events are created with derived ids.
func (g GoogleConfig) ClientIDsEnabled() bool {
	return g.ClientEventIDs == nil || *g.ClientEventIDs
}
