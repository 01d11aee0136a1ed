package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"TechNotesScanner/internal/domain"
)

const (
	defaultTimezone    = "America/Sao_Paulo"
	configPathEnv      = "TECHNOTES_CONFIG"
	logLevelEnv        = "LOG_LEVEL"
	storageDriverEnv   = "STORAGE_DRIVER"
	badgerPathEnv      = "BADGER_PATH"
	databaseDSNEnv     = "DATABASE_DSN"
	llmProviderEnv     = "LLM_PROVIDER"
	llmModelEnv        = "LLM_MODEL"
	llmAPIKeyEnv       = "LLM_API_KEY"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	geminiAPIKeyEnv    = "GEMINI_API_KEY"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	s3EndpointEnv      = "S3_ENDPOINT"
	s3AccessKeyEnv     = "S3_ACCESS_KEY"
	s3SecretKeyEnv     = "S3_SECRET_KEY"
	httpAddrEnv        = "HTTP_ADDR"
)

// NFe portal defaults.
const (
	NFeSourceName = "NFE FAZENDA"
	NFeBaseURL    = "https://www.nfe.fazenda.gov.br"
	NFeListingURL = "https://www.nfe.fazenda.gov.br/portal/listaConteudo.aspx?tipoConteudo=04BIflQt1aY="
	NFeReferer    = "https://www.nfe.fazenda.gov.br/"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Storage       StorageConfig      `yaml:"storage"`
	Fetcher       FetcherConfig      `yaml:"fetcher"`
	Extraction    ExtractionConfig   `yaml:"extraction"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	LLM           LLMConfig          `yaml:"llm"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Jobs          JobsConfig         `yaml:"jobs"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Notifications NotificationConfig `yaml:"notifications"`
	Server        ServerConfig       `yaml:"server"`
	Sources       []SourceConfig     `yaml:"sources" validate:"dive"`
}

// LoggingConfig selects the console log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
}

// StorageConfig selects the persistence engine.
type StorageConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=badger postgres"`
	BadgerPath string `yaml:"badgerPath" validate:"required_if=Driver badger"`
	DSN        string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// FetcherConfig tunes the HTTP politeness policy.
type FetcherConfig struct {
	Delay         time.Duration `yaml:"delay" validate:"min=0"`
	MaxRetries    int           `yaml:"maxRetries" validate:"min=1"`
	BackoffBase   time.Duration `yaml:"backoffBase" validate:"min=0"`
	MaxRetryWait  time.Duration `yaml:"maxRetryWait" validate:"min=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"min=0"`
	UserAgent     string        `yaml:"userAgent"`
	RespectRobots bool          `yaml:"respectRobots"`
}

// ExtractionConfig bounds document text extraction.
type ExtractionConfig struct {
	MaxPages     int `yaml:"maxPages" validate:"min=1"`
	PreviewLimit int `yaml:"previewLimit" validate:"min=1"`
}

// PipelineConfig bounds what the scraper persists.
type PipelineConfig struct {
	PreviewLimit int `yaml:"previewLimit" validate:"min=1"`
}

// LLMConfig defines how to contact the summarization model.
type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=openai claude gemini"`
	Model             string        `yaml:"model" validate:"required"`
	APIKey            string        `yaml:"apiKey"`
	Endpoint          string        `yaml:"endpoint" validate:"omitempty,url"`
	Temperature       float64       `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens         int           `yaml:"maxTokens" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=0"`
	RequestsPerMinute int           `yaml:"requestsPerMinute" validate:"min=0"`
}

// SchedulerConfig defines the job engine runtime.
type SchedulerConfig struct {
	Timezone        string         `yaml:"timezone"`
	PoolSize        int            `yaml:"poolSize" validate:"min=1"`
	ShutdownTimeout time.Duration  `yaml:"shutdownTimeout" validate:"min=0"`
	location        *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// JobsConfig holds per-job registration settings.
type JobsConfig struct {
	Scrape       JobConfig `yaml:"scrape"`
	Summarize    JobConfig `yaml:"summarize"`
	FullPipeline JobConfig `yaml:"fullPipeline"`
	HealthCheck  JobConfig `yaml:"healthCheck"`
}

// JobConfig describes one scheduled job.
type JobConfig struct {
	Enabled      bool           `yaml:"enabled"`
	Trigger      domain.Trigger `yaml:"trigger"`
	MaxItems     int            `yaml:"maxItems" validate:"min=0"`
	MaxInstances int            `yaml:"maxInstances" validate:"min=0"`
	Coalesce     bool           `yaml:"coalesce"`
}

// ArchiveConfig selects where raw document bytes are kept.
type ArchiveConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=none local s3"`
	Dir       string `yaml:"dir" validate:"required_if=Driver local"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Driver s3"`
	Bucket    string `yaml:"bucket" validate:"required_if=Driver s3"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSsl"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// ServerConfig configures the status HTTP surface. Empty Addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SourceConfig describes a single data source with its scraper strategy.
type SourceConfig struct {
	Name        string            `yaml:"name" validate:"required"`
	BaseURL     string            `yaml:"baseUrl" validate:"required,url"`
	ListingURL  string            `yaml:"listingUrl" validate:"required,url"`
	ContentType string            `yaml:"contentType" validate:"oneof=pdf html text"`
	Scraper     string            `yaml:"scraper"`
	Active      *bool             `yaml:"active"`
	Options     map[string]string `yaml:"options"`
}

// ToDataSource converts the configured entry into a domain value.
func (s SourceConfig) ToDataSource() domain.DataSource {
	active := true
	if s.Active != nil {
		active = *s.Active
	}
	return domain.DataSource{
		Name:        s.Name,
		BaseURL:     s.BaseURL,
		ListingURL:  s.ListingURL,
		ContentType: domain.ContentType(s.ContentType),
		Scraper:     s.Scraper,
		Active:      active,
		Config:      s.Options,
	}
}

// Load reads YAML configuration (if present), applies environment overrides and validates.
// An empty path falls back to $TECHNOTES_CONFIG; no path at all means defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = Default().Sources
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(storageDriverEnv); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(badgerPathEnv); v != "" {
		c.Storage.BadgerPath = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.DSN = v
	}

	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv(openAIAPIKeyEnv)
		case "claude":
			c.LLM.APIKey = os.Getenv(anthropicAPIKeyEnv)
		case "gemini":
			c.LLM.APIKey = os.Getenv(geminiAPIKeyEnv)
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(s3EndpointEnv); v != "" {
		c.Archive.Endpoint = v
	}
	if v := os.Getenv(s3AccessKeyEnv); v != "" {
		c.Archive.AccessKey = v
	}
	if v := os.Getenv(s3SecretKeyEnv); v != "" {
		c.Archive.SecretKey = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %s: %w", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Driver: "badger", BadgerPath: "./data/technotes"},
		Fetcher: FetcherConfig{
			Delay:        time.Second,
			MaxRetries:   3,
			BackoffBase:  time.Second,
			MaxRetryWait: 30 * time.Second,
			Timeout:      30 * time.Second,
		},
		Extraction: ExtractionConfig{MaxPages: 3, PreviewLimit: 2000},
		Pipeline:   PipelineConfig{PreviewLimit: 1000},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			Temperature:       0.1,
			MaxTokens:         2000,
			Timeout:           60 * time.Second,
			RequestsPerMinute: 20,
		},
		Scheduler: SchedulerConfig{
			Timezone:        defaultTimezone,
			PoolSize:        10,
			ShutdownTimeout: 30 * time.Second,
		},
		Jobs: JobsConfig{
			Scrape: JobConfig{
				Enabled:      true,
				Trigger:      domain.Trigger{Kind: domain.TriggerCron, DayOfWeek: "mon-fri", Hour: "9", Minute: "0"},
				MaxInstances: 1,
				Coalesce:     true,
			},
			Summarize: JobConfig{
				Enabled:      true,
				Trigger:      domain.Trigger{Kind: domain.TriggerCron, Hour: "8-18/2", Minute: "15"},
				MaxItems:     15,
				MaxInstances: 1,
				Coalesce:     true,
			},
			FullPipeline: JobConfig{
				Enabled:      false,
				Trigger:      domain.Trigger{Kind: domain.TriggerCron, DayOfWeek: "mon-fri", Hour: "7", Minute: "30"},
				MaxItems:     20,
				MaxInstances: 1,
				Coalesce:     true,
			},
			HealthCheck: JobConfig{
				Enabled:      false,
				Trigger:      domain.Trigger{Kind: domain.TriggerInterval, Minutes: 30},
				MaxInstances: 1,
				Coalesce:     true,
			},
		},
		Archive: ArchiveConfig{Driver: "none"},
		Sources: []SourceConfig{
			{
				Name:        NFeSourceName,
				BaseURL:     NFeBaseURL,
				ListingURL:  NFeListingURL,
				ContentType: string(domain.ContentPDF),
				Scraper:     "nfe",
				Options: map[string]string{
					"file_links":     `a[href*="exibirArquivo.aspx"]`,
					"fallback_links": `a[href*="conteudo="]`,
					"referer":        NFeReferer,
				},
			},
		},
	}
}
