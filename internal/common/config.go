package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Mailbox  MailboxConfig  `yaml:"mailbox"`
	LLM      LLMConfig      `yaml:"llm"`
	OCR      OCRConfig      `yaml:"ocr"`
	Links    LinksConfig    `yaml:"links"`
	Output   OutputConfig   `yaml:"output"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Watch    WatchConfig    `yaml:"watch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MailboxConfig holds IMAP connection settings. A non-empty Dir replaces IMAP
// with a local folder of .eml files.
type MailboxConfig struct {
	Dir        string        `yaml:"dir"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Mailbox    string        `yaml:"mailbox"`
	StartIndex int           `yaml:"start_index"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig holds inference-service configuration
type LLMConfig struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Model              string        `yaml:"model"`
	SystemInstructions string        `yaml:"system_instructions"`
	Temperature        float32       `yaml:"temperature"`
	TopP               float32       `yaml:"top_p"`
	TopK               int           `yaml:"top_k"`
	MaxTokens          int           `yaml:"max_tokens"`
	Cooldown           time.Duration `yaml:"cooldown"`
	MaxQuotaCycles     int           `yaml:"max_quota_cycles"` // 0 retries forever
	Timeout            time.Duration `yaml:"timeout"`
}

// OCRConfig holds rasterization and OCR binaries
type OCRConfig struct {
	Pdftoppm      string `yaml:"pdftoppm"`
	Tesseract     string `yaml:"tesseract"`
	TesseractLang string `yaml:"tesseract_lang"`
	TessdataDir   string `yaml:"tessdata_dir"`
	HeicConverter string `yaml:"heic_converter"`
	DPI           int    `yaml:"dpi"`
	MaxPages      int    `yaml:"max_pages"`
}

// LinksConfig controls downloading PDFs linked from email bodies
type LinksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MaxLinks int           `yaml:"max_links"`
	MaxBytes int64         `yaml:"max_bytes"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OutputConfig holds sink settings
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Workbook bool   `yaml:"workbook"`
}

// DatabaseConfig holds the optional SQL sink settings. An empty DSN disables it.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// ServerConfig holds the listeners used in watch mode
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// WatchConfig holds the mailbox polling loop settings
type WatchConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg
}

// LoadFromFile uses a YAML file as the base layer, then overrides with environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnvVars()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Mailbox = MailboxConfig{
		Host:    "outlook.office365.com",
		Port:    993,
		Mailbox: "INBOX",
		Timeout: 30 * time.Second,
	}
	c.LLM = LLMConfig{
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
		Model:       "gemini-1.5-flash",
		Temperature: 0.5,
		TopP:        0.9,
		TopK:        40,
		MaxTokens:   2048,
		Cooldown:    60 * time.Second,
		Timeout:     2 * time.Minute,
	}
	c.OCR = OCRConfig{
		Pdftoppm:      "pdftoppm",
		Tesseract:     "tesseract",
		TesseractLang: "eng",
		HeicConverter: "magick",
		DPI:           300,
	}
	c.Links = LinksConfig{
		Enabled:  true,
		MaxLinks: 5,
		MaxBytes: 25 << 20,
		Timeout:  30 * time.Second,
	}
	c.Output = OutputConfig{Dir: "output"}
	c.Database = DatabaseConfig{
		Driver:          "postgres",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}
	c.Server = ServerConfig{
		GRPCAddr:    ":8080",
		MetricsAddr: ":9090",
	}
	c.Watch = WatchConfig{
		PollInterval: 5 * time.Second,
		Workers:      1,
		QueueSize:    64,
	}
	c.Logging = LoggingConfig{Level: "info"}
}

// applyEnvVars overrides whatever is already set with any environment variables present.
func (c *Config) applyEnvVars() {
	c.Mailbox.Dir = getEnv("MAIL_DIR", c.Mailbox.Dir)
	c.Mailbox.Host = getEnv("IMAP_HOST", c.Mailbox.Host)
	c.Mailbox.Port = getEnvAsInt("IMAP_PORT", c.Mailbox.Port)
	c.Mailbox.Username = getEnv("EMAIL_ADDRESS", c.Mailbox.Username)
	c.Mailbox.Password = getEnv("EMAIL_PASSWORD", c.Mailbox.Password)
	c.Mailbox.Mailbox = getEnv("MAILBOX", c.Mailbox.Mailbox)
	c.Mailbox.StartIndex = getEnvAsInt("START_INDEX", c.Mailbox.StartIndex)
	c.Mailbox.Timeout = getEnvAsDuration("IMAP_TIMEOUT", c.Mailbox.Timeout)

	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("GOOGLE_API_KEY", c.LLM.APIKey)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.SystemInstructions = getEnv("SYSTEM_INSTRUCTIONS", c.LLM.SystemInstructions)
	c.LLM.Temperature = getEnvAsFloat32("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.TopP = getEnvAsFloat32("LLM_TOP_P", c.LLM.TopP)
	c.LLM.TopK = getEnvAsInt("LLM_TOP_K", c.LLM.TopK)
	c.LLM.MaxTokens = getEnvAsInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Cooldown = getEnvAsDuration("LLM_COOLDOWN", c.LLM.Cooldown)
	c.LLM.MaxQuotaCycles = getEnvAsInt("LLM_MAX_QUOTA_CYCLES", c.LLM.MaxQuotaCycles)
	c.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", c.LLM.Timeout)

	c.OCR.Pdftoppm = getEnv("PDFTOPPM", c.OCR.Pdftoppm)
	c.OCR.Tesseract = getEnv("TESSERACT", c.OCR.Tesseract)
	c.OCR.TesseractLang = getEnv("TESSERACT_LANG", c.OCR.TesseractLang)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.OCR.HeicConverter = getEnv("HEIC_CONVERTER", c.OCR.HeicConverter)
	c.OCR.DPI = getEnvAsInt("OCR_DPI", c.OCR.DPI)
	c.OCR.MaxPages = getEnvAsInt("OCR_MAX_PAGES", c.OCR.MaxPages)

	c.Links.Enabled = getEnvAsBool("LINKS_ENABLED", c.Links.Enabled)
	c.Links.MaxLinks = getEnvAsInt("LINKS_MAX", c.Links.MaxLinks)
	c.Links.MaxBytes = int64(getEnvAsInt("LINKS_MAX_BYTES", int(c.Links.MaxBytes)))
	c.Links.Timeout = getEnvAsDuration("LINKS_TIMEOUT", c.Links.Timeout)

	c.Output.Dir = getEnv("OUTPUT_DIR", c.Output.Dir)
	c.Output.Workbook = getEnvAsBool("OUTPUT_XLSX", c.Output.Workbook)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.MetricsAddr = getEnv("METRICS_ADDR", c.Server.MetricsAddr)

	c.Watch.PollInterval = getEnvAsDuration("POLL_INTERVAL", c.Watch.PollInterval)
	c.Watch.Workers = getEnvAsInt("WORKERS", c.Watch.Workers)
	c.Watch.QueueSize = getEnvAsInt("QUEUE_SIZE", c.Watch.QueueSize)
	c.Watch.ProcessTimeout = getEnvAsDuration("PROCESS_TIMEOUT", c.Watch.ProcessTimeout)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings every command needs: mailbox credentials and an inference key.
// Credentials are not needed when reading from a mail directory.
func (c *Config) Validate() error {
	v := NewValidator()
	if c.Mailbox.Dir == "" {
		v.Field("EMAIL_ADDRESS", c.Mailbox.Username, Required).
			Field("EMAIL_PASSWORD", c.Mailbox.Password, Required)
	}
	v.Field("GOOGLE_API_KEY", c.LLM.APIKey, Required).
		Field("IMAP_PORT", c.Mailbox.Port, Positive).
		Field("START_INDEX", c.Mailbox.StartIndex, NonNegative).
		Field("LLM_COOLDOWN", c.LLM.Cooldown, Positive).
		Field("LLM_MAX_QUOTA_CYCLES", c.LLM.MaxQuotaCycles, NonNegative).
		Field("DB_DRIVER", c.Database.Driver, OneOf("postgres", "sqlite"))
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// ValidateWatch additionally checks the watch-mode settings.
func (c *Config) ValidateWatch() error {
	if err := c.Validate(); err != nil {
		return err
	}
	v := NewValidator().
		Field("POLL_INTERVAL", c.Watch.PollInterval, Positive).
		Field("WORKERS", c.Watch.Workers, Positive)
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
