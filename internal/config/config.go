package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Processor ProcessorConfig `yaml:"processor"`
	Agent     AgentClient     `yaml:"agent"`
	Printer   PrinterConfig   `yaml:"printer"`
	Orders    OrdersConfig    `yaml:"orders"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver            string `yaml:"driver"`
	Path              string `yaml:"path"`
	ArchivePath       string `yaml:"archive_path"`
	ArchiveDays       int    `yaml:"archive_days"`
	ArchivePassphrase string `yaml:"archive_passphrase"`
}

type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	BatchSize   int           `yaml:"batch_size"`
}

type ProcessorConfig struct {
	Role         string        `yaml:"role"`
	InstanceID   string        `yaml:"instance_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	NotifyDelay  time.Duration `yaml:"notify_delay"`
	StuckAfter   time.Duration `yaml:"stuck_after"`
	// NotifyPeers are /ws endpoints of other instances whose enqueue
	// notifications should wake this processor.
	NotifyPeers []string `yaml:"notify_peers"`
}

// AgentClient is how the dispatch service reaches the local print agent.
type AgentClient struct {
	URL             string        `yaml:"url"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CertificatePath string        `yaml:"certificate_path"`
	PrivateKeyPath  string        `yaml:"private_key_path"`
}

type PrinterConfig struct {
	ConfigPath string `yaml:"config_path"`
}

type OrdersConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebhooksConfig struct {
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			Path:        "./data/dispatch.db",
			ArchivePath: "./data/archives",
			ArchiveDays: 30,
		},
		Queue: QueueConfig{
			MaxAttempts: 5,
			RetryDelay:  5 * time.Second,
			BatchSize:   10,
		},
		Processor: ProcessorConfig{
			Role:         RoleSecondary,
			PollInterval: 10 * time.Second,
			NotifyDelay:  500 * time.Millisecond,
		},
		Agent: AgentClient{
			DiscoverTimeout: 3 * time.Second,
			ConnectTimeout:  5 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Printer: PrinterConfig{
			ConfigPath: "./data/printer.yaml",
		},
		Orders: OrdersConfig{
			Timeout: 10 * time.Second,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at configPath on top of the defaults and then
// applies environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISPATCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("DISPATCH_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}

	if v := os.Getenv("DISPATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DISPATCH_ROLE"); v != "" {
		cfg.Processor.Role = v
	}

	if v := os.Getenv("DISPATCH_AGENT_URL"); v != "" {
		cfg.Agent.URL = v
	}

	if v := os.Getenv("DISPATCH_ORDERS_URL"); v != "" {
		cfg.Orders.BaseURL = v
	}

	if v := os.Getenv("DISPATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// LoadDotEnv loads the first .env found walking up from the working
// directory. Variables already set in the environment win.
func LoadDotEnv() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, godotenv.Load(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func (c *Config) IsPrimary() bool {
	return c.Processor.Role == RolePrimary
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("invalid database driver: %s (valid: sqlite3, pgx)", c.Database.Driver)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.ArchiveDays < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be non-negative")
	}

	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative")
	}

	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}

	if c.Processor.Role != RolePrimary && c.Processor.Role != RoleSecondary {
		return fmt.Errorf("invalid processor role: %s (valid: primary, secondary)", c.Processor.Role)
	}

	if c.Processor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.Processor.NotifyDelay < 0 {
		return fmt.Errorf("notify delay must be non-negative")
	}

	if c.Processor.StuckAfter < 0 {
		return fmt.Errorf("stuck_after must be non-negative")
	}

	if c.Agent.ConnectTimeout < 0 || c.Agent.RequestTimeout < 0 || c.Agent.DiscoverTimeout < 0 {
		return fmt.Errorf("agent timeouts must be non-negative")
	}

	if (c.Agent.CertificatePath == "") != (c.Agent.PrivateKeyPath == "") {
		return fmt.Errorf("agent certificate_path and private_key_path must be set together")
	}

	if c.Printer.ConfigPath == "" {
		return fmt.Errorf("printer config path is required")
	}

	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
