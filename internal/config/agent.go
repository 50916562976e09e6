package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig configures the local print agent process.
type AgentConfig struct {
	Listen              string         `yaml:"listen"`
	Printers            []AgentPrinter `yaml:"printers"`
	TrustedCertificates []string       `yaml:"trusted_certificates"`
	HealthCheckInterval time.Duration  `yaml:"health_check_interval"`
	ConnectionTimeout   time.Duration  `yaml:"connection_timeout"`
	MDNS                bool           `yaml:"mdns"`
	Logging             LoggingConfig  `yaml:"logging"`
}

type AgentPrinter struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	PaperWidth int    `yaml:"paper_width"`
}

func agentDefaults() *AgentConfig {
	return &AgentConfig{
		Listen:              ":8765",
		HealthCheckInterval: 30 * time.Second,
		ConnectionTimeout:   5 * time.Second,
		MDNS:                true,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadAgent(configPath string) (*AgentConfig, error) {
	cfg := agentDefaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read agent config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config file: %w", err)
	}

	if v := os.Getenv("PRINTAGENT_LISTEN"); v != "" {
		cfg.Listen = v
	}

	return cfg, nil
}

func (c *AgentConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	seen := make(map[string]bool)
	for i, p := range c.Printers {
		if p.Name == "" {
			return fmt.Errorf("printer %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("printer %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if p.Address == "" {
			return fmt.Errorf("printer %q: address is required", p.Name)
		}
		if p.Port < 0 || p.Port > 65535 {
			return fmt.Errorf("printer %q: port must be between 0 and 65535", p.Name)
		}
		if p.PaperWidth != 0 && p.PaperWidth != 58 && p.PaperWidth != 80 {
			return fmt.Errorf("printer %q: paper width must be 58 or 80", p.Name)
		}
	}

	if c.HealthCheckInterval < 0 {
		return fmt.Errorf("health check interval must be non-negative")
	}

	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	return nil
}
