package printer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/orrn/printdispatch/internal/receipt"
)

type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeBrowser Mode = "browser"
)

// Configuration is the device-local printer setup.
type Configuration struct {
	PrinterName      string `yaml:"printer_name" json:"printer_name"`
	PaperWidth       int    `yaml:"paper_width" json:"paper_width"`
	Mode             Mode   `yaml:"mode" json:"mode"`
	Model            string `yaml:"model" json:"model"`
	AutoPrint        bool   `yaml:"auto_print" json:"auto_print"`
	DecimalSeparator string `yaml:"decimal_separator,omitempty" json:"decimal_separator,omitempty"`
	TrackingURL      string `yaml:"tracking_url,omitempty" json:"tracking_url,omitempty"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		PaperWidth: receipt.PaperWidth80,
		Mode:       ModeDirect,
		Model:      "generic",
	}
}

func (c Configuration) Validate() error {
	if !receipt.ValidPaperWidth(c.PaperWidth) {
		return fmt.Errorf("paper width must be 58 or 80, got %d", c.PaperWidth)
	}
	if c.Mode != ModeDirect && c.Mode != ModeBrowser {
		return fmt.Errorf("invalid mode: %s (valid: direct, browser)", c.Mode)
	}
	if !receipt.ValidModel(c.Model) {
		return fmt.Errorf("invalid printer model: %s", c.Model)
	}
	if c.DecimalSeparator != "" && c.DecimalSeparator != "." && c.DecimalSeparator != "," {
		return fmt.Errorf("decimal separator must be '.' or ','")
	}
	return nil
}

// ConfigStore keeps the printer configuration in a YAML file.
type ConfigStore struct {
	path    string
	mu      sync.RWMutex
	current Configuration
}

// NewConfigStore loads path, falling back to defaults when it does not exist.
func NewConfigStore(path string) (*ConfigStore, error) {
	s := &ConfigStore{path: path, current: DefaultConfiguration()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read printer config: %w", err)
	}

	cfg := DefaultConfiguration()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse printer config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid printer config %s: %w", path, err)
	}
	s.current = cfg
	return s, nil
}

func (s *ConfigStore) Get() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates cfg and replaces the file atomically.
func (s *ConfigStore) Save(cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode printer config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write printer config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace printer config: %w", err)
	}
	s.current = cfg
	return nil
}

// PrinterConfigured reports whether a submission has a destination: browser
// mode always does, direct mode needs a printer name.
func (s *ConfigStore) PrinterConfigured() bool {
	cfg := s.Get()
	return cfg.Mode == ModeBrowser || cfg.PrinterName != ""
}

func (s *ConfigStore) ReceiptOptions() receipt.Options {
	cfg := s.Get()
	return receipt.Options{
		PaperWidth:       cfg.PaperWidth,
		Model:            cfg.Model,
		DecimalSeparator: cfg.DecimalSeparator,
		TrackingURL:      cfg.TrackingURL,
	}
}
