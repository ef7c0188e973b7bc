// Package config loads the service configuration. Automation definitions are
// not configured here; they live in the registry (Postgres or a watched YAML
// file, selected below).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leadkit/automation/internal/action/email"
	"github.com/leadkit/automation/internal/engine"
)

// Config is the top-level YAML structure.
type Config struct {
	Addr      string           `yaml:"addr"`
	Engine    EngineConf       `yaml:"engine"`
	Database  DatabaseConf     `yaml:"database"`
	Registry  RegistryConf     `yaml:"registry"`
	NATS      NATSConf         `yaml:"nats"`
	SMTP      SMTPConf         `yaml:"smtp"`
	LeadAPI   LeadAPIConf      `yaml:"lead_api"`
	Templates []email.Template `yaml:"templates"`
}

// EngineConf holds tunable executor settings.
type EngineConf struct {
	Workers         int `yaml:"workers"`
	QueueDepth      int `yaml:"queue_depth"`
	MaxAttempts     int `yaml:"max_attempts"`
	BackoffBaseMs   int `yaml:"backoff_base_ms"`
	BackoffCapMs    int `yaml:"backoff_cap_ms"`
	ActionTimeoutMs int `yaml:"action_timeout_ms"`
}

// ExecutorConfig converts the millisecond tunables into an engine.Config.
// Zero values fall through to the engine defaults.
func (e EngineConf) ExecutorConfig() engine.Config {
	return engine.Config{
		Workers:       e.Workers,
		QueueDepth:    e.QueueDepth,
		MaxAttempts:   e.MaxAttempts,
		BackoffBase:   time.Duration(e.BackoffBaseMs) * time.Millisecond,
		BackoffCap:    time.Duration(e.BackoffCapMs) * time.Millisecond,
		ActionTimeout: time.Duration(e.ActionTimeoutMs) * time.Millisecond,
	}
}

// DatabaseConf selects the Postgres-backed registry and record store.
type DatabaseConf struct {
	URL string `yaml:"url"`
}

// RegistryConf selects the file-backed read-only registry.
type RegistryConf struct {
	File string `yaml:"file"`
}

// NATSConf enables bus intake when URL is set.
type NATSConf struct {
	URL string `yaml:"url"`
}

// SMTPConf extends the sender settings with the envelope sender address.
type SMTPConf struct {
	email.SMTPConfig `yaml:",inline"`
	From             string `yaml:"from"`
}

// LeadAPIConf points update_lead actions at the CRM's lead API.
type LeadAPIConf struct {
	BaseURL string `yaml:"base_url"`
}

// Load reads and parses the config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
}

// Validate rejects configurations that cannot produce a working service.
func (c *Config) Validate() error {
	var errs []string

	switch {
	case c.Database.URL == "" && c.Registry.File == "":
		errs = append(errs, "either database.url or registry.file is required")
	case c.Database.URL != "" && c.Registry.File != "":
		errs = append(errs, "database.url and registry.file are mutually exclusive")
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, "smtp.from is required when smtp.host is set")
	}

	seen := make(map[int64]bool)
	for i, t := range c.Templates {
		if t.ID == 0 {
			errs = append(errs, fmt.Sprintf("templates[%d]: id is required", i))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("templates[%d]: duplicate id %d", i, t.ID))
		}
		seen[t.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
