package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config models axees.yml. It is constructed once and passed explicitly;
// there is no ambient global configuration.
type Config struct {
	Marketplace struct {
		Name string `yaml:"name"`
	} `yaml:"marketplace"`
	Payments struct {
		// Platform fee charged on top of the agreed amount, in basis points.
		FeeBasisPoints int `yaml:"fee_basis_points"`
		// Which party is liable for payment when a deal is created.
		Payer string `yaml:"payer"`
	} `yaml:"payments"`
	Auth struct {
		AllowLegacyUserHeader bool `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one notification endpoint fed from the event log.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Payments.FeeBasisPoints < 0 || c.Payments.FeeBasisPoints > 10000 {
		return fmt.Errorf("config.payments.fee_basis_points must be within [0,10000]")
	}
	switch c.Payments.Payer {
	case "marketer", "creator":
	default:
		return fmt.Errorf("config.payments.payer must be 'marketer' or 'creator'")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// FeeMultiplier converts the configured fee into an amount multiplier.
func (c *Config) FeeMultiplier() float64 {
	return 1 + float64(c.Payments.FeeBasisPoints)/10000
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `marketplace:
  name: axees

payments:
  # Platform fee added to required_payment, in basis points (250 = 2.5%).
  fee_basis_points: 250
  # The marketer funds accepted deals.
  payer: marketer

auth:
  allow_legacy_user_header: false

webhooks: []
`
