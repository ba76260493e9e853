// Package config loads the engine's YAML configuration file, applying
// environment-variable expansion and defaults the same way the rest of this
// codebase's services do.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML "10m"/"24h" strings.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string (e.g., \"10m\"): %w", err)
	}
	s = expandEnvDefault(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

// Config is the full engine configuration.
type Config struct {
	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`

	Gateway struct {
		Listen  string `yaml:"listen"`
		BaseURL string `yaml:"baseUrl"`
	} `yaml:"gateway"`

	Portal struct {
		Listen        string   `yaml:"listen"`
		TokenTTL      Duration `yaml:"tokenTtl"`
		TokenStoreCap int      `yaml:"tokenStoreCap"`
	} `yaml:"portal"`

	Session struct {
		DefaultExpiry Duration `yaml:"defaultExpiry"`
	} `yaml:"session"`

	OTP struct {
		TTL              Duration `yaml:"ttl"`
		MaxAttempts      int      `yaml:"maxAttempts"`
		MinInterval      Duration `yaml:"minInterval"`
		CodeLength       int      `yaml:"codeLength"`
	} `yaml:"otp"`

	KeyVault struct {
		Path              string `yaml:"path"`
		PBKDF2Iterations  int    `yaml:"pbkdf2Iterations"`
		ActiveProvider    string `yaml:"activeProvider"` // "local-vault" | "hsm-stub"
	} `yaml:"keyVault"`

	Ledger struct {
		DefaultChain string `yaml:"defaultChain"`
		IPFSAPI      string `yaml:"ipfsApi"`
	} `yaml:"ledger"`

	Backup struct {
		Enable     bool     `yaml:"enable"`
		Interval   Duration `yaml:"interval"`
		Retention  Duration `yaml:"retention"`
		Dir        string   `yaml:"dir"`
		Passphrase string   `yaml:"passphrase"`
		Azure      struct {
			Enable            bool   `yaml:"enable"`
			ConnectionString  string `yaml:"connectionString"`
			Container         string `yaml:"container"`
		} `yaml:"azure"`
	} `yaml:"backup"`
}

// Load reads, environment-expands, parses YAML, applies defaults, and
// validates the config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.LogLevel = expandEnvDefault(cfg.LogLevel)
	cfg.DataDir = expandEnvDefault(cfg.DataDir)
	cfg.Gateway.Listen = expandEnvDefault(cfg.Gateway.Listen)
	cfg.Gateway.BaseURL = expandEnvDefault(cfg.Gateway.BaseURL)
	cfg.Portal.Listen = expandEnvDefault(cfg.Portal.Listen)
	cfg.KeyVault.Path = expandEnvDefault(cfg.KeyVault.Path)
	cfg.Backup.Dir = expandEnvDefault(cfg.Backup.Dir)
	cfg.Backup.Passphrase = expandEnvDefault(cfg.Backup.Passphrase)
	cfg.Backup.Azure.ConnectionString = expandEnvDefault(cfg.Backup.Azure.ConnectionString)

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = ".doc-engine"
	}
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = ":8443"
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "http://localhost:8443"
	}
	if c.Portal.Listen == "" {
		c.Portal.Listen = ":8444"
	}
	if c.Portal.TokenTTL.Duration == 0 {
		c.Portal.TokenTTL = Duration{30 * time.Minute}
	}
	if c.Portal.TokenStoreCap == 0 {
		c.Portal.TokenStoreCap = 100
	}
	if c.Session.DefaultExpiry.Duration == 0 {
		c.Session.DefaultExpiry = Duration{7 * 24 * time.Hour}
	}
	if c.OTP.TTL.Duration == 0 {
		c.OTP.TTL = Duration{10 * time.Minute}
	}
	if c.OTP.MaxAttempts == 0 {
		c.OTP.MaxAttempts = 5
	}
	if c.OTP.MinInterval.Duration == 0 {
		c.OTP.MinInterval = Duration{30 * time.Second}
	}
	if c.OTP.CodeLength == 0 {
		c.OTP.CodeLength = 6
	}
	if c.KeyVault.Path == "" {
		c.KeyVault.Path = c.DataDir + "/sovereign-key-vault.json"
	}
	if c.KeyVault.PBKDF2Iterations == 0 {
		c.KeyVault.PBKDF2Iterations = 100_000
	}
	if c.KeyVault.ActiveProvider == "" {
		c.KeyVault.ActiveProvider = "local-vault"
	}
	if c.Ledger.DefaultChain == "" {
		c.Ledger.DefaultChain = "xrpl"
	}
	if c.Backup.Interval.Duration == 0 {
		c.Backup.Interval = Duration{6 * time.Hour}
	}
	if c.Backup.Retention.Duration == 0 {
		c.Backup.Retention = Duration{30 * 24 * time.Hour}
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = c.DataDir + "/backups"
	}
}

func validate(c *Config) error {
	if c.OTP.CodeLength != 6 {
		return errors.New("otp.codeLength must be 6 per the engine's OTP format")
	}
	if c.Portal.TokenStoreCap < 1 {
		return errors.New("portal.tokenStoreCap must be positive")
	}
	if c.KeyVault.PBKDF2Iterations < 100_000 {
		return errors.New("keyVault.pbkdf2Iterations must be at least 100000")
	}
	if c.Backup.Azure.Enable && c.Backup.Azure.ConnectionString == "" {
		return errors.New("backup.azure.connectionString is required when backup.azure.enable is true")
	}
	return nil
}

var envRe = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvDefault replaces ${VAR} with os.Getenv("VAR"), and ${VAR:default}
// with the env value or "default" if unset.
func expandEnvDefault(s string) string {
	if s == "" {
		return s
	}
	return envRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := envRe.FindStringSubmatch(m)
		if len(parts) != 3 {
			return m
		}
		name := parts[1]
		def := parts[2]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}
