// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail merge tools.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultThrottleMS is the minimum pause between consecutive sends.
// Kept deliberately high to stay clear of provider-side rate limiting.
const defaultThrottleMS = 500

// Config holds the complete application configuration.
type Config struct {
	Provider string `yaml:"provider"` // graph, ses, smtp, or stdout
	Store    string `yaml:"store"`    // graph or imap

	// Accounts are the sending identities configured for the run.
	// The first entry is the primary account used for alias sends.
	Accounts []string `yaml:"accounts"`

	Graph    GraphConfig    `yaml:"graph"`
	SES      SESConfig      `yaml:"ses"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	IMAP     []IMAPAccount  `yaml:"imap"`
	TLS      TLSConfig      `yaml:"tls"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Template TemplateConfig `yaml:"template"`
	Logging  LoggingConfig  `yaml:"logging"`
	Output   OutputConfig   `yaml:"output"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
	TokenCache   string `yaml:"token_cache"` // optional path for cross-run token reuse
}

// SESConfig holds AWS SES v2 configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// SMTPConfig holds outbound SMTP submission configuration.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLSMode  string `yaml:"tls_mode"` // starttls, tls, or plain
}

// IMAPAccount describes one mailbox reachable over IMAP.
// Name is the mailbox display name used in folder listings.
type IMAPAccount struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"` // use STARTTLS instead of implicit TLS
}

// TLSConfig holds client-side TLS settings shared by SMTP and IMAP.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// DispatchConfig holds bulk-send pacing configuration.
type DispatchConfig struct {
	ThrottleMS int `yaml:"throttle_ms"`
}

// TemplateConfig holds document conversion configuration.
type TemplateConfig struct {
	ConverterCmd string `yaml:"converter_cmd"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// OutputConfig holds report/CSV output configuration.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the minimum SES settings are present.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SMTPConfigured returns true if an outbound SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// IMAPConfigured returns true if at least one IMAP mailbox is configured.
func (c *Config) IMAPConfigured() bool {
	return len(c.IMAP) > 0
}

// PrimaryAccount returns the first configured sending account, or the
// backend default sender when no accounts are listed.
func (c *Config) PrimaryAccount() string {
	if len(c.Accounts) > 0 {
		return c.Accounts[0]
	}
	switch c.Provider {
	case "ses":
		return c.SES.Sender
	default:
		return c.Graph.Sender
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = 587
	c.SMTP.TLSMode = "starttls"
	c.Dispatch.ThrottleMS = defaultThrottleMS
	c.Template.ConverterCmd = "soffice"
	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	c.Output.Dir = defaultOutputDir()
}

// defaultOutputDir returns the user's desktop directory when resolvable,
// falling back to the current directory.
func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + string(os.PathSeparator) + "Desktop"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("MAILSTORE"); v != "" {
		c.Store = strings.ToLower(v)
	}
	if v := os.Getenv("ACCOUNTS"); v != "" {
		c.Accounts = splitList(v)
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}
	if v := os.Getenv("GRAPH_TOKEN_CACHE"); v != "" {
		c.Graph.TokenCache = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_TLS_MODE"); v != "" {
		c.SMTP.TLSMode = strings.ToLower(v)
	}

	if v := os.Getenv("TLS_CA_FILE"); v != "" {
		c.TLS.CAFile = v
	}
	if v := os.Getenv("TLS_INSECURE_SKIP_VERIFY"); v != "" {
		c.TLS.InsecureSkipVerify = v == "1" || strings.EqualFold(v, "true")
	}

	if v := os.Getenv("THROTTLE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.Dispatch.ThrottleMS = ms
		}
	}

	if v := os.Getenv("CONVERTER_CMD"); v != "" {
		c.Template.ConverterCmd = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
}

// splitList splits a comma-separated environment value into trimmed entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
