package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

const (
	defaultPort          = 8080
	defaultHost          = "localhost"
	defaultProbeTimeout  = time.Second
	defaultClientTimeout = 60 * time.Second
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Environment EnvironmentConfig `yaml:"environment"`
	Logging     LoggingConfig     `yaml:"logging"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Providers   ProvidersConfig   `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// EnvironmentConfig describes where the application is served from. The
// local backend is only probed when Host is a development host.
type EnvironmentConfig struct {
	Host string `yaml:"host"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CredentialsConfig points at an optional dotenv file layered under the
// process environment.
type CredentialsConfig struct {
	EnvFile string `yaml:"env_file"`
	Watch   bool   `yaml:"watch"`
}

// ProvidersConfig holds one section per known backend.
type ProvidersConfig struct {
	Ollama   ProviderConfig `yaml:"ollama"`
	Groq     ProviderConfig `yaml:"groq"`
	Together ProviderConfig `yaml:"together"`
	Gemini   ProviderConfig `yaml:"gemini"`
	OpenAI   ProviderConfig `yaml:"openai"`
}

// ProviderConfig captures endpoint and credential lookup for a backend.
type ProviderConfig struct {
	BaseURL      string            `yaml:"base_url"`
	Model        string            `yaml:"model"`
	APIKeyEnv    string            `yaml:"api_key_env"`
	ModelEnv     string            `yaml:"model_env"`
	Timeout      time.Duration     `yaml:"timeout"`
	ProbeTimeout time.Duration     `yaml:"probe_timeout"`
	Headers      map[string]string `yaml:"headers"`
}

// Default returns a configuration that works with no file at all: local
// Ollama plus the conventional *_API_KEY environment variables.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads YAML configuration from disk, fills defaults and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "resolve config path")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config file %q", absPath)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config file %q", absPath)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Provider returns the section for id.
func (c Config) Provider(id models.ProviderID) ProviderConfig {
	switch id {
	case models.ProviderOllama:
		return c.Providers.Ollama
	case models.ProviderGroq:
		return c.Providers.Groq
	case models.ProviderTogether:
		return c.Providers.Together
	case models.ProviderGemini:
		return c.Providers.Gemini
	case models.ProviderOpenAI:
		return c.Providers.OpenAI
	}
	return ProviderConfig{}
}

func (c *Config) section(id models.ProviderID) *ProviderConfig {
	switch id {
	case models.ProviderOllama:
		return &c.Providers.Ollama
	case models.ProviderGroq:
		return &c.Providers.Groq
	case models.ProviderTogether:
		return &c.Providers.Together
	case models.ProviderGemini:
		return &c.Providers.Gemini
	case models.ProviderOpenAI:
		return &c.Providers.OpenAI
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if strings.TrimSpace(c.Environment.Host) == "" {
		c.Environment.Host = defaultHost
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}

	for _, id := range provider.PreferenceOrder() {
		section := c.section(id)
		info := provider.MustLookup(id)
		if strings.TrimSpace(section.BaseURL) == "" {
			section.BaseURL = info.BaseURL
		}
		section.BaseURL = strings.TrimRight(section.BaseURL, "/")

		prefix := strings.ToUpper(string(id))
		if info.RequiresKey && section.APIKeyEnv == "" {
			section.APIKeyEnv = prefix + "_API_KEY"
		}
		if section.ModelEnv == "" {
			section.ModelEnv = prefix + "_MODEL"
		}
		if section.Timeout == 0 {
			section.Timeout = defaultClientTimeout
		}
		if id == models.ProviderOllama && section.ProbeTimeout == 0 {
			section.ProbeTimeout = defaultProbeTimeout
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return errors.Newf("logging.format must be %q or %q, got %q", "json", "console", c.Logging.Format)
	}

	for _, id := range provider.PreferenceOrder() {
		if err := validateProvider(id, c.Provider(id)); err != nil {
			return err
		}
	}
	return nil
}

func validateProvider(id models.ProviderID, p ProviderConfig) error {
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("providers.%s.base_url %q must be an absolute URL", id, p.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("providers.%s.base_url must use http or https, got %q", id, u.Scheme)
	}
	if p.Timeout < 0 {
		return errors.Newf("providers.%s.timeout must not be negative", id)
	}
	if p.ProbeTimeout < 0 {
		return errors.Newf("providers.%s.probe_timeout must not be negative", id)
	}
	if provider.MustLookup(id).RequiresKey && strings.TrimSpace(p.APIKeyEnv) == "" {
		return errors.Newf("providers.%s.api_key_env must name an environment variable", id)
	}

	for headerKey := range p.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return errors.Newf("providers.%s: header %q is not a valid canonical HTTP header", id, headerKey)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
