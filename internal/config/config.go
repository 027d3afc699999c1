package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// IMAPConfig holds the connection settings for the watched IMAP account.
type IMAPConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host" toml:"host"`

	// Port is the IMAP server port.
	Port int `mapstructure:"port" toml:"port"`

	// Username authenticates the session. Overridable via
	// MAILMAP_IMAP_USERNAME.
	Username string `mapstructure:"username" toml:"username"`

	// Password authenticates the session. Overridable via
	// MAILMAP_IMAP_PASSWORD; when empty the system keyring is consulted.
	Password string `mapstructure:"password" toml:"password"`

	// UseSSL selects implicit TLS; when false the connection starts in
	// cleartext and upgrades via STARTTLS.
	UseSSL bool `mapstructure:"use_ssl" toml:"use_ssl"`

	// IdleFolders lists folders watched with IMAP IDLE. All other
	// folders are polled.
	IdleFolders []string `mapstructure:"idle_folders" toml:"idle_folders"`

	// ExcludeFolders lists folders never watched or classified into.
	ExcludeFolders []string `mapstructure:"exclude_folders" toml:"exclude_folders"`

	// IdleTimeoutSeconds bounds a single IDLE wait.
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" toml:"idle_timeout_seconds"`

	// PollIntervalSeconds is the wake interval for polled folders.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" toml:"poll_interval_seconds"`

	// RefreshFoldersSeconds is how often the server's folder list is
	// re-checked for newly created folders.
	RefreshFoldersSeconds int `mapstructure:"refresh_folders_seconds" toml:"refresh_folders_seconds"`
}

// OllamaConfig holds settings for the local model endpoint.
type OllamaConfig struct {
	BaseURL        string  `mapstructure:"base_url" toml:"base_url"`
	Model          string  `mapstructure:"model" toml:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" toml:"requests_per_sec"`
}

// ClassifyConfig holds classification pipeline settings.
type ClassifyConfig struct {
	// ConfidenceThreshold is the minimum confidence for a prediction to
	// stand; lower predictions resolve to the fallback folder.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" toml:"confidence_threshold"`

	// FallbackFolder, when set, receives under-confident or invalid
	// predictions. When empty a miscellaneous-style folder is used.
	FallbackFolder string `mapstructure:"fallback_folder" toml:"fallback_folder"`

	// AutoMove moves confidently classified messages to their predicted
	// folder.
	AutoMove bool `mapstructure:"auto_move" toml:"auto_move"`

	// QueueSize bounds the processing queue.
	QueueSize int `mapstructure:"queue_size" toml:"queue_size"`
}

// DatabaseConfig holds result-store settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	IMAP     IMAPConfig     `mapstructure:"imap" toml:"imap"`
	Ollama   OllamaConfig   `mapstructure:"ollama" toml:"ollama"`
	Classify ClassifyConfig `mapstructure:"classify" toml:"classify"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
}

// DefaultPath returns the default configuration file location,
// ~/.config/mailmap/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.toml")
	}
	return filepath.Join(home, ".config", "mailmap", "config.toml")
}

func defaultConfig() *Config {
	return &Config{
		IMAP: IMAPConfig{
			Port:                  993,
			UseSSL:                true,
			IdleFolders:           []string{"INBOX"},
			IdleTimeoutSeconds:    1740,
			PollIntervalSeconds:   300,
			RefreshFoldersSeconds: 900,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "qwen2.5:7b",
			TimeoutSeconds: 120,
			RequestsPerSec: 1,
		},
		Classify: ClassifyConfig{
			ConfidenceThreshold: 0.6,
			QueueSize:           256,
		},
		Database: DatabaseConfig{
			Path: "mailmap.db",
		},
	}
}

// Load reads configuration from the given TOML file using Viper. A missing
// file is not an error; defaults apply. MAILMAP_IMAP_USERNAME and
// MAILMAP_IMAP_PASSWORD override the file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.use_ssl", true)
	v.SetDefault("imap.idle_folders", []string{"INBOX"})
	v.SetDefault("imap.idle_timeout_seconds", 1740)
	v.SetDefault("imap.poll_interval_seconds", 300)
	v.SetDefault("imap.refresh_folders_seconds", 900)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "qwen2.5:7b")
	v.SetDefault("ollama.timeout_seconds", 120)
	v.SetDefault("ollama.requests_per_sec", 1)
	v.SetDefault("classify.confidence_threshold", 0.6)
	v.SetDefault("classify.queue_size", 256)
	v.SetDefault("database.path", "mailmap.db")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return applyEnv(defaultConfig()), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return applyEnv(defaultConfig()), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return applyEnv(cfg), nil
}

// applyEnv applies credential overrides from the environment.
func applyEnv(cfg *Config) *Config {
	if u := os.Getenv("MAILMAP_IMAP_USERNAME"); u != "" {
		cfg.IMAP.Username = u
	}
	if p := os.Getenv("MAILMAP_IMAP_PASSWORD"); p != "" {
		cfg.IMAP.Password = p
	}
	return cfg
}

// Validate reports configuration errors that make a run impossible.
func (c *Config) Validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required (or MAILMAP_IMAP_USERNAME)")
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port %d out of range", c.IMAP.Port)
	}
	if c.Classify.ConfidenceThreshold < 0 || c.Classify.ConfidenceThreshold > 1 {
		return fmt.Errorf("classify.confidence_threshold %v out of [0,1]", c.Classify.ConfidenceThreshold)
	}
	return nil
}

// Save writes the configuration to a TOML file at path, creating parent
// directories if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.Set("imap", cfg.IMAP)
	v.Set("ollama", cfg.Ollama)
	v.Set("classify", cfg.Classify)
	v.Set("database", cfg.Database)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
