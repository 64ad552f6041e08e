package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for chatvault.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Archive    ArchiveConfig    `toml:"archive"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Media      MediaConfig      `toml:"media"`
	Database   DatabaseConfig   `toml:"database"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Providers  []ProviderConfig `toml:"providers"`
}

// Duration is a time.Duration written as a string ("30s", "2m") in TOML.
type Duration struct {
	time.Duration
}

// D wraps d for use in literals.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// ArchiveConfig controls where and how conversations are written.
type ArchiveConfig struct {
	OutputDir      string   `toml:"output_dir"`
	Formats        []string `toml:"formats"`  // "json" is always written; "markdown" adds a .md copy
	Compress       bool     `toml:"compress"` // gzip conversation files and the index
	Layout         string   `toml:"layout"`   // "flat" or "date"
	Concurrency    int      `toml:"concurrency,omitempty"`
	FetchAttempts  int      `toml:"fetch_attempts"`
	RetryBaseDelay Duration `toml:"retry_base_delay"`
}

// RateLimitConfig tunes the adaptive limiter shared by one archive run.
type RateLimitConfig struct {
	MaxConcurrency   int      `toml:"max_concurrency"`
	MinConcurrency   int      `toml:"min_concurrency"`
	BaseDelay        Duration `toml:"base_delay"`
	MaxDelay         Duration `toml:"max_delay"`
	RecoveryWindow   Duration `toml:"recovery_window"`
	RampStep         float64  `toml:"ramp_step"`
	CircuitThreshold int      `toml:"circuit_threshold"`
	PollInterval     Duration `toml:"poll_interval"`
}

// MediaConfig controls attachment downloads.
type MediaConfig struct {
	Enabled      bool     `toml:"enabled"`
	FetchTimeout Duration `toml:"fetch_timeout"`
	MaxBytes     int64    `toml:"max_bytes"` // 0 means unlimited
	UserAgent    string   `toml:"user_agent,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt snapshots.
type EncryptionConfig struct {
	Type           string   `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string   `toml:"public_key_path"`
	PrivateKeyPath string   `toml:"private_key_path"`
	Recipients     []string `toml:"recipients,omitempty"` // extra age public keys allowed to decrypt
}

// MetricsConfig controls Prometheus metric export.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path,omitempty"` // written after each run when set
}

// ProviderConfig declares a conversation source.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ProviderConfig struct {
	Name          string `toml:"name"`
	Type          string `toml:"type"` // "jsondir"
	MaxConcurrent int    `toml:"max_concurrent,omitempty"`

	// jsondir-specific fields
	SourceDir string `toml:"source_dir,omitempty"`
}

// VaultConfig represents configuration for a snapshot vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3Endpoint     string `toml:"s3_endpoint,omitempty"`
	S3UsePathStyle bool   `toml:"s3_use_path_style,omitempty"`
	S3AccessKeyID  string `toml:"s3_access_key_id,omitempty"` // default credential chain when empty
	S3SecretKey    string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the run-history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Archive: ArchiveConfig{
			OutputDir:      filepath.Join(baseDir, "archive"),
			Formats:        []string{"json"},
			Layout:         "flat",
			FetchAttempts:  3,
			RetryBaseDelay: D(time.Second),
		},
		RateLimit: RateLimitConfig{
			MaxConcurrency:   10,
			MinConcurrency:   1,
			BaseDelay:        D(time.Second),
			MaxDelay:         D(60 * time.Second),
			RecoveryWindow:   D(30 * time.Second),
			RampStep:         0.1,
			CircuitThreshold: 3,
			PollInterval:     D(5 * time.Second),
		},
		Media: MediaConfig{
			Enabled:      true,
			FetchTimeout: D(60 * time.Second),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "chatvault.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "chatvault.key"),
		},
	}
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.InstanceID == "" {
		errs = append(errs, errors.New("instance_id is required"))
	}
	if c.Archive.OutputDir == "" {
		errs = append(errs, errors.New("archive.output_dir is required"))
	}
	switch c.Archive.Layout {
	case "", "flat", "date":
	default:
		errs = append(errs, fmt.Errorf("archive.layout must be flat or date, got %q", c.Archive.Layout))
	}
	if c.RateLimit.MinConcurrency > c.RateLimit.MaxConcurrency && c.RateLimit.MaxConcurrency > 0 {
		errs = append(errs, fmt.Errorf("rate_limit.min_concurrency %d exceeds max_concurrency %d",
			c.RateLimit.MinConcurrency, c.RateLimit.MaxConcurrency))
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
