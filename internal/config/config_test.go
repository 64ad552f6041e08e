package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("test-instance-abc", "/home/user/.local/share/chatvault")
	original.Archive.Formats = []string{"json", "markdown"}
	original.Archive.Compress = true
	original.Archive.Layout = "date"
	original.Vaults = []VaultConfig{
		{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"},
		{Type: "s3", Name: "offsite", S3Bucket: "chats", S3Prefix: "laptop", S3Region: "us-east-1"},
	}
	original.Encryption.Recipients = []string{"age1example"}
	original.Metrics.TextfilePath = "/var/lib/node_exporter/chatvault.prom"
	original.Providers = []ProviderConfig{
		{Name: "exports", Type: "jsondir", SourceDir: "/data/exports", MaxConcurrent: 4},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.InstanceID != original.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, original.InstanceID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if len(got.Archive.Formats) != 2 || got.Archive.Formats[1] != "markdown" {
		t.Errorf("Archive.Formats = %v, want [json markdown]", got.Archive.Formats)
	}
	if !got.Archive.Compress {
		t.Error("Archive.Compress = false, want true")
	}
	if got.Archive.Layout != "date" {
		t.Errorf("Archive.Layout = %q, want %q", got.Archive.Layout, "date")
	}
	if got.Archive.RetryBaseDelay.Duration != time.Second {
		t.Errorf("Archive.RetryBaseDelay = %v, want 1s", got.Archive.RetryBaseDelay)
	}
	if got.RateLimit.MaxDelay.Duration != 60*time.Second {
		t.Errorf("RateLimit.MaxDelay = %v, want 1m0s", got.RateLimit.MaxDelay)
	}
	if got.RateLimit.RampStep != 0.1 {
		t.Errorf("RateLimit.RampStep = %v, want 0.1", got.RateLimit.RampStep)
	}
	if len(got.Vaults) != 2 {
		t.Fatalf("len(Vaults) = %d, want 2", len(got.Vaults))
	}
	if got.Vaults[0].FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vaults[0].FSVaultRoot, "/backup/vault")
	}
	if got.Vaults[1].S3Bucket != "chats" {
		t.Errorf("Vault.S3Bucket = %q, want %q", got.Vaults[1].S3Bucket, "chats")
	}
	if len(got.Encryption.Recipients) != 1 {
		t.Errorf("len(Encryption.Recipients) = %d, want 1", len(got.Encryption.Recipients))
	}
	if got.Metrics.TextfilePath != original.Metrics.TextfilePath {
		t.Errorf("Metrics.TextfilePath = %q, want %q", got.Metrics.TextfilePath, original.Metrics.TextfilePath)
	}
	if len(got.Providers) != 1 || got.Providers[0].SourceDir != "/data/exports" {
		t.Errorf("Providers = %+v, want one jsondir provider", got.Providers)
	}
}

func TestManager_Read_Durations(t *testing.T) {
	input := `
instance_id = "x"

[rate_limit]
base_delay = "250ms"
poll_interval = "2s"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.RateLimit.BaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 250ms", cfg.RateLimit.BaseDelay)
	}
	if cfg.RateLimit.PollInterval.Duration != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.RateLimit.PollInterval)
	}

	_, err = m.Read(strings.NewReader("[rate_limit]\nbase_delay = \"soon\"\n"))
	if err == nil {
		t.Error("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("instance-1", "/data/chatvault")

	if cfg.InstanceID != "instance-1" {
		t.Errorf("InstanceID = %q, want %q", cfg.InstanceID, "instance-1")
	}
	if cfg.LogDir != "/data/chatvault/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/chatvault/log")
	}
	if cfg.Archive.OutputDir != "/data/chatvault/archive" {
		t.Errorf("Archive.OutputDir = %q, want %q", cfg.Archive.OutputDir, "/data/chatvault/archive")
	}
	if cfg.Database.DataDir != "/data/chatvault/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/chatvault/db")
	}
	if cfg.Encryption.PublicKeyPath != "/data/chatvault/keys/chatvault.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/chatvault/keys/chatvault.pub")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "missing instance id", modify: func(c *Config) { c.InstanceID = "" }, wantErr: "instance_id"},
		{name: "missing output dir", modify: func(c *Config) { c.Archive.OutputDir = "" }, wantErr: "output_dir"},
		{name: "bad layout", modify: func(c *Config) { c.Archive.Layout = "tree" }, wantErr: "layout"},
		{name: "min above max", modify: func(c *Config) { c.RateLimit.MinConcurrency = 20 }, wantErr: "min_concurrency"},
		{
			name: "duplicate provider",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{{Name: "a", Type: "jsondir"}, {Name: "a", Type: "jsondir"}}
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("i", "/data")
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Provider(t *testing.T) {
	cfg := NewConfig("i", "/data")
	cfg.Providers = []ProviderConfig{{Name: "exports", Type: "jsondir"}}

	if _, ok := cfg.Provider("exports"); !ok {
		t.Error("Provider(exports) not found")
	}
	if _, ok := cfg.Provider("missing"); ok {
		t.Error("Provider(missing) found, want not found")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chatvault.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chatvault.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chatvault.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.InstanceID != "read-test" {
			t.Errorf("InstanceID = %q, want %q", got.InstanceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/chatvault.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
