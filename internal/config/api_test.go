package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAPI_Defaults(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, `
env = "prod"

[database]
url = "postgres://localhost/ponyd"

[bus]
url = "redis://localhost:6379/0"
`)

	cfg, err := LoadAPI(path)
	if err != nil {
		t.Fatalf("LoadAPI: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.Database.MaxConns != 8 || cfg.Database.MinConns != 2 {
		t.Errorf("pool defaults = %+v", cfg.Database)
	}
	if cfg.Timeouts.AdminAPI != 3*time.Second || cfg.Timeouts.Database != 5*time.Second || cfg.Timeouts.Sink != 2*time.Second {
		t.Errorf("timeout defaults = %+v", cfg.Timeouts)
	}
	if cfg.ShutdownGrace != 10*time.Second {
		t.Errorf("ShutdownGrace = %v, want 10s", cfg.ShutdownGrace)
	}
}

func TestLoadAPI_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, `
env = "prod"
listen_addr = ":9000"

[database]
url = "postgres://localhost/ponyd"
max_conns = 16
min_conns = 4

[bus]
url = "redis://localhost:6379/0"
`)

	cfg, err := LoadAPI(path)
	if err != nil {
		t.Fatalf("LoadAPI: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9000")
	}
	if cfg.Database.MaxConns != 16 || cfg.Database.MinConns != 4 {
		t.Errorf("pool overrides not applied: %+v", cfg.Database)
	}
}

func TestLoadAPI_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadAPI(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadAPI_MalformedTOML(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "env = \"prod\n")
	if _, err := LoadAPI(path); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestAPIConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		toml    string
		wantErr bool
	}{
		{
			name:    "missing env",
			toml:    "[database]\nurl=\"x\"\n[bus]\nurl=\"y\"\n",
			wantErr: true,
		},
		{
			name:    "missing database url",
			toml:    "env=\"prod\"\n[bus]\nurl=\"y\"\n",
			wantErr: true,
		},
		{
			name:    "missing bus url",
			toml:    "env=\"prod\"\n[database]\nurl=\"x\"\n",
			wantErr: true,
		},
		{
			name:    "min exceeds max",
			toml:    "env=\"prod\"\n[database]\nurl=\"x\"\nmax_conns=2\nmin_conns=5\n[bus]\nurl=\"y\"\n",
			wantErr: true,
		},
		{
			name:    "invalid log level",
			toml:    "env=\"prod\"\nlog_level=\"verbose\"\n[database]\nurl=\"x\"\n[bus]\nurl=\"y\"\n",
			wantErr: true,
		},
		{
			name:    "valid minimal",
			toml:    "env=\"prod\"\n[database]\nurl=\"x\"\n[bus]\nurl=\"y\"\n",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeTemp(t, tt.toml)
			_, err := LoadAPI(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadAPI() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
