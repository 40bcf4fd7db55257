package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, dir string, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  log_level: DEBUG
worker:
  dir: ./bin
  request_timeout: 2s
state:
  path: ./state/tether.db
`,
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Errorf("log_level = %q, want debug", cfg.Service.LogLevel)
				}
				if cfg.Service.Name != "tether" {
					t.Errorf("service.name default not applied: %q", cfg.Service.Name)
				}
				if cfg.Worker.RequestTimeout != 2*time.Second {
					t.Errorf("request_timeout = %v", cfg.Worker.RequestTimeout)
				}
				if cfg.Worker.GracePeriod != 5*time.Second {
					t.Errorf("grace_period default not applied: %v", cfg.Worker.GracePeriod)
				}
				if cfg.Worker.Dir != filepath.Join(dir, "bin") {
					t.Errorf("worker.dir = %q, want resolved against config dir", cfg.Worker.Dir)
				}
				if cfg.State.Path != filepath.Join(dir, "state", "tether.db") {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if got, want := cfg.ResolvedLockPath(), filepath.Join(dir, "state", "tether.lock"); got != want {
					t.Errorf("lock path = %q, want %q", got, want)
				}
				if cfg.SourcePath != filepath.Join(dir, "config.yaml") {
					t.Errorf("source path = %q", cfg.SourcePath)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
worker:
  path: ${WORKER_BIN}
  env:
    READER_PORT: ${READER_PORT}
state:
  path: /tmp/tether.db
api:
  enabled: true
  listen: 0.0.0.0:9000
  auth:
    tokens:
      - token: ${ADMIN_TOKEN}
        scopes: ["*"]
`,
			env: map[string]string{
				"WORKER_BIN":  "/opt/tether/tether-worker",
				"READER_PORT": "/dev/ttyUSB0",
				"ADMIN_TOKEN": "secret123",
			},
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.Worker.Path != "/opt/tether/tether-worker" {
					t.Errorf("worker.path = %q", cfg.Worker.Path)
				}
				if cfg.Worker.Env["READER_PORT"] != "/dev/ttyUSB0" {
					t.Errorf("worker.env not interpolated: %v", cfg.Worker.Env)
				}
				if cfg.API.Auth.Tokens[0].Token != "secret123" {
					t.Error("token not interpolated")
				}
			},
		},
		{
			name: "handshake timeout follows request timeout",
			yaml: `
worker:
  request_timeout: 3s
  handshake_timeout: 0s
`,
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.Worker.HandshakeTimeout != 3*time.Second {
					t.Errorf("handshake_timeout = %v, want 3s", cfg.Worker.HandshakeTimeout)
				}
			},
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: chatty
`,
			wantErr: "service.log_level",
		},
		{
			name: "unresolved token",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: ${MISSING_TOKEN_FOR_TEST}
        scopes: ["status:ro"]
`,
			wantErr: "${MISSING_TOKEN_FOR_TEST} is not set",
		},
		{
			name: "token without scopes",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
`,
			wantErr: "scopes must be non-empty",
		},
		{
			name: "open api on public address",
			yaml: `
api:
  enabled: true
  listen: 0.0.0.0:8787
`,
			wantErr: "api.auth.tokens are required",
		},
		{
			name: "bad checksum",
			yaml: `
worker:
  checksum: not-hex
`,
			wantErr: "worker.checksum",
		},
		{
			name: "negative timeout",
			yaml: `
worker:
  request_timeout: -1s
`,
			wantErr: "worker.request_timeout",
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, dir, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: bench\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "bench" {
		t.Errorf("service.name = %q, want bench", cfg.Service.Name)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for directory without config.yaml")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("error = %v, want config file not found", err)
	}
}

func TestDiscover(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cwd := t.TempDir()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(cwd); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		path, err := Discover()
		if err != nil || path != "" {
			t.Fatalf("Discover() = %q, %v; want empty", path, err)
		}
	})

	t.Run("working directory", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		if err := os.WriteFile(filepath.Join(cwd, "config.yaml"), []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		path, err := Discover()
		if err != nil || path != "config.yaml" {
			t.Fatalf("Discover() = %q, %v; want config.yaml", path, err)
		}
	})

	t.Run("user config wins over working directory", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		userDir := filepath.Join(home, ".config", "tether")
		if err := os.MkdirAll(userDir, 0o755); err != nil {
			t.Fatal(err)
		}
		want := filepath.Join(userDir, "config.yaml")
		if err := os.WriteFile(want, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		path, err := Discover()
		if err != nil || path != want {
			t.Fatalf("Discover() = %q, %v; want %q", path, err, want)
		}
	})

	t.Run("env var wins", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(want, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvConfigPath, want)
		path, err := Discover()
		if err != nil || path != want {
			t.Fatalf("Discover() = %q, %v; want %q", path, err, want)
		}
	})

	t.Run("env var pointing nowhere", func(t *testing.T) {
		t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
		if _, err := Discover(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfigPath, "")

	oldwd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.SourcePath != "" {
		t.Errorf("SourcePath = %q, want empty for defaults", cfg.SourcePath)
	}
	if cfg.API.Listen != "127.0.0.1:8787" {
		t.Errorf("api.listen = %q", cfg.API.Listen)
	}
}
