package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "TETHER_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory is accepted
// if it contains config.yaml. Relative paths inside the file are resolved
// against the file's directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover returns the first config file found in the standard locations.
// Priority order: $TETHER_CONFIG, ~/.config/tether/config.yaml, ./config.yaml.
// An empty path with a nil error means no file exists and defaults apply.
func Discover() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$%s points at %s: %w", EnvConfigPath, path, err)
		}
		return path, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "tether", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	if fileExists("config.yaml") {
		return "config.yaml", nil
	}
	return "", nil
}

// LoadOrDefault loads the explicit path if set, otherwise the discovered
// file, otherwise validated defaults.
func LoadOrDefault(explicit string) (*Config, error) {
	path := explicit
	if path == "" {
		found, err := Discover()
		if err != nil {
			return nil, err
		}
		path = found
	}
	if path != "" {
		return Load(path)
	}

	cfg := applyConfigDefaults(Defaults())
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.Worker.GracePeriod == 0 {
		cfg.Worker.GracePeriod = defaults.Worker.GracePeriod
	}
	if cfg.Worker.RequestTimeout == 0 {
		cfg.Worker.RequestTimeout = defaults.Worker.RequestTimeout
	}
	if cfg.Worker.HandshakeTimeout == 0 {
		cfg.Worker.HandshakeTimeout = cfg.Worker.RequestTimeout
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// resolvePaths anchors relative filesystem paths at baseDir.
func resolvePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{&cfg.Worker.Dir, &cfg.Worker.Path, &cfg.State.Path, &cfg.LockPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// are left in place so validate can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}

	if cfg.Worker.Dir == "" && cfg.Worker.Path == "" {
		return fmt.Errorf("worker.dir or worker.path is required")
	}
	if cfg.Worker.GracePeriod < 0 {
		return fmt.Errorf("worker.grace_period must be positive")
	}
	if cfg.Worker.RequestTimeout < 0 {
		return fmt.Errorf("worker.request_timeout must be positive")
	}
	if cfg.Worker.HandshakeTimeout < 0 {
		return fmt.Errorf("worker.handshake_timeout must be positive")
	}
	if sum := cfg.Worker.Checksum; sum != "" {
		if b, err := hex.DecodeString(sum); err != nil || len(b) != 32 {
			return fmt.Errorf("worker.checksum must be a 64-character hex BLAKE3 digest")
		}
	}
	for key, value := range cfg.Worker.Env {
		if err := checkUnresolved(fmt.Sprintf("worker.env.%s", key), value); err != nil {
			return err
		}
	}

	if cfg.API.Enabled {
		if len(cfg.API.Auth.Tokens) == 0 && !isLoopback(cfg.API.Listen) {
			return fmt.Errorf("api.auth.tokens are required when api.listen is not a loopback address (got %q)", cfg.API.Listen)
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := checkUnresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func joinDir(path, name string) string {
	return filepath.Join(filepath.Dir(path), name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
