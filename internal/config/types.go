package config

import "time"

// Config represents the complete tether configuration.
type Config struct {
	Service  ServiceConfig `yaml:"service"`
	Worker   WorkerConfig  `yaml:"worker"`
	State    StateConfig   `yaml:"state"`
	API      APIConfig     `yaml:"api,omitempty"`
	LockPath string        `yaml:"lock_path,omitempty"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// WorkerConfig defines how the worker binary is found and supervised.
type WorkerConfig struct {
	// Dir holds platform-suffixed worker binaries (tether-worker-<os>-<arch>).
	Dir string `yaml:"dir"`
	// Path overrides Dir with an explicit binary.
	Path string `yaml:"path,omitempty"`
	// Checksum pins the binary to a hex BLAKE3 digest.
	Checksum string            `yaml:"checksum,omitempty"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`

	GracePeriod      time.Duration `yaml:"grace_period"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// StateConfig defines request journal storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
	// Retention bounds how long journal rows are kept; zero keeps everything.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// APIConfig defines local HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "tether",
			LogLevel: "info",
		},
		Worker: WorkerConfig{
			Dir:              "./bin",
			GracePeriod:      5 * time.Second,
			RequestTimeout:   5 * time.Second,
			HandshakeTimeout: 5 * time.Second,
		},
		State: StateConfig{
			Path: "./data/tether.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8787",
		},
	}
}

// ResolvedLockPath returns lock_path, or tether.lock next to the state
// database when unset.
func (c *Config) ResolvedLockPath() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return joinDir(c.State.Path, "tether.lock")
}
