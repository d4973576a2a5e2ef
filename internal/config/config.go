package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration. Values come from the JSON
// config file and are overridden by KIOSK_* environment variables.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Bridge    BridgeConfig    `json:"bridge"`
	Proxy     ProxyConfig     `json:"proxy"`
	Kiosk     KioskConfig     `json:"kiosk"`
	Network   NetworkConfig   `json:"network"`
	Shell     ShellConfig     `json:"shell"`
	Logging   LoggingConfig   `json:"logging"`
	Bootstrap BootstrapConfig `json:"-"`
}

type StorageConfig struct {
	DataDir  string `json:"data_dir" env:"KIOSK_DATA_DIR, overwrite"`
	AuditLog string `json:"audit_log" env:"KIOSK_AUDIT_LOG, overwrite"`
}

type BridgeConfig struct {
	Host            string `json:"host" env:"KIOSK_BRIDGE_HOST, overwrite"`
	Port            int    `json:"port" env:"KIOSK_BRIDGE_PORT, overwrite"`
	TokenTTLMinutes int    `json:"token_ttl_minutes" env:"KIOSK_BRIDGE_TOKEN_TTL_MINUTES, overwrite"`
}

type ProxyConfig struct {
	Host string `json:"host" env:"KIOSK_PROXY_HOST, overwrite"`
	Port int    `json:"port" env:"KIOSK_PROXY_PORT, overwrite"`
}

type KioskConfig struct {
	FocusGraceMillis int      `json:"focus_grace_ms" env:"KIOSK_FOCUS_GRACE_MS, overwrite"`
	TopReleaseMillis int      `json:"top_release_ms" env:"KIOSK_TOP_RELEASE_MS, overwrite"`
	UserBarHeight    int      `json:"user_bar_height" env:"KIOSK_USER_BAR_HEIGHT, overwrite"`
	ForceQuit        string   `json:"force_quit" env:"KIOSK_FORCE_QUIT, overwrite"`
	BlockedShortcuts []string `json:"blocked_shortcuts,omitempty" env:"KIOSK_BLOCKED_SHORTCUTS, overwrite"`
}

type NetworkConfig struct {
	ProbeURL           string `json:"probe_url" env:"KIOSK_PROBE_URL, overwrite"`
	PollIntervalMillis int    `json:"poll_interval_ms" env:"KIOSK_POLL_INTERVAL_MS, overwrite"`
	ProbeTimeoutMillis int    `json:"probe_timeout_ms" env:"KIOSK_PROBE_TIMEOUT_MS, overwrite"`
}

// ShellConfig names the native window process. An empty command means the
// shell is started externally and dials the bridge on its own.
type ShellConfig struct {
	Command []string `json:"command,omitempty" env:"KIOSK_SHELL_COMMAND, overwrite"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"KIOSK_LOG_LEVEL, overwrite"`
	Pretty bool   `json:"pretty" env:"KIOSK_LOG_PRETTY, overwrite"`
}

// BootstrapConfig provisions the first admin on an empty user store. It is
// read from the environment only and never written to disk in clear.
type BootstrapConfig struct {
	AdminID       string `env:"KIOSK_BOOTSTRAP_ADMIN_ID"`
	AdminPassword string `env:"KIOSK_BOOTSTRAP_ADMIN_PASSWORD"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Bridge: BridgeConfig{
			Host:            "127.0.0.1",
			Port:            17800,
			TokenTTLMinutes: 24 * 60,
		},
		Proxy: ProxyConfig{
			Host: "127.0.0.1",
			Port: 17801,
		},
		Kiosk: KioskConfig{
			FocusGraceMillis: 150,
			TopReleaseMillis: 1000,
			UserBarHeight:    60,
			ForceQuit:        "CommandOrControl+Shift+Q",
		},
		Network: NetworkConfig{
			ProbeURL:           "https://clients3.google.com/generate_204",
			PollIntervalMillis: 1200,
			ProbeTimeoutMillis: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a JSON file, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	return LoadWith(context.Background(), path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source
func LoadWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the kiosk cannot run with
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", c.Bridge.Port)
	}
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port %d out of range", c.Proxy.Port)
	}
	if c.Bridge.Port == c.Proxy.Port && c.Bridge.Host == c.Proxy.Host {
		return errors.New("bridge and proxy cannot share an address")
	}
	if c.Network.PollIntervalMillis <= 0 {
		return errors.New("network.poll_interval_ms must be positive")
	}
	if c.Kiosk.UserBarHeight < 0 {
		return errors.New("kiosk.user_bar_height must not be negative")
	}
	return nil
}

// AuditPath returns the audit log location, next to the data files unless
// configured otherwise
func (s StorageConfig) AuditPath() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(s.DataDir, "audit.log")
}

// Addr returns the bridge listen address
func (b BridgeConfig) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// TokenTTL returns the bridge token lifetime
func (b BridgeConfig) TokenTTL() time.Duration {
	return time.Duration(b.TokenTTLMinutes) * time.Minute
}

// Addr returns the filtering proxy listen address
func (p ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// FocusGrace returns the re-focus delay
func (k KioskConfig) FocusGrace() time.Duration {
	return time.Duration(k.FocusGraceMillis) * time.Millisecond
}

// TopRelease returns how long a re-focused window stays always-on-top
func (k KioskConfig) TopRelease() time.Duration {
	return time.Duration(k.TopReleaseMillis) * time.Millisecond
}

// PollInterval returns the connectivity poll interval
func (n NetworkConfig) PollInterval() time.Duration {
	return time.Duration(n.PollIntervalMillis) * time.Millisecond
}

// ProbeTimeout returns the per-probe timeout
func (n NetworkConfig) ProbeTimeout() time.Duration {
	return time.Duration(n.ProbeTimeoutMillis) * time.Millisecond
}
