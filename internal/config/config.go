// Package config loads coordinator configuration. An optional YAML file
// supplies the base values; environment variables (plus an optional .env
// file) override it, so deployments can ship a file and still tweak per
// host.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the coordinator.
type Config struct {
	// HTTP bind for the admin API and the extension transport.
	BindAddr         string `yaml:"bind_addr"`
	PortCandidates   []int  `yaml:"port_candidates"`
	PortAutoFallback bool   `yaml:"port_auto_fallback"`

	// Browser integration. An empty CDP address disables the platform
	// adapter; tab/window creation then fails NOT_IMPLEMENTED.
	CDPAddress    string `yaml:"cdp_address"`
	CDPPort       int    `yaml:"cdp_port"`
	EvalTimeoutMS int    `yaml:"eval_timeout_ms"`

	// Browser process management. Auto-launch only fires when no browser
	// already serves the CDP port.
	BrowserAutoLaunch bool   `yaml:"browser_auto_launch"`
	BrowserProfileDir string `yaml:"browser_profile_dir"`
	BrowserHeadless   bool   `yaml:"browser_headless"`

	// Sessions created at startup. Contexts connecting with an unlisted
	// session get a lazily created one.
	Sessions []string `yaml:"sessions"`

	// ExtensionsDir is watched for extension load/unload; subdirectory
	// names are extension ids. Empty disables the watcher.
	ExtensionsDir string `yaml:"extensions_dir"`

	// NotifyEndpoint receives notifications.create posts. Empty disables
	// outbound notifications.
	NotifyEndpoint string `yaml:"notify_endpoint"`

	// JournalDir receives the JSONL event journal. Empty disables it.
	JournalDir       string `yaml:"journal_dir"`
	JournalMaxSizeMB int    `yaml:"journal_max_size_mb"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func defaults() *Config {
	return &Config{
		BindAddr:         "127.0.0.1:8760",
		PortAutoFallback: true,
		CDPPort:          9222,
		EvalTimeoutMS:    5000,
		Sessions:         []string{"persist:default"},
		LogLevel:         "info",
		LogFile:          "logs/coordinator.log",
	}
}

// Load reads configuration: defaults, then the YAML file named by
// COORDINATOR_CONFIG_FILE (if any), then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := defaults()

	if path := os.Getenv("COORDINATOR_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.BindAddr = getEnvOrDefault("COORDINATOR_BIND_ADDR", cfg.BindAddr)
	cfg.PortAutoFallback = getEnvBoolOrDefault("COORDINATOR_PORT_AUTO_FALLBACK", cfg.PortAutoFallback)
	if ports := os.Getenv("COORDINATOR_PORT_CANDIDATES"); ports != "" {
		cfg.PortCandidates = parsePorts(ports)
	}
	cfg.CDPAddress = getEnvOrDefault("CHROMIUM_CDP_ADDRESS", cfg.CDPAddress)
	cfg.CDPPort = getEnvIntOrDefault("CHROMIUM_CDP_PORT", cfg.CDPPort)
	cfg.EvalTimeoutMS = getEnvIntOrDefault("COORDINATOR_EVAL_TIMEOUT_MS", cfg.EvalTimeoutMS)
	cfg.BrowserAutoLaunch = getEnvBoolOrDefault("CHROMIUM_AUTO_LAUNCH", cfg.BrowserAutoLaunch)
	cfg.BrowserProfileDir = getEnvOrDefault("CHROMIUM_PROFILE_DIR", cfg.BrowserProfileDir)
	cfg.BrowserHeadless = getEnvBoolOrDefault("CHROMIUM_HEADLESS", cfg.BrowserHeadless)
	if sessions := os.Getenv("COORDINATOR_SESSIONS"); sessions != "" {
		cfg.Sessions = splitList(sessions)
	}
	cfg.ExtensionsDir = getEnvOrDefault("COORDINATOR_EXTENSIONS_DIR", cfg.ExtensionsDir)
	cfg.NotifyEndpoint = getEnvOrDefault("COORDINATOR_NOTIFY_ENDPOINT", cfg.NotifyEndpoint)
	cfg.JournalDir = getEnvOrDefault("COORDINATOR_JOURNAL_DIR", cfg.JournalDir)
	cfg.JournalMaxSizeMB = getEnvIntOrDefault("COORDINATOR_JOURNAL_MAX_SIZE_MB", cfg.JournalMaxSizeMB)
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("COORDINATOR_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = getEnvOrDefault("COORDINATOR_LOG_FILE", cfg.LogFile)

	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	return cfg, nil
}

// CDPURL returns the browser's CDP HTTP endpoint, or empty when browser
// integration is disabled.
func (c *Config) CDPURL() string {
	if c.CDPAddress == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func parsePorts(s string) []int {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if p, err := strconv.Atoi(part); err == nil {
			ports = append(ports, p)
		}
	}
	return ports
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
