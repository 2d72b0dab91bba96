package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is everything the gateway needs at startup.
type Config struct {
	ListenAddr     string
	DBDriver       string
	DBDSN          string
	DataDir        string
	APIBaseURL     string
	AppOrigin      string
	Scope          string
	CacheVersion   string
	CacheBackend   string
	RedisAddr      string
	ProbeInterval  time.Duration
	StartupDelay   time.Duration
	AllowedOrigins []string
	DesktopNotify  bool
}

const (
	defaultConfigPath    = "~/.config/story-service/config.toml"
	defaultDataDir       = "~/.local/share/story-service"
	defaultListenAddr    = "127.0.0.1:8080"
	defaultAPIBaseURL    = "https://story-api.dicoding.dev/v1"
	defaultAppOrigin     = "http://localhost:5173"
	defaultScope         = "/"
	defaultCacheVersion  = "v1"
	defaultCacheBackend  = "memory"
	defaultRedisAddr     = "localhost:6379"
	defaultProbeInterval = 15 * time.Second
	defaultStartupDelay  = 2 * time.Second
)

// SessionPath is where the auth session is persisted.
func (c Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// Load applies defaults, then the TOML file at path (if present), then
// environment overrides.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBDriver:      "sqlite",
		DataDir:       defaultDataDir,
		APIBaseURL:    defaultAPIBaseURL,
		AppOrigin:     defaultAppOrigin,
		Scope:         defaultScope,
		CacheVersion:  defaultCacheVersion,
		CacheBackend:  defaultCacheBackend,
		RedisAddr:     defaultRedisAddr,
		ProbeInterval: defaultProbeInterval,
		StartupDelay:  defaultStartupDelay,
		DesktopNotify: true,
	}

	if err := cfg.applyFile(resolved); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.DataDir = mustExpand(cfg.DataDir)
	if cfg.DBDSN == "" && cfg.DBDriver == "sqlite" {
		cfg.DBDSN = filepath.Join(cfg.DataDir, "stories.db")
	}
	if !strings.HasPrefix(cfg.Scope, "/") {
		cfg.Scope = "/" + cfg.Scope
	}
	if !strings.HasSuffix(cfg.Scope, "/") {
		cfg.Scope += "/"
	}
	switch cfg.CacheBackend {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("cache_backend %q: want memory or redis", cfg.CacheBackend)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		ListenAddr     string   `toml:"listen_addr"`
		DBDriver       string   `toml:"db_driver"`
		DBDSN          string   `toml:"db_dsn"`
		DataDir        string   `toml:"data_dir"`
		APIBaseURL     string   `toml:"api_base_url"`
		AppOrigin      string   `toml:"app_origin"`
		Scope          string   `toml:"scope"`
		CacheVersion   string   `toml:"cache_version"`
		CacheBackend   string   `toml:"cache_backend"`
		RedisAddr      string   `toml:"redis_addr"`
		ProbeInterval  string   `toml:"probe_interval"`
		StartupDelay   string   `toml:"startup_delay"`
		AllowedOrigins []string `toml:"allowed_origins"`
		DesktopNotify  *bool    `toml:"desktop_notify"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.ListenAddr, raw.ListenAddr)
	setString(&c.DBDriver, raw.DBDriver)
	setString(&c.DBDSN, raw.DBDSN)
	setString(&c.DataDir, raw.DataDir)
	setString(&c.APIBaseURL, raw.APIBaseURL)
	setString(&c.AppOrigin, raw.AppOrigin)
	setString(&c.Scope, raw.Scope)
	setString(&c.CacheVersion, raw.CacheVersion)
	setString(&c.CacheBackend, raw.CacheBackend)
	setString(&c.RedisAddr, raw.RedisAddr)
	if err := setDuration(&c.ProbeInterval, raw.ProbeInterval, "probe_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.StartupDelay, raw.StartupDelay, "startup_delay"); err != nil {
		return err
	}
	if len(raw.AllowedOrigins) > 0 {
		c.AllowedOrigins = raw.AllowedOrigins
	}
	if raw.DesktopNotify != nil {
		c.DesktopNotify = *raw.DesktopNotify
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = envOrDefault("LISTEN_ADDR", c.ListenAddr)
	c.DBDriver = envOrDefault("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOrDefault("DB_DSN", c.DBDSN)
	c.DataDir = envOrDefault("DATA_DIR", c.DataDir)
	c.APIBaseURL = envOrDefault("STORY_API_URL", c.APIBaseURL)
	c.AppOrigin = envOrDefault("APP_ORIGIN", c.AppOrigin)
	c.Scope = envOrDefault("APP_SCOPE", c.Scope)
	c.CacheVersion = envOrDefault("CACHE_VERSION", c.CacheVersion)
	c.CacheBackend = envOrDefault("CACHE_BACKEND", c.CacheBackend)
	c.RedisAddr = envOrDefault("REDIS_ADDR", c.RedisAddr)
	if err := setDuration(&c.ProbeInterval, os.Getenv("PROBE_INTERVAL"), "PROBE_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.StartupDelay, os.Getenv("STARTUP_DELAY"), "STARTUP_DELAY"); err != nil {
		return err
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DESKTOP_NOTIFY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DESKTOP_NOTIFY: %w", err)
		}
		c.DesktopNotify = b
	}
	return nil
}

func envOrDefault(key, d string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return d
	}
	return v
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
