package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/g960059/osrelay/internal/logging"
)

const EnvPrefix = "OSRELAY_"

type Config struct {
	ListenAddr        string        `yaml:"listen_addr"`
	DBPath            string        `yaml:"db_path"`
	JWTSecret         string        `yaml:"jwt_secret"`
	AdminToken        string        `yaml:"admin_token"`
	LogLevel          string        `yaml:"log_level"`
	RedisAddr         string        `yaml:"redis_addr"`
	// APIKeyCacheTTL also bounds how long a revoked API key keeps working.
	APIKeyCacheTTL    time.Duration `yaml:"api_key_cache_ttl"`
	LogHistorySize    int           `yaml:"log_history_size"`
	PresenceTTL       time.Duration `yaml:"presence_ttl"`
	WriteWait         time.Duration `yaml:"write_wait"`
	PongWait          time.Duration `yaml:"pong_wait"`
	OutboundQueueSize int           `yaml:"outbound_queue_size"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	PersistTimeout    time.Duration `yaml:"persist_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		DBPath:            defaultDBPath(),
		LogLevel:          "info",
		APIKeyCacheTTL:    5 * time.Minute,
		LogHistorySize:    500,
		PresenceTTL:       20 * time.Second,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		OutboundQueueSize: 256,
		MaxMessageSize:    512 << 10,
		PersistTimeout:    5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Load layers defaults, the optional YAML file at path and OSRELAY_*
// environment variables, then validates the result.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN_ADDR": &c.ListenAddr,
		"DB_PATH":     &c.DBPath,
		"JWT_SECRET":  &c.JWTSecret,
		"ADMIN_TOKEN": &c.AdminToken,
		"LOG_LEVEL":   &c.LogLevel,
		"REDIS_ADDR":  &c.RedisAddr,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"API_KEY_CACHE_TTL": &c.APIKeyCacheTTL,
		"PRESENCE_TTL":      &c.PresenceTTL,
		"WRITE_WAIT":        &c.WriteWait,
		"PONG_WAIT":         &c.PongWait,
		"PERSIST_TIMEOUT":   &c.PersistTimeout,
		"SHUTDOWN_TIMEOUT":  &c.ShutdownTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"LOG_HISTORY_SIZE":    &c.LogHistorySize,
		"OUTBOUND_QUEUE_SIZE": &c.OutboundQueueSize,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "MAX_MESSAGE_SIZE"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_MESSAGE_SIZE: %w", EnvPrefix, err)
		}
		c.MaxMessageSize = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.LogHistorySize <= 0 {
		errs = append(errs, errors.New("log_history_size must be positive"))
	}
	if c.PresenceTTL <= 0 {
		errs = append(errs, errors.New("presence_ttl must be positive"))
	}
	if c.WriteWait <= 0 {
		errs = append(errs, errors.New("write_wait must be positive"))
	}
	if c.PongWait <= time.Second {
		errs = append(errs, errors.New("pong_wait must be longer than 1s"))
	}
	if c.OutboundQueueSize <= 0 {
		errs = append(errs, errors.New("outbound_queue_size must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if c.PersistTimeout <= 0 {
		errs = append(errs, errors.New("persist_timeout must be positive"))
	}
	if c.RedisAddr != "" && c.APIKeyCacheTTL <= 0 {
		errs = append(errs, errors.New("api_key_cache_ttl must be positive when redis_addr is set"))
	}
	return errors.Join(errs...)
}

// PingPeriod is how often the server pings a peer; it must stay below
// PongWait.
func (c Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "osrelay.db"
	}
	return filepath.Join(home, ".local", "state", "osrelay", "state.db")
}
