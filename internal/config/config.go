package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".debugbridge"
	configFileName = "config.yaml"
	envPrefix      = "DEBUGBRIDGE"
)

type Config struct {
	Version      string             `mapstructure:"version"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Events       EventsConfig       `mapstructure:"events"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// RemoteConfig describes the debug protocol endpoint of the remote process.
type RemoteConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	URL                string        `mapstructure:"url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	MaxConnectAttempts int           `mapstructure:"max_connect_attempts"`
	ConnectBaseDelay   time.Duration `mapstructure:"connect_base_delay"`
	ConnectBackoffCap  int           `mapstructure:"connect_backoff_cap"`
	BatchInterval      time.Duration `mapstructure:"batch_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ReadLimit          int64         `mapstructure:"read_limit"`
}

type OrchestratorConfig struct {
	AllowedTools []string `mapstructure:"allowed_tools"`
	MaxParallel  int      `mapstructure:"max_parallel"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type EventsConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	EventChannel string `mapstructure:"event_channel"`
}

// AdminConfig controls the HTTP admin surface. An empty Listen disables it;
// a non-empty Token is required in X-Internal-Token on /v1 routes.
type AdminConfig struct {
	Listen         string   `mapstructure:"listen"`
	Token          string   `mapstructure:"token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// JobsConfig enables the redis stream consumer that runs queued pipeline
// submissions.
type JobsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Stream    string        `mapstructure:"stream"`
	Group     string        `mapstructure:"group"`
	Consumer  string        `mapstructure:"consumer"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type LoadOptions struct {
	ConfigFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1.0")

	v.SetDefault("remote.host", "localhost")
	v.SetDefault("remote.port", 15702)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.request_timeout", 5*time.Second)
	v.SetDefault("remote.connect_timeout", 5*time.Second)
	v.SetDefault("remote.max_connect_attempts", 5)
	v.SetDefault("remote.connect_base_delay", time.Second)
	v.SetDefault("remote.connect_backoff_cap", 5)
	v.SetDefault("remote.batch_interval", 50*time.Millisecond)
	v.SetDefault("remote.batch_size", 10)
	v.SetDefault("remote.heartbeat_interval", 30*time.Second)
	v.SetDefault("remote.read_limit", int64(16<<20))

	v.SetDefault("orchestrator.allowed_tools", []string{})
	v.SetDefault("orchestrator.max_parallel", 4)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 10*time.Second)

	v.SetDefault("events.backend", "none")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "debugbridge:")
	v.SetDefault("redis.event_channel", "debugbridge:evt")

	v.SetDefault("admin.listen", "")
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.allowed_origins", []string{})

	v.SetDefault("jobs.enabled", false)
	v.SetDefault("jobs.stream", "debugbridge:jobs")
	v.SetDefault("jobs.group", "debugbridge")
	v.SetDefault("jobs.consumer", "")
	v.SetDefault("jobs.result_ttl", time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "debugbridge")
}

// Load reads defaults, the resolved config file (if present) and environment
// overrides. An explicitly requested file that does not exist is an error.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("remote.host", envPrefix+"_REMOTE_HOST", "BEVY_BRP_HOST")
	_ = v.BindEnv("remote.port", envPrefix+"_REMOTE_PORT", "BEVY_BRP_PORT")

	path := ResolveConfigPath(opts.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if opts.ConfigFile != "" {
		return nil, fmt.Errorf("config file %s: %w", opts.ConfigFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Remote.URL) == "" && (strings.TrimSpace(c.Remote.Host) == "" || c.Remote.Port <= 0) {
		errs = append(errs, errors.New("remote: url or host/port is required"))
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, errors.New("remote.request_timeout must be > 0"))
	}
	if c.Remote.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("remote.connect_timeout must be > 0"))
	}
	if c.Remote.MaxConnectAttempts < 1 {
		errs = append(errs, errors.New("remote.max_connect_attempts must be >= 1"))
	}
	if c.Remote.BatchSize < 1 {
		errs = append(errs, errors.New("remote.batch_size must be >= 1"))
	}
	if c.Remote.BatchInterval <= 0 {
		errs = append(errs, errors.New("remote.batch_interval must be > 0"))
	}
	if c.Orchestrator.MaxParallel < 1 {
		errs = append(errs, errors.New("orchestrator.max_parallel must be >= 1"))
	}
	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			errs = append(errs, errors.New("cache.backend=redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend))
	}
	switch c.Events.Backend {
	case "none":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			errs = append(errs, errors.New("events.backend=redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.backend %q is not supported", c.Events.Backend))
	}
	if c.Jobs.Enabled {
		if strings.TrimSpace(c.Redis.URL) == "" {
			errs = append(errs, errors.New("jobs.enabled requires redis.url"))
		}
		if strings.TrimSpace(c.Jobs.Stream) == "" || strings.TrimSpace(c.Jobs.Group) == "" {
			errs = append(errs, errors.New("jobs.stream and jobs.group are required"))
		}
	}
	return errors.Join(errs...)
}

// RemoteURL returns the websocket URL of the remote process.
func (c *Config) RemoteURL() string {
	if u := strings.TrimSpace(c.Remote.URL); u != "" {
		return u
	}
	return fmt.Sprintf("ws://%s:%d", c.Remote.Host, c.Remote.Port)
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(configDirName, configFileName)
	}
	return filepath.Join(home, configDirName, configFileName)
}

// ResolveConfigPath returns explicit when set. Otherwise it searches from the
// working directory upwards for .debugbridge/config.yaml, stopping at the
// first directory that holds a .git entry, and falls back to the home config.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir, err := os.Getwd()
	if err != nil {
		return DefaultConfigPath()
	}
	for {
		candidate := filepath.Join(dir, configDirName, configFileName)
		if fileExists(candidate) {
			return candidate
		}
		if fileExists(filepath.Join(dir, ".git")) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return DefaultConfigPath()
}

// ApplyFile validates src and copies it to dst.
func ApplyFile(src, dst string) error {
	cfg, err := Load(LoadOptions{ConfigFile: src})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
