package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Registry     RegistryConfig     `yaml:"registry"`
	Cache        CacheConfig        `yaml:"cache"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Result       ResultConfig       `yaml:"result"`
	Agent        AgentConfig        `yaml:"agent"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Capability   CapabilityConfig   `yaml:"capability"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// ServerConfig coordinator HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port" validate:"gt=0,lt=65536"`
	Mode string `yaml:"mode" validate:"oneof=debug release test"` // debug, release, test
}

// RedisConfig queue backend configuration
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level" validate:"oneof=debug info warn error"`
	Output string           `yaml:"output" validate:"oneof=console file both"`
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RegistryConfig worker registry configuration
type RegistryConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"` // liveness expiry of a registration
}

// CacheConfig registry cache configuration
type CacheConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
}

// DispatcherConfig dispatcher configuration
type DispatcherConfig struct {
	Counter string `yaml:"counter" validate:"oneof=redis local"` // round-robin counter location
}

// ResultConfig result store configuration
type ResultConfig struct {
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	Persist       bool          `yaml:"persist"`                        // keep results without expiry
	WatchInterval time.Duration `yaml:"watch_interval" validate:"gt=0"` // websocket watch poll interval
}

// AgentConfig worker agent configuration
type AgentConfig struct {
	WorkerID       string        `yaml:"worker_id"`                                // generated when empty
	CoordinatorURL string        `yaml:"coordinator_url" validate:"required,url"`  // used by http registration
	Registration   string        `yaml:"registration" validate:"oneof=http redis"` // registration transport
	RenewInterval  time.Duration `yaml:"renew_interval" validate:"gt=0"`           // must be shorter than registry ttl
	PollTimeout    time.Duration `yaml:"poll_timeout" validate:"gte=1s"`           // server-side wait per BRPOP
	HealthPort     int           `yaml:"health_port" validate:"gte=0,lt=65536"`    // 0 disables the health server
}

// ExecutorConfig inference executor configuration
type ExecutorConfig struct {
	Type    string        `yaml:"type" validate:"oneof=static ollama"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	Delay   time.Duration `yaml:"delay" validate:"gte=0"` // static executor simulated latency
	Text    string        `yaml:"text"`                   // static executor response text
}

// CapabilityConfig capability discovery configuration
type CapabilityConfig struct {
	Source          string   `yaml:"source" validate:"oneof=static nvidia-smi"`
	GPUModel        string   `yaml:"gpu_model"`
	VRAMGB          float64  `yaml:"vram_gb" validate:"gte=0"`
	SupportedModels []string `yaml:"supported_models"`
}

// HousekeepingConfig registry index housekeeping configuration
type HousekeepingConfig struct {
	Enabled       bool          `yaml:"enabled"` // the registry index only shrinks through pruning
	PruneInterval time.Duration `yaml:"prune_interval" validate:"gt=0"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := preset()
	applyDefaults(cfg)
	return cfg
}

// Init initializes configuration
func Init() error {
	cfg, err := Load(configPath())
	if err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// Load reads the yaml file at path (a missing file yields defaults), applies env
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := *preset()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// rely on defaults and env
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Agent.RenewInterval >= cfg.Registry.TTL {
		return fmt.Errorf("invalid config: agent.renew_interval (%v) must be shorter than registry.ttl (%v)",
			cfg.Agent.RenewInterval, cfg.Registry.TTL)
	}
	if cfg.Executor.Type == "ollama" && cfg.Executor.URL == "" {
		return fmt.Errorf("invalid config: executor.url is required for the ollama executor")
	}
	return nil
}

// preset holds defaults that an explicit zero value in yaml must be able to override
func preset() *Config {
	return &Config{
		Housekeeping: HousekeepingConfig{Enabled: true},
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

// applyEnv applies the environment overrides used by container deployments.
func applyEnv(cfg *Config) {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if host != "" || port != "" {
		if host == "" {
			host = "localhost"
		}
		if _, err := strconv.Atoi(port); err != nil {
			port = "6379"
		}
		cfg.Redis.Addr = host + ":" + port
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("COORDINATOR_URL"); v != "" {
		cfg.Agent.CoordinatorURL = v
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.Agent.WorkerID = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = "logs/gpurelay.log"
	}
	if cfg.Logger.File.MaxSizeMB <= 0 {
		cfg.Logger.File.MaxSizeMB = 100
	}
	if cfg.Logger.File.MaxBackups <= 0 {
		cfg.Logger.File.MaxBackups = 5
	}
	if cfg.Logger.File.MaxAgeDays <= 0 {
		cfg.Logger.File.MaxAgeDays = 7
	}
	if cfg.Registry.TTL <= 0 {
		cfg.Registry.TTL = 60 * time.Second
	}
	if cfg.Cache.RefreshInterval <= 0 {
		cfg.Cache.RefreshInterval = 30 * time.Second
	}
	if cfg.Dispatcher.Counter == "" {
		cfg.Dispatcher.Counter = "redis"
	}
	if cfg.Result.Persist {
		cfg.Result.TTL = 0
	} else if cfg.Result.TTL <= 0 {
		cfg.Result.TTL = 24 * time.Hour
	}
	if cfg.Result.WatchInterval <= 0 {
		cfg.Result.WatchInterval = 500 * time.Millisecond
	}
	if cfg.Agent.CoordinatorURL == "" {
		cfg.Agent.CoordinatorURL = "http://localhost:8000"
	}
	if cfg.Agent.Registration == "" {
		cfg.Agent.Registration = "http"
	}
	if cfg.Agent.RenewInterval <= 0 {
		cfg.Agent.RenewInterval = cfg.Registry.TTL / 3
	}
	if cfg.Agent.PollTimeout < time.Second {
		cfg.Agent.PollTimeout = 5 * time.Second
	}
	if cfg.Executor.Type == "" {
		cfg.Executor.Type = "static"
	}
	if cfg.Executor.Timeout <= 0 {
		cfg.Executor.Timeout = 5 * time.Minute
	}
	if cfg.Executor.Delay < 0 {
		cfg.Executor.Delay = 0
	}
	if cfg.Executor.Text == "" {
		cfg.Executor.Text = "The inference is not working yet"
	}
	if cfg.Capability.Source == "" {
		cfg.Capability.Source = "static"
	}
	if cfg.Capability.VRAMGB < 0 {
		cfg.Capability.VRAMGB = 0
	}
	if cfg.Housekeeping.PruneInterval <= 0 {
		cfg.Housekeeping.PruneInterval = 5 * time.Minute
	}
}
