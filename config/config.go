package config

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	ProviderConsul = "consul"
	ProviderStatic = "static"
)

// MaxRetryAttempts bounds retry.max_attempts so backoff stays well inside
// time.Duration.
const MaxRetryAttempts = 20

const (
	StrategyRoundRobin    = "round-robin"
	StrategyRandom        = "random"
	StrategyLeastResponse = "least-response"
)

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Environment     string `mapstructure:"environment"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type ConsulConfig struct {
	Address          string `mapstructure:"address"`
	Scheme           string `mapstructure:"scheme"`
	Datacenter       string `mapstructure:"datacenter"`
	Token            string `mapstructure:"token"`
	WaitTime         string `mapstructure:"wait_time"`
	MaxWatchFailures int    `mapstructure:"max_watch_failures"`
}

type InstanceConfig struct {
	ID       string            `mapstructure:"id"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Healthy  *bool             `mapstructure:"healthy"`
	Metadata map[string]string `mapstructure:"metadata"`
}

type ServiceConfig struct {
	Name      string           `mapstructure:"name"`
	Instances []InstanceConfig `mapstructure:"instances"`
}

type StaticConfig struct {
	// HealthCheckInterval enables active health checks when set.
	HealthCheckInterval string          `mapstructure:"health_check_interval"`
	HealthPath          string          `mapstructure:"health_path"`
	Services            []ServiceConfig `mapstructure:"services"`
}

type DiscoveryConfig struct {
	Provider string       `mapstructure:"provider"`
	Consul   ConsulConfig `mapstructure:"consul"`
	Static   StaticConfig `mapstructure:"static"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout"`
}

type RetryConfig struct {
	MaxAttempts  int    `mapstructure:"max_attempts"`
	BaseDelay    string `mapstructure:"base_delay"`
	MaxJitter    string `mapstructure:"max_jitter"`
	CheckBreaker bool   `mapstructure:"check_breaker"`
}

type ProxyConfig struct {
	CallTimeout    string   `mapstructure:"call_timeout"`
	ForwardHeaders []string `mapstructure:"forward_headers"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

type RouteConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Service     string `mapstructure:"service"`
	StripPrefix bool   `mapstructure:"strip_prefix"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Discovery      DiscoveryConfig      `mapstructure:"discovery"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Proxy          ProxyConfig          `mapstructure:"proxy"`
	Strategy       StrategyConfig       `mapstructure:"strategy"`
	Routes         []RouteConfig        `mapstructure:"routes"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// Load reads config.yaml from ./config or the working directory.
func Load() (*Config, error) {
	return LoadFrom("./config", ".")
}

// LoadFrom reads config.yaml from the first of paths that has one, then
// applies environment overrides (server.address -> SERVER_ADDRESS).
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("discovery.provider", ProviderStatic)
	v.SetDefault("discovery.consul.address", "127.0.0.1:8500")
	v.SetDefault("discovery.consul.scheme", "http")
	v.SetDefault("discovery.consul.wait_time", "30s")
	v.SetDefault("discovery.consul.max_watch_failures", 5)
	v.SetDefault("discovery.static.health_path", "/health")

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "60s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_jitter", "100ms")
	v.SetDefault("retry.check_breaker", true)

	v.SetDefault("proxy.call_timeout", "5s")
	v.SetDefault("proxy.forward_headers", []string{"authorization", "content-type", "user-agent", "x-correlation-id"})

	v.SetDefault("strategy.type", StrategyRoundRobin)
	v.SetDefault("metrics.buffer_size", 1000)
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ShutdownTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Discovery,
			validation.Required,
			validation.By(validateDiscoveryConfig),
		),
		validation.Field(&c.CircuitBreaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&cb.ResetTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxAttempts,
						validation.Required,
						validation.Min(1),
						validation.Max(MaxRetryAttempts),
					),
					validation.Field(&rc.BaseDelay,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.MaxJitter,
						validation.By(validateOptionalDuration),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.CallTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.ForwardHeaders,
						validation.Each(validation.Required),
					),
				)
			}),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.In(StrategyRoundRobin, StrategyRandom, StrategyLeastResponse),
					),
				)
			}),
		),
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateRouteConfig)),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Min(1)),
				)
			}),
		),
	)
}

func validateDiscoveryConfig(value interface{}) error {
	dc, ok := value.(DiscoveryConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a DiscoveryConfig")
	}

	return validation.ValidateStruct(&dc,
		validation.Field(&dc.Provider,
			validation.Required,
			validation.In(ProviderConsul, ProviderStatic),
		),
		validation.Field(&dc.Consul,
			validation.When(dc.Provider == ProviderConsul, validation.By(validateConsulConfig)),
		),
		validation.Field(&dc.Static,
			validation.When(dc.Provider == ProviderStatic, validation.By(validateStaticConfig)),
		),
	)
}

func validateConsulConfig(value interface{}) error {
	cc, ok := value.(ConsulConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ConsulConfig")
	}

	return validation.ValidateStruct(&cc,
		validation.Field(&cc.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&cc.Scheme, validation.In("http", "https")),
		validation.Field(&cc.WaitTime, validation.By(validateOptionalDuration)),
		validation.Field(&cc.MaxWatchFailures, validation.Min(1)),
	)
}

func validateStaticConfig(value interface{}) error {
	sc, ok := value.(StaticConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a StaticConfig")
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.HealthCheckInterval, validation.By(validateOptionalDuration)),
		validation.Field(&sc.Services,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServiceConfig)),
		),
	)
}

func validateServiceConfig(value interface{}) error {
	svc, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	return validation.ValidateStruct(&svc,
		validation.Field(&svc.Name, validation.Required),
		validation.Field(&svc.Instances,
			validation.Each(validation.By(validateInstanceConfig)),
		),
	)
}

func validateInstanceConfig(value interface{}) error {
	inst, ok := value.(InstanceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an InstanceConfig")
	}

	return validation.ValidateStruct(&inst,
		validation.Field(&inst.ID, validation.Required),
		validation.Field(&inst.Host, validation.Required, is.Host),
		validation.Field(&inst.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	if !strings.HasPrefix(route.Prefix, "/") {
		return validation.NewError("validation_invalid_prefix", "route prefix must start with /")
	}

	if route.Service == "" {
		return validation.NewError("validation_empty_service", "route service cannot be empty")
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateOptionalDuration(value interface{}) error {
	if s, ok := value.(string); ok && s == "" {
		return nil
	}
	return validateDuration(value)
}

// Duration parses a validated duration string. Empty or malformed input
// yields zero.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
