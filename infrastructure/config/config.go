// Package config loads service settings from defaults, an optional YAML
// file, WISHSKY_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emmanuelquintana/christmas/pkg/utils"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "WISHSKY"

// BreakerConfig tunes the store circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"breaker-max-requests"`
	Interval     time.Duration `mapstructure:"breaker-interval"`
	Timeout      time.Duration `mapstructure:"breaker-timeout"`
	FailureRatio float64       `mapstructure:"breaker-failure-ratio" validate:"gte=0,lte=1"`
	MinRequests  uint32        `mapstructure:"breaker-min-requests"`
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	Bind        string `mapstructure:"bind" validate:"required"`
	Port        int    `mapstructure:"port" validate:"min=1,max=65535"`
	Environment string `mapstructure:"environment" validate:"oneof=development production"`
	LogLevel    string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	PublicURL   string `mapstructure:"public-url" validate:"omitempty,url"`
	Profile     bool   `mapstructure:"profile"`

	AllowedOrigins []string `mapstructure:"allowed-origins"`

	// Storage
	Store         string `mapstructure:"store" validate:"oneof=memory supabase dynamodb"`
	SupabaseURL   string `mapstructure:"supabase-url" validate:"required_if=Store supabase"`
	SupabaseKey   string `mapstructure:"supabase-key" validate:"required_if=Store supabase"`
	Table         string `mapstructure:"table" validate:"required"`
	DynamoDBTable string `mapstructure:"dynamodb-table" validate:"required_if=Store dynamodb"`
	AWSRegion     string `mapstructure:"aws-region"`
	EventBus      string `mapstructure:"event-bus"`

	// Scene
	MaxWishes      int           `mapstructure:"max-wishes" validate:"min=1"`
	FlightDuration time.Duration `mapstructure:"flight-duration" validate:"gt=0"`
	FadeDuration   time.Duration `mapstructure:"fade-duration" validate:"gte=0"`
	FrameRate      int           `mapstructure:"frame-rate" validate:"min=1,max=240"`

	// Observability
	OTLPEndpoint string `mapstructure:"otlp-endpoint"`

	// Remote API used by the CLI
	Server string `mapstructure:"server" validate:"omitempty,url"`

	Breaker BreakerConfig `mapstructure:",squash"`
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// Level parses LogLevel.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Validate checks the configuration against its struct rules.
func (c *Config) Validate() error {
	return utils.ValidateStruct(c)
}

// RegisterFlags declares every setting on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringP("bind", "b", "0.0.0.0", "address to bind to (env: WISHSKY_BIND)")
	fs.IntP("port", "p", 8080, "port to listen on (env: WISHSKY_PORT)")
	fs.String("environment", "development", "development or production (env: WISHSKY_ENVIRONMENT)")
	fs.String("log-level", "info", "debug, info, warn or error (env: WISHSKY_LOG_LEVEL)")
	fs.String("public-url", "", "public base URL used for share links (env: WISHSKY_PUBLIC_URL)")
	fs.Bool("profile", false, "register net/http/pprof handlers (env: WISHSKY_PROFILE)")
	fs.StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins (env: WISHSKY_ALLOWED_ORIGINS)")

	fs.String("store", "memory", "memory, supabase or dynamodb (env: WISHSKY_STORE)")
	fs.String("supabase-url", "", "Supabase project URL (env: WISHSKY_SUPABASE_URL)")
	fs.String("supabase-key", "", "Supabase API key (env: WISHSKY_SUPABASE_KEY)")
	fs.String("table", "wishes", "Supabase table name (env: WISHSKY_TABLE)")
	fs.String("dynamodb-table", "", "DynamoDB table name (env: WISHSKY_DYNAMODB_TABLE)")
	fs.String("aws-region", "us-east-1", "AWS region (env: WISHSKY_AWS_REGION)")
	fs.String("event-bus", "", "EventBridge bus for wish.created events, empty disables (env: WISHSKY_EVENT_BUS)")

	fs.Int("max-wishes", 200, "wishes kept per scene (env: WISHSKY_MAX_WISHES)")
	fs.Duration("flight-duration", 1150*time.Millisecond, "flight animation length (env: WISHSKY_FLIGHT_DURATION)")
	fs.Duration("fade-duration", 120*time.Millisecond, "fade in/out length (env: WISHSKY_FADE_DURATION)")
	fs.Int("frame-rate", 60, "animation frames per second (env: WISHSKY_FRAME_RATE)")

	fs.String("otlp-endpoint", "", "OTLP gRPC collector, empty disables tracing (env: WISHSKY_OTLP_ENDPOINT)")
	fs.String("server", "http://localhost:8080", "API base URL for client commands (env: WISHSKY_SERVER)")

	fs.Uint32("breaker-max-requests", 5, "requests allowed while half-open (env: WISHSKY_BREAKER_MAX_REQUESTS)")
	fs.Duration("breaker-interval", 30*time.Second, "closed-state counter reset period (env: WISHSKY_BREAKER_INTERVAL)")
	fs.Duration("breaker-timeout", 60*time.Second, "open-state duration (env: WISHSKY_BREAKER_TIMEOUT)")
	fs.Float64("breaker-failure-ratio", 0.8, "failure ratio that trips the breaker (env: WISHSKY_BREAKER_FAILURE_RATIO)")
	fs.Uint32("breaker-min-requests", 5, "requests before the ratio is evaluated (env: WISHSKY_BREAKER_MIN_REQUESTS)")
}

// NewViper binds fs to the environment and, if configFile is set, reads it.
func NewViper(fs *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
		_ = v.BindEnv(f.Name)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the config file changes and
// hands every valid result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *zap.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Configuration reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		onChange(cfg)
	})
	v.WatchConfig()
}
