package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	ArcGIS  ArcGISConfig  `yaml:"arcgis" mapstructure:"arcgis"`
	Weather WeatherConfig `yaml:"weather" mapstructure:"weather"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Fetcher FetcherConfig `yaml:"fetcher" mapstructure:"fetcher"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ArcGISConfig configures the DC GIS MapServer queries.
type ArcGISConfig struct {
	ChunkSize        int `yaml:"chunk_size" mapstructure:"chunk_size"`
	DayTimeoutSecs   int `yaml:"day_timeout_secs" mapstructure:"day_timeout_secs"`
	MonthTimeoutSecs int `yaml:"month_timeout_secs" mapstructure:"month_timeout_secs"`
}

// WeatherConfig holds Visual Crossing API settings.
type WeatherConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Location  string `yaml:"location" mapstructure:"location"`
	UnitGroup string `yaml:"unit_group" mapstructure:"unit_group"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// SyncConfig configures the incremental sync engine.
type SyncConfig struct {
	ViolationsEpoch string `yaml:"violations_epoch" mapstructure:"violations_epoch"`
	WeatherEpoch    string `yaml:"weather_epoch" mapstructure:"weather_epoch"`
}

// ServerConfig configures the sync trigger webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// FetcherConfig configures the shared HTTP transport.
type FetcherConfig struct {
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ViolationsEpochDate parses the configured violations epoch start.
func (s SyncConfig) ViolationsEpochDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", s.ViolationsEpoch)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse sync.violations_epoch %q", s.ViolationsEpoch)
	}
	return t, nil
}

// WeatherEpochDate parses the configured weather epoch start.
func (s SyncConfig) WeatherEpochDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", s.WeatherEpoch)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse sync.weather_epoch %q", s.WeatherEpoch)
	}
	return t, nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DCETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so AutomaticEnv can surface them:
	// viper only consults the environment for keys it already knows about.
	v.SetDefault("store.database_url", "")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("arcgis.chunk_size", 2000)
	v.SetDefault("arcgis.day_timeout_secs", 30)
	v.SetDefault("arcgis.month_timeout_secs", 60)
	v.SetDefault("weather.location", "Washington,DC")
	v.SetDefault("weather.unit_group", "metric")
	v.SetDefault("weather.base_url", "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline")
	v.SetDefault("sync.violations_epoch", "2024-09-01")
	v.SetDefault("sync.weather_epoch", "2024-12-01")
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.user_agent", "dc-moving-violations-etl/1.0")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
