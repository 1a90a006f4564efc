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
	SoilGrids   SoilGridsConfig   `yaml:"soilgrids" mapstructure:"soilgrids"`
	HiHydroSoil HiHydroSoilConfig `yaml:"hihydrosoil" mapstructure:"hihydrosoil"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// SoilGridsConfig configures the SoilGrids REST API client.
type SoilGridsConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts       int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Timeout returns the per-request timeout.
func (c SoilGridsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// HiHydroSoilConfig configures the HiHydroSoil map archive.
type HiHydroSoilConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	CacheDir    string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	NoData      float64 `yaml:"nodata" mapstructure:"nodata"`

	// BreakerThreshold consecutive transient failures stop further map
	// requests to the host for BreakerResetSecs.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the per-request timeout. Map downloads are large, so this
// is much longer than the API timeout.
func (c HiHydroSoilConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// OutputConfig configures where soil data files go.
type OutputConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Protocol bool   `yaml:"protocol" mapstructure:"protocol"`
}

// PipelineConfig configures the processing policy.
type PipelineConfig struct {
	FailFast bool `yaml:"fail_fast" mapstructure:"fail_fast"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOILGRIDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("soilgrids.base_url", "https://rest.isric.org/soilgrids/v2.0")
	v.SetDefault("soilgrids.timeout_secs", 60)
	v.SetDefault("soilgrids.max_attempts", 1)
	v.SetDefault("soilgrids.requests_per_minute", 5)
	v.SetDefault("hihydrosoil.base_url", "http://opendap.biodt.eu/grasslands-pdt/soilMapsHiHydroSoil/")
	v.SetDefault("hihydrosoil.cache_dir", "")
	v.SetDefault("hihydrosoil.timeout_secs", 600)
	v.SetDefault("hihydrosoil.max_attempts", 1)
	v.SetDefault("hihydrosoil.nodata", -9999)
	v.SetDefault("hihydrosoil.breaker_threshold", 3)
	v.SetDefault("hihydrosoil.breaker_reset_secs", 60)
	v.SetDefault("output.dir", "soilDataPrepared")
	v.SetDefault("output.protocol", true)
	v.SetDefault("pipeline.fail_fast", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []string
	if c.SoilGrids.BaseURL == "" {
		errs = append(errs, "soilgrids.base_url is required")
	}
	if c.SoilGrids.TimeoutSecs <= 0 {
		errs = append(errs, "soilgrids.timeout_secs must be > 0")
	}
	if c.SoilGrids.MaxAttempts < 1 || c.SoilGrids.MaxAttempts > 10 {
		errs = append(errs, "soilgrids.max_attempts must be between 1 and 10")
	}
	if c.SoilGrids.RequestsPerMinute <= 0 {
		errs = append(errs, "soilgrids.requests_per_minute must be > 0")
	}
	if c.HiHydroSoil.BaseURL == "" {
		errs = append(errs, "hihydrosoil.base_url is required")
	}
	if c.HiHydroSoil.TimeoutSecs <= 0 {
		errs = append(errs, "hihydrosoil.timeout_secs must be > 0")
	}
	if c.HiHydroSoil.MaxAttempts < 1 || c.HiHydroSoil.MaxAttempts > 10 {
		errs = append(errs, "hihydrosoil.max_attempts must be between 1 and 10")
	}
	if c.Output.Dir == "" {
		errs = append(errs, "output.dir is required")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
