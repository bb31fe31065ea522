package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	ArcGIS     ArcGISConfig     `yaml:"arcgis" mapstructure:"arcgis"`
	Conversion ConversionConfig `yaml:"conversion" mapstructure:"conversion"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	PostGIS    PostGISConfig    `yaml:"postgis" mapstructure:"postgis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ArcGISConfig holds portal connection settings. Leave username and
// password empty for an anonymous session.
type ArcGISConfig struct {
	URL         string  `yaml:"url" mapstructure:"url"`
	Username    string  `yaml:"username" mapstructure:"username"`
	Password    string  `yaml:"password" mapstructure:"password"`
	Token       string  `yaml:"token" mapstructure:"token"`
	Referer     string  `yaml:"referer" mapstructure:"referer"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BreakerThreshold is the consecutive-failure count after which requests
	// to the portal host fail fast.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// ConversionConfig controls layer resolution, fetching and output.
type ConversionConfig struct {
	MaxFeatures     int      `yaml:"max_features" mapstructure:"max_features"`
	PageSize        int      `yaml:"page_size" mapstructure:"page_size"`
	SearchQueries   []string `yaml:"search_queries" mapstructure:"search_queries"`
	ItemIDs         []string `yaml:"item_ids" mapstructure:"item_ids"`
	Sublayer        int      `yaml:"sublayer" mapstructure:"sublayer"`
	LayerURL        string   `yaml:"layer_url" mapstructure:"layer_url"`
	Shapefile       string   `yaml:"shapefile" mapstructure:"shapefile"`
	Where           string   `yaml:"where" mapstructure:"where"`
	OutFields       string   `yaml:"out_fields" mapstructure:"out_fields"`
	OutputFile      string   `yaml:"output_file" mapstructure:"output_file"`
	IncludeMetadata bool     `yaml:"include_metadata" mapstructure:"include_metadata"`
	Indent          bool     `yaml:"indent" mapstructure:"indent"`
}

// StoreConfig configures the sqlite fetch run log.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PostGISConfig configures the optional PostGIS load target.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An explicit path
// overrides the ./config.yaml lookup. A ./.env file, when present, fills
// environment variables that are not already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("TRACTKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("arcgis.url", "https://www.arcgis.com")
	v.SetDefault("arcgis.username", "")
	v.SetDefault("arcgis.password", "")
	v.SetDefault("arcgis.token", "")
	v.SetDefault("arcgis.referer", "tractkit")
	v.SetDefault("arcgis.timeout_secs", 60)
	v.SetDefault("arcgis.rate_per_sec", 5)
	v.SetDefault("arcgis.max_attempts", 1)
	v.SetDefault("arcgis.breaker_threshold", 5)
	v.SetDefault("conversion.max_features", 0)
	v.SetDefault("conversion.page_size", 1000)
	v.SetDefault("conversion.search_queries", []string{})
	v.SetDefault("conversion.item_ids", []string{})
	v.SetDefault("conversion.sublayer", -1)
	v.SetDefault("conversion.layer_url", "")
	v.SetDefault("conversion.shapefile", "")
	v.SetDefault("conversion.where", "1=1")
	v.SetDefault("conversion.out_fields", "*")
	v.SetDefault("conversion.output_file", "converted_layer.geojson")
	v.SetDefault("conversion.include_metadata", true)
	v.SetDefault("conversion.indent", false)
	v.SetDefault("store.database_url", "tractkit.db")
	v.SetDefault("postgis.database_url", "")
	v.SetDefault("postgis.schema", "public")
	v.SetDefault("postgis.table", "tract_features")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless given explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration against the fixed schema for the given
// command mode ("fetch", "analyze", "serve", "load") and reports every
// violation at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}

	switch mode {
	case "fetch":
		problems = append(problems, c.validateFetch()...)
	case "analyze":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	case "load":
		if c.PostGIS.DatabaseURL == "" {
			problems = append(problems, "postgis.database_url is required")
		}
		if c.PostGIS.Table == "" {
			problems = append(problems, "postgis.table is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateFetch() []string {
	var problems []string

	u, err := url.Parse(c.ArcGIS.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("arcgis.url %q must be an http(s) URL", c.ArcGIS.URL))
	}
	if (c.ArcGIS.Username == "") != (c.ArcGIS.Password == "") {
		problems = append(problems, "arcgis.username and arcgis.password must be set together")
	}
	if c.ArcGIS.MaxAttempts < 1 {
		problems = append(problems, "arcgis.max_attempts must be at least 1")
	}
	if c.ArcGIS.RatePerSec <= 0 {
		problems = append(problems, "arcgis.rate_per_sec must be positive")
	}
	if c.Conversion.PageSize <= 0 {
		problems = append(problems, "conversion.page_size must be positive")
	}
	if c.Conversion.MaxFeatures < 0 {
		problems = append(problems, "conversion.max_features must not be negative")
	}
	if strings.TrimSpace(c.Conversion.OutputFile) == "" {
		problems = append(problems, "conversion.output_file is required")
	}
	if c.Conversion.LayerURL != "" {
		if lu, err := url.Parse(c.Conversion.LayerURL); err != nil || lu.Host == "" {
			problems = append(problems, fmt.Sprintf("conversion.layer_url %q is not a valid URL", c.Conversion.LayerURL))
		}
	}
	return problems
}

// Anonymous reports whether the portal session should skip authentication.
func (c ArcGISConfig) Anonymous() bool {
	return c.Username == "" && c.Token == ""
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
