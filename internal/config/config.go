package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
)

// EnvPrefix is prepended to every environment override, e.g.
// GEOCLUSTER_CLUSTER_TARGET_COUNT.
const EnvPrefix = "GEOCLUSTER"

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Animation AnimationConfig `yaml:"animation" mapstructure:"animation"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ClusterConfig controls how viewports are clustered and labelled.
type ClusterConfig struct {
	TargetCount         int     `yaml:"target_count" mapstructure:"target_count"`
	Buffer              string  `yaml:"buffer" mapstructure:"buffer"`
	DiscriminationPower float64 `yaml:"discrimination_power" mapstructure:"discrimination_power"`
	ShowSubtitle        bool    `yaml:"show_subtitle" mapstructure:"show_subtitle"`
	SubtitleMaxTitles   int     `yaml:"subtitle_max_titles" mapstructure:"subtitle_max_titles"`
	Title               string  `yaml:"title" mapstructure:"title"`
	Locale              string  `yaml:"locale" mapstructure:"locale"`
	MinRegionSpan       float64 `yaml:"min_region_span" mapstructure:"min_region_span"`
	AppearanceAnimated  bool    `yaml:"appearance_animated" mapstructure:"appearance_animated"`
}

// IndexConfig tunes the insert-versus-rebuild policy.
type IndexConfig struct {
	RebuildThreshold int     `yaml:"rebuild_threshold" mapstructure:"rebuild_threshold"`
	MaxDepthFactor   float64 `yaml:"max_depth_factor" mapstructure:"max_depth_factor"`
}

// EngineConfig sizes the background scheduler.
type EngineConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	EventBuffer int `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// AnimationConfig is passed through to the renderer with each transition.
type AnimationConfig struct {
	DurationMs     int     `yaml:"duration_ms" mapstructure:"duration_ms"`
	SpringDamping  float64 `yaml:"spring_damping" mapstructure:"spring_damping"`
	SpringVelocity float64 `yaml:"spring_velocity" mapstructure:"spring_velocity"`
}

// SourceConfig names the input columns read by the loaders.
type SourceConfig struct {
	LatColumn   string `yaml:"lat_column" mapstructure:"lat_column"`
	LngColumn   string `yaml:"lng_column" mapstructure:"lng_column"`
	IDColumn    string `yaml:"id_column" mapstructure:"id_column"`
	TitleColumn string `yaml:"title_column" mapstructure:"title_column"`
	Sheet       string `yaml:"sheet" mapstructure:"sheet"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cluster.target_count", 20)
	v.SetDefault("cluster.buffer", "medium")
	v.SetDefault("cluster.discrimination_power", 1.0)
	v.SetDefault("cluster.show_subtitle", true)
	v.SetDefault("cluster.subtitle_max_titles", 5)
	v.SetDefault("cluster.title", "%d items")
	v.SetDefault("cluster.locale", "en")
	v.SetDefault("cluster.min_region_span", 0.0005)
	v.SetDefault("cluster.appearance_animated", true)
	v.SetDefault("index.rebuild_threshold", 1000)
	v.SetDefault("index.max_depth_factor", 3.0)
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.event_buffer", 64)
	v.SetDefault("animation.duration_ms", 250)
	v.SetDefault("animation.spring_damping", 0.8)
	v.SetDefault("animation.spring_velocity", 0.5)
	v.SetDefault("source.lat_column", "lat")
	v.SetDefault("source.lng_column", "lng")
	v.SetDefault("source.id_column", "id")
	v.SetDefault("source.title_column", "title")
	v.SetDefault("source.sheet", "")

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

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Cluster.TargetCount <= 0 {
		errs = append(errs, "cluster.target_count must be > 0")
	}
	switch strings.ToLower(c.Cluster.Buffer) {
	case "none", "small", "medium", "large":
	default:
		errs = append(errs, "cluster.buffer must be one of none, small, medium, large")
	}
	if c.Cluster.DiscriminationPower <= 0 {
		errs = append(errs, "cluster.discrimination_power must be > 0")
	}
	if c.Cluster.SubtitleMaxTitles < 0 {
		errs = append(errs, "cluster.subtitle_max_titles must be >= 0")
	}
	if c.Cluster.MinRegionSpan < 0 {
		errs = append(errs, "cluster.min_region_span must be >= 0")
	}
	if c.Cluster.Locale != "" {
		if _, err := language.Parse(c.Cluster.Locale); err != nil {
			errs = append(errs, "cluster.locale is not a valid BCP 47 tag")
		}
	}
	if c.Index.RebuildThreshold < 0 {
		errs = append(errs, "index.rebuild_threshold must be >= 0")
	}
	if c.Index.MaxDepthFactor < 0 {
		errs = append(errs, "index.max_depth_factor must be >= 0")
	}
	if c.Engine.Workers < 1 || c.Engine.Workers > 64 {
		errs = append(errs, "engine.workers must be between 1 and 64")
	}
	if c.Engine.EventBuffer < 1 {
		errs = append(errs, "engine.event_buffer must be > 0")
	}
	if c.Animation.DurationMs < 0 {
		errs = append(errs, "animation.duration_ms must be >= 0")
	}
	if c.Source.LatColumn == "" || c.Source.LngColumn == "" {
		errs = append(errs, "source.lat_column and source.lng_column are required")
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
