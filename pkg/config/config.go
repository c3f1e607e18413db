// Package config loads showcase settings from defaults, an optional
// showcase.yaml file and SHOWCASE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/viper"

	"github.com/taigrr/showcase/pkg/archive"
	"github.com/taigrr/showcase/pkg/ingest"
	"github.com/taigrr/showcase/pkg/models"
	"github.com/taigrr/showcase/pkg/normalize"
)

// Config is the resolved configuration.
type Config struct {
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Normalize NormalizeConfig `mapstructure:"normalize" yaml:"normalize"`
	Material  MaterialConfig  `mapstructure:"material" yaml:"material"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	View      ViewConfig      `mapstructure:"view" yaml:"view"`
}

type IngestConfig struct {
	MaxFileSize      int64 `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxExtractedSize int64 `mapstructure:"max_extracted_size" yaml:"max_extracted_size"`
}

type NormalizeConfig struct {
	TargetSize float64 `mapstructure:"target_size" yaml:"target_size"`
}

// MaterialConfig is the default material given to meshes that arrive
// without one.
type MaterialConfig struct {
	Color     string  `mapstructure:"color" yaml:"color"`
	Metalness float64 `mapstructure:"metalness" yaml:"metalness"`
	Roughness float64 `mapstructure:"roughness" yaml:"roughness"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type ViewConfig struct {
	FPS        int    `mapstructure:"fps" yaml:"fps"`
	Background string `mapstructure:"background" yaml:"background"`
}

const (
	envPrefix  = "SHOWCASE"
	configName = "showcase"
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ingest.max_file_size", ingest.DefaultMaxFileSize)
	v.SetDefault("ingest.max_extracted_size", archive.DefaultMaxExtractedSize)
	v.SetDefault("normalize.target_size", normalize.DefaultTarget)
	v.SetDefault("material.color", models.DefaultColor)
	v.SetDefault("material.metalness", models.DefaultMetalness)
	v.SetDefault("material.roughness", models.DefaultRoughness)
	v.SetDefault("log.level", "info")
	v.SetDefault("view.fps", 60)
	v.SetDefault("view.background", "#1e1e28")
}

// Load reads configuration into v. An explicit path must exist; without
// one the working directory and $HOME/.config/showcase are searched and a
// missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "showcase"))
		}
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the values that cannot be corrected silently.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_file_size must be positive, got %d", c.Ingest.MaxFileSize))
	}
	if c.Ingest.MaxExtractedSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_extracted_size must be positive, got %d", c.Ingest.MaxExtractedSize))
	}
	if _, err := colorful.Hex(c.Material.Color); err != nil {
		errs = append(errs, fmt.Errorf("material.color %q is not a hex color", c.Material.Color))
	}
	if _, err := colorful.Hex(c.View.Background); err != nil {
		errs = append(errs, fmt.Errorf("view.background %q is not a hex color", c.View.Background))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.View.FPS <= 0 {
		errs = append(errs, fmt.Errorf("view.fps must be positive, got %d", c.View.FPS))
	}
	return errors.Join(errs...)
}

// DefaultMaterial builds the fallback material described by the config.
func (c *Config) DefaultMaterial() models.Material {
	m := models.DefaultMaterial()
	if rgba, err := models.ParseColor(c.Material.Color); err == nil {
		m.BaseColor = rgba
	}
	m.Metallic = c.Material.Metalness
	m.Roughness = c.Material.Roughness
	return m
}

// SessionConfig converts the settings into a session configuration.
func (c *Config) SessionConfig(logger *log.Logger) ingest.Config {
	ic := ingest.DefaultConfig()
	ic.MaxFileSize = c.Ingest.MaxFileSize
	ic.MaxExtractedSize = c.Ingest.MaxExtractedSize
	ic.TargetSize = c.Normalize.TargetSize
	ic.Default = c.DefaultMaterial()
	ic.Logger = logger
	return ic
}

// Background returns the viewer clear color.
func (c *Config) Background() color.RGBA {
	bg, err := colorful.Hex(c.View.Background)
	if err != nil {
		return color.RGBA{30, 30, 40, 255}
	}
	r, g, b := bg.RGB255()
	return color.RGBA{r, g, b, 255}
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
