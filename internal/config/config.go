// Package config loads the sqlbulk CLI configuration.
//
// Sources, later ones winning:
//   - struct defaults
//   - a YAML or JSON file, or raw content from SQLBULK_CONFIG_CONTENT
//   - SQLBULK_ environment variables, "__" separating nested keys
//     (SQLBULK_DATABASE__DSN=... sets database.dsn)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cenv "github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kraw "github.com/knadh/koanf/providers/rawbytes"
	kfn "github.com/knadh/koanf/v2"

	"github.com/roach88/sqlbulk"
)

const envPrefix = "SQLBULK_"

// EnvConfig locates the configuration.
type EnvConfig struct {
	ConfigFilePath string `env:"SQLBULK_CONFIG_FILE_PATH" default:"sqlbulk.yaml" validate:"omitempty,filepath"`
	// Raw configuration content. Takes precedence over ConfigFilePath.
	ConfigContent string `env:"SQLBULK_CONFIG_CONTENT"`
	// Format of ConfigContent: yaml, yml or json. Detected when empty.
	ConfigFormat string `env:"SQLBULK_CONFIG_FORMAT" validate:"omitempty,oneof=yaml yml json"`
}

// Config is the CLI configuration.
type Config struct {
	Database Database `yaml:"database"`
	Log      Log      `yaml:"log"`

	// Repository holds sqlbulk.Options keys (batch_size, max_attempts,
	// retry_delay, include_chunk), decoded by Options.
	Repository map[string]any `yaml:"repository"`
}

// Database selects the store.
type Database struct {
	Driver string `yaml:"driver" default:"sqlite3" validate:"required,oneof=sqlite3 sqlite pgx"`
	DSN    string `yaml:"dsn"`
}

// Log configures the CLI logger.
type Log struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Color bool   `yaml:"color" default:"true"`
}

// Options decodes the repository section over the library defaults.
func (c *Config) Options() (*sqlbulk.Options, error) {
	opts, err := sqlbulk.ParseOptions(c.Repository)
	if err != nil {
		return nil, fmt.Errorf("repository options: %w", err)
	}
	return opts, nil
}

// SlogLevel maps the configured level name.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// LoadEnvConfig reads the bootstrap settings from the environment.
func LoadEnvConfig() (*EnvConfig, error) {
	envCfg := &EnvConfig{}
	if err := defaults.Set(envCfg); err != nil {
		return nil, err
	}
	if err := cenv.Parse(envCfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(envCfg); err != nil {
		return nil, fmt.Errorf("failed to load environment configuration: %w", err)
	}
	return envCfg, nil
}

// Load reads the configuration. An explicit path must exist; otherwise the
// environment decides, and a missing default file leaves only defaults and
// environment overrides in effect.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path, true)
	}

	envCfg, err := LoadEnvConfig()
	if err != nil {
		return nil, err
	}
	if envCfg.ConfigContent != "" {
		slog.Debug("loading configuration from content", "format", envCfg.ConfigFormat)
		return loadContent(envCfg.ConfigContent, envCfg.ConfigFormat)
	}
	return loadFile(envCfg.ConfigFilePath, false)
}

func loadFile(path string, required bool) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	k := kfn.New(".")
	_, statErr := os.Stat(absPath)
	switch {
	case statErr == nil:
		parser, err := parserFor(strings.TrimPrefix(strings.ToLower(filepath.Ext(absPath)), "."))
		if err != nil {
			return nil, err
		}
		slog.Debug("loading configuration file", "path", absPath)
		if err := k.Load(kfile.Provider(absPath), parser); err != nil {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	case errors.Is(statErr, fs.ErrNotExist) && !required:
		slog.Debug("no configuration file, using defaults", "path", absPath)
	default:
		return nil, fmt.Errorf("error opening config file: %w", statErr)
	}
	return finish(k)
}

func loadContent(content, format string) (*Config, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = "yaml"
		if strings.HasPrefix(strings.TrimSpace(content), "{") {
			f = "json"
		}
	}
	parser, err := parserFor(f)
	if err != nil {
		return nil, err
	}

	k := kfn.New(".")
	if err := k.Load(kraw.Provider([]byte(content)), parser); err != nil {
		return nil, fmt.Errorf("error loading config content: %w", err)
	}
	return finish(k)
}

func parserFor(format string) (kfn.Parser, error) {
	switch format {
	case "yaml", "yml":
		return kyaml.Parser(), nil
	case "json":
		return kjson.Parser(), nil
	default:
		return nil, &UnsupportedExtensionError{Extension: format}
	}
}

func finish(k *kfn.Koanf) (*Config, error) {
	loadEnv(k)

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	if err := k.UnmarshalWithConf("", cfg, kfn.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnv(k *kfn.Koanf) {
	// SQLBULK_REPOSITORY__BATCH_SIZE=1000 -> repository.batch_size
	_ = k.Load(kenv.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
}

// UnsupportedExtensionError reports a configuration format that has no parser.
type UnsupportedExtensionError struct {
	Extension string
}

func (e *UnsupportedExtensionError) Error() string {
	return "unsupported config file extension: " + e.Extension
}
