package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration file
// (~/.config/prometheus/config.yaml). Pointer fields distinguish "not
// set" from zero values.
type Config struct {
	TokenizerPath string `yaml:"tokenizer_path"`
	ModelDir      string `yaml:"model_dir"`

	EmbedDim *int64 `yaml:"embed_dim"`
	Seed     *int64 `yaml:"seed"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "prometheus", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyCommonConfig fills tokenizer/model paths and log settings from
// the config file when the corresponding flag was not set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.TokenizerPath != "" && !c.IsSet("tokenizer") {
		tokenizerPath = cfg.TokenizerPath
	}
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		modelDir = cfg.ModelDir
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func applyEmbedConfig(c *cli.Command, cfg Config, dim *int64, seed *int64) {
	applyCommonConfig(c, cfg)
	if cfg.EmbedDim != nil && !c.IsSet("dim") {
		*dim = *cfg.EmbedDim
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}
