package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the reforge configuration file
// (~/.config/reforge/config.yaml). Flags explicitly set on the command line
// always win over config values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	NumHeads   int `yaml:"num_heads"`
	HiddenSize int `yaml:"hidden_size"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "reforge", "config.yaml")
}

func loadConfig() Config {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// applyCommonConfig fills log and hint settings from the config file when the
// corresponding flag was not set explicitly.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.NumHeads > 0 && !c.IsSet("num-heads") {
		numHeads = int64(cfg.NumHeads)
	}
	if cfg.HiddenSize > 0 && !c.IsSet("hidden-size") {
		hiddenSize = int64(cfg.HiddenSize)
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
