package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the qcal configuration file (~/.config/qcal/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Momentum   *float64 `yaml:"momentum"`
	Passes     *int64   `yaml:"passes"`
	TraceLimit *int64   `yaml:"trace_limit"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

const envConfigPath = "QCAL_CONFIG"

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qcal", "config.yaml")
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyCalibrationConfig applies config file defaults to calibration flags
// that were not set on the command line.
func applyCalibrationConfig(c *cli.Command, cfg Config, passes *int64) {
	if cfg.Momentum != nil && !c.IsSet("momentum") {
		momentum = *cfg.Momentum
	}
	if cfg.TraceLimit != nil && !c.IsSet("trace") {
		traceLimit = *cfg.TraceLimit
	}
	if passes != nil && cfg.Passes != nil && !c.IsSet("passes") {
		*passes = *cfg.Passes
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCalibrationConfig(c, cfg, nil)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	cfg, _ := loadConfigFile(configPath())
	return cfg
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
