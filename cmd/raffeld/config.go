package main

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the flag surface of runServe so a deployment can check
// a YAML manifest into source control instead of repeating a long flag
// list on every invocation. Values loaded from a file act as defaults:
// any flag or RAFFEL_ environment variable the caller also sets still wins.
type fileConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	BasePath        string `mapstructure:"base_path"`
	MaxBodySize     int64  `mapstructure:"max_body_size"`
	TCPPort         int    `mapstructure:"tcp_port"`
	UDPPort         int    `mapstructure:"udp_port"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
}

// loadFileConfig reads a YAML manifest and decodes it into a fileConfig,
// the same read-then-decode split the arena tooling uses for its own
// manifests: yaml.Unmarshal into a generic map first, then a typed decode
// pass so unknown keys surface as a loud error instead of being dropped.
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var cfg fileConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return &cfg, nil
}

// applyFileConfig seeds viper defaults from cfg. Defaults sit below flags
// and environment variables in viper's precedence order, so an explicit
// --port or RAFFEL_PORT still overrides whatever the file says.
func applyFileConfig(cfg *fileConfig, setDefault func(key string, value any)) {
	if cfg.Host != "" {
		setDefault("host", cfg.Host)
	}
	if cfg.Port != 0 {
		setDefault("port", cfg.Port)
	}
	if cfg.BasePath != "" {
		setDefault("base-path", cfg.BasePath)
	}
	if cfg.MaxBodySize != 0 {
		setDefault("max-body-size", cfg.MaxBodySize)
	}
	if cfg.TCPPort != 0 {
		setDefault("tcp-port", cfg.TCPPort)
	}
	if cfg.UDPPort != 0 {
		setDefault("udp-port", cfg.UDPPort)
	}
	if cfg.TracingEndpoint != "" {
		setDefault("tracing-endpoint", cfg.TracingEndpoint)
	}
}
