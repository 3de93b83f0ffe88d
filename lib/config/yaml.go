package config

import yaml "github.com/goccy/go-yaml"

func yamlUnmarshal(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}
