package core

import (
	"recipebox/internal/storage"
	"recipebox/internal/upload"
)

type Config struct {
	DataDir string
	Files   storage.FileStore
	Policy  *upload.Policy
	Rules   map[string]string
}

type ConfigOption func(*Config)

// WithFileStore sets where images are kept. The default is a LocalFileStore
// rooted at DataDir.
func WithFileStore(files storage.FileStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Files = files
	}
}

func WithPolicy(policy upload.Policy) ConfigOption {
	return func(cfg *Config) {
		cfg.Policy = &policy
	}
}

func WithRules(rules map[string]string) ConfigOption {
	return func(cfg *Config) {
		cfg.Rules = rules
	}
}

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
