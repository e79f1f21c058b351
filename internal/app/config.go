package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ModulePath points at the .hcl module description to evaluate.
	ModulePath string

	// Requests restricts evaluation to the named binding keys. Empty means
	// every binding in the module.
	Requests []string

	LogFormat string
	LogLevel  string
	Workers   int
}

// NewConfig validates a Config and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModulePath == "" {
		return nil, errors.New("ModulePath is a required configuration field and cannot be empty")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &cfg, nil
}
