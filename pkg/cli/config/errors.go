package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound     = goerr.New("configuration file not found")
	ErrInvalidConfig      = goerr.New("invalid configuration")
	ErrInvalidDuration    = goerr.New("invalid duration")
	ErrInvalidWeight      = goerr.New("invalid re-ranking weight")
	ErrUnknownBackend     = goerr.New("unknown backend")
	ErrMissingCredentials = goerr.New("missing credentials")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	SectionKey    = "section"
	FieldKey      = "field"
	BackendKey    = "backend"
)
