package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	domainConfig "github.com/secmon-lab/badgewise/pkg/domain/model/config"
	"github.com/urfave/cli/v3"
)

// Engine holds the CLI flag locating the engine configuration file
type Engine struct {
	path string
}

// Flags returns CLI flags for engine configuration
func (e *Engine) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the engine configuration TOML file (built-in defaults when omitted)",
			Sources:     cli.EnvVars("BADGEWISE_CONFIG"),
			Destination: &e.path,
		},
	}
}

// Configure loads the engine configuration. Without a path the built-in defaults are used.
func (e *Engine) Configure() (*EngineConfig, error) {
	if e.path == "" {
		return &EngineConfig{}, nil
	}
	return LoadEngineConfig(e.path)
}

// EngineConfig is the TOML representation of the recommendation pipeline tuning.
// Every omitted value keeps its built-in default.
type EngineConfig struct {
	Weights     *WeightsConfig     `toml:"weights"`
	IssuerTrust map[string]float64 `toml:"issuer_trust"`
	Ranking     *RankingConfig     `toml:"ranking"`
	Retrieval   *RetrievalConfig   `toml:"retrieval"`
	Prompt      *PromptConfig      `toml:"prompt"`
	Generation  *GenerationConfig  `toml:"generation"`
	Cache       *CacheConfig       `toml:"cache"`
	Embedding   *EmbeddingConfig   `toml:"embedding"`
}

// WeightsConfig holds the composite score weights
type WeightsConfig struct {
	Similarity  *float64 `toml:"similarity"`
	Recency     *float64 `toml:"recency"`
	Popularity  *float64 `toml:"popularity"`
	IssuerTrust *float64 `toml:"issuer_trust"`
}

// Validate checks if the WeightsConfig is valid
func (w *WeightsConfig) Validate() error {
	for name, v := range map[string]*float64{
		"similarity":   w.Similarity,
		"recency":      w.Recency,
		"popularity":   w.Popularity,
		"issuer_trust": w.IssuerTrust,
	} {
		if v != nil && *v < 0 {
			return goerr.Wrap(ErrInvalidWeight, "weight must not be negative",
				goerr.V(FieldKey, name), goerr.V("value", *v))
		}
	}
	return nil
}

// RankingConfig holds re-ranking parameters other than weights
type RankingConfig struct {
	RecencyHalfLife    string   `toml:"recency_half_life"`
	DefaultIssuerTrust *float64 `toml:"default_issuer_trust"`
}

// Validate checks if the RankingConfig is valid
func (r *RankingConfig) Validate() error {
	if _, err := parseDuration(r.RecencyHalfLife, "ranking", "recency_half_life"); err != nil {
		return err
	}
	if v := r.DefaultIssuerTrust; v != nil && (*v < 0 || *v > 1) {
		return goerr.Wrap(ErrInvalidConfig, "default_issuer_trust must be between 0 and 1",
			goerr.V(SectionKey, "ranking"), goerr.V("value", *v))
	}
	return nil
}

// RetrievalConfig holds candidate retrieval parameters
type RetrievalConfig struct {
	DefaultK   int    `toml:"default_k"`
	MaxK       int    `toml:"max_k"`
	PoolFactor int    `toml:"pool_factor"`
	Margin     *int   `toml:"margin"`
	Timeout    string `toml:"timeout"`
}

// Validate checks if the RetrievalConfig is valid
func (r *RetrievalConfig) Validate() error {
	if r.DefaultK < 0 || r.MaxK < 0 || r.PoolFactor < 0 || (r.Margin != nil && *r.Margin < 0) {
		return goerr.Wrap(ErrInvalidConfig, "retrieval values must not be negative", goerr.V(SectionKey, "retrieval"))
	}
	if r.MaxK > 0 && r.DefaultK > r.MaxK {
		return goerr.Wrap(ErrInvalidConfig, "default_k must not exceed max_k",
			goerr.V(SectionKey, "retrieval"), goerr.V("default_k", r.DefaultK), goerr.V("max_k", r.MaxK))
	}
	if _, err := parseDuration(r.Timeout, "retrieval", "timeout"); err != nil {
		return err
	}
	return nil
}

// PromptConfig holds prompt assembly parameters
type PromptConfig struct {
	Budget   int    `toml:"budget"`
	Language string `toml:"language"`
}

// Validate checks if the PromptConfig is valid
func (p *PromptConfig) Validate() error {
	if p.Budget < 0 {
		return goerr.Wrap(ErrInvalidConfig, "budget must not be negative",
			goerr.V(SectionKey, "prompt"), goerr.V("budget", p.Budget))
	}
	return nil
}

// GenerationConfig holds generation client parameters
type GenerationConfig struct {
	Timeout        string `toml:"timeout"`
	MaxRetries     *int   `toml:"max_retries"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
	TripFailures   *int   `toml:"trip_failures"`
	OpenTimeout    string `toml:"open_timeout"`
}

// Validate checks if the GenerationConfig is valid
func (g *GenerationConfig) Validate() error {
	for field, value := range map[string]string{
		"timeout":         g.Timeout,
		"initial_backoff": g.InitialBackoff,
		"max_backoff":     g.MaxBackoff,
		"open_timeout":    g.OpenTimeout,
	} {
		if _, err := parseDuration(value, "generation", field); err != nil {
			return err
		}
	}
	if (g.MaxRetries != nil && *g.MaxRetries < 0) || (g.TripFailures != nil && *g.TripFailures < 0) {
		return goerr.Wrap(ErrInvalidConfig, "generation values must not be negative", goerr.V(SectionKey, "generation"))
	}
	return nil
}

// CacheConfig holds recommendation cache parameters
type CacheConfig struct {
	TTL         string `toml:"ttl"`
	StaleWindow string `toml:"stale_window"`
}

// Validate checks if the CacheConfig is valid
func (c *CacheConfig) Validate() error {
	if _, err := parseDuration(c.TTL, "cache", "ttl"); err != nil {
		return err
	}
	if _, err := parseDuration(c.StaleWindow, "cache", "stale_window"); err != nil {
		return err
	}
	return nil
}

// EmbeddingConfig holds embedding client parameters
type EmbeddingConfig struct {
	Timeout   string `toml:"timeout"`
	CacheSize *int   `toml:"cache_size"`
	Lowercase bool   `toml:"lowercase"`
	BatchSize int    `toml:"batch_size"`
}

// Validate checks if the EmbeddingConfig is valid
func (e *EmbeddingConfig) Validate() error {
	if _, err := parseDuration(e.Timeout, "embedding", "timeout"); err != nil {
		return err
	}
	if (e.CacheSize != nil && *e.CacheSize < 0) || e.BatchSize < 0 {
		return goerr.Wrap(ErrInvalidConfig, "embedding values must not be negative", goerr.V(SectionKey, "embedding"))
	}
	return nil
}

// Validate checks if the EngineConfig is valid
func (e *EngineConfig) Validate() error {
	type validator interface{ Validate() error }
	sections := map[string]validator{}
	if e.Weights != nil {
		sections["weights"] = e.Weights
	}
	if e.Ranking != nil {
		sections["ranking"] = e.Ranking
	}
	if e.Retrieval != nil {
		sections["retrieval"] = e.Retrieval
	}
	if e.Prompt != nil {
		sections["prompt"] = e.Prompt
	}
	if e.Generation != nil {
		sections["generation"] = e.Generation
	}
	if e.Cache != nil {
		sections["cache"] = e.Cache
	}
	if e.Embedding != nil {
		sections["embedding"] = e.Embedding
	}
	for name, section := range sections {
		if err := section.Validate(); err != nil {
			return goerr.Wrap(err, "invalid section", goerr.V(SectionKey, name))
		}
	}

	for issuer, trust := range e.IssuerTrust {
		if trust < 0 || trust > 1 {
			return goerr.Wrap(ErrInvalidConfig, "issuer trust must be between 0 and 1",
				goerr.V(SectionKey, "issuer_trust"), goerr.V("issuer", issuer), goerr.V("value", trust))
		}
	}
	return nil
}

// LoadEngineConfig loads the engine configuration from a TOML file
func LoadEngineConfig(path string) (*EngineConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "config file does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var config EngineConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path), goerr.V("cause", err.Error()))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &config, nil
}

// ToDomainEngine applies the configuration on top of the built-in defaults
func (e *EngineConfig) ToDomainEngine() domainConfig.Engine {
	engine := domainConfig.DefaultEngine()

	if w := e.Weights; w != nil {
		setFloat(&engine.Rank.Weights.Similarity, w.Similarity)
		setFloat(&engine.Rank.Weights.Recency, w.Recency)
		setFloat(&engine.Rank.Weights.Popularity, w.Popularity)
		setFloat(&engine.Rank.Weights.IssuerTrust, w.IssuerTrust)
	}
	if len(e.IssuerTrust) > 0 {
		engine.Rank.IssuerTrust = make(map[string]float64, len(e.IssuerTrust))
		for issuer, trust := range e.IssuerTrust {
			engine.Rank.IssuerTrust[issuer] = trust
		}
	}
	if r := e.Ranking; r != nil {
		setDuration(&engine.Rank.RecencyHalfLife, r.RecencyHalfLife)
		setFloat(&engine.Rank.DefaultIssuerTrust, r.DefaultIssuerTrust)
	}
	if r := e.Retrieval; r != nil {
		setInt(&engine.Retrieval.DefaultK, r.DefaultK)
		setInt(&engine.Retrieval.MaxK, r.MaxK)
		setInt(&engine.Retrieval.PoolFactor, r.PoolFactor)
		if r.Margin != nil {
			engine.Retrieval.Margin = *r.Margin
		}
		setDuration(&engine.Retrieval.Timeout, r.Timeout)
	}
	if p := e.Prompt; p != nil {
		setInt(&engine.Prompt.Budget, p.Budget)
	}
	if c := e.Cache; c != nil {
		setDuration(&engine.Cache.TTL, c.TTL)
		setDuration(&engine.Cache.StaleWindow, c.StaleWindow)
	}
	return engine
}

// Language returns the configured answer language, empty when unset
func (e *EngineConfig) Language() string {
	if e.Prompt == nil {
		return ""
	}
	return e.Prompt.Language
}

func parseDuration(value, section, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, goerr.Wrap(ErrInvalidDuration, "duration must be a non-negative Go duration such as 30s",
			goerr.V(SectionKey, section), goerr.V(FieldKey, field), goerr.V("value", value))
	}
	return d, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// setDuration assumes the value passed Validate
func setDuration(dst *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*dst = d
	}
}
