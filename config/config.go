package config

import (
	"fmt"
	"net/url"
	"time"
)

// Variants of the portal scrape.
const (
	VariantMulti  = "multi"
	VariantSingle = "single"
)

// Config holds connector configuration.
type Config struct {
	BaseURL     string
	Login       string
	Password    string
	FolderPath  string
	Variant     string // multi or single
	Identifiers []string
	Timeout     time.Duration
	UserAgent   string

	OutputFormat       string // csv, json, dual, xlsx or sqlite
	OutputName         string
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	SinkWorkers        int

	MetricsAddr string
	// SentryDSN is the error-reporting endpoint. Empty disables reporting.
	SentryDSN string
	Verbose   bool
}

// DefaultConfig returns defaults for the Planète OUI customer portal.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.planete-oui.fr",
		FolderPath:         "output/planete-oui",
		Variant:            VariantMulti,
		Identifiers:        []string{"planete oui"},
		Timeout:            30 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		OutputFormat:       "csv",
		OutputName:         "bills",
		PipelineBufferSize: 128,
		BatchSize:          64,
		DedupeMaxSize:      10000,
		SinkWorkers:        1,
		MetricsAddr:        "",
		SentryDSN:          "",
		Verbose:            false,
	}
}

// MultiAccount reports whether the run lists sub-accounts.
func (c *Config) MultiAccount() bool {
	return c.Variant == VariantMulti
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Login == "" {
		return fmt.Errorf("login cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.FolderPath == "" {
		return fmt.Errorf("folder path cannot be empty")
	}
	if c.Variant != VariantMulti && c.Variant != VariantSingle {
		return fmt.Errorf("variant must be multi or single")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "xlsx", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, xlsx, or sqlite")
	}
	if c.OutputName == "" {
		return fmt.Errorf("output name cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.SinkWorkers <= 0 {
		return fmt.Errorf("sink workers must be positive")
	}
	for _, id := range c.Identifiers {
		if id == "" {
			return fmt.Errorf("identifiers cannot contain empty strings")
		}
	}

	return nil
}
