package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/ghodss/yaml"
)

// fileConfig mirrors the YAML layout of a config file.
type fileConfig struct {
	BaseURL      string   `json:"baseUrl"`
	Login        string   `json:"login"`
	Password     string   `json:"password"`
	FolderPath   string   `json:"folderPath"`
	Variant      string   `json:"variant"`
	Identifiers  []string `json:"identifiers"`
	Timeout      string   `json:"timeout"`
	OutputFormat string   `json:"outputFormat"`
	OutputName   string   `json:"outputName"`
	BatchSize    int      `json:"batchSize"`
	MetricsAddr  string   `json:"metricsAddr"`
	SentryDSN    string   `json:"sentryDsn"`
	Verbose      bool     `json:"verbose"`
}

// LoadFile merges the YAML (or JSON) file at path over cfg. Zero values in the
// file leave cfg untouched.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	overlay := Config{
		BaseURL:      fc.BaseURL,
		Login:        fc.Login,
		Password:     fc.Password,
		FolderPath:   fc.FolderPath,
		Variant:      fc.Variant,
		Identifiers:  fc.Identifiers,
		OutputFormat: fc.OutputFormat,
		OutputName:   fc.OutputName,
		BatchSize:    fc.BatchSize,
		MetricsAddr:  fc.MetricsAddr,
		SentryDSN:    fc.SentryDSN,
		Verbose:      fc.Verbose,
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("config file timeout: %w", err)
		}
		overlay.Timeout = d
	}

	if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config file: %w", err)
	}
	return nil
}
