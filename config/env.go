package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
)

// Fields are the account fields supplied by the host platform.
type Fields struct {
	Login       string   `env:"CONNECTOR_LOGIN"`
	Password    string   `env:"CONNECTOR_PASSWORD"`
	FolderPath  string   `env:"CONNECTOR_FOLDER_PATH"`
	Identifiers []string `env:"CONNECTOR_IDENTIFIERS" envSeparator:","`
}

// LoadFields reads the host-supplied fields from the environment.
func LoadFields() (Fields, error) {
	var f Fields
	if err := env.Parse(&f); err != nil {
		return Fields{}, fmt.Errorf("parse fields: %w", err)
	}
	return f, nil
}

// ApplyFields overrides cfg with every non-empty field.
func (c *Config) ApplyFields(f Fields) {
	if f.Login != "" {
		c.Login = f.Login
	}
	if f.Password != "" {
		c.Password = f.Password
	}
	if f.FolderPath != "" {
		c.FolderPath = f.FolderPath
	}
	if len(f.Identifiers) > 0 {
		ids := make([]string, 0, len(f.Identifiers))
		for _, id := range f.Identifiers {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		c.Identifiers = ids
	}
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}
