package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const DefaultConfigFile = "flacdl-config.yml"

// FileConfig mirrors the tunable parts of Config for the optional YAML
// file. Empty fields leave the current value untouched.
type FileConfig struct {
	DownloadDir  string `yaml:"download_dir"`
	CatalogURL   string `yaml:"catalog_url"`
	ChallengeURL string `yaml:"challenge_url"`
	UserAgent    string `yaml:"user_agent"`
	PageSize     int    `yaml:"page_size"`
	HTTPTimeout  string `yaml:"http_timeout"`
	LogLevel     string `yaml:"log_level"`
}

// LoadFile overlays the YAML file at path onto cfg. A missing file is
// only an error when required is set.
func LoadFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return fc.apply(cfg)
}

func (fc FileConfig) apply(cfg *Config) error {
	if fc.DownloadDir != "" {
		cfg.DownloadDir = fc.DownloadDir
	}
	if fc.CatalogURL != "" {
		cfg.CatalogURL = strings.TrimRight(fc.CatalogURL, "/")
	}
	if fc.ChallengeURL != "" {
		cfg.ChallengeURL = strings.TrimRight(fc.ChallengeURL, "/")
	}
	if fc.UserAgent != "" {
		cfg.UserAgent = fc.UserAgent
	}
	if fc.PageSize < 0 {
		return fmt.Errorf("page_size must be positive, got %d", fc.PageSize)
	}
	if fc.PageSize > 0 {
		cfg.PageSize = fc.PageSize
	}
	if fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid http_timeout %q", fc.HTTPTimeout)
		}
		cfg.HTTPTimeout = d
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = ParseLevel(fc.LogLevel)
	}
	return nil
}
