// Package dedup merges bibliographic exports from several databases and
// removes duplicate records by DOI and title similarity, queueing borderline
// pairs for human adjudication.
package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Default similarity thresholds.
const (
	DefaultTitleThreshold      = 0.85
	DefaultBorderlineThreshold = 0.70
)

// Source is one database export listed in the dedup config.
type Source struct {
	FilePath    string            `json:"filepath" validate:"required"`
	SourceLabel string            `json:"source_label" validate:"required"`
	ColumnMap   map[string]string `json:"column_map,omitempty"`
	Format      string            `json:"format,omitempty" validate:"omitempty,oneof=csv tsv tab txt ris bib bibtex xml pubmed"`
}

// Config is the JSON document that drives a merge.
type Config struct {
	SearchFiles         []Source `json:"search_files" validate:"required,min=1,dive"`
	TitleThreshold      float64  `json:"title_similarity_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	TitleThresholdAlt   float64  `json:"title_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	BorderlineThreshold float64  `json:"borderline_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	OutputDir           string   `json:"output_dir,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads a dedup config. Relative source paths resolve against the
// directory containing the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dedup config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dedup config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range cfg.SearchFiles {
		if !filepath.IsAbs(cfg.SearchFiles[i].FilePath) {
			cfg.SearchFiles[i].FilePath = filepath.Join(base, cfg.SearchFiles[i].FilePath)
		}
	}
	if cfg.OutputDir != "" && !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(base, cfg.OutputDir)
	}
	return &cfg, nil
}

// Validate checks required fields and threshold ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid dedup config: %w", err)
	}
	o := c.Options()
	if o.BorderlineThreshold > o.TitleThreshold {
		return fmt.Errorf("invalid dedup config: borderline_threshold %.2f exceeds title threshold %.2f",
			o.BorderlineThreshold, o.TitleThreshold)
	}
	return nil
}

// Options returns the thresholds with defaults filled in.
func (c *Config) Options() Options {
	title := c.TitleThreshold
	if title == 0 {
		title = c.TitleThresholdAlt
	}
	o := Options{
		TitleThreshold:      title,
		BorderlineThreshold: c.BorderlineThreshold,
	}
	return o.withDefaults()
}
