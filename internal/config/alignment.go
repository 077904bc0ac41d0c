package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/units"
)

// DefaultConfigPath is the path to the canonical alignment defaults file.
const DefaultConfigPath = "config/alignment.defaults.json"

// maxConfigFileSize caps a config file at 1MB.
const maxConfigFileSize = 1 * 1024 * 1024

// AlignmentConfig holds the search and ingest settings. Every field is
// optional; the Get* methods fill in defaults, so a partial file is safe.
type AlignmentConfig struct {
	// Search
	MinShift        *int    `json:"min_shift,omitempty"`
	MaxShift        *int    `json:"max_shift,omitempty"`
	Objective       *string `json:"objective,omitempty"`
	Workers         *int    `json:"workers,omitempty"`
	MinMatches      *int    `json:"min_matches,omitempty"`
	DuplicatePolicy *string `json:"duplicate_policy,omitempty"`

	// Keys
	KeySuffixes []string `json:"key_suffixes,omitempty"`

	// Projection
	UTMZone  *int  `json:"utm_zone,omitempty"`
	UTMSouth *bool `json:"utm_south,omitempty"`

	// Discovery
	EONamePatterns []string `json:"eo_name_patterns,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyAlignmentConfig returns a config with every field unset.
func EmptyAlignmentConfig() *AlignmentConfig {
	return &AlignmentConfig{}
}

// LoadAlignmentConfig loads an AlignmentConfig from a JSON file. The file
// must have a .json extension and be under 1MB.
func LoadAlignmentConfig(path string) (*AlignmentConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAlignmentConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics on failure and is meant for tests.
func MustLoadDefaultConfig() *AlignmentConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadAlignmentConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *AlignmentConfig) Validate() error {
	if err := c.ShiftRange().Validate(); err != nil {
		return fmt.Errorf("min_shift/max_shift: %w", err)
	}
	if c.Objective != nil {
		if _, err := align.DefaultObjectiveRegistry().Lookup(*c.Objective); err != nil {
			return err
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.MinMatches != nil && *c.MinMatches < 1 {
		return fmt.Errorf("min_matches must be at least 1, got %d", *c.MinMatches)
	}
	if c.DuplicatePolicy != nil {
		if _, err := align.ParseDuplicatePolicy(*c.DuplicatePolicy); err != nil {
			return err
		}
	}
	if err := c.Projector().Validate(); err != nil {
		return err
	}
	return nil
}

// ShiftRange returns the configured search range, defaulting each end to
// align.DefaultShiftRange.
func (c *AlignmentConfig) ShiftRange() align.ShiftRange {
	r := align.DefaultShiftRange()
	if c.MinShift != nil {
		r.Min = *c.MinShift
	}
	if c.MaxShift != nil {
		r.Max = *c.MaxShift
	}
	return r
}

// GetObjective returns the objective name or align.DefaultObjective.
func (c *AlignmentConfig) GetObjective() string {
	if c.Objective == nil || *c.Objective == "" {
		return align.DefaultObjective
	}
	return *c.Objective
}

// GetWorkers returns the worker count; zero means one per CPU.
func (c *AlignmentConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetMinMatches returns min_matches or 1.
func (c *AlignmentConfig) GetMinMatches() int {
	if c.MinMatches == nil {
		return 1
	}
	return *c.MinMatches
}

// GetDuplicatePolicy returns the parsed policy, first-wins by default.
func (c *AlignmentConfig) GetDuplicatePolicy() align.DuplicatePolicy {
	if c.DuplicatePolicy == nil {
		return align.DuplicateFirstWins
	}
	p, err := align.ParseDuplicatePolicy(*c.DuplicatePolicy)
	if err != nil {
		return align.DuplicateFirstWins
	}
	return p
}

// KeyExtractor returns an extractor for key_suffixes, or the default one.
func (c *AlignmentConfig) KeyExtractor() align.KeyExtractor {
	if len(c.KeySuffixes) == 0 {
		return align.DefaultKeyExtractor()
	}
	return align.KeyExtractor{Suffixes: append([]string(nil), c.KeySuffixes...)}
}

// Projector returns the configured UTM zone, zone 10 north by default.
func (c *AlignmentConfig) Projector() units.Projector {
	p := units.DefaultProjector()
	if c.UTMZone != nil {
		p.Zone = *c.UTMZone
	}
	if c.UTMSouth != nil {
		p.South = *c.UTMSouth
	}
	return p
}

// GetEONamePatterns returns the EO discovery patterns, or nil for the
// ingest defaults.
func (c *AlignmentConfig) GetEONamePatterns() []string {
	return c.EONamePatterns
}

// Searcher builds a searcher from the config. The objective must already
// have passed Validate.
func (c *AlignmentConfig) Searcher() (*align.Searcher, error) {
	obj, err := align.DefaultObjectiveRegistry().Lookup(c.GetObjective())
	if err != nil {
		return nil, err
	}
	s := align.NewSearcher(obj)
	s.Workers = c.GetWorkers()
	s.MinMatches = c.GetMinMatches()
	return s, nil
}
