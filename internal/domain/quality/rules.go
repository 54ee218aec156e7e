package quality

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rules configures thresholds, warn margins, aggregate weights and the
// freshness window for a scoring pass.
type Rules struct {
	Thresholds map[CheckType]float64 `yaml:"thresholds"`
	// WarnMargin is how far below a threshold a metric may fall and still
	// WARN instead of FAIL.
	WarnMargin float64 `yaml:"warn_margin"`
	// Weights for the aggregate batch score. Missing entries default to
	// equal weighting.
	Weights map[CheckType]float64 `yaml:"weights"`
	// FreshnessWindow is the maximum allowed lag between a record's event
	// timestamp and its ingestion timestamp for the timeliness check.
	FreshnessWindow time.Duration `yaml:"freshness_window"`
}

// DefaultRules returns the production defaults carried over from the
// TechMart quality baseline.
func DefaultRules() Rules {
	return Rules{
		Thresholds: map[CheckType]float64{
			CheckCompleteness: 0.95,
			CheckAccuracy:     0.99,
			CheckConsistency:  0.98,
			CheckTimeliness:   0.90,
		},
		WarnMargin:      0.05,
		Weights:         map[CheckType]float64{},
		FreshnessWindow: 24 * time.Hour,
	}
}

// LoadRules reads a YAML rules file, overlaying it on the defaults so a
// partial file only overrides what it names.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read quality rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse quality rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) validate() error {
	for check, threshold := range r.Thresholds {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("threshold for %s out of range: %f", check, threshold)
		}
	}
	if r.WarnMargin < 0 || r.WarnMargin > 1 {
		return fmt.Errorf("warn margin out of range: %f", r.WarnMargin)
	}
	for check, weight := range r.Weights {
		if weight < 0 {
			return fmt.Errorf("weight for %s must be non-negative: %f", check, weight)
		}
	}
	return nil
}

// threshold returns the configured threshold for a check, defaulting to 1.0
// so an unconfigured dimension is strict rather than silently permissive.
func (r Rules) threshold(t CheckType) float64 {
	if v, ok := r.Thresholds[t]; ok {
		return v
	}
	return 1.0
}

// weight returns the aggregate weight for a check, defaulting to 1.0.
func (r Rules) weight(t CheckType) float64 {
	if v, ok := r.Weights[t]; ok {
		return v
	}
	return 1.0
}
