package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	MinWindowMinutes = 5
	MaxWindowMinutes = 120

	// MaxThresholdMinutes caps summary thresholds at one leap year.
	MaxThresholdMinutes = 366 * 24 * 60
)

// DefaultThresholds are the risk bands reported in window summaries.
var DefaultThresholds = []int{5, 15, 30, 60}

var ErrInvalidConfiguration = errors.New("invalid configuration")

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

type AnalysisConfig struct {
	TimeWindowMinutes int       `json:"time_window_minutes" yaml:"time_window_minutes"`
	CreativeMatchMode MatchMode `json:"creative_match_mode" yaml:"creative_match_mode"`
	CreativeMatchText string    `json:"creative_match_text,omitempty" yaml:"creative_match_text"`
	SameDayOnly       bool      `json:"same_day_only,omitempty" yaml:"same_day_only"`
	Thresholds        []int     `json:"thresholds_minutes,omitempty" yaml:"thresholds_minutes"`
}

func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		TimeWindowMinutes: 60,
		CreativeMatchMode: MatchExact,
		Thresholds:        append([]int(nil), DefaultThresholds...),
	}
}

func (c AnalysisConfig) Validate() error {
	if c.TimeWindowMinutes < MinWindowMinutes || c.TimeWindowMinutes > MaxWindowMinutes {
		return &ConfigError{
			Field:  "time_window_minutes",
			Reason: fmt.Sprintf("must be between %d and %d, got %d", MinWindowMinutes, MaxWindowMinutes, c.TimeWindowMinutes),
		}
	}
	switch c.CreativeMatchMode {
	case MatchExact:
	case MatchContains:
		if strings.TrimSpace(c.CreativeMatchText) == "" {
			return &ConfigError{Field: "creative_match_text", Reason: "required when creative_match_mode is contains"}
		}
	default:
		return &ConfigError{
			Field:  "creative_match_mode",
			Reason: fmt.Sprintf("must be exact or contains, got %q", c.CreativeMatchMode),
		}
	}
	for _, t := range c.Thresholds {
		if t <= 0 {
			return &ConfigError{Field: "thresholds_minutes", Reason: fmt.Sprintf("contains non-positive threshold %d", t)}
		}
		if t > MaxThresholdMinutes {
			return &ConfigError{Field: "thresholds_minutes", Reason: fmt.Sprintf("threshold %d exceeds %d", t, MaxThresholdMinutes)}
		}
	}
	return nil
}

// ThresholdLadder returns the sorted, deduplicated thresholds, falling back to
// DefaultThresholds when none are configured.
func (c AnalysisConfig) ThresholdLadder() []int {
	src := c.Thresholds
	if len(src) == 0 {
		src = DefaultThresholds
	}
	out := append([]int(nil), src...)
	sort.Ints(out)
	n := 0
	for i, t := range out {
		if i > 0 && t == out[n-1] {
			continue
		}
		out[n] = t
		n++
	}
	return out[:n]
}

func ParseMatchMode(s string) MatchMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact", "same", "1":
		return MatchExact
	case "contains", "substring", "similar", "2", "3":
		return MatchContains
	}
	return MatchMode(strings.ToLower(strings.TrimSpace(s)))
}
