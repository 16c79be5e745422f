package analysis

import (
	"strings"

	"spotcheck/internal/config"
	"spotcheck/internal/model"
	"spotcheck/internal/normalize"
)

// Request is one analysis job. Unset overrides fall back to the running
// configuration.
type Request struct {
	Source  string            `json:"source"`
	Config  *Overrides        `json:"config,omitempty"`
	Columns *config.ColumnMap `json:"columns,omitempty"`
	Rows    []normalize.Row   `json:"rows"`
}

type Overrides struct {
	TimeWindowMinutes *int                        `json:"time_window_minutes,omitempty"`
	CreativeMatchMode *string                     `json:"creative_match_mode,omitempty"`
	CreativeMatchText *string                     `json:"creative_match_text,omitempty"`
	SameDayOnly       *bool                       `json:"same_day_only,omitempty"`
	Thresholds        []int                       `json:"thresholds_minutes,omitempty"`
	Timezone          *string                     `json:"timezone,omitempty"`
	ChannelFilter     *config.ChannelFilterConfig `json:"channel_filter,omitempty"`
}

func (o *Overrides) apply(cfg model.AnalysisConfig, in config.InputConfig) (model.AnalysisConfig, config.InputConfig) {
	if o == nil {
		return cfg, in
	}
	if o.TimeWindowMinutes != nil {
		cfg.TimeWindowMinutes = *o.TimeWindowMinutes
	}
	if o.CreativeMatchMode != nil {
		cfg.CreativeMatchMode = model.ParseMatchMode(*o.CreativeMatchMode)
	}
	if o.CreativeMatchText != nil {
		cfg.CreativeMatchText = *o.CreativeMatchText
	}
	if o.SameDayOnly != nil {
		cfg.SameDayOnly = *o.SameDayOnly
	}
	if len(o.Thresholds) > 0 {
		cfg.Thresholds = append([]int(nil), o.Thresholds...)
	}
	if o.Timezone != nil && strings.TrimSpace(*o.Timezone) != "" {
		in.Timezone = strings.TrimSpace(*o.Timezone)
	}
	if o.ChannelFilter != nil {
		in.ChannelFilter = *o.ChannelFilter
	}
	return cfg, in
}

// mergeColumns overlays the non-empty entries of override on base.
func mergeColumns(base config.ColumnMap, override *config.ColumnMap) config.ColumnMap {
	if override == nil {
		return base
	}
	pick := func(b, o string) string {
		if strings.TrimSpace(o) != "" {
			return o
		}
		return b
	}
	return config.ColumnMap{
		Channel:     pick(base.Channel, override.Channel),
		Timestamp:   pick(base.Timestamp, override.Timestamp),
		Date:        pick(base.Date, override.Date),
		Time:        pick(base.Time, override.Time),
		Cost:        pick(base.Cost, override.Cost),
		Creative:    pick(base.Creative, override.Creative),
		Program:     pick(base.Program, override.Program),
		Duration:    pick(base.Duration, override.Duration),
		Daypart:     pick(base.Daypart, override.Daypart),
		EPGCategory: pick(base.EPGCategory, override.EPGCategory),
		Brand:       pick(base.Brand, override.Brand),
		Company:     pick(base.Company, override.Company),
		XRP:         pick(base.XRP, override.XRP),
		Reach:       pick(base.Reach, override.Reach),
	}
}
