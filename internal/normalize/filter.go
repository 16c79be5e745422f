package normalize

import (
	"strings"

	"spotcheck/internal/config"
)

// ChannelFilter restricts an analysis to a set of stations. A nil filter
// allows everything.
type ChannelFilter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func NewChannelFilter(cfg config.ChannelFilterConfig) *ChannelFilter {
	f := &ChannelFilter{
		include: buildChannelSet(cfg.Include),
		exclude: buildChannelSet(cfg.Exclude),
	}
	if f.include == nil && f.exclude == nil {
		return nil
	}
	return f
}

func buildChannelSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		ch := channelKey(v)
		if ch == "" {
			continue
		}
		set[ch] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (f *ChannelFilter) Allows(channel string) bool {
	if f == nil {
		return true
	}
	key := channelKey(channel)
	if f.exclude != nil {
		if _, ok := f.exclude[key]; ok {
			return false
		}
	}
	if f.include != nil {
		_, ok := f.include[key]
		return ok
	}
	return true
}

func channelKey(channel string) string {
	return strings.ToLower(collapse(channel))
}
