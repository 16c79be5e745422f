package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2.1.2006 15:04:05",
	"2.1.2006 15:04",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
}

var dateLayouts = []string{
	"2.1.2006",
	"2.1.06",
	"2006-01-02",
	"2/1/2006",
	"2006/01/02",
}

// ParseTimestamp parses a full date and time. Values without a zone are read
// in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if hasZone(layout) {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	if date, clock, ok := strings.Cut(value, " "); ok {
		if t, err := Combine(date, clock, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

// Combine joins a separate airing date and clock time. Clock hours 24 to 29
// belong to the broadcast day of date and land on the next calendar day.
func Combine(date, clock string, loc *time.Location) (time.Time, error) {
	y, m, d, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, mi, s, err := ParseClock(clock)
	if err != nil {
		// Some exports put a full timestamp in the time column.
		ts, tsErr := ParseTimestamp(clock, loc)
		if tsErr != nil {
			return time.Time{}, err
		}
		h, mi, s = ts.In(loc).Clock()
	}
	return time.Date(y, m, d, h, mi, s, 0, loc), nil
}

func ParseDate(value string, loc *time.Location) (int, time.Month, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, 0, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			y, m, d := t.Date()
			return y, m, d, nil
		}
	}
	// Spreadsheet exports often carry a midnight time on the date column.
	if head, _, ok := strings.Cut(value, " "); ok {
		return ParseDate(head, loc)
	}
	if head, _, ok := strings.Cut(value, "T"); ok && len(head) == len("2006-01-02") {
		return ParseDate(head, loc)
	}
	return 0, 0, 0, fmt.Errorf("unsupported date format: %q", value)
}

// ParseClock reads HH:MM or HH:MM:SS, allowing hours up to 29.
func ParseClock(value string) (int, int, int, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("unsupported time format: %q", value)
	}
	nums := [3]int{}
	limits := [3]int{29, 59, 59}
	for i, p := range parts {
		if i == 2 {
			p, _, _ = strings.Cut(p, ".")
		}
		if p == "" || len(p) > 2 || !isNumeric(p) {
			return 0, 0, 0, fmt.Errorf("unsupported time format: %q", value)
		}
		n, _ := strconv.Atoi(p)
		if n > limits[i] {
			return 0, 0, 0, fmt.Errorf("time out of range: %q", value)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

func hasZone(layout string) bool {
	return strings.Contains(layout, "Z07") || strings.Contains(layout, "Z0700")
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
