package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spotcheck/internal/config"
	"spotcheck/internal/model"
)

// MaxRejections caps how many row failures a report lists individually.
const MaxRejections = 100

// Row is one source record keyed by column header.
type Row map[string]string

type Normalizer struct {
	columns config.ColumnMap
	loc     *time.Location
	filter  *ChannelFilter
}

func New(in config.InputConfig) *Normalizer {
	loc := time.UTC
	if in.Timezone != "" {
		if l, err := time.LoadLocation(in.Timezone); err == nil {
			loc = l
		}
	}
	return &Normalizer{
		columns: in.Columns,
		loc:     loc,
		filter:  NewChannelFilter(in.ChannelFilter),
	}
}

// Normalize converts rows into spots. Rows that cannot be placed in time are
// rejected and reported; everything else yields a spot.
func Normalize(rows []Row, in config.InputConfig) ([]model.Spot, model.NormalizationReport) {
	return New(in).Normalize(rows)
}

func (n *Normalizer) Normalize(rows []Row) ([]model.Spot, model.NormalizationReport) {
	report := model.NormalizationReport{RowsIn: len(rows)}
	spots := make([]model.Spot, 0, len(rows))
	for i, row := range rows {
		sp, err := n.NormalizeRow(row, i+1)
		if err != nil {
			report.RowsRejected++
			if len(report.Rejections) < MaxRejections {
				report.Rejections = append(report.Rejections, model.RowRejection{Row: i + 1, Reason: err.Error()})
			}
			continue
		}
		if !n.filter.Allows(sp.Channel) {
			report.RowsFiltered++
			continue
		}
		if sp.CostMissing {
			report.CostMissing++
		}
		sp.Index = len(spots)
		spots = append(spots, sp)
	}
	report.RowsParsed = len(spots)
	return spots, report
}

func (n *Normalizer) NormalizeRow(row Row, rowNum int) (model.Spot, error) {
	ts, err := n.timestamp(row)
	if err != nil {
		return model.Spot{}, err
	}
	channel := collapse(lookup(row, n.columns.Channel))
	if channel == "" {
		channel = model.UnknownChannel
	}
	cost, costOK := ParseNumber(lookup(row, n.columns.Cost))
	if !costOK || cost.IsNegative() {
		cost = decimal.Zero
		costOK = false
	}
	creative := strings.TrimSpace(lookup(row, n.columns.Creative))
	sp := model.Spot{
		Row:         rowNum,
		Channel:     channel,
		Timestamp:   ts,
		Cost:        model.NewAmount(cost),
		CostMissing: !costOK,
		Creative:    creative,
		CreativeKey: model.CreativeKey(creative),
		Program:     strings.TrimSpace(lookup(row, n.columns.Program)),
		Duration:    strings.TrimSpace(lookup(row, n.columns.Duration)),
		Daypart:     strings.TrimSpace(lookup(row, n.columns.Daypart)),
		EPGCategory: strings.TrimSpace(lookup(row, n.columns.EPGCategory)),
		Brand:       strings.TrimSpace(lookup(row, n.columns.Brand)),
		Company:     strings.TrimSpace(lookup(row, n.columns.Company)),
	}
	if xrp, ok := ParseNumber(lookup(row, n.columns.XRP)); ok && !xrp.IsNegative() {
		sp.XRP = xrp.InexactFloat64()
	}
	if reach, ok := ParseNumber(lookup(row, n.columns.Reach)); ok && !reach.IsNegative() {
		sp.Reach = reach.InexactFloat64()
	}
	return sp, nil
}

func (n *Normalizer) timestamp(row Row) (time.Time, error) {
	if raw := strings.TrimSpace(lookup(row, n.columns.Timestamp)); raw != "" {
		ts, err := ParseTimestamp(raw, n.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
		}
		return ts, nil
	}
	date := strings.TrimSpace(lookup(row, n.columns.Date))
	clock := strings.TrimSpace(lookup(row, n.columns.Time))
	if date == "" || clock == "" {
		return time.Time{}, errors.New("missing airing date or time")
	}
	ts, err := Combine(date, clock, n.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse airing time: %w", err)
	}
	return ts, nil
}

// lookup finds column in row, first by exact header, then ignoring case and
// surrounding whitespace. Among several loose matches the smallest header
// wins.
func lookup(row Row, column string) string {
	if column == "" {
		return ""
	}
	if v, ok := row[column]; ok {
		return v
	}
	want := strings.TrimSpace(column)
	var best, value string
	found := false
	for k, v := range row {
		if !strings.EqualFold(strings.TrimSpace(k), want) {
			continue
		}
		if !found || k < best {
			best, value, found = k, v, true
		}
	}
	return value
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseNumber reads amounts written either way round: "1.234,56",
// "1,234.56", "1234,5" and "€ 99" all parse. When both separators appear the
// last one is the decimal point.
func ParseNumber(raw string) (decimal.Decimal, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return decimal.Zero, false
	}
	dot, comma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
