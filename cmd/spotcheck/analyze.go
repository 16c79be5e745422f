package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"spotcheck/internal/analysis"
	"spotcheck/internal/ingest"
	"spotcheck/internal/logging"
	"spotcheck/internal/model"
)

func analyze(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML or JSON config file")
	delimiter := fs.String("delimiter", "", "CSV delimiter, empty detects ; , or tab")
	window := fs.Int("window", 0, "Time window in minutes")
	mode := fs.String("mode", "", "Creative match mode: exact or contains")
	text := fs.String("match-text", "", "Substring for contains mode")
	sameDay := fs.Bool("same-day", false, "Only match spots on the same calendar day")
	thresholds := fs.String("thresholds", "", "Comma separated window ladder in minutes")
	timezone := fs.String("timezone", "", "IANA zone for naive timestamps")
	format := fs.String("format", "text", "Output format: text or json")
	summary := fs.Bool("summary", false, "Omit per-spot data from JSON output")
	out := fs.String("o", "", "Write output to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("analyze needs exactly one CSV file, or - for stdin")
	}
	if *format != "text" && *format != "json" {
		return fmt.Errorf("unknown format %q", *format)
	}

	mgr, err := loadManager(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	overrides := &analysis.Overrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "window":
			overrides.TimeWindowMinutes = window
		case "mode":
			overrides.CreativeMatchMode = mode
		case "match-text":
			overrides.CreativeMatchText = text
		case "same-day":
			overrides.SameDayOnly = sameDay
		case "timezone":
			overrides.Timezone = timezone
		}
	})
	if *thresholds != "" {
		ladder, err := parseLadder(*thresholds)
		if err != nil {
			return err
		}
		overrides.Thresholds = ladder
	}

	path := fs.Arg(0)
	var src io.Reader = stdin
	source := "stdin"
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
		source = filepath.Base(path)
	}
	delim := cfg.Input.CSVDelimiter
	if *delimiter != "" {
		delim = *delimiter
	}
	rows, err := ingest.ReadCSV(src, delim, cfg.Input.MaxRows)
	if err != nil {
		return err
	}

	svc := analysis.NewService(analysis.Options{
		Config: mgr,
		Logger: logging.New(stderr, "warn", "text"),
	})
	rec, err := svc.Run(context.Background(), analysis.Request{Source: source, Config: overrides, Rows: rows})
	if err != nil {
		return err
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if *format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if *summary {
			return enc.Encode(rec.Summary())
		}
		return enc.Encode(rec)
	}
	return writeReport(w, rec)
}

func parseLadder(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("thresholds: %q is not an integer", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func money(a model.Amount) string {
	return humanize.FormatFloat("#,###.##", a.InexactFloat64())
}

func writeReport(w io.Writer, rec *model.AnalysisRecord) error {
	res := rec.Result
	m := res.Metrics
	n := rec.Normalization
	fmt.Fprintf(w, "source:   %s\n", rec.Source)
	fmt.Fprintf(w, "rows:     %s read, %s parsed, %s rejected, %s filtered\n",
		humanize.Comma(int64(n.RowsIn)), humanize.Comma(int64(n.RowsParsed)),
		humanize.Comma(int64(n.RowsRejected)), humanize.Comma(int64(n.RowsFiltered)))
	fmt.Fprintf(w, "window:   %d min, creative match %s\n", res.Config.TimeWindowMinutes, res.Config.CreativeMatchMode)
	fmt.Fprintf(w, "spots:    %s total, %s double booked (%.2f%%)\n",
		humanize.Comma(int64(m.TotalSpots)), humanize.Comma(int64(m.DoubleSpots)), m.PercentSpots)
	fmt.Fprintf(w, "cost:     %s total, %s double booked (%.2f%%)\n", money(m.TotalCost), money(m.DoubleCost), m.PercentCost)
	fmt.Fprintf(w, "stations: %d\n\n", m.TotalStations)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "window\tspots\tspots %\tcost\tcost %\t")
	for _, ws := range res.WindowSummaries {
		fmt.Fprintf(tw, "%d min\t%s\t%.2f\t%s\t%.2f\t\n",
			ws.ThresholdMinutes, humanize.Comma(int64(ws.Spots)), ws.SpotsPercent, money(ws.Cost), ws.CostPercent)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	channels := make([]string, 0, len(res.FairShare))
	for ch := range res.FairShare {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "channel\tspots\tactual %\tfair %\tdiff\tspend %\t")
	for _, ch := range channels {
		e := res.FairShare[ch]
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%+.2f\t%.2f\t\n",
			ch, humanize.Comma(int64(e.Spots)), e.ActualPercent, e.FairSharePercent, e.Difference, e.SpendPercent)
	}
	return tw.Flush()
}
