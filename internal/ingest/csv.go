package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"spotcheck/internal/analysis"
	"spotcheck/internal/normalize"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a header row and data rows. delimiter is a single character,
// `\t`, or empty/"auto" to detect it from the header line. maxRows <= 0 means
// unlimited.
func ReadCSV(r io.Reader, delimiter string, maxRows int) ([]normalize.Row, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	comma, err := resolveDelimiter(br, delimiter)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	names := headerNames(header)

	rows := make([]normalize.Row, 0, 256)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if blank(record) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", analysis.ErrTooManyRows, maxRows)
		}
		row := make(normalize.Row, len(names))
		for i, name := range names {
			if i >= len(record) {
				break
			}
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func resolveDelimiter(br *bufio.Reader, delimiter string) (rune, error) {
	switch d := strings.TrimSpace(delimiter); d {
	case "", "auto":
		line, err := br.Peek(br.Size())
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return 0, err
		}
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		return DetectDelimiter(string(line)), nil
	case `\t`, "tab":
		return '\t', nil
	default:
		runes := []rune(d)
		if len(runes) != 1 {
			return 0, fmt.Errorf("csv delimiter must be one character, got %q", delimiter)
		}
		return runes[0], nil
	}
}

// DetectDelimiter picks whichever of ';', ',' and tab occurs most often
// outside quotes in the header line. Ties go to ';', the usual separator of
// German spreadsheet exports.
func DetectDelimiter(header string) rune {
	counts := map[rune]int{}
	quoted := false
	for _, r := range header {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == ';' || r == ',' || r == '\t':
			counts[r]++
		}
	}
	best, bestN := ';', counts[';']
	for _, r := range []rune{',', '\t'} {
		if counts[r] > bestN {
			best, bestN = r, counts[r]
		}
	}
	return best
}

// headerNames trims header cells and disambiguates repeats as "name.1", "name.2".
func headerNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "column" + strconv.Itoa(i+1)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
