package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"spotcheck/internal/analysis"
	"spotcheck/internal/config"
	"spotcheck/internal/normalize"
)

type wireRequest struct {
	Source  string                       `json:"source"`
	Config  *analysis.Overrides          `json:"config"`
	Columns *config.ColumnMap            `json:"columns"`
	Rows    []map[string]json.RawMessage `json:"rows"`
}

// DecodeRequest parses a JSON analysis request. Row values may be strings,
// numbers or booleans; numbers keep their literal text so "1234.5" and
// 1234.5 normalize the same way.
func DecodeRequest(data []byte) (analysis.Request, error) {
	var wire wireRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return analysis.Request{}, fmt.Errorf("decode request: %w", err)
	}
	if wire.Rows == nil {
		return analysis.Request{}, errors.New("decode request: rows missing")
	}
	req := analysis.Request{
		Source:  wire.Source,
		Config:  wire.Config,
		Columns: wire.Columns,
		Rows:    make([]normalize.Row, len(wire.Rows)),
	}
	for i, raw := range wire.Rows {
		row := make(normalize.Row, len(raw))
		for k, v := range raw {
			s, err := scalarText(v)
			if err != nil {
				return analysis.Request{}, fmt.Errorf("decode request: row %d column %q: %w", i+1, k, err)
			}
			row[k] = s
		}
		req.Rows[i] = row
	}
	return req, nil
}

func scalarText(raw json.RawMessage) (string, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", errors.New("nested values are not supported")
	}
	return strings.TrimSpace(string(v)), nil
}
