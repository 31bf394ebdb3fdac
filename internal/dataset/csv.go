package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// LoadCSVFile reads a CSV file with a header row. The dataset is named after the file.
func LoadCSVFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()
	return LoadCSV(filepath.Base(path), f)
}

// LoadCSV parses CSV with a header row. Column types are inferred from the raw
// text so that string columns keep their original spelling ("007" stays "007").
func LoadCSV(name string, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, invalid(name, "malformed CSV: %v", parseErr)
		}
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, invalid(name, "no header row")
	}

	header := records[0]
	body := records[1:]

	rows := make([][]any, len(body))
	for i := range body {
		rows[i] = make([]any, len(header))
	}
	for c := range header {
		typ := detectColumn(body, c)
		for r, rec := range body {
			rows[r][c] = parseCell(rec[c], typ)
		}
	}

	return New(name, header, rows)
}

func detectColumn(records [][]string, col int) Type {
	candidates := []Type{Integer, Float, Bool, Time}
	seen := false
	for _, rec := range records {
		raw := strings.TrimSpace(rec[col])
		if raw == "" {
			continue
		}
		seen = true
		kept := candidates[:0]
		for _, t := range candidates {
			if parseCell(raw, t) != nil {
				kept = append(kept, t)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return String
		}
	}
	if !seen {
		return String
	}
	return candidates[0]
}

// parseCell converts raw text to typ, returning nil for empty or non-conforming text.
// For String it returns the raw text unchanged.
func parseCell(raw string, typ Type) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	switch typ {
	case Integer:
		if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return v
		}
	case Float:
		// NaN and Inf parse but cannot be serialized; treat them as text.
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	case Bool:
		switch strings.ToLower(trimmed) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
	case Time:
		for _, layout := range timeLayouts {
			if v, err := time.Parse(layout, trimmed); err == nil {
				return v
			}
		}
	default:
		return raw
	}
	return nil
}
