package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/abie0416/BiegeAI/pkg/loader"
)

// CSVLoader loads CSV exports through a base loader and parses them.
type CSVLoader struct {
	loader loader.FileLoader
	cache  loader.Cache
}

// NewCSVLoader creates a new CSVLoader with the given base loader.
func NewCSVLoader(base loader.FileLoader) *CSVLoader {
	return &CSVLoader{loader: base}
}

// GetFileText retrieves the CSV file and returns it as normalised CSV text.
func (l *CSVLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return ParseCSV(content)
	})
}

// ReadRows returns the first column of every record, blank records
// included so row numbers stay stable.
func (l *CSVLoader) ReadRows(ctx context.Context, file loader.SourceFile) ([]string, error) {
	content, err := l.loader.GetFileText(ctx, file)
	if err != nil {
		return nil, err
	}
	records, err := readRecords(content)
	if err != nil {
		return nil, err
	}
	rows := make([]string, len(records))
	for i, r := range records {
		if len(r) > 0 {
			rows[i] = r[0]
		}
	}
	return rows, nil
}

func readRecords(content []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// ParseCSV parses CSV content and returns it as clean comma-separated text.
// Empty records are dropped and fields are re-quoted where needed.
func ParseCSV(content []byte) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var output strings.Builder
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		isEmpty := true
		for _, field := range record {
			if strings.TrimSpace(field) != "" {
				isEmpty = false
				break
			}
		}
		if isEmpty {
			continue
		}

		if lineNum > 0 {
			output.WriteByte('\n')
		}
		for i, field := range record {
			if i > 0 {
				output.WriteByte(',')
			}
			if strings.ContainsAny(field, ",\n\"") {
				output.WriteString(quoteField(field))
			} else {
				output.WriteString(field)
			}
		}
		lineNum++
	}

	if output.Len() == 0 {
		return nil, fmt.Errorf("CSV file is empty or contains no valid data")
	}
	return []byte(output.String() + "\n"), nil
}

func quoteField(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
