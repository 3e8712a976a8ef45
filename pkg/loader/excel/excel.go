package excel

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/abie0416/BiegeAI/pkg/loader"
	"github.com/abie0416/BiegeAI/pkg/loader/csv"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the sheet documents are read from when none is configured.
const DefaultSheet = "Documents"

// ExcelLoader reads .xlsx workbooks fetched through a base loader.
type ExcelLoader struct {
	loader loader.FileLoader
	sheet  string
	cache  loader.Cache
}

// NewExcelLoader creates an ExcelLoader reading rows from sheet. An empty
// sheet means DefaultSheet; if the workbook has no such sheet the first one
// is used.
func NewExcelLoader(base loader.FileLoader, sheet string) *ExcelLoader {
	if sheet == "" {
		sheet = DefaultSheet
	}
	return &ExcelLoader{loader: base, sheet: sheet}
}

func (l *ExcelLoader) open(ctx context.Context, file loader.SourceFile) (*excelize.File, error) {
	content, err := l.loader.GetFileText(ctx, file)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	return f, nil
}

func (l *ExcelLoader) sheetName(f *excelize.File) (string, error) {
	sheets := f.GetSheetList()
	for _, s := range sheets {
		if strings.EqualFold(s, l.sheet) {
			return s, nil
		}
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	return sheets[0], nil
}

// ReadRows returns column A of the configured sheet, one entry per row.
func (l *ExcelLoader) ReadRows(ctx context.Context, file loader.SourceFile) ([]string, error) {
	f, err := l.open(ctx, file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet, err := l.sheetName(f)
	if err != nil {
		return nil, err
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}

	out := make([]string, len(rows))
	for i, row := range rows {
		if len(row) > 0 {
			out[i] = row[0]
		}
	}
	return out, nil
}

// GetFileText returns every sheet of the workbook as CSV text, each sheet
// introduced by a header line when there is more than one.
func (l *ExcelLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		f, err := l.open(ctx, file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		sheets := f.GetSheetList()
		var result []byte
		for _, sheet := range sheets {
			rows, err := f.GetRows(sheet)
			if err != nil || len(rows) == 0 {
				continue
			}
			var raw strings.Builder
			for _, row := range rows {
				for i, cell := range row {
					if i > 0 {
						raw.WriteByte(',')
					}
					raw.WriteString(quote(cell))
				}
				raw.WriteByte('\n')
			}
			parsed, err := csv.ParseCSV([]byte(raw.String()))
			if err != nil {
				continue
			}

			if len(result) > 0 {
				result = append(result, '\n')
			}
			if len(sheets) > 1 {
				result = append(result, []byte("--- "+sheet+" ---\n")...)
			}
			result = append(result, parsed...)
		}
		if len(result) == 0 {
			return nil, fmt.Errorf("no data found in XLSX")
		}
		return result, nil
	})
}

func quote(cell string) string {
	if strings.ContainsAny(cell, ",\n\"") {
		return `"` + strings.ReplaceAll(cell, `"`, `""`) + `"`
	}
	return cell
}
