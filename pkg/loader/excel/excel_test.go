package excel

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/abie0416/BiegeAI/pkg/loader"

	"github.com/xuri/excelize/v2"
)

type memLoader map[string][]byte

func (m memLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return m[file.Path], nil
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet("Documents"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	cells := map[string]string{
		"A1": "Content",
		"A2": "Eric knows Sam, a basketball player",
		"B2": "ignored",
		"A4": "Sam has_skill basketball",
	}
	for cell, v := range cells {
		if err := f.SetCellValue("Documents", cell, v); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	if err := f.SetCellValue("Sheet1", "A1", "other"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestReadRows(t *testing.T) {
	base := memLoader{"docs.xlsx": workbook(t)}
	l := NewExcelLoader(base, "")
	file := loader.SourceFile{ID: "docs", Path: "docs.xlsx"}

	docs, err := (&loader.RowSource{File: file, Rows: l}).LoadDocuments(context.Background())
	if err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	var texts []string
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	want := []string{"Eric knows Sam, a basketball player", "Sam has_skill basketball"}
	if !reflect.DeepEqual(texts, want) {
		t.Fatalf("got %q, want %q", texts, want)
	}
	if docs[1].ID != "docs:row-4" {
		t.Fatalf("row id = %s", docs[1].ID)
	}
}

func TestGetFileText(t *testing.T) {
	base := memLoader{"docs.xlsx": workbook(t)}
	l := NewExcelLoader(base, "")

	text, err := l.GetFileText(context.Background(), loader.SourceFile{ID: "docs", Path: "docs.xlsx"})
	if err != nil {
		t.Fatalf("GetFileText: %v", err)
	}
	s := string(text)
	for _, want := range []string{"--- Documents ---", "\"Eric knows Sam, a basketball player\",ignored", "--- Sheet1 ---"} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in %q", want, s)
		}
	}
}

func TestReadRows_NotAWorkbook(t *testing.T) {
	l := NewExcelLoader(memLoader{"x.xlsx": []byte("plain text")}, "")
	if _, err := l.ReadRows(context.Background(), loader.SourceFile{Path: "x.xlsx"}); err == nil {
		t.Fatalf("expected error for invalid workbook")
	}
}
