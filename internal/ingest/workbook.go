package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gridsync/gridsync/internal/store"
	"github.com/xuri/excelize/v2"
)

// Sheet is the first worksheet of a workbook, read as text.
type Sheet struct {
	Name    string
	Headers []string
	Records []map[string]string
}

// LoadWorkbookFile reads the first worksheet of an .xlsx file.
func LoadWorkbookFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return LoadWorkbook(f, filepath.Base(path))
}

// LoadWorkbook reads the first worksheet of an .xlsx stream. The first row is the header.
// Blank headers become "Column N", duplicates get a numeric suffix, short rows are padded
// and rows with no values are skipped.
func LoadWorkbook(r io.Reader, name string) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", name)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s has no header row", sheets[0])
	}

	headers := normalizeHeaders(rows[0])
	sheet := &Sheet{Name: name, Headers: headers}
	for _, raw := range rows[1:] {
		rec := make(map[string]string, len(headers))
		empty := true
		for i, h := range headers {
			var v string
			if i < len(raw) {
				v = raw[i]
			}
			if strings.TrimSpace(v) != "" {
				empty = false
			}
			rec[h] = v
		}
		if !empty {
			sheet.Records = append(sheet.Records, rec)
		}
	}
	return sheet, nil
}

func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := map[string]int{}
	for i, h := range raw {
		h = strings.TrimSpace(h)
		// Leading underscores are reserved for derived columns.
		h = strings.TrimLeft(h, "_")
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s (%d)", h, n)
		}
		headers[i] = h
	}
	return headers
}

// DetectColumns types the headers. A column is a date when it is listed in dateNames or its
// name mentions a date; the amount column is numeric. Every column is editable.
func DetectColumns(headers []string, dateNames []string) []store.Column {
	dates := make(map[string]bool, len(dateNames))
	for _, n := range dateNames {
		dates[strings.ToLower(strings.TrimSpace(n))] = true
	}

	cols := make([]store.Column, 0, len(headers))
	for _, h := range headers {
		cols = append(cols, store.Column{Name: h, Kind: store.KindText, Editable: true})
	}
	amount := store.AmountColumn(cols)
	for i := range cols {
		lower := strings.ToLower(cols[i].Name)
		switch {
		case dates[lower] || mentionsDate(lower):
			cols[i].Kind = store.KindDate
		case cols[i].Name == amount:
			cols[i].Kind = store.KindNumber
		}
	}
	return cols
}

func mentionsDate(name string) bool {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if w == "date" || w == "fecha" {
			return true
		}
	}
	return false
}

// Import stores sheet as a new dataset and records the import in the audit log.
func Import(ctx context.Context, st *store.Store, sheet *Sheet, dateNames []string, actor string) (*store.Dataset, error) {
	ds, err := st.CreateDataset(ctx, sheet.Name, DetectColumns(sheet.Headers, dateNames), sheet.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", sheet.Name, err)
	}
	if err := st.LogImport(ctx, ds, sheet.Name, actor); err != nil {
		return nil, err
	}
	return ds, nil
}

// WriteWorkbook writes a single-sheet workbook with a styled header row.
func WriteWorkbook(w io.Writer, sheetName string, headers []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheetName == "" {
		sheetName = "Sheet1"
	}
	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to style header: %w", err)
		}
	}

	for r, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("failed to write cell %s: %w", cell, err)
			}
		}
	}

	if len(headers) > 0 {
		last, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetColWidth(sheetName, "A", last, 15)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
