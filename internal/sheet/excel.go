package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/tclemons/salestaxd/internal/model"
)

// IngestExcelFile loads an .xlsx workbook fully into memory, drops columns
// with no data, detects column roles and applies the shared row rules.
// Only the first worksheet is read; that matches the upstream export.
func IngestExcelFile(path string) (*model.IngestResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet %s has no worksheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, &model.DetectionError{}
	}

	headers, data := dropEmptyColumns(rows[0], rows[1:])

	roles, err := DetectColumns(headers, data)
	if err != nil {
		return nil, err
	}

	result := &model.IngestResult{
		Devices: make(model.Catalog),
		Columns: roles,
	}
	for _, row := range data {
		consumeRow(row, roles, result)
	}
	return result, nil
}

// loadExcelTable reads a whole worksheet into memory for previews.
func loadExcelTable(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("spreadsheet %s has no worksheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read worksheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	headers, data := dropEmptyColumns(rows[0], rows[1:])
	return headers, data, nil
}

// dropEmptyColumns removes columns whose data cells are all empty after
// placeholder normalization, re-indexing headers and rows to match.
func dropEmptyColumns(headers []string, rows [][]string) ([]string, [][]string) {
	keep := make([]int, 0, len(headers))
	for col := range headers {
		hasData := false
		for _, row := range rows {
			if CleanCell(cellAt(row, col)) != "" {
				hasData = true
				break
			}
		}
		if hasData {
			keep = append(keep, col)
		}
	}
	if len(keep) == len(headers) {
		return headers, rows
	}

	outHeaders := make([]string, len(keep))
	for i, col := range keep {
		outHeaders[i] = headers[col]
	}
	outRows := make([][]string, len(rows))
	for r, row := range rows {
		outRow := make([]string, len(keep))
		for i, col := range keep {
			outRow[i] = cellAt(row, col)
		}
		outRows[r] = outRow
	}
	return outHeaders, outRows
}
