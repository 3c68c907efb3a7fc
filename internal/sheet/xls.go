package sheet

import (
	"fmt"

	"github.com/shakinm/xlsReader/xls"

	"github.com/tclemons/salestaxd/internal/model"
)

// IngestLegacyExcelFile loads a BIFF .xls workbook. excelize only reads
// the zip-based .xlsx container, so the legacy format goes through a
// dedicated reader.
func IngestLegacyExcelFile(path string) (*model.IngestResult, error) {
	headers, data, err := loadLegacyExcelTable(path)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, &model.DetectionError{}
	}

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

// loadLegacyExcelTable reads the first worksheet of a BIFF workbook into
// headers plus data rows.
func loadLegacyExcelTable(path string) ([]string, [][]string, error) {
	wb, err := xls.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open legacy workbook %s: %w", path, err)
	}

	ws, err := wb.GetSheet(0)
	if err != nil {
		return nil, nil, fmt.Errorf("workbook %s has no worksheets: %w", path, err)
	}

	rows := make([][]string, 0, ws.GetNumberRows())
	for i := 0; i < ws.GetNumberRows(); i++ {
		row, err := ws.GetRow(i)
		if err != nil {
			continue
		}
		cells := row.GetCols()
		out := make([]string, len(cells))
		for j, cell := range cells {
			out[j] = cell.GetString()
		}
		rows = append(rows, out)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	headers, data := dropEmptyColumns(rows[0], rows[1:])
	return headers, data, nil
}
