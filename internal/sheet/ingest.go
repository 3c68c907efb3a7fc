package sheet

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tclemons/salestaxd/internal/model"
)

// AllowedExtensions lists the upload formats the ingestor handles.
var AllowedExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
}

// IngestFile dispatches a sheet file to the CSV or spreadsheet reader
// based on its extension.
func IngestFile(path string) (*model.IngestResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return IngestCSVFile(path)
	case ".xlsx":
		return IngestExcelFile(path)
	case ".xls":
		return IngestLegacyExcelFile(path)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ColumnPreview describes one column of an uploaded sheet for the manual
// column-selection UI.
type ColumnPreview struct {
	Name    string   `json:"name"`
	Samples []string `json:"samples"`
}

// Preview loads a sheet and returns per-column sample values plus the
// total data row count, without running detection or mutating anything.
func Preview(path string) ([]ColumnPreview, int, error) {
	headers, rows, err := loadTable(path)
	if err != nil {
		return nil, 0, err
	}

	previews := make([]ColumnPreview, len(headers))
	for i, h := range headers {
		previews[i] = ColumnPreview{
			Name:    h,
			Samples: columnSamples(rows, i, 3),
		}
	}
	return previews, len(rows), nil
}

// loadTable reads a whole sheet into headers plus data rows. Used only
// for previews, where files are small uploads.
func loadTable(path string) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSVTable(path)
	case ".xlsx":
		return loadExcelTable(path)
	case ".xls":
		return loadLegacyExcelTable(path)
	default:
		return nil, nil, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, filepath.Ext(path))
	}
}
