package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the ingestion and refresh pipeline.
var (
	// ErrNoValidDevices is returned when a sheet parsed cleanly but every
	// row was skipped.
	ErrNoValidDevices = errors.New("no valid device rows found in sheet")
	// ErrUnsupportedFormat is returned for file extensions the ingestor
	// does not handle.
	ErrUnsupportedFormat = errors.New("unsupported sheet format")
	// ErrRefreshInFlight is returned when a remote refresh is already
	// running.
	ErrRefreshInFlight = errors.New("sheet refresh already in progress")
)

// DetectionError reports that no confident column mapping could be found
// for a sheet. It carries the available column names and a few sample
// values per column so the failure is diagnosable from the error alone.
type DetectionError struct {
	Columns []string
	Samples map[string][]string
}

func (e *DetectionError) Error() string {
	var b strings.Builder
	b.WriteString("could not detect device name and price columns")
	if len(e.Columns) > 0 {
		fmt.Fprintf(&b, "; available columns: %s", strings.Join(e.Columns, ", "))
	}
	for _, col := range e.Columns {
		if vals := e.Samples[col]; len(vals) > 0 {
			fmt.Fprintf(&b, "; %s samples: %s", col, strings.Join(vals, " | "))
		}
	}
	return b.String()
}
