package sheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tclemons/salestaxd/internal/model"
)

// sniffChunkSize is how much of the file the delimiter sniffer inspects.
const sniffChunkSize = 1024

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffDelimiter guesses the field delimiter from a leading chunk by
// counting candidate characters in the first line. Comma wins ties and
// empty input.
func sniffDelimiter(chunk []byte) rune {
	line := string(chunk)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	best := ','
	bestCount := 0
	for _, cand := range delimiterCandidates {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best = cand
			bestCount = n
		}
	}
	return best
}

// IngestCSVFile streams a delimited text file into a catalog fragment.
func IngestCSVFile(path string) (*model.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet %s: %w", path, err)
	}
	defer f.Close()
	return IngestCSV(f)
}

// IngestCSV reads delimited text from r one record at a time. Column
// roles are detected from the header plus a small buffered sample; the
// full file is never held in memory. Rows with an empty device name or a
// non-positive price are counted as skipped.
func IngestCSV(r io.Reader) (*model.IngestResult, error) {
	br := bufio.NewReader(r)
	chunk, err := br.Peek(sniffChunkSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(chunk)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet header: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	// Buffer a handful of rows so the content sniffer has samples, then
	// keep streaming.
	var sample [][]string
	parseSkipped := 0
	for len(sample) < sniffSampleSize {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				parseSkipped++
				continue
			}
			return nil, fmt.Errorf("failed to read sheet row: %w", err)
		}
		sample = append(sample, row)
	}

	roles, err := DetectColumns(headers, sample)
	if err != nil {
		return nil, err
	}

	result := &model.IngestResult{
		Devices: make(model.Catalog),
		Columns: roles,
		Skipped: parseSkipped,
	}
	for _, row := range sample {
		consumeRow(row, roles, result)
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("failed to read sheet row: %w", err)
		}
		consumeRow(row, roles, result)
	}

	return result, nil
}

// consumeRow applies the shared skip rules and appends one record.
func consumeRow(row []string, roles model.ColumnRoles, result *model.IngestResult) {
	name := CleanCell(cellAt(row, roles.Device))
	if len(name) < 2 {
		result.Skipped++
		return
	}

	msrp := ParsePrice(CleanCell(cellAt(row, roles.Price)))
	if msrp <= 0 {
		result.Skipped++
		return
	}

	rec := model.PriceRecord{MSRP: msrp}
	if roles.Prepaid >= 0 {
		if prepaid := ParsePrice(CleanCell(cellAt(row, roles.Prepaid))); prepaid > 0 {
			rec.Prepaid = prepaid
		}
	}

	result.Devices[name] = rec
	result.Processed++
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// loadCSVTable reads an entire delimited file into memory for previews.
func loadCSVTable(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sheet %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	chunk, err := br.Peek(sniffChunkSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(chunk)
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	headers := all[0]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	return headers, all[1:], nil
}
