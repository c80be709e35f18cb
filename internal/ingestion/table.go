package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/outreach-core/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// headerScanRows bounds how far into a file the header search looks.
const headerScanRows = 10

// sheetRow is a row of cells with its 1-based line in the source file.
type sheetRow struct {
	line  int
	cells []string
}

func (r sheetRow) blank() bool {
	for _, cell := range r.cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sheet is an upload resolved against the aliases of one entity kind.
type sheet struct {
	headerLine int
	columns    []ColumnMapping
	rows       []sheetRow
}

// readRows loads every row of a CSV file or of the first XLSX worksheet.
func readRows(fileName string, payload []byte) ([]sheetRow, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return readCSV(payload)
	case ".xlsx":
		return readXLSX(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readCSV(payload []byte) ([]sheetRow, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	var rows []sheetRow
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		// The reader skips empty lines, so take the line from the reader.
		line, _ := csvReader.FieldPos(0)
		rows = append(rows, sheetRow{line: line, cells: record})
	}
	return rows, nil
}

func readXLSX(payload []byte) ([]sheetRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	rows := make([]sheetRow, len(records))
	for idx, record := range records {
		rows[idx] = sheetRow{line: idx + 1, cells: record}
	}
	return rows, nil
}

// buildSheet picks the header row, maps its columns for kind and keeps the
// non-blank rows below it. headerRowIndex is a 0-based line when set;
// otherwise the row naming the most known fields among the first
// headerScanRows non-blank rows wins, falling back to the first non-blank row.
func buildSheet(kind domain.EntityKind, rows []sheetRow, headerRowIndex *int) (sheet, error) {
	if len(rows) == 0 {
		return sheet{}, errors.New("no rows found in file")
	}

	header := -1
	if headerRowIndex != nil {
		line := *headerRowIndex + 1
		for idx, row := range rows {
			if row.line == line && !row.blank() {
				header = idx
				break
			}
		}
		if header < 0 {
			return sheet{}, fmt.Errorf("selected header row %d is empty or out of range", line)
		}
	} else {
		header = detectHeader(kind, rows)
		if header < 0 {
			return sheet{}, errors.New("header row could not be detected")
		}
	}

	columns := mapColumns(kind, rows[header].cells)
	var data []sheetRow
	for _, row := range rows[header+1:] {
		if row.blank() {
			continue
		}
		data = append(data, sheetRow{line: row.line, cells: padRow(row.cells, len(columns))})
	}

	return sheet{headerLine: rows[header].line, columns: columns, rows: data}, nil
}

func detectHeader(kind domain.EntityKind, rows []sheetRow) int {
	best, bestScore, scanned := -1, 0, 0
	for idx, row := range rows {
		if row.blank() {
			continue
		}
		if best < 0 {
			best = idx
		}
		if score := knownLabels(kind, row.cells); score > bestScore {
			best, bestScore = idx, score
		}
		scanned++
		if scanned >= headerScanRows {
			break
		}
	}
	return best
}

// HeaderCandidate is a row a client may pick as the header instead.
type HeaderCandidate struct {
	Row           int      `json:"row"`
	Values        []string `json:"values"`
	MatchedFields int      `json:"matched_fields"`
	Current       bool     `json:"current"`
}

func headerCandidates(kind domain.EntityKind, rows []sheetRow, currentLine int) []HeaderCandidate {
	candidates := make([]HeaderCandidate, 0, headerScanRows)
	for _, row := range rows {
		if row.blank() {
			continue
		}
		values := make([]string, len(row.cells))
		for i, cell := range row.cells {
			values[i] = strings.TrimSpace(cell)
		}
		candidates = append(candidates, HeaderCandidate{
			Row:           row.line,
			Values:        values,
			MatchedFields: knownLabels(kind, row.cells),
			Current:       row.line == currentLine,
		})
		if len(candidates) >= headerScanRows {
			break
		}
	}
	return candidates
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
