package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/metrics"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/pkg/logger"
	"github.com/rpattn/outreach-core/pkg/validator"
)

// Service imports spreadsheet rows as pending intake records.
type Service struct {
	intake    repository.IntakeRepository
	ids       *domain.IDScheme
	validator *validator.RecordValidator
}

// NewService creates a new ingestion service.
func NewService(intake repository.IntakeRepository, ids *domain.IDScheme, v *validator.RecordValidator) *Service {
	return &Service{intake: intake, ids: ids, validator: v}
}

// Request describes the ingestion input.
type Request struct {
	Kind           domain.EntityKind
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// PreviewRequest describes a dry run of an import.
type PreviewRequest struct {
	Request
	Limit int
}

// RowError reports a row that was not imported.
type RowError struct {
	RowNumber int    `json:"row_number"`
	UniqueID  string `json:"unique_id,omitempty"`
	Error     string `json:"error"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	BatchID   uuid.UUID         `json:"batch_id"`
	Kind      domain.EntityKind `json:"kind"`
	TotalRows int               `json:"total_rows"`
	Created   int               `json:"created"`
	Rejected  int               `json:"rejected"`
	UniqueIDs []string          `json:"unique_ids"`
	Errors    []RowError        `json:"errors"`
}

// PreviewRow shows how one row would be stored and whether it would pass validation.
type PreviewRow struct {
	RowNumber int                        `json:"row_number"`
	UniqueID  string                     `json:"unique_id,omitempty"`
	Payload   domain.Payload             `json:"payload"`
	Status    domain.ValidationStatus    `json:"status"`
	Failures  []domain.ValidationFailure `json:"failures"`
	Error     string                     `json:"error,omitempty"`
}

// PreviewResult returns preview metadata back to clients. UnmappedColumns
// lists header labels that match no field of the kind.
type PreviewResult struct {
	TotalRows        int               `json:"total_rows"`
	HeaderRow        int               `json:"header_row"`
	Columns          []ColumnMapping   `json:"columns"`
	UnmappedColumns  []string          `json:"unmapped_columns"`
	Rows             []PreviewRow      `json:"rows"`
	HeaderCandidates []HeaderCandidate `json:"header_candidates"`
}

func (s *Service) readSheet(req Request) (sheet, []sheetRow, error) {
	if !req.Kind.Valid() {
		return sheet{}, nil, fmt.Errorf("unknown entity kind %q", req.Kind)
	}
	if req.Data == nil {
		return sheet{}, nil, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return sheet{}, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return sheet{}, nil, errors.New("file is empty")
	}

	rows, err := readRows(req.FileName, payload)
	if err != nil {
		return sheet{}, nil, err
	}
	parsed, err := buildSheet(req.Kind, rows, req.HeaderRowIndex)
	if err != nil {
		return sheet{}, nil, err
	}
	return parsed, rows, nil
}

// Ingest creates one pending intake record per data row. Rows with a bad or
// duplicate unique_id are rejected; a store failure stops the import and the
// partial summary is returned with the error.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		BatchID:   uuid.New(),
		Kind:      req.Kind,
		UniqueIDs: []string{},
		Errors:    []RowError{},
	}

	parsed, _, err := s.readSheet(req)
	if err != nil {
		return summary, err
	}
	summary.TotalRows = len(parsed.rows)

	ctx = logger.WithBatchID(ctx, summary.BatchID.String())
	started := time.Now()
	defer metrics.ObserveBatch("import", string(req.Kind), started)

	for _, row := range parsed.rows {
		rowNumber := row.line

		uniqueID, payload, err := s.buildRow(parsed.columns, row.cells)
		if err != nil {
			summary.reject(rowNumber, uniqueID, err)
			continue
		}
		if uniqueID == "" {
			uniqueID, err = s.allocateID(ctx, req.Kind)
			if err != nil {
				return summary, err
			}
		}

		record := domain.NewIntakeRecord(req.Kind, uniqueID, payload, &summary.BatchID)
		if _, err := s.intake.Create(ctx, record); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				summary.reject(rowNumber, uniqueID, err)
				continue
			}
			return summary, fmt.Errorf("failed to insert row %d: %w", rowNumber, err)
		}

		summary.Created++
		summary.UniqueIDs = append(summary.UniqueIDs, uniqueID)
		metrics.ObserveRecord("import", string(req.Kind), "created")
	}

	logger.Info(ctx, "import finished",
		"kind", req.Kind,
		"file", req.FileName,
		"unmapped_columns", unmappedLabels(parsed.columns),
		"rows", summary.TotalRows,
		"created", summary.Created,
		"rejected", summary.Rejected,
	)
	return summary, nil
}

func (s *Summary) reject(rowNumber int, uniqueID string, err error) {
	s.Rejected++
	s.Errors = append(s.Errors, RowError{RowNumber: rowNumber, UniqueID: uniqueID, Error: err.Error()})
	metrics.ObserveRecord("import", string(s.Kind), "rejected")
}

// Preview parses the upload and validates up to Limit rows without persisting anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	result := PreviewResult{
		Columns:          []ColumnMapping{},
		UnmappedColumns:  []string{},
		Rows:             []PreviewRow{},
		HeaderCandidates: []HeaderCandidate{},
	}

	parsed, rows, err := s.readSheet(req.Request)
	if err != nil {
		return result, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	result.TotalRows = len(parsed.rows)
	result.HeaderRow = parsed.headerLine
	result.Columns = append(result.Columns, parsed.columns...)
	result.UnmappedColumns = unmappedLabels(parsed.columns)
	result.HeaderCandidates = headerCandidates(req.Kind, rows, parsed.headerLine)

	for _, row := range parsed.rows {
		if len(result.Rows) >= limit {
			break
		}
		preview := PreviewRow{RowNumber: row.line, Failures: []domain.ValidationFailure{}}

		uniqueID, payload, err := s.buildRow(parsed.columns, row.cells)
		preview.UniqueID = uniqueID
		if err != nil {
			preview.Error = err.Error()
			preview.Payload = domain.Payload{}
			result.Rows = append(result.Rows, preview)
			continue
		}

		outcome := s.validator.Validate(req.Kind, payload)
		preview.Payload = payload
		preview.Status = outcome.Status
		preview.Failures = outcome.Failures
		result.Rows = append(result.Rows, preview)
	}

	logger.Debug(ctx, "import preview", "kind", req.Kind, "file", req.FileName, "rows", result.TotalRows)
	return result, nil
}

// buildRow maps a row onto a payload keyed by column field. Blank cells are
// left out so they read as missing. Cell text is kept as-is apart from trimming.
func (s *Service) buildRow(columns []ColumnMapping, cells []string) (string, domain.Payload, error) {
	raw := make(map[string]any, len(columns))
	var uniqueID string

	for idx, column := range columns {
		if idx >= len(cells) {
			continue
		}
		value := strings.TrimSpace(cells[idx])
		if value == "" {
			continue
		}
		if column.Field == uniqueIDColumn {
			uniqueID = value
			continue
		}
		raw[column.Field] = value
	}

	if uniqueID != "" && !s.ids.Valid(uniqueID) {
		return uniqueID, nil, fmt.Errorf("unique_id %q does not match the configured id format", uniqueID)
	}

	payload, err := domain.NormalizePayload(raw)
	if err != nil {
		return uniqueID, nil, err
	}
	return uniqueID, payload, nil
}

func (s *Service) allocateID(ctx context.Context, kind domain.EntityKind) (string, error) {
	seq, err := s.intake.NextSequence(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("failed to allocate unique id: %w", err)
	}
	id, err := s.ids.Generate(kind, seq)
	if err != nil {
		return "", fmt.Errorf("failed to allocate unique id: %w", err)
	}
	return id, nil
}
