// Package pipeline drives intake records through validation, adjustment and
// promotion to the master tables.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/outreach-core/internal/domain"
)

// Config bounds batch work.
type Config struct {
	DefaultBatchSize int
	MaxBatchSize     int
	// RecordTimeout caps a single record's transaction. Zero disables it.
	RecordTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultBatchSize: 100,
		MaxBatchSize:     1000,
		RecordTimeout:    30 * time.Second,
	}
}

// BatchSize applies the default to a non-positive request and clamps to the maximum.
func (c Config) BatchSize(requested int) int {
	size := requested
	if size <= 0 {
		size = c.DefaultBatchSize
	}
	if size <= 0 {
		size = DefaultConfig().DefaultBatchSize
	}
	if c.MaxBatchSize > 0 && size > c.MaxBatchSize {
		size = c.MaxBatchSize
	}
	return size
}

func (c Config) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.RecordTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.RecordTimeout)
}

// ErrBatchAborted marks a batch that stopped because a failure could not be audited.
var ErrBatchAborted = errors.New("batch aborted")

const (
	ErrorTypeConflict         = "conflict"
	ErrorTypeNotFound         = "not_found"
	ErrorTypeStoreUnavailable = "store_unavailable"
	ErrorTypeTimeout          = "timeout"
	ErrorTypeCanceled         = "canceled"
	ErrorTypeInternal         = "internal"
)

// ErrorType names the category of a per-record error for batch details.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return ErrorTypeConflict
	case errors.Is(err, domain.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, domain.ErrStoreUnavailable):
		return ErrorTypeStoreUnavailable
	default:
		return ErrorTypeInternal
	}
}

// RecordError reports one record that could not be processed.
type RecordError struct {
	UniqueID  string `json:"unique_id"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

func newRecordError(uniqueID string, err error) RecordError {
	return RecordError{UniqueID: uniqueID, Error: err.Error(), ErrorType: ErrorType(err)}
}

func failureSummary(failures []domain.ValidationFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.ErrorType)
	}
	return strings.Join(parts, "; ")
}

func requireKind(kind domain.EntityKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	return nil
}
