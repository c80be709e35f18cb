package recordloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// Loaders batches intake record lookups per entity kind for the lifetime of one request.
type Loaders struct {
	byKind map[domain.EntityKind]*dataloader.Loader
}

func New(repo repository.IntakeRepository) *Loaders {
	loaders := &Loaders{byKind: make(map[domain.EntityKind]*dataloader.Loader, len(domain.EntityKinds))}
	for _, kind := range domain.EntityKinds {
		loaders.byKind[kind] = dataloader.NewBatchedLoader(batchFn(repo, kind), dataloader.WithWait(5*time.Millisecond))
	}
	return loaders
}

func batchFn(repo repository.IntakeRepository, kind domain.EntityKind) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]string, len(keys))
		for i, k := range keys {
			ids[i] = k.String()
		}

		records, err := repo.GetByUniqueIDs(ctx, kind, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[string]domain.IntakeRecord, len(records))
		for _, r := range records {
			byID[r.UniqueID] = r
		}

		// Results must line up with keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if r, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: r}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}
}

// LoadMany returns the records found for uniqueIDs, keyed by unique_id. Unknown ids are omitted.
func (l *Loaders) LoadMany(ctx context.Context, kind domain.EntityKind, uniqueIDs []string) (map[string]domain.IntakeRecord, error) {
	loader, ok := l.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	found := make(map[string]domain.IntakeRecord, len(uniqueIDs))
	if len(uniqueIDs) == 0 {
		return found, nil
	}

	keys := make(dataloader.Keys, len(uniqueIDs))
	for i, id := range uniqueIDs {
		keys[i] = dataloader.StringKey(id)
	}

	results, errs := loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load intake records: %w", err)
		}
	}
	for _, r := range results {
		if record, ok := r.(domain.IntakeRecord); ok {
			found[record.UniqueID] = record
		}
	}
	return found, nil
}
