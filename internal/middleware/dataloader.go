package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/outreach-core/internal/recordloader"
	"github.com/rpattn/outreach-core/internal/repository"
)

type ctxKey string

const recordLoaderKey ctxKey = "recordLoader"

// DataLoaderMiddleware attaches per-request record loaders to the request context
func DataLoaderMiddleware(repo repository.IntakeRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loaders := recordloader.New(repo)
			ctx := context.WithValue(r.Context(), recordLoaderKey, loaders)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecordLoaderFromContext retrieves the record loaders from context
func RecordLoaderFromContext(ctx context.Context) *recordloader.Loaders {
	if l, ok := ctx.Value(recordLoaderKey).(*recordloader.Loaders); ok {
		return l
	}
	return nil
}
