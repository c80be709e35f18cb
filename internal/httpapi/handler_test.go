package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/outreach-core/internal/audit"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/ingestion"
	"github.com/rpattn/outreach-core/internal/middleware"
	"github.com/rpattn/outreach-core/internal/pipeline"
	"github.com/rpattn/outreach-core/internal/repository/memory"
	"github.com/rpattn/outreach-core/pkg/validator"
)

type testServer struct {
	store   *memory.Store
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	ids, err := domain.NewIDScheme(domain.DefaultIdentityConfig())
	require.NoError(t, err)
	v := validator.NewRecordValidator(ids.Pattern())
	cfg := pipeline.DefaultConfig()

	h := New(Deps{
		Store:      store,
		Validation: pipeline.NewValidationService(store, v, cfg),
		Adjuster:   pipeline.NewAdjuster(store, v),
		Promotion:  pipeline.NewPromotionEngine(store, cfg),
		Audit:      audit.NewLogger(store.Audit()),
		Ingestion:  ingestion.NewService(store.Intake(), ids, v),
	})
	return &testServer{
		store:   store,
		handler: middleware.DataLoaderMiddleware(store.Intake())(h.Routes()),
	}
}

func (s *testServer) seed(t *testing.T, n int, payload domain.Payload, status domain.ValidationStatus) string {
	t.Helper()
	id := fmt.Sprintf("04.04.01.01.%05d.001", n)
	record := domain.NewIntakeRecord(domain.EntityKindCompany, id, payload, nil)
	record.ValidationStatus = status
	_, err := s.store.Intake().Create(context.Background(), record)
	require.NoError(t, err)
	return id
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestValidateEndpointReportsMissingCompanyName(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t, 1, domain.Payload{"company_name": "", "website_url": "http://x.com"}, domain.ValidationPending)

	code, body := srv.do(t, http.MethodPost, "/api/company/validate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["rows_validated"])
	assert.EqualValues(t, 0, body["rows_passed"])
	assert.EqualValues(t, 1, body["rows_failed"])

	record, err := srv.store.Intake().GetByUniqueID(context.Background(), domain.EntityKindCompany, "04.04.01.01.00001.001")
	require.NoError(t, err)
	require.Len(t, record.ValidationFailures, 1)
	assert.Equal(t, validator.ErrorTypeMissingRequired, record.ValidationFailures[0].ErrorType)
}

func TestValidateEndpointRejectsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	code, _ := srv.do(t, http.MethodPost, "/api/company/validate", map[string]any{"status": "promoted"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = srv.do(t, http.MethodPost, "/api/company/validate", map[string]any{"batch_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = srv.do(t, http.MethodPost, "/api/vendors/validate", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdjustEndpoint(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, 1, domain.Payload{"company_name": "", "website_url": "http://x.com"}, domain.ValidationFailed)

	code, body := srv.do(t, http.MethodPost, "/api/company/records/"+id+"/adjust", map[string]any{
		"field_updates": map[string]any{"company_name": "Acme Benefits"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["validation_triggered"])
	assert.Equal(t, "passed", body["new_status"])
	changes, ok := body["changes_applied"].([]any)
	require.True(t, ok)
	assert.Len(t, changes, 1)
}

func TestAdjustEndpointErrors(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, 1, domain.Payload{"company_name": "Acme"}, domain.ValidationPassed)

	code, _ := srv.do(t, http.MethodPost, "/api/company/records/"+id+"/adjust", map[string]any{
		"field_updates": map[string]any{"unique_id": "04.04.01.01.99999.001"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = srv.do(t, http.MethodPost, "/api/company/records/04.04.01.01.00404.001/adjust", map[string]any{
		"field_updates": map[string]any{"company_name": "Ghost"},
	})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = srv.do(t, http.MethodPost, "/api/company/records/"+id+"/adjust", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code, "field_updates is required")

	entries, err := srv.store.Audit().ListByUniqueID(context.Background(), domain.EntityKindCompany, id, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdjustEndpointConflictOnPromoted(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, 1, domain.Payload{"company_name": "Acme"}, domain.ValidationPassed)

	code, _ := srv.do(t, http.MethodPost, "/api/promote", map[string]any{"type": "company"})
	require.Equal(t, http.StatusOK, code)

	code, _ = srv.do(t, http.MethodPost, "/api/company/records/"+id+"/adjust", map[string]any{
		"field_updates": map[string]any{"company_name": "Acme 2"},
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestPromoteEndpointAndRecordLookup(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, 1, domain.Payload{"company_name": "Acme"}, domain.ValidationPassed)
	srv.seed(t, 2, domain.Payload{"company_name": ""}, domain.ValidationFailed)

	code, body := srv.do(t, http.MethodPost, "/api/promote", map[string]any{"type": "company", "batch_size": 10})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["rows_promoted"])
	assert.EqualValues(t, 0, body["rows_failed"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["promotion_success_rate"])

	code, body = srv.do(t, http.MethodGet, "/api/company/records/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	record := body["record"].(map[string]any)
	assert.Equal(t, "promoted", record["promotion_status"])
	master := body["master"].(map[string]any)
	assert.Equal(t, id, master["unique_id"])

	code, body = srv.do(t, http.MethodGet, "/api/company/records/"+id+"/audit?diff=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])
	entry := body["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "promote", entry["action"])
	assert.Contains(t, entry["diff"], " company_name: \"Acme\"")
}

func TestPromoteEndpointRejectsUnknownType(t *testing.T) {
	srv := newTestServer(t)

	code, _ := srv.do(t, http.MethodPost, "/api/promote", map[string]any{"type": "vendors"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = srv.do(t, http.MethodPost, "/api/promote", map[string]any{"type": "company", "batch_size": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuditQueryIncludesRecordState(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t, 1, domain.Payload{"company_name": "Acme"}, domain.ValidationPending)
	srv.seed(t, 2, domain.Payload{"company_name": ""}, domain.ValidationPending)

	code, _ := srv.do(t, http.MethodPost, "/api/company/validate", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := srv.do(t, http.MethodGet, "/api/company/audit?action=validate&status=failed&include_records=true", nil)
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "04.04.01.01.00002.001", entry["unique_id"])
	state := entry["record"].(map[string]any)
	assert.Equal(t, "failed", state["validation_status"])
	assert.Equal(t, "not_promoted", state["promotion_status"])

	code, body = srv.do(t, http.MethodGet, "/api/company/audit", nil)
	require.Equal(t, http.StatusOK, code)
	entries = body["entries"].([]any)
	require.Len(t, entries, 2)
	_, hasRecord := entries[0].(map[string]any)["record"]
	assert.False(t, hasRecord)
}

func TestAuditQueryRejectsBadFilters(t *testing.T) {
	srv := newTestServer(t)

	for _, query := range []string{"from=yesterday", "status=maybe", "action=delete", "batch_id=1", "limit=-1"} {
		code, _ := srv.do(t, http.MethodGet, "/api/company/audit?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, code, query)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t, 1, domain.Payload{"company_name": "Acme"}, domain.ValidationPassed)
	srv.seed(t, 2, domain.Payload{"company_name": "Beta"}, domain.ValidationPassed)
	srv.seed(t, 3, domain.Payload{"company_name": ""}, domain.ValidationFailed)

	code, body := srv.do(t, http.MethodGet, "/api/company/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["counts"], 2)
}

func TestImportEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "companies.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("company_name,website_url\nAcme,acme.com\nBeta,beta.io\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/company/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success bool              `json:"success"`
		Summary ingestion.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.Summary.Created)
	assert.Equal(t, []string{"04.04.01.01.00001.001", "04.04.01.01.00002.001"}, body.Summary.UniqueIDs)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	code, body := srv.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	down := New(Deps{Health: func(context.Context) error { return errors.New("connection refused") }})
	rec := httptest.NewRecorder()
	down.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.ImmutableFieldError{Field: "unique_id"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", &domain.NotFoundError{Kind: domain.EntityKindCompany, UniqueID: "x"}), http.StatusNotFound},
		{&domain.ConflictError{UniqueID: "x", Reason: "promoted"}, http.StatusConflict},
		{&domain.StoreUnavailableError{Op: "query", Err: errors.New("reset")}, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: nested", domain.ErrInvalidPayload), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
