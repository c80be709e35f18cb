package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/middleware"
	"github.com/rpattn/outreach-core/internal/recordloader"
)

const defaultHistoryLimit = 50

type recordResponse struct {
	Record domain.IntakeRecord  `json:"record"`
	Master *domain.MasterRecord `json:"master,omitempty"`
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}
	uniqueID := r.PathValue("unique_id")

	record, err := h.deps.Store.Intake().GetByUniqueID(r.Context(), kind, uniqueID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	resp := recordResponse{Record: record}
	if record.PromotionStatus == domain.Promoted {
		master, err := h.deps.Store.Master().GetByUniqueID(r.Context(), kind, uniqueID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		resp.Master = &master
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRecordAudit(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}

	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.deps.Audit.ListByUniqueID(r.Context(), kind, r.PathValue("unique_id"), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	views := make([]auditEntryView, len(entries))
	withDiff, _ := strconv.ParseBool(r.URL.Query().Get("diff"))
	for i, e := range entries {
		views[i] = auditEntryView{AuditEntry: e}
		if withDiff && (e.BeforeSnapshot != nil || e.AfterSnapshot != nil) {
			views[i].Diff = e.SnapshotDiff()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views, "count": len(views)})
}

// recordState is the current intake status attached to audit viewer entries.
type recordState struct {
	ValidationStatus domain.ValidationStatus `json:"validation_status"`
	PromotionStatus  domain.PromotionStatus  `json:"promotion_status"`
}

type auditEntryView struct {
	domain.AuditEntry
	Record *recordState `json:"record,omitempty"`
	Diff   string       `json:"diff,omitempty"`
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.deps.Audit.Query(r.Context(), kind, filter)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	views := make([]auditEntryView, len(entries))
	for i, e := range entries {
		views[i] = auditEntryView{AuditEntry: e}
	}

	if include, _ := strconv.ParseBool(r.URL.Query().Get("include_records")); include && len(entries) > 0 {
		loaders := middleware.RecordLoaderFromContext(r.Context())
		if loaders == nil {
			loaders = recordloader.New(h.deps.Store.Intake())
		}

		ids := make([]string, 0, len(entries))
		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			if _, dup := seen[e.UniqueID]; !dup {
				seen[e.UniqueID] = struct{}{}
				ids = append(ids, e.UniqueID)
			}
		}

		records, err := loaders.LoadMany(r.Context(), kind, ids)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		for i := range views {
			if rec, ok := records[views[i].UniqueID]; ok {
				views[i].Record = &recordState{
					ValidationStatus: rec.ValidationStatus,
					PromotionStatus:  rec.PromotionStatus,
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"count":   len(views),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}

	counts, err := h.deps.Store.Intake().Stats(r.Context(), kind)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var total int64
	for _, c := range counts {
		total += c.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"total":  total,
		"counts": counts,
	})
}

func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	var filter domain.AuditFilter

	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("from must be an RFC3339 timestamp")
		}
		filter.From = &t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("to must be an RFC3339 timestamp")
		}
		filter.To = &t
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.AuditStatus(strings.ToLower(raw))
		if !status.Valid() {
			return filter, fmt.Errorf("unknown audit status %q", raw)
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		action := domain.AuditAction(strings.ToLower(raw))
		if !action.Valid() {
			return filter, fmt.Errorf("unknown audit action %q", raw)
		}
		filter.Action = &action
	}
	if raw := strings.TrimSpace(q.Get("batch_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("batch_id must be a uuid")
		}
		filter.BatchID = &id
	}

	var err error
	if filter.Limit, err = intParam(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter.Normalize(), nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}
