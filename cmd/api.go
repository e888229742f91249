package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/deal-sync/internal/crmsync"
	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/internal/monitoring"
	"github.com/sells-group/deal-sync/internal/store"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

var version = "dev"

// api holds the dependencies of the HTTP handlers.
type api struct {
	store   store.Store
	client  hubspot.Client
	syncer  *crmsync.Syncer
	monitor *monitoring.Checker
	// pipeline overrides the saved pipeline for POST /api/deals/sync.
	pipeline string

	syncing atomic.Bool
}

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &apiError{Code: code, Message: message}})
}

// writeFailure maps err to an error response. HubSpot errors keep their
// status when it is a client error; everything else is logged and reported
// with code.
func writeFailure(w http.ResponseWriter, r *http.Request, code string, err error) {
	var apiErr *hubspot.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		writeError(w, apiErr.StatusCode, "HUBSPOT_ERROR", apiErr.Message)
		return
	}
	zap.L().Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, code, err.Error())
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
	})
}

func (a *api) handlePipelines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pipelines, err := a.syncer.Pipelines(ctx)
	if err != nil {
		writeFailure(w, r, "FETCH_FAILED", err)
		return
	}
	portalID, err := a.syncer.PortalID(ctx)
	if err != nil {
		writeFailure(w, r, "FETCH_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, pipelinesView{PortalID: portalID, Pipelines: pipelines})
}

// sortAliases accepts the web client's camelCase sort keys.
var sortAliases = map[string]string{
	"closeDate": model.SortByCloseDate,
	"updatedAt": model.SortByUpdatedAt,
}

// parseDealFilter reads list query parameters. "all" means no stage or
// pipeline filter.
func parseDealFilter(r *http.Request) (model.DealFilter, string) {
	q := r.URL.Query()
	f := model.DealFilter{
		Search:    strings.TrimSpace(q.Get("search")),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	if alias, ok := sortAliases[f.SortBy]; ok {
		f.SortBy = alias
	}
	switch f.SortBy {
	case "", model.SortByName, model.SortByAmount, model.SortByCloseDate, model.SortByUpdatedAt:
	default:
		return f, "sortBy must be one of name, amount, closeDate, updatedAt"
	}
	switch f.SortOrder {
	case "", "asc", "desc":
	default:
		return f, "sortOrder must be asc or desc"
	}

	if s := q.Get("stage"); s != "" && s != "all" {
		if !model.DealStage(s).Valid() {
			return f, "unknown stage " + strconv.Quote(s)
		}
		f.Stage = model.DealStage(s)
	}
	if p := q.Get("pipeline"); p != "" && p != "all" {
		f.PipelineID = p
	}

	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return f, "page must be a number >= 1"
		}
		f.Page = n
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > model.MaxDealLimit {
			return f, "limit must be a number between 1 and 100"
		}
		f.Limit = n
	}
	return f.Normalize(), ""
}

func (a *api) handleListDeals(w http.ResponseWriter, r *http.Request) {
	f, msg := parseDealFilter(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
		return
	}
	page, err := a.store.ListDeals(r.Context(), f)
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (a *api) handleClearDeals(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.DeleteAllDeals(r.Context())
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"message": "All deals deleted", "deleted": n})
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	if !a.syncing.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "SYNC_IN_PROGRESS", "a sync is already running")
		return
	}
	defer a.syncing.Store(false)

	report, err := a.syncer.Run(r.Context(), a.store, a.pipeline)
	if err != nil {
		if errors.Is(err, crmsync.ErrPipelineNotFound) {
			writeError(w, http.StatusNotFound, "PIPELINE_NOT_FOUND", err.Error())
			return
		}
		writeFailure(w, r, "SYNC_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"message":       "Sync completed successfully",
		"run_id":        report.RunID,
		"pipeline_id":   report.PipelineID,
		"total_fetched": report.Result.Fetched,
		"created":       report.Result.Created,
		"updated":       report.Result.Updated,
		"failed":        report.Result.Failed,
	})
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.DealStats(r.Context())
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (a *api) handleDealPipelines(w http.ResponseWriter, r *http.Request) {
	refs, err := a.store.DistinctPipelines(r.Context())
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, refs)
}

func (a *api) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	c, err := a.store.GetHubSpotConfig(r.Context())
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	if c == nil {
		writeData(w, http.StatusOK, json.RawMessage("null"))
		return
	}
	writeData(w, http.StatusOK, c)
}

func (a *api) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var req model.HubSpotConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	req.PipelineID = strings.TrimSpace(req.PipelineID)
	if req.PortalID <= 0 || req.PipelineID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "portal_id and pipeline_id are required")
		return
	}
	if err := a.store.SaveHubSpotConfig(r.Context(), req); err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "Configuration saved"})
}

func (a *api) handleDealByHubSpotID(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.FindDealByHubSpotID(r.Context(), chi.URLParam(r, "hubspotID"))
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "DEAL_NOT_FOUND", "Deal not found")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deal": d})
}

// loadDeal fetches the deal named by the {id} parameter, writing the error
// response itself when it returns nil.
func (a *api) loadDeal(w http.ResponseWriter, r *http.Request) *model.Deal {
	d, err := a.store.GetDeal(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "DEAL_NOT_FOUND", "Deal not found")
		return nil
	}
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return nil
	}
	return d
}

func (a *api) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	d := a.loadDeal(w, r)
	if d == nil {
		return
	}
	c, err := a.store.GetHubSpotConfig(r.Context())
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deal": d, "hubspot_config": c})
}

func (a *api) handleDealEngagements(w http.ResponseWriter, r *http.Request) {
	d := a.loadDeal(w, r)
	if d == nil {
		return
	}
	engagements, err := a.syncer.DealEngagements(r.Context(), d.HubSpotID)
	if err != nil {
		writeFailure(w, r, "FETCH_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deal_id": d.ID, "engagements": engagements})
}

func (a *api) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultSyncRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a number between 1 and 100")
			return
		}
		limit = n
	}
	runs, err := a.store.ListSyncRuns(r.Context(), limit)
	if err != nil {
		writeFailure(w, r, "INTERNAL_ERROR", err)
		return
	}
	writeData(w, http.StatusOK, runs)
}

func (a *api) handleContact(w http.ResponseWriter, r *http.Request) {
	v, err := lookupContact(r.Context(), a.client, a.store, chi.URLParam(r, "hubspotID"))
	if hubspot.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "CONTACT_NOT_FOUND", "Contact not found in HubSpot")
		return
	}
	if err != nil {
		writeFailure(w, r, "FETCH_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (a *api) handleCompany(w http.ResponseWriter, r *http.Request) {
	v, err := lookupCompany(r.Context(), a.client, a.store, chi.URLParam(r, "hubspotID"))
	if hubspot.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "COMPANY_NOT_FOUND", "Company not found in HubSpot")
		return
	}
	if err != nil {
		writeFailure(w, r, "FETCH_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, v)
}

type createTaskRequest struct {
	Subject              string `json:"subject"`
	Body                 string `json:"body"`
	DueDate              string `json:"due_date"`
	Priority             string `json:"priority"`
	AssociatedObjectType string `json:"associated_object_type"`
	AssociatedObjectID   string `json:"associated_object_id"`
}

func (req createTaskRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Subject) == "" || utf8.RuneCountInString(req.Subject) > 500:
		return "subject must be 1 to 500 characters"
	case utf8.RuneCountInString(req.Body) > 5000:
		return "body must be at most 5000 characters"
	}
	return validateAssociation(req.AssociatedObjectType, req.AssociatedObjectID)
}

type createNoteRequest struct {
	Body                 string `json:"body"`
	AssociatedObjectType string `json:"associated_object_type"`
	AssociatedObjectID   string `json:"associated_object_id"`
}

func (req createNoteRequest) validate() string {
	if strings.TrimSpace(req.Body) == "" || utf8.RuneCountInString(req.Body) > 10000 {
		return "body must be 1 to 10000 characters"
	}
	return validateAssociation(req.AssociatedObjectType, req.AssociatedObjectID)
}

func validateAssociation(objType, objID string) string {
	switch objType {
	case "deal", "contact", "company":
	default:
		return "associated_object_type must be deal, contact or company"
	}
	if strings.TrimSpace(objID) == "" {
		return "associated_object_id is required"
	}
	return ""
}

func (a *api) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
		return
	}

	in := hubspot.TaskInput{
		Subject:              req.Subject,
		Body:                 req.Body,
		Priority:             req.Priority,
		AssociatedObjectType: req.AssociatedObjectType,
		AssociatedObjectID:   req.AssociatedObjectID,
	}
	if req.DueDate != "" {
		due, err := parseDueDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		in.DueDate = due
	}

	id, err := hubspot.CreateTask(r.Context(), a.client, in)
	if err != nil {
		writeFailure(w, r, "CREATE_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"task_id": id})
}

func (a *api) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
		return
	}

	id, err := hubspot.CreateNote(r.Context(), a.client, hubspot.NoteInput{
		Body:                 req.Body,
		AssociatedObjectType: req.AssociatedObjectType,
		AssociatedObjectID:   req.AssociatedObjectID,
	})
	if err != nil {
		writeFailure(w, r, "CREATE_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"note_id": id})
}

func (a *api) handleSyncHealth(w http.ResponseWriter, r *http.Request) {
	report, err := a.monitor.Check(r.Context())
	if err != nil {
		writeFailure(w, r, "HEALTH_CHECK_FAILED", err)
		return
	}
	writeData(w, http.StatusOK, report)
}
