package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-sync/internal/config"
	"github.com/sells-group/deal-sync/internal/crmsync"
	"github.com/sells-group/deal-sync/internal/monitoring"
	"github.com/sells-group/deal-sync/internal/store"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// fakeHubSpot serves the HubSpot endpoints the sync and the API handlers use.
type fakeHubSpot struct {
	mu      sync.Mutex
	created []hubspot.CreateRequest
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeTestJSON(w, http.StatusNotFound, map[string]string{
		"status":   "error",
		"message":  "resource not found",
		"category": "OBJECT_NOT_FOUND",
	})
}

func assocList(ids ...string) map[string]any {
	results := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		results = append(results, map[string]string{"id": id, "type": "unlabeled"})
	}
	return map[string]any{"results": results}
}

func (f *fakeHubSpot) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /crm/v3/pipelines/deals", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]any{{
				"id":           "default",
				"label":        "Sales Pipeline",
				"displayOrder": 0,
				"stages": []map[string]any{
					{"id": "s1", "label": "Appointment Scheduled", "displayOrder": 0},
					{"id": "s2", "label": "Closed Won", "displayOrder": 1},
				},
			}},
		})
	})

	mux.HandleFunc("GET /account-info/v3/details", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"portalId": 4242})
	})

	mux.HandleFunc("GET /crm/v3/objects/deals", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]any{
				{
					"id": "101",
					"properties": map[string]string{
						"dealname":         "Acme Expansion",
						"amount":           "5000",
						"dealstage":        "s2",
						"pipeline":         "default",
						"hubspot_owner_id": "o1",
						"closedate":        "2024-06-30",
					},
					"associations": map[string]any{
						"companies": assocList("c1"),
						"contacts":  assocList("p1"),
					},
				},
				{
					"id": "102",
					"properties": map[string]string{
						"dealname":  "Globex Pilot",
						"dealstage": "s1",
						"pipeline":  "default",
					},
				},
				{
					"id": "900",
					"properties": map[string]string{
						"dealname": "Other pipeline",
						"pipeline": "renewals",
					},
				},
			},
		})
	})

	mux.HandleFunc("GET /crm/v3/objects/companies/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "c1" {
			notFound(w)
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"id":           "c1",
			"properties":   map[string]string{"name": "Acme Corp", "domain": "acme.com", "city": "Denver"},
			"associations": map[string]any{"deals": assocList("999", "101")},
		})
	})

	mux.HandleFunc("GET /crm/v3/objects/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p1" {
			notFound(w)
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"id": "p1",
			"properties": map[string]string{
				"firstname": "Ada",
				"lastname":  "Lovelace",
				"email":     "ada@acme.com",
				"jobtitle":  "CTO",
			},
			"associations": map[string]any{"deals": assocList("101")},
		})
	})

	mux.HandleFunc("GET /crm/v3/owners/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"id":        r.PathValue("id"),
			"email":     "grace@example.com",
			"firstName": "Grace",
			"lastName":  "Hopper",
		})
	})

	mux.HandleFunc("POST /crm/v3/objects/{type}/search", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("type") != hubspot.ObjectMeetings {
			writeTestJSON(w, http.StatusOK, map[string]any{"total": 0, "results": []any{}})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"total": 1,
			"results": []map[string]any{{
				"id": "m1",
				"properties": map[string]string{
					"hs_timestamp":     "2024-03-15T10:00:00Z",
					"hs_meeting_title": "Kickoff",
				},
			}},
		})
	})

	mux.HandleFunc("POST /crm/v3/objects/{type}", func(w http.ResponseWriter, r *http.Request) {
		var req hubspot.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
			return
		}
		f.mu.Lock()
		f.created = append(f.created, req)
		f.mu.Unlock()

		prefix := map[string]string{hubspot.ObjectTasks: "t-", hubspot.ObjectNotes: "n-"}[r.PathValue("type")]
		writeTestJSON(w, http.StatusCreated, map[string]any{"id": prefix + "1", "properties": req.Properties})
	})

	return mux
}

// newTestAPI returns an api backed by a temp SQLite store and a fake HubSpot
// server.
func newTestAPI(t *testing.T) (*api, *fakeHubSpot) {
	t.Helper()

	fake := &fakeHubSpot{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(t.Context()))

	client := hubspot.NewClient("test-token", hubspot.WithBaseURL(srv.URL), hubspot.WithRateLimit(0))
	monCfg := config.MonitoringConfig{LookbackWindowHours: 24, FailureRateThreshold: 0.25, StaleAfterHours: 24, FailedDealsThreshold: 10}
	return &api{
		store:   st,
		client:  client,
		syncer:  crmsync.NewSyncer(client, crmsync.Options{}),
		monitor: monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(monCfg), monCfg),
	}, fake
}
