package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/internal/monitoring"
)

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		var raw []byte
		if s, ok := body.(string); ok {
			raw = []byte(s)
		} else {
			var err error
			raw, err = json.Marshal(body)
			require.NoError(t, err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func decodeData[T any](t *testing.T, env testEnvelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func syncedRouter(t *testing.T) (http.Handler, *api, *fakeHubSpot) {
	t.Helper()
	a, fake := newTestAPI(t)
	h := buildRouter(a, nil)

	rr, env := doRequest(t, h, http.MethodPost, "/api/deals/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.True(t, env.Success)
	return h, a, fake
}

func TestHealthEndpoint(t *testing.T) {
	a, _ := newTestAPI(t)
	rr, env := doRequest(t, buildRouter(a, nil), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.True(t, env.Success)
	data := decodeData[map[string]string](t, env)
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestPipelinesEndpoint(t *testing.T) {
	a, _ := newTestAPI(t)
	rr, env := doRequest(t, buildRouter(a, nil), http.MethodGet, "/api/pipelines", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	view := decodeData[pipelinesView](t, env)
	assert.Equal(t, int64(4242), view.PortalID)
	require.Len(t, view.Pipelines, 1)
	require.Len(t, view.Pipelines[0].Stages, 2)
	assert.Equal(t, model.StageDiscovery, view.Pipelines[0].Stages[0].CanonicalStage)
	assert.Equal(t, model.StageClosedWon, view.Pipelines[0].Stages[1].CanonicalStage)
}

func TestSyncEndpoint_CreatesThenUpdates(t *testing.T) {
	a, _ := newTestAPI(t)
	h := buildRouter(a, nil)

	rr, env := doRequest(t, h, http.MethodPost, "/api/deals/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decodeData[map[string]any](t, env)
	assert.Equal(t, "default", first["pipeline_id"])
	assert.EqualValues(t, 2, first["total_fetched"])
	assert.EqualValues(t, 2, first["created"])
	assert.EqualValues(t, 0, first["updated"])
	assert.NotEmpty(t, first["run_id"])

	rr, env = doRequest(t, h, http.MethodPost, "/api/deals/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	second := decodeData[map[string]any](t, env)
	assert.EqualValues(t, 0, second["created"])
	assert.EqualValues(t, 2, second["updated"])

	_, env = doRequest(t, h, http.MethodGet, "/api/sync/runs", nil)
	runs := decodeData[[]model.SyncRun](t, env)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, model.SyncStatusComplete, r.Status)
	}

	_, env = doRequest(t, h, http.MethodGet, "/api/deals/config", nil)
	saved := decodeData[model.HubSpotConfig](t, env)
	assert.Equal(t, model.HubSpotConfig{PortalID: 4242, PipelineID: "default", PipelineName: "Sales Pipeline"}, saved)
}

func TestSyncEndpoint_PipelineNotFound(t *testing.T) {
	a, _ := newTestAPI(t)
	a.pipeline = "missing"

	rr, env := doRequest(t, buildRouter(a, nil), http.MethodPost, "/api/deals/sync", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PIPELINE_NOT_FOUND", env.Error.Code)
}

func TestSyncEndpoint_InProgress(t *testing.T) {
	a, _ := newTestAPI(t)
	a.syncing.Store(true)

	rr, env := doRequest(t, buildRouter(a, nil), http.MethodPost, "/api/deals/sync", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SYNC_IN_PROGRESS", env.Error.Code)
}

func TestSyncHealthEndpoint(t *testing.T) {
	h, _, _ := syncedRouter(t)

	rr, env := doRequest(t, h, http.MethodGet, "/api/sync/health", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decodeData[monitoring.Report](t, env)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Alerts)
	require.NotNil(t, report.Snapshot)
	assert.Equal(t, 1, report.Snapshot.RunsComplete)
	assert.Equal(t, 2, report.Snapshot.DealsFetched)
	assert.NotNil(t, report.Snapshot.LastSuccessAt)
}

func TestSyncHealthEndpoint_NeverCompleted(t *testing.T) {
	a, _ := newTestAPI(t)
	a.pipeline = "missing"
	h := buildRouter(a, nil)

	rr, _ := doRequest(t, h, http.MethodPost, "/api/deals/sync", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, env := doRequest(t, h, http.MethodGet, "/api/sync/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	report := decodeData[monitoring.Report](t, env)
	assert.False(t, report.Healthy)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, monitoring.AlertSyncStale, report.Alerts[0].Type)
	assert.Equal(t, 1, report.Snapshot.RunsFailed)
	assert.NotEmpty(t, report.Snapshot.LastError)
}

func TestListDealsEndpoint(t *testing.T) {
	h, _, _ := syncedRouter(t)

	rr, env := doRequest(t, h, http.MethodGet, "/api/deals", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decodeData[model.DealPage](t, env)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, model.DefaultDealLimit, page.Limit)

	_, env = doRequest(t, h, http.MethodGet, "/api/deals?stage=closed_won&pipeline=all", nil)
	page = decodeData[model.DealPage](t, env)
	require.Len(t, page.Deals, 1)
	d := page.Deals[0]
	assert.Equal(t, "101", d.HubSpotID)
	assert.Equal(t, "Acme Expansion", d.Name)
	require.NotNil(t, d.CompanyName)
	assert.Equal(t, "Acme Corp", *d.CompanyName)
	require.NotNil(t, d.OwnerName)
	assert.Equal(t, "Grace Hopper", *d.OwnerName)
	require.Len(t, d.Contacts, 1)
	assert.Equal(t, "Ada Lovelace", d.Contacts[0].Name)

	_, env = doRequest(t, h, http.MethodGet, "/api/deals?search=globex&sortBy=closeDate&sortOrder=asc", nil)
	page = decodeData[model.DealPage](t, env)
	require.Len(t, page.Deals, 1)
	assert.Equal(t, "102", page.Deals[0].HubSpotID)
	assert.Equal(t, model.StageDiscovery, page.Deals[0].Stage)
}

func TestListDealsEndpoint_Validation(t *testing.T) {
	a, _ := newTestAPI(t)
	h := buildRouter(a, nil)

	for _, q := range []string{"limit=500", "limit=0", "page=0", "page=abc", "stage=bogus", "sortBy=owner", "sortOrder=up"} {
		t.Run(q, func(t *testing.T) {
			rr, env := doRequest(t, h, http.MethodGet, "/api/deals?"+q, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		})
	}
}

func TestStatsAndPipelinesEndpoints(t *testing.T) {
	h, _, _ := syncedRouter(t)

	_, env := doRequest(t, h, http.MethodGet, "/api/deals/stats", nil)
	stats := decodeData[model.DealStats](t, env)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStage[model.StageClosedWon])
	assert.Equal(t, 1, stats.ByStage[model.StageDiscovery])
	assert.Equal(t, 0, stats.ByStage[model.StageDemo])
	assert.InDelta(t, 5000.0, stats.TotalValue, 0.001)

	_, env = doRequest(t, h, http.MethodGet, "/api/deals/pipelines", nil)
	refs := decodeData[[]model.PipelineRef](t, env)
	assert.Equal(t, []model.PipelineRef{{ID: "default", Name: "Sales Pipeline"}}, refs)
}

func TestGetDealEndpoints(t *testing.T) {
	h, _, _ := syncedRouter(t)

	rr, env := doRequest(t, h, http.MethodGet, "/api/deals/hubspot/101", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	byHubSpot := decodeData[struct {
		Deal model.Deal `json:"deal"`
	}](t, env)
	require.NotEmpty(t, byHubSpot.Deal.ID)

	rr, env = doRequest(t, h, http.MethodGet, "/api/deals/"+byHubSpot.Deal.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeData[struct {
		Deal          model.Deal           `json:"deal"`
		HubSpotConfig *model.HubSpotConfig `json:"hubspot_config"`
	}](t, env)
	assert.Equal(t, "101", got.Deal.HubSpotID)
	require.NotNil(t, got.HubSpotConfig)
	assert.Equal(t, int64(4242), got.HubSpotConfig.PortalID)

	rr, env = doRequest(t, h, http.MethodGet, "/api/deals/"+byHubSpot.Deal.ID+"/engagements", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	timeline := decodeData[struct {
		Engagements []model.Engagement `json:"engagements"`
	}](t, env)
	require.Len(t, timeline.Engagements, 1)
	assert.Equal(t, "m1", timeline.Engagements[0].ID)
	assert.Equal(t, model.EngagementMeeting, timeline.Engagements[0].Type)
}

func TestGetDealEndpoints_NotFound(t *testing.T) {
	a, _ := newTestAPI(t)
	h := buildRouter(a, nil)

	for _, path := range []string{"/api/deals/nope", "/api/deals/nope/engagements", "/api/deals/hubspot/404"} {
		rr, env := doRequest(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, "DEAL_NOT_FOUND", env.Error.Code)
	}
}

func TestClearDealsEndpoint(t *testing.T) {
	h, _, _ := syncedRouter(t)

	rr, env := doRequest(t, h, http.MethodDelete, "/api/deals", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData[map[string]any](t, env)
	assert.EqualValues(t, 2, data["deleted"])

	_, env = doRequest(t, h, http.MethodGet, "/api/deals", nil)
	assert.Equal(t, 0, decodeData[model.DealPage](t, env).Total)
}

func TestConfigEndpoints(t *testing.T) {
	a, _ := newTestAPI(t)
	h := buildRouter(a, nil)

	rr, env := doRequest(t, h, http.MethodGet, "/api/deals/config", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, "null", string(env.Data))

	rr, env = doRequest(t, h, http.MethodPut, "/api/deals/config", map[string]any{"pipeline_id": "default"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rr, _ = doRequest(t, h, http.MethodPut, "/api/deals/config", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = doRequest(t, h, http.MethodPut, "/api/deals/config", model.HubSpotConfig{PortalID: 7, PipelineID: "renewals", PipelineName: "Renewals"})
	require.Equal(t, http.StatusOK, rr.Code)

	_, env = doRequest(t, h, http.MethodGet, "/api/deals/config", nil)
	assert.Equal(t, model.HubSpotConfig{PortalID: 7, PipelineID: "renewals", PipelineName: "Renewals"}, decodeData[model.HubSpotConfig](t, env))
}

func TestContactAndCompanyEndpoints(t *testing.T) {
	h, _, _ := syncedRouter(t)

	rr, env := doRequest(t, h, http.MethodGet, "/api/hubspot/contacts/p1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	contact := decodeData[contactView](t, env)
	assert.Equal(t, "Ada", contact.Contact.FirstName)
	require.NotNil(t, contact.Contact.Email)
	assert.Equal(t, "ada@acme.com", *contact.Contact.Email)
	assert.Nil(t, contact.Contact.Phone)
	require.NotNil(t, contact.AssociatedDeal)
	assert.Equal(t, "101", contact.AssociatedDeal.HubSpotID)

	// Deal 999 was never synced, so the lookup moves on to 101.
	rr, env = doRequest(t, h, http.MethodGet, "/api/hubspot/companies/c1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	company := decodeData[companyView](t, env)
	assert.Equal(t, "Acme Corp", company.Company.Name)
	require.NotNil(t, company.Company.City)
	assert.Equal(t, "Denver", *company.Company.City)
	require.NotNil(t, company.AssociatedDeal)
	assert.Equal(t, "101", company.AssociatedDeal.HubSpotID)

	rr, env = doRequest(t, h, http.MethodGet, "/api/hubspot/contacts/zzz", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "CONTACT_NOT_FOUND", env.Error.Code)

	rr, env = doRequest(t, h, http.MethodGet, "/api/hubspot/companies/zzz", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "COMPANY_NOT_FOUND", env.Error.Code)
}

func TestCreateTaskEndpoint(t *testing.T) {
	a, fake := newTestAPI(t)
	h := buildRouter(a, nil)

	rr, env := doRequest(t, h, http.MethodPost, "/api/hubspot/tasks", map[string]string{
		"subject":                "Send proposal",
		"due_date":               "2024-07-01",
		"priority":               "high",
		"associated_object_type": "deal",
		"associated_object_id":   "101",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "t-1", decodeData[map[string]string](t, env)["task_id"])

	require.Len(t, fake.created, 1)
	props := fake.created[0].Properties
	assert.Equal(t, "Send proposal", props["hs_task_subject"])
	assert.Equal(t, "HIGH", props["hs_task_priority"])
	assert.Equal(t, "1719792000000", props["hs_timestamp"])
	require.Len(t, fake.created[0].Associations, 1)
	assert.Equal(t, "101", fake.created[0].Associations[0].To.ID)
}

func TestCreateTaskEndpoint_Validation(t *testing.T) {
	a, fake := newTestAPI(t)
	h := buildRouter(a, nil)

	cases := map[string]map[string]string{
		"missing subject": {"associated_object_type": "deal", "associated_object_id": "1"},
		"bad type":        {"subject": "x", "associated_object_type": "ticket", "associated_object_id": "1"},
		"missing id":      {"subject": "x", "associated_object_type": "deal"},
		"bad due date":    {"subject": "x", "associated_object_type": "deal", "associated_object_id": "1", "due_date": "soon"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr, env := doRequest(t, h, http.MethodPost, "/api/hubspot/tasks", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		})
	}
	assert.Empty(t, fake.created)
}

func TestCreateNoteEndpoint(t *testing.T) {
	a, fake := newTestAPI(t)
	h := buildRouter(a, nil)

	rr, env := doRequest(t, h, http.MethodPost, "/api/hubspot/notes", map[string]string{
		"associated_object_type": "contact",
		"associated_object_id":   "p1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rr, env = doRequest(t, h, http.MethodPost, "/api/hubspot/notes", map[string]string{
		"body":                   "Called, left voicemail",
		"associated_object_type": "contact",
		"associated_object_id":   "p1",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "n-1", decodeData[map[string]string](t, env)["note_id"])
	require.Len(t, fake.created, 1)
	assert.Equal(t, "Called, left voicemail", fake.created[0].Properties["hs_note_body"])
}

func TestCORSPreflight(t *testing.T) {
	a, _ := newTestAPI(t)
	h := buildRouter(a, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/deals", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/deals", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a, _ := newTestAPI(t)
	h := buildRouter(a, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, h, port)
	}()

	var ready bool
	for range 50 {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			_ = resp.Body.Close()
			ready = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
