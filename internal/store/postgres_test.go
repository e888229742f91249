package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-sync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var dealColumnNames = []string{
	"id", "hubspot_id", "name", "stage", "stage_id", "stage_label", "pipeline_id", "pipeline_name",
	"amount", "close_date", "owner_id", "owner_name", "company_id", "company_name", "companies", "contacts",
	"last_engagement_date", "properties", "last_synced_at", "created_at", "updated_at",
}

func dealRow(id, hubspotID string, amount *float64, owner *string) []any {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []any{
		id, hubspotID, "Deal " + hubspotID, "proposal", "s1", "Proposal", "default", "Sales Pipeline",
		amount, (*string)(nil), owner, owner, (*string)(nil), (*string)(nil),
		[]byte(`[{"id":"c1","name":"Acme"}]`), []byte(`[]`),
		(*string)(nil), []byte(`{"dealname":"Deal"}`), now, now, now,
	}
}

func TestPostgresStore_FindDealByHubSpotID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT id, hubspot_id, .+ FROM deals WHERE hubspot_id = \$1`).
		WithArgs("101").
		WillReturnRows(pgxmock.NewRows(dealColumnNames).AddRow(dealRow("row-1", "101", ptr(50.0), ptr("Grace"))...))

	d, err := s.FindDealByHubSpotID(context.Background(), "101")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "row-1", d.ID)
	assert.Equal(t, model.StageProposal, d.Stage)
	assert.Equal(t, 50.0, *d.Amount)
	assert.Equal(t, "Grace", *d.OwnerName)
	assert.Nil(t, d.CloseDate)
	assert.Equal(t, []model.DealCompany{{ID: "c1", Name: "Acme"}}, d.Companies)
	assert.Equal(t, map[string]string{"dealname": "Deal"}, d.Properties)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDealByHubSpotID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM deals WHERE hubspot_id = \$1`).
		WithArgs("404").
		WillReturnError(pgx.ErrNoRows)

	d, err := s.FindDealByHubSpotID(context.Background(), "404")
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDealByHubSpotID_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM deals WHERE hubspot_id = \$1`).
		WithArgs("101").
		WillReturnError(errors.New("connection refused"))

	_, err := s.FindDealByHubSpotID(context.Background(), "101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find deal 101")
}

func TestPostgresStore_GetDeal_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM deals WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDeal(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_InsertDeal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := make([]any, len(dealColumnNames))
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec(`(?s)INSERT INTO deals \(id, hubspot_id, .+\) VALUES \(\$1, \$2, .+\$21\)`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	d := model.Deal{HubSpotID: "101", Name: "Deal", Stage: model.StageDemo}
	require.NoError(t, s.InsertDeal(context.Background(), &d))
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, d.CreatedAt, d.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDeal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := []any{"row-1"}
	for range dealUpdateColumns {
		args = append(args, pgxmock.AnyArg())
	}
	mock.ExpectExec(`UPDATE deals SET name = \$2, .+ updated_at = \$19 WHERE id = \$1`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE deals SET`).
		WithArgs(append([]any{"gone"}, args[1:]...)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	d := model.Deal{HubSpotID: "101", Name: "Deal", Stage: model.StageDemo}
	require.NoError(t, s.UpdateDeal(context.Background(), "row-1", &d))
	assert.Equal(t, "row-1", d.ID)

	err := s.UpdateDeal(context.Background(), "gone", &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDeals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM deals WHERE stage = \$1 AND \(name ILIKE \$2 .+ OR company_name ILIKE \$3`).
		WithArgs("proposal", "%acme\\_co%", "%acme\\_co%").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`ORDER BY amount ASC NULLS LAST, id ASC LIMIT \$4 OFFSET \$5`).
		WithArgs("proposal", "%acme\\_co%", "%acme\\_co%", 2, 2).
		WillReturnRows(pgxmock.NewRows(dealColumnNames).AddRow(dealRow("row-3", "3", nil, nil)...))

	page, err := s.ListDeals(context.Background(), model.DealFilter{
		Stage:     model.StageProposal,
		Search:    " acme_co ",
		SortBy:    model.SortByAmount,
		SortOrder: "asc",
		Page:      2,
		Limit:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Deals, 1)
	assert.Nil(t, page.Deals[0].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DealStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT stage, COUNT\(\*\), COALESCE\(SUM\(amount\), 0\) FROM deals GROUP BY stage`).
		WillReturnRows(pgxmock.NewRows([]string{"stage", "count", "sum"}).
			AddRow("proposal", int64(2), 300.0).
			AddRow("closed_won", int64(1), 1000.0))

	stats, err := s.DealStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.InDelta(t, 1300.0, stats.TotalValue, 0.001)
	assert.Equal(t, 2, stats.ByStage[model.StageProposal])
	assert.Equal(t, 0, stats.ByStage[model.StageQualified])
	assert.Len(t, stats.ByStage, len(model.AllStages))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HubSpotConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT portal_id, pipeline_id, pipeline_name FROM hubspot_config`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`(?s)INSERT INTO hubspot_config .+ ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(int64(4242), "default", "Sales Pipeline", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT portal_id, pipeline_id, pipeline_name FROM hubspot_config`).
		WillReturnRows(pgxmock.NewRows([]string{"portal_id", "pipeline_id", "pipeline_name"}).
			AddRow(int64(4242), "default", "Sales Pipeline"))

	cfg, err := s.GetHubSpotConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, s.SaveHubSpotConfig(ctx, model.HubSpotConfig{PortalID: 4242, PipelineID: "default", PipelineName: "Sales Pipeline"}))

	cfg, err = s.GetHubSpotConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, int64(4242), cfg.PortalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SyncRunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO sync_runs`).
		WithArgs(pgxmock.AnyArg(), "default", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE sync_runs SET status = \$1, result = \$2`).
		WithArgs("complete", []byte(`{"fetched":2,"created":1,"updated":1,"failed":0}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE sync_runs SET status = \$1, error = \$2`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	id, err := s.StartSyncRun(ctx, "default")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.CompleteSyncRun(ctx, id, model.SyncResult{Fetched: 2, Created: 1, Updated: 1}))

	err = s.FailSyncRun(ctx, "missing", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSyncRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	mock.ExpectQuery(`FROM sync_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(DefaultSyncRunLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "pipeline_id", "status", "result", "error", "started_at", "finished_at"}).
			AddRow("r2", "default", "failed", []byte(nil), "boom", started, &finished).
			AddRow("r1", "default", "complete", []byte(`{"fetched":1,"created":1}`), "", started, &finished))

	runs, err := s.ListSyncRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.SyncStatusFailed, runs[0].Status)
	assert.Nil(t, runs[0].Result)
	assert.Equal(t, "boom", runs[0].Error)
	require.NotNil(t, runs[1].Result)
	assert.Equal(t, 1, runs[1].Result.Created)
	assert.Equal(t, finished, *runs[1].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAllDeals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM deals`).WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.DeleteAllDeals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS deals`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
