// Package store persists normalized deals, the selected HubSpot pipeline and
// the sync run history.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-sync/internal/model"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned by lookups that require the row to exist.
var ErrNotFound = eris.New("store: not found")

// DefaultSyncRunLimit is the ListSyncRuns page size when limit <= 0.
const DefaultSyncRunLimit = 20

// Store defines the persistence interface for synced deals.
type Store interface {
	// Deals. FindDealByHubSpotID returns nil, nil when absent.
	FindDealByHubSpotID(ctx context.Context, hubspotID string) (*model.Deal, error)
	InsertDeal(ctx context.Context, deal *model.Deal) error
	UpdateDeal(ctx context.Context, id string, deal *model.Deal) error
	GetDeal(ctx context.Context, id string) (*model.Deal, error)
	ListDeals(ctx context.Context, filter model.DealFilter) (model.DealPage, error)
	DealStats(ctx context.Context) (model.DealStats, error)
	DistinctPipelines(ctx context.Context) ([]model.PipelineRef, error)
	DeleteAllDeals(ctx context.Context) (int, error)

	// HubSpot selection. GetHubSpotConfig returns nil, nil when unset.
	GetHubSpotConfig(ctx context.Context) (*model.HubSpotConfig, error)
	SaveHubSpotConfig(ctx context.Context, cfg model.HubSpotConfig) error

	// Sync runs
	StartSyncRun(ctx context.Context, pipelineID string) (string, error)
	CompleteSyncRun(ctx context.Context, id string, result model.SyncResult) error
	FailSyncRun(ctx context.Context, id string, errMsg string) error
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by driver. An empty driver means
// SQLite.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case DriverPostgres:
		s, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite, "":
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

const dealColumns = `id, hubspot_id, name, stage, stage_id, stage_label, pipeline_id, pipeline_name,
	amount, close_date, owner_id, owner_name, company_id, company_name, companies, contacts,
	last_engagement_date, properties, last_synced_at, created_at, updated_at`

// Columns written by UpdateDeal, in argument order after the row id.
var dealUpdateColumns = []string{
	"name", "stage", "stage_id", "stage_label", "pipeline_id", "pipeline_name",
	"amount", "close_date", "owner_id", "owner_name", "company_id", "company_name",
	"companies", "contacts", "last_engagement_date", "properties", "last_synced_at", "updated_at",
}

var sortColumns = map[string]string{
	model.SortByName:      "name",
	model.SortByAmount:    "amount",
	model.SortByCloseDate: "close_date",
	model.SortByUpdatedAt: "updated_at",
}

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func questionPlaceholder(int) string { return "?" }

// dealWhere builds the WHERE clause for f. likeOp is the case-insensitive
// match operator of the dialect.
func dealWhere(f model.DealFilter, ph placeholder, likeOp string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if f.Stage != "" {
		clauses = append(clauses, "stage = "+bind(string(f.Stage)))
	}
	if f.PipelineID != "" {
		clauses = append(clauses, "pipeline_id = "+bind(f.PipelineID))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(s) + "%"
		clauses = append(clauses, fmt.Sprintf(`(name %[1]s %[2]s ESCAPE '\' OR company_name %[1]s %[3]s ESCAPE '\')`,
			likeOp, bind(pattern), bind(pattern)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// dealValues returns the dealColumns values of d. enc converts encoded JSON
// to the dialect's column type.
func dealValues(d *model.Deal, enc func([]byte) any) ([]any, error) {
	companies, err := json.Marshal(nonNil(d.Companies))
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal companies")
	}
	contacts, err := json.Marshal(nonNil(d.Contacts))
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal contacts")
	}
	props := d.Properties
	if props == nil {
		props = map[string]string{}
	}
	properties, err := json.Marshal(props)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal properties")
	}
	return []any{
		d.ID, d.HubSpotID, d.Name, string(d.Stage), d.StageID, d.StageLabel, d.PipelineID, d.PipelineName,
		d.Amount, d.CloseDate, d.OwnerID, d.OwnerName, d.CompanyID, d.CompanyName, enc(companies), enc(contacts),
		d.LastEngagementDate, enc(properties), d.LastSyncedAt, d.CreatedAt, d.UpdatedAt,
	}, nil
}

// updateValues picks the dealUpdateColumns values out of dealValues output.
func updateValues(vals []any) []any {
	return slices.Concat(vals[2:19], vals[20:21])
}

func setClause(ph placeholder, offset int) string {
	parts := make([]string, len(dealUpdateColumns))
	for i, col := range dealUpdateColumns {
		parts[i] = col + " = " + ph(i+offset)
	}
	return strings.Join(parts, ", ")
}

func insertPlaceholders(ph placeholder) string {
	n := len(strings.Split(dealColumns, ","))
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

// decodeDealJSON fills the JSON-encoded columns of d.
func decodeDealJSON(d *model.Deal, companies, contacts, properties []byte) error {
	d.Companies = []model.DealCompany{}
	d.Contacts = []model.DealContact{}
	d.Properties = map[string]string{}
	if len(companies) > 0 {
		if err := json.Unmarshal(companies, &d.Companies); err != nil {
			return eris.Wrap(err, "store: unmarshal companies")
		}
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &d.Contacts); err != nil {
			return eris.Wrap(err, "store: unmarshal contacts")
		}
	}
	if len(properties) > 0 {
		if err := json.Unmarshal(properties, &d.Properties); err != nil {
			return eris.Wrap(err, "store: unmarshal properties")
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// dealOrder renders ORDER BY for a normalized filter. Rows with a NULL sort
// key go last in either direction; id breaks ties so paging is stable.
func dealOrder(f model.DealFilter) string {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "updated_at"
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id ASC", col, dir)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type stageRow struct {
	stage model.DealStage
	count int64
	value float64
}

// buildStats folds per-stage rows into DealStats. Unknown stages still count
// toward the totals.
func buildStats(rows []stageRow) model.DealStats {
	stats := model.NewDealStats()
	for _, r := range rows {
		stats.Total += int(r.count)
		stats.TotalValue += r.value
		stats.ByStage[r.stage] += int(r.count)
	}
	return stats
}
