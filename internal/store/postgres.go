package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-sync/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = min(minConns, maxConns)
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id                   TEXT PRIMARY KEY,
	hubspot_id           TEXT NOT NULL UNIQUE,
	name                 TEXT NOT NULL,
	stage                TEXT NOT NULL,
	stage_id             TEXT NOT NULL DEFAULT '',
	stage_label          TEXT NOT NULL DEFAULT '',
	pipeline_id          TEXT NOT NULL DEFAULT '',
	pipeline_name        TEXT NOT NULL DEFAULT '',
	amount               DOUBLE PRECISION,
	close_date           TEXT,
	owner_id             TEXT,
	owner_name           TEXT,
	company_id           TEXT,
	company_name         TEXT,
	companies            JSONB NOT NULL DEFAULT '[]',
	contacts             JSONB NOT NULL DEFAULT '[]',
	last_engagement_date TEXT,
	properties           JSONB NOT NULL DEFAULT '{}',
	last_synced_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_pipeline_id ON deals(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_deals_updated_at ON deals(updated_at DESC);

CREATE TABLE IF NOT EXISTS hubspot_config (
	id            SMALLINT PRIMARY KEY CHECK (id = 1),
	portal_id     BIGINT NOT NULL,
	pipeline_id   TEXT NOT NULL,
	pipeline_name TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	result      JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgJSON(b []byte) any { return b }

func (s *PostgresStore) FindDealByHubSpotID(ctx context.Context, hubspotID string) (*model.Deal, error) {
	d, err := scanPostgresDeal(s.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE hubspot_id = $1`, hubspotID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find deal %s", hubspotID)
	}
	return d, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	d, err := scanPostgresDeal(s.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get deal %s", id)
	}
	return d, nil
}

func (s *PostgresStore) InsertDeal(ctx context.Context, d *model.Deal) error {
	now := time.Now().UTC()
	d.ID = uuid.New().String()
	d.LastSyncedAt, d.CreatedAt, d.UpdatedAt = now, now, now

	vals, err := dealValues(d, pgJSON)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO deals (`+dealColumns+`) VALUES (`+insertPlaceholders(dollarPlaceholder)+`)`,
		vals...,
	)
	return eris.Wrapf(err, "postgres: insert deal %s", d.HubSpotID)
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, id string, d *model.Deal) error {
	now := time.Now().UTC()
	d.ID = id
	d.LastSyncedAt, d.UpdatedAt = now, now

	vals, err := dealValues(d, pgJSON)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET `+setClause(dollarPlaceholder, 2)+` WHERE id = $1`,
		append([]any{id}, updateValues(vals)...)...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update deal %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("deal not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, filter model.DealFilter) (model.DealPage, error) {
	f := filter.Normalize()
	where, args := dealWhere(f, dollarPlaceholder, "ILIKE")

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deals`+where, args...).Scan(&total); err != nil {
		return model.DealPage{}, eris.Wrap(err, "postgres: count deals")
	}

	query := `SELECT ` + dealColumns + ` FROM deals` + where + dealOrder(f) +
		` LIMIT ` + dollarPlaceholder(len(args)+1) + ` OFFSET ` + dollarPlaceholder(len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return model.DealPage{}, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanPostgresDeal(rows)
		if err != nil {
			return model.DealPage{}, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, *d)
	}
	if err := rows.Err(); err != nil {
		return model.DealPage{}, eris.Wrap(err, "postgres: list deals iterate")
	}
	return model.NewDealPage(deals, int(total), f), nil
}

func (s *PostgresStore) DealStats(ctx context.Context) (model.DealStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, COUNT(*), COALESCE(SUM(amount), 0) FROM deals GROUP BY stage`,
	)
	if err != nil {
		return model.DealStats{}, eris.Wrap(err, "postgres: deal stats")
	}
	defer rows.Close()

	var out []stageRow
	for rows.Next() {
		var (
			r     stageRow
			stage string
		)
		if err := rows.Scan(&stage, &r.count, &r.value); err != nil {
			return model.DealStats{}, eris.Wrap(err, "postgres: scan deal stats")
		}
		r.stage = model.DealStage(stage)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return model.DealStats{}, eris.Wrap(err, "postgres: deal stats iterate")
	}
	return buildStats(out), nil
}

func (s *PostgresStore) DistinctPipelines(ctx context.Context) ([]model.PipelineRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pipeline_id, MAX(pipeline_name) FROM deals WHERE pipeline_id <> ''
		 GROUP BY pipeline_id ORDER BY MAX(pipeline_name), pipeline_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct pipelines")
	}
	defer rows.Close()

	out := []model.PipelineRef{}
	for rows.Next() {
		var p model.PipelineRef
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: distinct pipelines iterate")
}

func (s *PostgresStore) DeleteAllDeals(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deals`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete deals")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetHubSpotConfig(ctx context.Context) (*model.HubSpotConfig, error) {
	var cfg model.HubSpotConfig
	err := s.pool.QueryRow(ctx,
		`SELECT portal_id, pipeline_id, pipeline_name FROM hubspot_config WHERE id = 1`,
	).Scan(&cfg.PortalID, &cfg.PipelineID, &cfg.PipelineName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get hubspot config")
	}
	return &cfg, nil
}

func (s *PostgresStore) SaveHubSpotConfig(ctx context.Context, cfg model.HubSpotConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hubspot_config (id, portal_id, pipeline_id, pipeline_name, updated_at) VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET portal_id = $1, pipeline_id = $2, pipeline_name = $3, updated_at = $4`,
		cfg.PortalID, cfg.PipelineID, cfg.PipelineName, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save hubspot config")
}

func (s *PostgresStore) StartSyncRun(ctx context.Context, pipelineID string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, pipeline_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, pipelineID, string(model.SyncStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert sync run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteSyncRun(ctx context.Context, id string, result model.SyncResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sync result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, result = $2, finished_at = $3 WHERE id = $4`,
		string(model.SyncStatusComplete), resultJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailSyncRun(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(model.SyncStatusFailed), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = DefaultSyncRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, pipeline_id, status, result, COALESCE(error, ''), started_at, finished_at
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync runs")
	}
	defer rows.Close()

	runs := []model.SyncRun{}
	for rows.Next() {
		var (
			r          model.SyncRun
			status     string
			resultJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.PipelineID, &status, &resultJSON, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		r.Status = model.SyncStatus(status)
		if len(resultJSON) > 0 {
			r.Result = &model.SyncResult{}
			if err := json.Unmarshal(resultJSON, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal sync result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list sync runs iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresDeal(row rowScanner) (*model.Deal, error) {
	var (
		d                          model.Deal
		stage                      string
		companies, contacts, props []byte
	)
	err := row.Scan(
		&d.ID, &d.HubSpotID, &d.Name, &stage, &d.StageID, &d.StageLabel, &d.PipelineID, &d.PipelineName,
		&d.Amount, &d.CloseDate, &d.OwnerID, &d.OwnerName, &d.CompanyID, &d.CompanyName, &companies, &contacts,
		&d.LastEngagementDate, &props, &d.LastSyncedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Stage = model.DealStage(stage)
	if err := decodeDealJSON(&d, companies, contacts, props); err != nil {
		return nil, err
	}
	return &d, nil
}
