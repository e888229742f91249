package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deal-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id                   TEXT PRIMARY KEY,
	hubspot_id           TEXT NOT NULL UNIQUE,
	name                 TEXT NOT NULL,
	stage                TEXT NOT NULL,
	stage_id             TEXT NOT NULL DEFAULT '',
	stage_label          TEXT NOT NULL DEFAULT '',
	pipeline_id          TEXT NOT NULL DEFAULT '',
	pipeline_name        TEXT NOT NULL DEFAULT '',
	amount               REAL,
	close_date           TEXT,
	owner_id             TEXT,
	owner_name           TEXT,
	company_id           TEXT,
	company_name         TEXT,
	companies            TEXT NOT NULL DEFAULT '[]',
	contacts             TEXT NOT NULL DEFAULT '[]',
	last_engagement_date TEXT,
	properties           TEXT NOT NULL DEFAULT '{}',
	last_synced_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_pipeline_id ON deals(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_deals_updated_at ON deals(updated_at);

CREATE TABLE IF NOT EXISTS hubspot_config (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	portal_id     INTEGER NOT NULL,
	pipeline_id   TEXT NOT NULL,
	pipeline_name TEXT NOT NULL,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	result      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteJSON(b []byte) any { return string(b) }

func (s *SQLiteStore) FindDealByHubSpotID(ctx context.Context, hubspotID string) (*model.Deal, error) {
	d, err := scanSQLiteDeal(s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE hubspot_id = ?`, hubspotID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find deal %s", hubspotID)
	}
	return d, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	d, err := scanSQLiteDeal(s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get deal %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) InsertDeal(ctx context.Context, d *model.Deal) error {
	now := time.Now().UTC()
	d.ID = uuid.New().String()
	d.LastSyncedAt, d.CreatedAt, d.UpdatedAt = now, now, now

	vals, err := dealValues(d, sqliteJSON)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deals (`+dealColumns+`) VALUES (`+insertPlaceholders(questionPlaceholder)+`)`,
		vals...,
	)
	return eris.Wrapf(err, "sqlite: insert deal %s", d.HubSpotID)
}

func (s *SQLiteStore) UpdateDeal(ctx context.Context, id string, d *model.Deal) error {
	now := time.Now().UTC()
	d.ID = id
	d.LastSyncedAt, d.UpdatedAt = now, now

	vals, err := dealValues(d, sqliteJSON)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET `+setClause(questionPlaceholder, 1)+` WHERE id = ?`,
		append(updateValues(vals), id)...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update deal %s", id)
	}
	return checkRowsAffected(res, "deal", id)
}

func (s *SQLiteStore) ListDeals(ctx context.Context, filter model.DealFilter) (model.DealPage, error) {
	f := filter.Normalize()
	where, args := dealWhere(f, questionPlaceholder, "LIKE")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deals`+where, args...).Scan(&total); err != nil {
		return model.DealPage{}, eris.Wrap(err, "sqlite: count deals")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dealColumns+` FROM deals`+where+dealOrder(f)+` LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset())...,
	)
	if err != nil {
		return model.DealPage{}, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close() //nolint:errcheck

	var deals []model.Deal
	for rows.Next() {
		d, err := scanSQLiteDeal(rows)
		if err != nil {
			return model.DealPage{}, eris.Wrap(err, "sqlite: scan deal")
		}
		deals = append(deals, *d)
	}
	if err := rows.Err(); err != nil {
		return model.DealPage{}, eris.Wrap(err, "sqlite: list deals iterate")
	}
	return model.NewDealPage(deals, total, f), nil
}

func (s *SQLiteStore) DealStats(ctx context.Context) (model.DealStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*), COALESCE(SUM(amount), 0.0) FROM deals GROUP BY stage`,
	)
	if err != nil {
		return model.DealStats{}, eris.Wrap(err, "sqlite: deal stats")
	}
	defer rows.Close() //nolint:errcheck

	var out []stageRow
	for rows.Next() {
		var (
			r     stageRow
			stage string
		)
		if err := rows.Scan(&stage, &r.count, &r.value); err != nil {
			return model.DealStats{}, eris.Wrap(err, "sqlite: scan deal stats")
		}
		r.stage = model.DealStage(stage)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return model.DealStats{}, eris.Wrap(err, "sqlite: deal stats iterate")
	}
	return buildStats(out), nil
}

func (s *SQLiteStore) DistinctPipelines(ctx context.Context) ([]model.PipelineRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pipeline_id, MAX(pipeline_name) FROM deals WHERE pipeline_id <> ''
		 GROUP BY pipeline_id ORDER BY MAX(pipeline_name), pipeline_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct pipelines")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.PipelineRef{}
	for rows.Next() {
		var p model.PipelineRef
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: distinct pipelines iterate")
}

func (s *SQLiteStore) DeleteAllDeals(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deals`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete deals")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetHubSpotConfig(ctx context.Context) (*model.HubSpotConfig, error) {
	var cfg model.HubSpotConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT portal_id, pipeline_id, pipeline_name FROM hubspot_config WHERE id = 1`,
	).Scan(&cfg.PortalID, &cfg.PipelineID, &cfg.PipelineName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get hubspot config")
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveHubSpotConfig(ctx context.Context, cfg model.HubSpotConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hubspot_config (id, portal_id, pipeline_id, pipeline_name, updated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET portal_id = excluded.portal_id, pipeline_id = excluded.pipeline_id,
		 pipeline_name = excluded.pipeline_name, updated_at = excluded.updated_at`,
		cfg.PortalID, cfg.PipelineID, cfg.PipelineName, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save hubspot config")
}

func (s *SQLiteStore) StartSyncRun(ctx context.Context, pipelineID string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, pipeline_id, status, started_at) VALUES (?, ?, ?, ?)`,
		id, pipelineID, string(model.SyncStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert sync run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, id string, result model.SyncResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sync result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, result = ?, finished_at = ? WHERE id = ?`,
		string(model.SyncStatusComplete), string(resultJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync run %s", id)
	}
	return checkRowsAffected(res, "sync run", id)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(model.SyncStatusFailed), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync run %s", id)
	}
	return checkRowsAffected(res, "sync run", id)
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = DefaultSyncRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline_id, status, result, COALESCE(error, ''), started_at, finished_at
		 FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.SyncRun{}
	for rows.Next() {
		var (
			r          model.SyncRun
			status     string
			resultJSON sql.NullString
			finished   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.PipelineID, &status, &resultJSON, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		r.Status = model.SyncStatus(status)
		if resultJSON.Valid && resultJSON.String != "" {
			r.Result = &model.SyncResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal sync result")
			}
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteDeal(row rowScanner) (*model.Deal, error) {
	var (
		d                          model.Deal
		stage                      string
		companies, contacts, props string
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
	if err := decodeDealJSON(&d, []byte(companies), []byte(contacts), []byte(props)); err != nil {
		return nil, err
	}
	return &d, nil
}
