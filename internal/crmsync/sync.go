package crmsync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// Options tunes a Syncer. Zero values use the package defaults.
type Options struct {
	StageRules StageRules
	PageSize   int
	MaxPages   int
	ChunkSize  int
	OnProgress func(pages, kept int)
}

// Syncer drives the deal sync against one HubSpot client. It keeps no
// per-sync state, so one Syncer may serve concurrent syncs of different
// pipelines.
type Syncer struct {
	client      hubspot.Client
	opts        Options
	engagements *Aggregator
}

// NewSyncer creates a Syncer.
func NewSyncer(client hubspot.Client, opts Options) *Syncer {
	if opts.StageRules == nil {
		opts.StageRules = DefaultStageRules()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Syncer{
		client:      client,
		opts:        opts,
		engagements: NewAggregator(client, opts.ChunkSize),
	}
}

// SyncDeals resolves stages, fetches the pipeline's deals, resolves their
// references and normalizes them. Any failure aborts the whole call.
func (s *Syncer) SyncDeals(ctx context.Context, pipelineID string) ([]model.Deal, error) {
	log := zap.L().With(zap.String("pipeline_id", pipelineID))
	start := time.Now()

	cat, err := ResolveStages(ctx, s.client, pipelineID, s.opts.StageRules)
	if err != nil {
		return nil, err
	}

	raw, err := FetchAllDeals(ctx, s.client, pipelineID, FetchOptions{
		PageSize:   s.opts.PageSize,
		MaxPages:   s.opts.MaxPages,
		OnProgress: s.opts.OnProgress,
	})
	if err != nil {
		return nil, err
	}

	refs, err := ResolveReferences(ctx, s.client, raw, s.opts.ChunkSize)
	if err != nil {
		return nil, eris.Wrap(err, "crmsync: resolve references")
	}

	deals := make([]model.Deal, 0, len(raw))
	for _, d := range raw {
		deals = append(deals, Normalize(d, cat, refs))
	}

	log.Info("deals synced",
		zap.String("pipeline", cat.PipelineName),
		zap.Int("deals", len(deals)),
		zap.Int("companies", len(refs.Companies)),
		zap.Int("contacts", len(refs.Contacts)),
		zap.Int("owners", len(refs.Owners)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return deals, nil
}

// Pipelines returns every deal pipeline with stages mapped to canonical
// stages.
func (s *Syncer) Pipelines(ctx context.Context) ([]model.Pipeline, error) {
	pipelines, err := s.client.ListPipelines(ctx, hubspot.ObjectDeals)
	if err != nil {
		return nil, eris.Wrap(err, "crmsync: list pipelines")
	}
	return MapPipelines(pipelines, s.opts.StageRules), nil
}

// PortalID returns the HubSpot portal (account) id.
func (s *Syncer) PortalID(ctx context.Context) (int64, error) {
	details, err := s.client.GetAccountDetails(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "crmsync: account details")
	}
	return details.PortalID, nil
}

// DealEngagements returns a deal's activity timeline, newest first. It is
// not part of the bulk sync.
func (s *Syncer) DealEngagements(ctx context.Context, dealID string) ([]model.Engagement, error) {
	return s.engagements.DealEngagements(ctx, dealID)
}

// RunStore is what Run needs from persistence.
type RunStore interface {
	DealRepository
	// GetHubSpotConfig returns nil, nil when nothing is saved.
	GetHubSpotConfig(ctx context.Context) (*model.HubSpotConfig, error)
	SaveHubSpotConfig(ctx context.Context, cfg model.HubSpotConfig) error
	StartSyncRun(ctx context.Context, pipelineID string) (string, error)
	CompleteSyncRun(ctx context.Context, id string, result model.SyncResult) error
	FailSyncRun(ctx context.Context, id string, errMsg string) error
}

// RunReport summarizes a recorded sync run.
type RunReport struct {
	RunID      string           `json:"run_id"`
	PipelineID string           `json:"pipeline_id"`
	Result     model.SyncResult `json:"result"`
}

// Run syncs a pipeline into st and records the run. pipelineID falls back to
// the saved configuration, then to the portal's first pipeline (which is
// then saved).
func (s *Syncer) Run(ctx context.Context, st RunStore, pipelineID string) (*RunReport, error) {
	pipelineID, err := s.resolvePipelineID(ctx, st, pipelineID)
	if err != nil {
		return nil, err
	}

	runID, err := st.StartSyncRun(ctx, pipelineID)
	if err != nil {
		return nil, eris.Wrap(err, "crmsync: start sync run")
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("pipeline_id", pipelineID))

	fail := func(cause error) error {
		// Record the failure even when ctx was cancelled.
		if err := st.FailSyncRun(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
			log.Warn("failed to record sync failure", zap.Error(err))
		}
		return cause
	}

	deals, err := s.SyncDeals(ctx, pipelineID)
	if err != nil {
		return nil, fail(err)
	}

	result, err := UpsertDeals(ctx, st, deals)
	if err != nil {
		return nil, fail(eris.Wrap(err, "crmsync: upsert deals"))
	}

	// The upsert already happened; record it even if ctx ended meanwhile.
	if err := st.CompleteSyncRun(context.WithoutCancel(ctx), runID, result); err != nil {
		return nil, fail(eris.Wrap(err, "crmsync: complete sync run"))
	}

	log.Info("sync run complete",
		zap.Int("fetched", result.Fetched),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
	)
	return &RunReport{RunID: runID, PipelineID: pipelineID, Result: result}, nil
}

func (s *Syncer) resolvePipelineID(ctx context.Context, st RunStore, pipelineID string) (string, error) {
	if pipelineID != "" {
		return pipelineID, nil
	}

	cfg, err := st.GetHubSpotConfig(ctx)
	if err != nil {
		return "", eris.Wrap(err, "crmsync: load hubspot config")
	}
	if cfg != nil && cfg.PipelineID != "" {
		return cfg.PipelineID, nil
	}

	pipelines, err := s.client.ListPipelines(ctx, hubspot.ObjectDeals)
	if err != nil {
		return "", eris.Wrap(err, "crmsync: list pipelines")
	}
	if len(pipelines) == 0 {
		return "", eris.New("crmsync: portal has no deal pipelines")
	}
	first := pipelines[0]

	portalID, err := s.PortalID(ctx)
	if err != nil {
		return "", err
	}
	if err := st.SaveHubSpotConfig(ctx, model.HubSpotConfig{
		PortalID:     portalID,
		PipelineID:   first.ID,
		PipelineName: first.Label,
	}); err != nil {
		return "", eris.Wrap(err, "crmsync: save hubspot config")
	}
	zap.L().Info("defaulted to first deal pipeline",
		zap.String("pipeline_id", first.ID),
		zap.String("pipeline", first.Label),
	)
	return first.ID, nil
}
