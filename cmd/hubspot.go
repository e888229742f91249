package main

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-sync/internal/crmsync"
	"github.com/sells-group/deal-sync/internal/resilience"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// initHubSpot builds the HubSpot client from config.
func initHubSpot() (hubspot.Client, error) {
	if err := cfg.Validate("hubspot"); err != nil {
		return nil, err
	}

	opts := []hubspot.Option{
		hubspot.WithRateLimit(cfg.HubSpot.RateLimit),
		hubspot.WithRetry(cfg.HubSpot.RetryPolicy()),
	}
	if cfg.HubSpot.BaseURL != "" {
		opts = append(opts, hubspot.WithBaseURL(cfg.HubSpot.BaseURL))
	}
	if cbCfg, ok := cfg.HubSpot.CircuitPolicy(); ok {
		cbCfg.OnStateChange = resilience.StateChangeLogger("hubspot")
		opts = append(opts, hubspot.WithCircuitBreaker(resilience.NewCircuitBreaker(cbCfg)))
	}

	return hubspot.NewClient(cfg.HubSpot.Token, opts...), nil
}

// initSyncer wires a Syncer from the configured sync settings. onProgress
// may be nil.
func initSyncer(client hubspot.Client, onProgress func(pages, kept int)) (*crmsync.Syncer, error) {
	rules, err := cfg.Sync.LoadStageRules()
	if err != nil {
		return nil, eris.Wrap(err, "load stage rules")
	}
	return crmsync.NewSyncer(client, crmsync.Options{
		StageRules: rules,
		PageSize:   cfg.Sync.PageSize,
		MaxPages:   cfg.Sync.MaxPages,
		ChunkSize:  cfg.Sync.ChunkSize,
		OnProgress: onProgress,
	}), nil
}
