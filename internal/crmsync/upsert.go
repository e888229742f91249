package crmsync

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/deal-sync/internal/model"
)

// DealRepository is the persistence contract of the upsert: an existence
// check by HubSpot id precedes every write.
type DealRepository interface {
	// FindDealByHubSpotID returns nil, nil when no deal has the id.
	FindDealByHubSpotID(ctx context.Context, hubspotID string) (*model.Deal, error)
	InsertDeal(ctx context.Context, deal *model.Deal) error
	UpdateDeal(ctx context.Context, id string, deal *model.Deal) error
}

// UpsertDeals reconciles deals against repo keyed by HubSpot id. A deal whose
// lookup or write fails is logged and counted in Failed; context
// cancellation stops the pass and is returned with the partial tally.
func UpsertDeals(ctx context.Context, repo DealRepository, deals []model.Deal) (model.SyncResult, error) {
	res := model.SyncResult{Fetched: len(deals)}

	for i := range deals {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d := &deals[i]
		log := zap.L().With(zap.String("deal_id", d.HubSpotID))

		existing, err := repo.FindDealByHubSpotID(ctx, d.HubSpotID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			log.Warn("deal lookup failed", zap.Error(err))
			res.Failed++
			continue
		}

		if existing != nil {
			if err := repo.UpdateDeal(ctx, existing.ID, d); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				log.Warn("deal update failed", zap.Error(err))
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		if err := repo.InsertDeal(ctx, d); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			log.Warn("deal insert failed", zap.Error(err))
			res.Failed++
			continue
		}
		res.Created++
	}
	return res, nil
}
