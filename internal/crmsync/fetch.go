package crmsync

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-sync/pkg/hubspot"
)

const (
	// DefaultPageSize is also HubSpot's maximum for the deal list endpoint.
	DefaultPageSize = 100
	// DefaultMaxPages caps pagination regardless of what the server returns.
	DefaultMaxPages = 50
)

// Deal properties whose maximum becomes the deal's last engagement date.
const (
	PropLastSalesActivity = "hs_last_sales_activity_timestamp"
	PropLatestMeeting     = "hs_latest_meeting_activity"
	PropLastEmailReply    = "hs_sales_email_last_replied"
	PropNotesLastUpdated  = "notes_last_updated"
)

// DealProperties are requested on every deal page.
var DealProperties = []string{
	"dealname",
	"amount",
	"closedate",
	"dealstage",
	"pipeline",
	"hubspot_owner_id",
	"hs_lastmodifieddate",
	"createdate",
	PropLastSalesActivity,
	PropLatestMeeting,
	PropLastEmailReply,
	PropNotesLastUpdated,
}

var dealAssociations = []string{hubspot.ObjectCompanies, hubspot.ObjectContacts}

// FetchOptions tunes FetchAllDeals.
type FetchOptions struct {
	PageSize int
	MaxPages int
	// OnProgress is called after every page with the pages fetched so far
	// and the deals kept after pipeline filtering.
	OnProgress func(pages, kept int)
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.PageSize <= 0 || o.PageSize > DefaultPageSize {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// FetchAllDeals walks the deal list cursor and returns the deals belonging
// to pipelineID. The walk stops when the server stops returning a cursor or
// after opts.MaxPages pages, whichever comes first.
func FetchAllDeals(ctx context.Context, client hubspot.Client, pipelineID string, opts FetchOptions) ([]hubspot.Deal, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("pipeline_id", pipelineID))

	var (
		deals []hubspot.Deal
		after string
		pages int
	)
	for pages < opts.MaxPages {
		page, err := client.ListDeals(ctx, hubspot.ListDealsParams{
			Limit:        opts.PageSize,
			After:        after,
			Properties:   DealProperties,
			Associations: dealAssociations,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "crmsync: fetch deals page %d", pages+1)
		}
		pages++

		// The list endpoint cannot filter by pipeline server-side.
		for _, d := range page.Results {
			if d.Properties.Get("pipeline") == pipelineID {
				deals = append(deals, d)
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(pages, len(deals))
		}

		after = page.NextAfter
		if after == "" {
			log.Debug("deal pagination complete", zap.Int("pages", pages), zap.Int("deals", len(deals)))
			return deals, nil
		}
	}

	log.Warn("deal pagination stopped at page ceiling",
		zap.Int("max_pages", opts.MaxPages),
		zap.Int("deals", len(deals)),
	)
	return deals, nil
}
