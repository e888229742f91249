package crmsync

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// engagementSearchLimit is the page size of the per-type search. Only the
// newest page is read.
const engagementSearchLimit = 100

type engagementQuery struct {
	objectType string
	properties []string
}

var engagementQueries = map[model.EngagementType]engagementQuery{
	model.EngagementEmail: {
		objectType: hubspot.ObjectEmails,
		properties: []string{"hs_timestamp", "hs_createdate", "hs_email_subject", "hs_email_text", "hs_body_preview", "hs_email_direction", "hs_email_status"},
	},
	model.EngagementCall: {
		objectType: hubspot.ObjectCalls,
		properties: []string{"hs_timestamp", "hs_createdate", "hs_call_title", "hs_call_body", "hs_call_direction", "hs_call_duration", "hs_call_disposition", "hs_call_status"},
	},
	model.EngagementMeeting: {
		objectType: hubspot.ObjectMeetings,
		properties: []string{"hs_timestamp", "hs_createdate", "hs_meeting_title", "hs_meeting_body", "hs_meeting_start_time", "hs_meeting_end_time", "hs_meeting_outcome"},
	},
	model.EngagementNote: {
		objectType: hubspot.ObjectNotes,
		properties: []string{"hs_timestamp", "hs_createdate", "hs_note_body"},
	},
	model.EngagementTask: {
		objectType: hubspot.ObjectTasks,
		properties: []string{"hs_timestamp", "hs_createdate", "hs_task_subject", "hs_task_body", "hs_task_status"},
	},
}

// Strategy retrieves the raw engagement records of one type for a deal.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, dealID string, t model.EngagementType) ([]hubspot.Object, error)
}

// SearchStrategy uses the CRM search endpoint filtered by deal association.
type SearchStrategy struct {
	Client hubspot.Client
}

// Name implements Strategy.
func (s *SearchStrategy) Name() string { return "search" }

// Fetch implements Strategy.
func (s *SearchStrategy) Fetch(ctx context.Context, dealID string, t model.EngagementType) ([]hubspot.Object, error) {
	q, ok := engagementQueries[t]
	if !ok {
		return nil, eris.Errorf("crmsync: unknown engagement type %q", t)
	}
	resp, err := s.Client.SearchObjects(ctx, q.objectType, hubspot.SearchRequest{
		FilterGroups: []hubspot.FilterGroup{{
			Filters: []hubspot.Filter{{PropertyName: "associations.deal", Operator: "EQ", Value: dealID}},
		}},
		Sorts:      []hubspot.Sort{{PropertyName: "hs_timestamp", Direction: "DESCENDING"}},
		Properties: q.properties,
		Limit:      engagementSearchLimit,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "crmsync: search %s", q.objectType)
	}
	return resp.Results, nil
}

// AssociationWalkStrategy lists the deal's associations to the type and then
// reads each record, using the same chunked fan-out as reference resolution.
type AssociationWalkStrategy struct {
	Client    hubspot.Client
	ChunkSize int
}

// Name implements Strategy.
func (s *AssociationWalkStrategy) Name() string { return "association_walk" }

// Fetch implements Strategy. Records that fail to load are dropped.
func (s *AssociationWalkStrategy) Fetch(ctx context.Context, dealID string, t model.EngagementType) ([]hubspot.Object, error) {
	q, ok := engagementQueries[t]
	if !ok {
		return nil, eris.Errorf("crmsync: unknown engagement type %q", t)
	}
	assocs, err := s.Client.ListAssociations(ctx, hubspot.ObjectDeals, dealID, q.objectType)
	if err != nil {
		return nil, eris.Wrapf(err, "crmsync: list deal %s associations", q.objectType)
	}

	ids := make([]string, 0, len(assocs))
	seen := make(map[string]struct{}, len(assocs))
	for _, a := range assocs {
		id := string(a.ToObjectID)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	records, err := fetchChunked(ctx, ids, s.ChunkSize, q.objectType, func(ctx context.Context, id string) (*hubspot.Object, error) {
		return s.Client.GetObject(ctx, q.objectType, id, q.properties)
	})
	if err != nil {
		return nil, err
	}

	out := make([]hubspot.Object, 0, len(records))
	for _, id := range ids {
		if obj, ok := records[id]; ok && obj != nil {
			out = append(out, *obj)
		}
	}
	return out, nil
}

// Aggregator builds a deal's engagement timeline. For each type it tries
// Primary, then Fallback; a type that fails both is logged and skipped.
type Aggregator struct {
	Primary  Strategy
	Fallback Strategy
}

// NewAggregator returns the search-then-association-walk aggregator.
func NewAggregator(client hubspot.Client, chunkSize int) *Aggregator {
	return &Aggregator{
		Primary:  &SearchStrategy{Client: client},
		Fallback: &AssociationWalkStrategy{Client: client, ChunkSize: chunkSize},
	}
}

// DealEngagements returns every engagement type merged and sorted newest
// first. Only context cancellation is returned as an error.
func (a *Aggregator) DealEngagements(ctx context.Context, dealID string) ([]model.Engagement, error) {
	var (
		mu  sync.Mutex
		all []model.Engagement
	)

	var g errgroup.Group
	for _, t := range model.EngagementTypes {
		g.Go(func() error {
			items := a.fetchType(ctx, dealID, t)
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	SortEngagements(all)
	if all == nil {
		all = []model.Engagement{}
	}
	return all, nil
}

func (a *Aggregator) fetchType(ctx context.Context, dealID string, t model.EngagementType) []model.Engagement {
	log := zap.L().With(zap.String("deal_id", dealID), zap.String("engagement_type", string(t)))

	records, err := a.Primary.Fetch(ctx, dealID, t)
	if err != nil && a.Fallback != nil && ctx.Err() == nil {
		log.Debug("primary engagement strategy failed, falling back",
			zap.String("strategy", a.Primary.Name()),
			zap.Error(err),
		)
		records, err = a.Fallback.Fetch(ctx, dealID, t)
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("engagement type skipped", zap.Error(err))
		}
		return nil
	}

	out := make([]model.Engagement, 0, len(records))
	for _, r := range records {
		if e, ok := NormalizeEngagement(r, t); ok {
			out = append(out, e)
		}
	}
	return out
}

// SortEngagements orders newest first; equal timestamps order by id.
func SortEngagements(es []model.Engagement) {
	slices.SortFunc(es, func(a, b model.Engagement) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// NormalizeEngagement converts a raw record. It reports false when the
// record has no usable timestamp.
func NormalizeEngagement(obj hubspot.Object, t model.EngagementType) (model.Engagement, bool) {
	p := obj.Properties
	ts, ok := engagementTimestamp(p, t)
	if !ok {
		return model.Engagement{}, false
	}

	e := model.Engagement{ID: obj.ID, Type: t, Timestamp: ts}
	switch t {
	case model.EngagementEmail:
		e.Subject = prop(p, "hs_email_subject")
		e.Body = prop(p, "hs_email_text")
		if e.Body == nil {
			e.Body = prop(p, "hs_body_preview")
		}
		e.Direction = prop(p, "hs_email_direction")
		e.Status = prop(p, "hs_email_status")
	case model.EngagementCall:
		e.Subject = prop(p, "hs_call_title")
		e.Body = prop(p, "hs_call_body")
		e.Direction = prop(p, "hs_call_direction")
		e.Status = prop(p, "hs_call_status")
		e.Outcome = prop(p, "hs_call_disposition")
		e.Duration = callDuration(p.Get("hs_call_duration"))
	case model.EngagementMeeting:
		e.Subject = prop(p, "hs_meeting_title")
		e.Body = prop(p, "hs_meeting_body")
		e.Outcome = prop(p, "hs_meeting_outcome")
		e.Duration = meetingDuration(p.Get("hs_meeting_start_time"), p.Get("hs_meeting_end_time"))
	case model.EngagementNote:
		e.Body = prop(p, "hs_note_body")
	case model.EngagementTask:
		e.Subject = prop(p, "hs_task_subject")
		e.Body = prop(p, "hs_task_body")
		e.Status = prop(p, "hs_task_status")
	}
	return e, true
}

// engagementTimestamp prefers hs_timestamp, then the meeting start for
// meetings, then the creation date, then any meeting start.
func engagementTimestamp(p hubspot.Properties, t model.EngagementType) (time.Time, bool) {
	candidates := []string{"hs_timestamp"}
	if t == model.EngagementMeeting {
		candidates = append(candidates, "hs_meeting_start_time", "hs_createdate")
	} else {
		candidates = append(candidates, "hs_createdate", "hs_meeting_start_time")
	}
	for _, key := range candidates {
		if ts, ok := parseCRMTime(strings.TrimSpace(p.Get(key))); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// callDuration converts hs_call_duration (milliseconds) to seconds.
func callDuration(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return nil
	}
	secs := int64(math.Round(ms / 1000))
	return &secs
}

func meetingDuration(startRaw, endRaw string) *int64 {
	start, ok := parseCRMTime(strings.TrimSpace(startRaw))
	if !ok {
		return nil
	}
	end, ok := parseCRMTime(strings.TrimSpace(endRaw))
	if !ok || end.Before(start) {
		return nil
	}
	secs := int64(end.Sub(start) / time.Second)
	return &secs
}

func prop(p hubspot.Properties, key string) *string {
	return optional(p.Get(key))
}
