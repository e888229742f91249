package crmsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// fakeCRM is an in-memory HubSpot portal that records per-kind concurrency.
type fakeCRM struct {
	hubspot.Client

	pipelines []hubspot.Pipeline
	deals     []hubspot.Deal
	pageSize  int
	portalID  int64

	companies map[string]*hubspot.Company
	contacts  map[string]*hubspot.Contact
	owners    map[string]*hubspot.Owner
	objects   map[string]*hubspot.Object // "type/id"
	assocs    map[string][]hubspot.Association
	searchErr map[string]error
	search    map[string][]hubspot.Object

	delay time.Duration

	mu          sync.Mutex
	inFlight    map[string]int
	maxInFlight map[string]int
	calls       map[string]int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		pageSize:    100,
		portalID:    4242,
		companies:   map[string]*hubspot.Company{},
		contacts:    map[string]*hubspot.Contact{},
		owners:      map[string]*hubspot.Owner{},
		objects:     map[string]*hubspot.Object{},
		assocs:      map[string][]hubspot.Association{},
		searchErr:   map[string]error{},
		search:      map[string][]hubspot.Object{},
		inFlight:    map[string]int{},
		maxInFlight: map[string]int{},
		calls:       map[string]int{},
	}
}

func (f *fakeCRM) enter(kind string) func() {
	f.mu.Lock()
	f.calls[kind]++
	f.inFlight[kind]++
	if f.inFlight[kind] > f.maxInFlight[kind] {
		f.maxInFlight[kind] = f.inFlight[kind]
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() {
		f.mu.Lock()
		f.inFlight[kind]--
		f.mu.Unlock()
	}
}

func (f *fakeCRM) callCount(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeCRM) peak(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight[kind]
}

func notFound() error {
	return &hubspot.APIError{StatusCode: 404, Message: "Object not found"}
}

func (f *fakeCRM) ListPipelines(_ context.Context, _ string) ([]hubspot.Pipeline, error) {
	defer f.enter("pipelines")()
	return f.pipelines, nil
}

func (f *fakeCRM) GetAccountDetails(_ context.Context) (*hubspot.AccountDetails, error) {
	return &hubspot.AccountDetails{PortalID: f.portalID}, nil
}

func (f *fakeCRM) ListDeals(_ context.Context, p hubspot.ListDealsParams) (*hubspot.DealPage, error) {
	defer f.enter("deals")()
	start := 0
	if p.After != "" {
		fmt.Sscanf(p.After, "%d", &start)
	}
	end := min(start+f.pageSize, len(f.deals))
	page := &hubspot.DealPage{Results: f.deals[start:end]}
	if end < len(f.deals) {
		page.NextAfter = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (f *fakeCRM) GetCompany(ctx context.Context, id string) (*hubspot.Company, error) {
	defer f.enter("company")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c, ok := f.companies[id]; ok {
		return c, nil
	}
	return nil, notFound()
}

func (f *fakeCRM) GetContact(ctx context.Context, id string) (*hubspot.Contact, error) {
	defer f.enter("contact")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c, ok := f.contacts[id]; ok {
		return c, nil
	}
	return nil, notFound()
}

func (f *fakeCRM) GetOwner(ctx context.Context, id string) (*hubspot.Owner, error) {
	defer f.enter("owner")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o, ok := f.owners[id]; ok {
		return o, nil
	}
	return nil, notFound()
}

func (f *fakeCRM) SearchObjects(_ context.Context, objectType string, _ hubspot.SearchRequest) (*hubspot.SearchResponse, error) {
	defer f.enter("search")()
	if err := f.searchErr[objectType]; err != nil {
		return nil, err
	}
	results := f.search[objectType]
	return &hubspot.SearchResponse{Total: len(results), Results: results}, nil
}

func (f *fakeCRM) ListAssociations(_ context.Context, _, fromID, toType string) ([]hubspot.Association, error) {
	defer f.enter("associations")()
	return f.assocs[fromID+"/"+toType], nil
}

func (f *fakeCRM) GetObject(_ context.Context, objectType, id string, _ []string) (*hubspot.Object, error) {
	defer f.enter("object")()
	if o, ok := f.objects[objectType+"/"+id]; ok {
		return o, nil
	}
	return nil, notFound()
}

// testDeal builds a raw deal in pipeline "default".
func testDeal(id string, props map[string]string, companies, contacts []string) hubspot.Deal {
	p := hubspot.Properties{"pipeline": "default", "dealname": "Deal " + id}
	for k, v := range props {
		p[k] = v
	}
	d := hubspot.Deal{Object: hubspot.Object{ID: id, Properties: p, Associations: map[string]hubspot.AssociationList{}}}
	if len(companies) > 0 {
		d.Associations[hubspot.ObjectCompanies] = assocList(companies)
	}
	if len(contacts) > 0 {
		d.Associations[hubspot.ObjectContacts] = assocList(contacts)
	}
	return d
}

func assocList(ids []string) hubspot.AssociationList {
	var l hubspot.AssociationList
	for _, id := range ids {
		l.Results = append(l.Results, hubspot.AssociationRef{ID: id, Type: "unlabeled"})
	}
	return l
}

func testPipelines() []hubspot.Pipeline {
	return []hubspot.Pipeline{
		{
			ID:    "default",
			Label: "Sales Pipeline",
			Stages: []hubspot.PipelineStage{
				{ID: "appointmentscheduled", Label: "Appointment Scheduled", DisplayOrder: 0},
				{ID: "qualifiedtobuy", Label: "Qualified To Buy", DisplayOrder: 1},
				{ID: "presentationscheduled", Label: "Presentation Scheduled", DisplayOrder: 2},
				{ID: "contractsent", Label: "Contract Sent", DisplayOrder: 3},
				{ID: "closedwon", Label: "Closed Won", DisplayOrder: 4},
				{ID: "closedlost", Label: "Closed Lost", DisplayOrder: 5},
			},
		},
		{
			ID:     "renewals",
			Label:  "Renewals",
			Stages: []hubspot.PipelineStage{{ID: "r1", Label: "Renewal Quote Sent"}},
		},
	}
}

// memRepo is an in-memory RunStore.
type memRepo struct {
	mu      sync.Mutex
	deals   map[string]model.Deal // by HubSpot id
	nextID  int
	config  *model.HubSpotConfig
	runs    map[string]*model.SyncRun
	findErr map[string]error

	completeErr    error
	completeCtxErr error // ctx.Err() seen by CompleteSyncRun
}

func newMemRepo() *memRepo {
	return &memRepo{deals: map[string]model.Deal{}, runs: map[string]*model.SyncRun{}, findErr: map[string]error{}}
}

func (r *memRepo) FindDealByHubSpotID(_ context.Context, hubspotID string) (*model.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.findErr[hubspotID]; err != nil {
		return nil, err
	}
	d, ok := r.deals[hubspotID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *memRepo) InsertDeal(_ context.Context, d *model.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = fmt.Sprintf("row-%d", r.nextID)
	r.deals[d.HubSpotID] = *d
	return nil
}

func (r *memRepo) UpdateDeal(_ context.Context, id string, d *model.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = id
	r.deals[d.HubSpotID] = *d
	return nil
}

func (r *memRepo) GetHubSpotConfig(_ context.Context) (*model.HubSpotConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config, nil
}

func (r *memRepo) SaveHubSpotConfig(_ context.Context, cfg model.HubSpotConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = &cfg
	return nil
}

func (r *memRepo) StartSyncRun(_ context.Context, pipelineID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("run-%d", len(r.runs)+1)
	r.runs[id] = &model.SyncRun{ID: id, PipelineID: pipelineID, Status: model.SyncStatusRunning}
	return id, nil
}

func (r *memRepo) CompleteSyncRun(ctx context.Context, id string, result model.SyncResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeCtxErr = ctx.Err()
	if r.completeErr != nil {
		return r.completeErr
	}
	r.runs[id].Status = model.SyncStatusComplete
	r.runs[id].Result = &result
	return nil
}

func (r *memRepo) FailSyncRun(_ context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id].Status = model.SyncStatusFailed
	r.runs[id].Error = errMsg
	return nil
}
