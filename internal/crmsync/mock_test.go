package crmsync

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/deal-sync/pkg/hubspot"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ListDeals(ctx context.Context, params hubspot.ListDealsParams) (*hubspot.DealPage, error) {
	args := m.Called(ctx, params)
	page, _ := args.Get(0).(*hubspot.DealPage)
	return page, args.Error(1)
}

func (m *mockClient) GetCompany(ctx context.Context, id string) (*hubspot.Company, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*hubspot.Company)
	return c, args.Error(1)
}

func (m *mockClient) GetContact(ctx context.Context, id string) (*hubspot.Contact, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*hubspot.Contact)
	return c, args.Error(1)
}

func (m *mockClient) GetOwner(ctx context.Context, id string) (*hubspot.Owner, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*hubspot.Owner)
	return o, args.Error(1)
}

func (m *mockClient) ListPipelines(ctx context.Context, objectType string) ([]hubspot.Pipeline, error) {
	args := m.Called(ctx, objectType)
	p, _ := args.Get(0).([]hubspot.Pipeline)
	return p, args.Error(1)
}

func (m *mockClient) GetAccountDetails(ctx context.Context) (*hubspot.AccountDetails, error) {
	args := m.Called(ctx)
	d, _ := args.Get(0).(*hubspot.AccountDetails)
	return d, args.Error(1)
}

func (m *mockClient) SearchObjects(ctx context.Context, objectType string, req hubspot.SearchRequest) (*hubspot.SearchResponse, error) {
	args := m.Called(ctx, objectType, req)
	r, _ := args.Get(0).(*hubspot.SearchResponse)
	return r, args.Error(1)
}

func (m *mockClient) GetObject(ctx context.Context, objectType, id string, properties []string) (*hubspot.Object, error) {
	args := m.Called(ctx, objectType, id, properties)
	o, _ := args.Get(0).(*hubspot.Object)
	return o, args.Error(1)
}

func (m *mockClient) ListAssociations(ctx context.Context, fromType, fromID, toType string) ([]hubspot.Association, error) {
	args := m.Called(ctx, fromType, fromID, toType)
	a, _ := args.Get(0).([]hubspot.Association)
	return a, args.Error(1)
}

func (m *mockClient) CreateObject(ctx context.Context, objectType string, req hubspot.CreateRequest) (*hubspot.Object, error) {
	args := m.Called(ctx, objectType, req)
	o, _ := args.Get(0).(*hubspot.Object)
	return o, args.Error(1)
}
