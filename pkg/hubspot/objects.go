package hubspot

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CompanyProperties are read for every company lookup.
var CompanyProperties = []string{"name", "domain", "industry", "city", "country"}

// ContactProperties are read for every contact lookup.
var ContactProperties = []string{"firstname", "lastname", "email", "phone", "company", "jobtitle"}

type listResponse struct {
	Results []Deal  `json:"results"`
	Paging  *Paging `json:"paging,omitempty"`
}

func (c *httpClient) ListDeals(ctx context.Context, params ListDealsParams) (*DealPage, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if len(params.Properties) > 0 {
		q.Set("properties", strings.Join(params.Properties, ","))
	}
	if len(params.Associations) > 0 {
		q.Set("associations", strings.Join(params.Associations, ","))
	}
	if params.After != "" {
		q.Set("after", params.After)
	}

	var resp listResponse
	if err := c.request(ctx, http.MethodGet, "/crm/v3/objects/deals", q, nil, &resp); err != nil {
		return nil, err
	}
	return &DealPage{Results: resp.Results, NextAfter: resp.Paging.NextAfter()}, nil
}

func (c *httpClient) GetCompany(ctx context.Context, id string) (*Company, error) {
	var company Company
	if err := c.getRecord(ctx, ObjectCompanies, id, CompanyProperties, &company); err != nil {
		return nil, err
	}
	return &company, nil
}

func (c *httpClient) GetContact(ctx context.Context, id string) (*Contact, error) {
	var contact Contact
	if err := c.getRecord(ctx, ObjectContacts, id, ContactProperties, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (c *httpClient) getRecord(ctx context.Context, objectType, id string, properties []string, out any) error {
	q := url.Values{}
	q.Set("properties", strings.Join(properties, ","))
	q.Set("associations", ObjectDeals)
	return c.request(ctx, http.MethodGet, objectPath(objectType, id), q, nil, out)
}

func (c *httpClient) GetOwner(ctx context.Context, id string) (*Owner, error) {
	var owner Owner
	if err := c.request(ctx, http.MethodGet, "/crm/v3/owners/"+url.PathEscape(id), nil, nil, &owner); err != nil {
		return nil, err
	}
	return &owner, nil
}

func (c *httpClient) ListPipelines(ctx context.Context, objectType string) ([]Pipeline, error) {
	var resp struct {
		Results []Pipeline `json:"results"`
	}
	if err := c.request(ctx, http.MethodGet, "/crm/v3/pipelines/"+url.PathEscape(objectType), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *httpClient) GetAccountDetails(ctx context.Context) (*AccountDetails, error) {
	var details AccountDetails
	if err := c.request(ctx, http.MethodGet, "/account-info/v3/details", nil, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *httpClient) SearchObjects(ctx context.Context, objectType string, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.request(ctx, http.MethodPost, "/crm/v3/objects/"+url.PathEscape(objectType)+"/search", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) GetObject(ctx context.Context, objectType, id string, properties []string) (*Object, error) {
	var q url.Values
	if len(properties) > 0 {
		q = url.Values{}
		q.Set("properties", strings.Join(properties, ","))
	}
	var obj Object
	if err := c.request(ctx, http.MethodGet, objectPath(objectType, id), q, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// maxAssociationPages bounds the v4 association walk.
const maxAssociationPages = 50

func (c *httpClient) ListAssociations(ctx context.Context, fromType, fromID, toType string) ([]Association, error) {
	path := "/crm/v4/objects/" + url.PathEscape(fromType) + "/" + url.PathEscape(fromID) +
		"/associations/" + url.PathEscape(toType)

	var all []Association
	after := ""
	for page := 0; page < maxAssociationPages; page++ {
		q := url.Values{}
		q.Set("limit", "500")
		if after != "" {
			q.Set("after", after)
		}

		var resp associationsResponse
		if err := c.request(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)

		after = resp.Paging.NextAfter()
		if after == "" {
			return all, nil
		}
	}
	return nil, eris.Errorf("hubspot: %s/%s associations to %s exceeded %d pages", fromType, fromID, toType, maxAssociationPages)
}

func (c *httpClient) CreateObject(ctx context.Context, objectType string, req CreateRequest) (*Object, error) {
	var obj Object
	if err := c.request(ctx, http.MethodPost, "/crm/v3/objects/"+url.PathEscape(objectType), nil, req, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func objectPath(objectType, id string) string {
	return "/crm/v3/objects/" + url.PathEscape(objectType) + "/" + url.PathEscape(id)
}
