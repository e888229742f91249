package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// DealFinder looks up synced deals by HubSpot id.
type DealFinder interface {
	FindDealByHubSpotID(ctx context.Context, hubspotID string) (*model.Deal, error)
}

// contactView is a HubSpot contact with the first of its deals that has
// been synced.
type contactView struct {
	Contact struct {
		HubSpotID string  `json:"hubspot_id"`
		FirstName string  `json:"first_name"`
		LastName  string  `json:"last_name"`
		Email     *string `json:"email"`
		Phone     *string `json:"phone"`
		Company   *string `json:"company"`
		JobTitle  *string `json:"job_title"`
	} `json:"contact"`
	AssociatedDeal *model.Deal `json:"associated_deal"`
}

// companyView is a HubSpot company with the first of its deals that has
// been synced.
type companyView struct {
	Company struct {
		HubSpotID string  `json:"hubspot_id"`
		Name      string  `json:"name"`
		Domain    *string `json:"domain"`
		Industry  *string `json:"industry"`
		City      *string `json:"city"`
		Country   *string `json:"country"`
	} `json:"company"`
	AssociatedDeal *model.Deal `json:"associated_deal"`
}

func lookupContact(ctx context.Context, client hubspot.Client, deals DealFinder, id string) (*contactView, error) {
	c, err := client.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &contactView{}
	p := c.Properties
	v.Contact.HubSpotID = c.ID
	v.Contact.FirstName = p.Get("firstname")
	v.Contact.LastName = p.Get("lastname")
	v.Contact.Email = optionalProp(p, "email")
	v.Contact.Phone = optionalProp(p, "phone")
	v.Contact.Company = optionalProp(p, "company")
	v.Contact.JobTitle = optionalProp(p, "jobtitle")

	v.AssociatedDeal, err = firstSyncedDeal(ctx, deals, c.AssociatedDealIDs())
	if err != nil {
		return nil, err
	}
	return v, nil
}

func lookupCompany(ctx context.Context, client hubspot.Client, deals DealFinder, id string) (*companyView, error) {
	c, err := client.GetCompany(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &companyView{}
	p := c.Properties
	v.Company.HubSpotID = c.ID
	v.Company.Name = p.Get("name")
	v.Company.Domain = optionalProp(p, "domain")
	v.Company.Industry = optionalProp(p, "industry")
	v.Company.City = optionalProp(p, "city")
	v.Company.Country = optionalProp(p, "country")

	v.AssociatedDeal, err = firstSyncedDeal(ctx, deals, c.AssociatedDealIDs())
	if err != nil {
		return nil, err
	}
	return v, nil
}

// firstSyncedDeal returns the first of ids present in the store, or nil.
func firstSyncedDeal(ctx context.Context, deals DealFinder, ids []string) (*model.Deal, error) {
	for _, id := range ids {
		d, err := deals.FindDealByHubSpotID(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "find synced deal %s", id)
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

func optionalProp(p hubspot.Properties, key string) *string {
	v := p.Get(key)
	if v == "" {
		return nil
	}
	return &v
}
