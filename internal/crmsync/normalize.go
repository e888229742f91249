package crmsync

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

const (
	untitledDeal   = "Untitled Deal"
	unknownLabel   = "Unknown"
	unknownCompany = "Unknown Company"
)

var lastActivityProps = []string{
	PropLastSalesActivity,
	PropLatestMeeting,
	PropLastEmailReply,
	PropNotesLastUpdated,
}

// Normalize joins a raw deal with the catalog and resolved references. It
// performs no I/O.
func Normalize(deal hubspot.Deal, cat *Catalog, refs *References) model.Deal {
	if refs == nil {
		refs = &References{}
	}
	props := deal.Properties

	out := model.Deal{
		HubSpotID:  deal.ID,
		Name:       strings.TrimSpace(props.Get("dealname")),
		PipelineID: props.Get("pipeline"),
		Amount:     parseAmount(props.Get("amount")),
		CloseDate:  optional(props.Get("closedate")),
		Properties: copyProperties(props),
		Companies:  []model.DealCompany{},
		Contacts:   []model.DealContact{},
	}
	if out.Name == "" {
		out.Name = untitledDeal
	}
	out.PipelineName = cat.PipelineLabel(out.PipelineID)

	stageID := props.Get("dealstage")
	out.StageID = stageID
	if info, ok := cat.Stage(stageID); ok {
		out.Stage = info.Stage
		out.StageLabel = info.Label
	} else {
		out.Stage = model.StageQualified
		out.StageLabel = unknownLabel
	}

	if id := ownerID(&deal); id != "" {
		out.OwnerID = &id
		if owner, ok := refs.Owners[id]; ok && owner != nil {
			name := ownerName(owner)
			out.OwnerName = &name
		}
	}

	for i, id := range deal.AssociatedIDs(hubspot.ObjectCompanies) {
		c, ok := refs.Companies[id]
		if !ok || c == nil {
			continue
		}
		dc := model.DealCompany{
			ID:       id,
			Name:     companyName(c),
			Domain:   c.Properties.Get("domain"),
			Industry: c.Properties.Get("industry"),
		}
		out.Companies = append(out.Companies, dc)
		// Only the first listed company can be primary.
		if i == 0 {
			out.CompanyID = &dc.ID
			out.CompanyName = &dc.Name
		}
	}

	for _, id := range deal.AssociatedIDs(hubspot.ObjectContacts) {
		c, ok := refs.Contacts[id]
		if !ok || c == nil {
			continue
		}
		out.Contacts = append(out.Contacts, model.DealContact{
			ID:       id,
			Name:     contactName(c),
			Email:    c.Properties.Get("email"),
			Phone:    c.Properties.Get("phone"),
			JobTitle: c.Properties.Get("jobtitle"),
		})
	}

	out.LastEngagementDate = lastEngagementDate(props)
	return out
}

func ownerName(o *hubspot.Owner) string {
	if name := strings.TrimSpace(o.FirstName + " " + o.LastName); name != "" {
		return name
	}
	if o.Email != "" {
		return o.Email
	}
	return unknownLabel
}

func companyName(c *hubspot.Company) string {
	if name := strings.TrimSpace(c.Properties.Get("name")); name != "" {
		return name
	}
	return unknownCompany
}

func contactName(c *hubspot.Contact) string {
	p := c.Properties
	if name := strings.TrimSpace(p.Get("firstname") + " " + p.Get("lastname")); name != "" {
		return name
	}
	if email := p.Get("email"); email != "" {
		return email
	}
	return unknownLabel
}

// parseAmount returns nil for absent, non-numeric or non-finite values.
func parseAmount(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// lastEngagementDate returns the original string of the latest parseable
// activity property, or nil when none parse.
func lastEngagementDate(props hubspot.Properties) *string {
	var (
		best    time.Time
		bestRaw string
		found   bool
	)
	for _, key := range lastActivityProps {
		raw := strings.TrimSpace(props.Get(key))
		t, ok := parseCRMTime(raw)
		if !ok {
			continue
		}
		if !found || t.After(best) {
			best, bestRaw, found = t, raw, true
		}
	}
	if !found {
		return nil
	}
	return &bestRaw
}

// parseCRMTime accepts the timestamp encodings HubSpot uses for datetime and
// date properties: RFC 3339 (with or without fractional seconds), a bare
// date, or epoch milliseconds.
func parseCRMTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func copyProperties(p hubspot.Properties) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
