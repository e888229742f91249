package hubspot

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Object type names used in CRM paths.
const (
	ObjectDeals     = "deals"
	ObjectCompanies = "companies"
	ObjectContacts  = "contacts"
	ObjectEmails    = "emails"
	ObjectCalls     = "calls"
	ObjectMeetings  = "meetings"
	ObjectNotes     = "notes"
	ObjectTasks     = "tasks"
)

// Properties holds a CRM record's property values. HubSpot sends every value
// as a string; null values decode as "".
type Properties map[string]string

// Get returns the value for key, or "" when absent.
func (p Properties) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// Object is a generic CRM record.
type Object struct {
	ID           string                     `json:"id"`
	Properties   Properties                 `json:"properties"`
	Associations map[string]AssociationList `json:"associations,omitempty"`
	CreatedAt    *time.Time                 `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time                 `json:"updatedAt,omitempty"`
	Archived     bool                       `json:"archived,omitempty"`
}

// AssociationList is the inline association block returned when a read asks
// for associations=....
type AssociationList struct {
	Results []AssociationRef `json:"results"`
	Paging  *Paging          `json:"paging,omitempty"`
}

// AssociationRef is one inline association.
type AssociationRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AssociatedIDs returns the ids associated under toType, in response order,
// without duplicates. HubSpot can list the same id twice with different
// association types (e.g. deal_to_company and deal_to_company_unlabeled).
func (o *Object) AssociatedIDs(toType string) []string {
	list, ok := o.Associations[toType]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(list.Results))
	ids := make([]string, 0, len(list.Results))
	for _, r := range list.Results {
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}
	return ids
}

// AssociatedDealIDs returns the deals associated with the record.
func (o *Object) AssociatedDealIDs() []string {
	return o.AssociatedIDs(ObjectDeals)
}

// Deal is a CRM deal record.
type Deal struct {
	Object
}

// Company is a CRM company record.
type Company struct {
	Object
}

// Contact is a CRM contact record.
type Contact struct {
	Object
}

// Owner is a HubSpot user who can own records.
type Owner struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserID    int64  `json:"userId,omitempty"`
	Archived  bool   `json:"archived,omitempty"`
}

// Pipeline is a deal (or ticket) pipeline definition.
type Pipeline struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	DisplayOrder int             `json:"displayOrder"`
	Stages       []PipelineStage `json:"stages"`
	Archived     bool            `json:"archived,omitempty"`
}

// PipelineStage is one stage of a pipeline.
type PipelineStage struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	DisplayOrder int               `json:"displayOrder"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Archived     bool              `json:"archived,omitempty"`
}

// AccountDetails is the portal summary from /account-info/v3/details.
type AccountDetails struct {
	PortalID        int64  `json:"portalId"`
	TimeZone        string `json:"timeZone,omitempty"`
	CompanyCurrency string `json:"companyCurrency,omitempty"`
	UIDomain        string `json:"uiDomain,omitempty"`
}

// Paging carries the cursor to the next page, if any.
type Paging struct {
	Next *PagingNext `json:"next,omitempty"`
}

// PagingNext is the continuation cursor.
type PagingNext struct {
	After string `json:"after"`
	Link  string `json:"link,omitempty"`
}

// NextAfter returns the continuation cursor, or "" on the last page.
func (p *Paging) NextAfter() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

// ListDealsParams are the query parameters of the deal list endpoint.
type ListDealsParams struct {
	Limit        int
	After        string
	Properties   []string
	Associations []string
}

// DealPage is one page of the deal list.
type DealPage struct {
	Results   []Deal
	NextAfter string
}

// SearchRequest is the body of a CRM search.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups,omitempty"`
	Sorts        []Sort        `json:"sorts,omitempty"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	After        string        `json:"after,omitempty"`
}

// FilterGroup is ANDed filters; groups are ORed.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Filter is one search predicate.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
}

// Sort orders search results.
type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
	Paging  *Paging  `json:"paging,omitempty"`
}

// ObjectID is a v4 association target id. HubSpot sends it as a JSON number;
// some proxies re-encode it as a string.
type ObjectID string

// UnmarshalJSON accepts either a number or a string.
func (id *ObjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ObjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ObjectID(n.String())
	return nil
}

// Association is one v4 association result.
type Association struct {
	ToObjectID       ObjectID          `json:"toObjectId"`
	AssociationTypes []AssociationType `json:"associationTypes"`
}

// AssociationType labels an association.
type AssociationType struct {
	Category string `json:"category"`
	TypeID   int    `json:"typeId"`
	Label    string `json:"label,omitempty"`
}

type associationsResponse struct {
	Results []Association `json:"results"`
	Paging  *Paging       `json:"paging,omitempty"`
}

// CreateRequest is the body of an object create.
type CreateRequest struct {
	Properties   map[string]string   `json:"properties"`
	Associations []CreateAssociation `json:"associations,omitempty"`
}

// CreateAssociation associates a new object with an existing record.
type CreateAssociation struct {
	To    AssociationTarget `json:"to"`
	Types []AssociationSpec `json:"types"`
}

// AssociationTarget identifies the existing record.
type AssociationTarget struct {
	ID string `json:"id"`
}

// AssociationSpec is a category + type id pair.
type AssociationSpec struct {
	Category string `json:"associationCategory"`
	TypeID   int    `json:"associationTypeId"`
}

// FormatEpochMillis renders t the way HubSpot expects datetime properties.
func FormatEpochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
