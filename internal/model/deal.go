package model

import "time"

// DealStage is the application's canonical deal stage, independent of any
// CRM's stage vocabulary.
type DealStage string

const (
	StageQualified   DealStage = "qualified"
	StageDiscovery   DealStage = "discovery"
	StageDemo        DealStage = "demo"
	StageProposal    DealStage = "proposal"
	StageNegotiation DealStage = "negotiation"
	StageClosedWon   DealStage = "closed_won"
	StageClosedLost  DealStage = "closed_lost"
)

// AllStages lists the canonical stages in funnel order.
var AllStages = []DealStage{
	StageQualified,
	StageDiscovery,
	StageDemo,
	StageProposal,
	StageNegotiation,
	StageClosedWon,
	StageClosedLost,
}

// Valid reports whether s is one of the canonical stages.
func (s DealStage) Valid() bool {
	for _, st := range AllStages {
		if s == st {
			return true
		}
	}
	return false
}

// Deal is a normalized CRM deal, denormalized for display.
type Deal struct {
	ID         string    `json:"id,omitempty"`
	HubSpotID  string    `json:"hubspot_id"`
	Name       string    `json:"name"`
	Stage      DealStage `json:"stage"`
	StageID    string    `json:"stage_id"`
	StageLabel string    `json:"stage_label"`

	PipelineID   string `json:"pipeline_id"`
	PipelineName string `json:"pipeline_name,omitempty"`

	Amount    *float64 `json:"amount"`
	CloseDate *string  `json:"close_date"`

	OwnerID   *string `json:"owner_id"`
	OwnerName *string `json:"owner_name"`

	// CompanyID and CompanyName describe the primary (first resolved) company.
	CompanyID   *string       `json:"company_id"`
	CompanyName *string       `json:"company_name"`
	Companies   []DealCompany `json:"companies"`
	Contacts    []DealContact `json:"contacts"`

	LastEngagementDate *string           `json:"last_engagement_date"`
	Properties         map[string]string `json:"properties"`

	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// DealCompany is a company associated with a deal.
type DealCompany struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// DealContact is a contact associated with a deal.
type DealContact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	JobTitle string `json:"job_title,omitempty"`
}

// Sort keys accepted by DealFilter.SortBy.
const (
	SortByName      = "name"
	SortByAmount    = "amount"
	SortByCloseDate = "close_date"
	SortByUpdatedAt = "updated_at"
)

// DealFilter selects and pages persisted deals.
type DealFilter struct {
	Stage      DealStage
	PipelineID string
	// Search matches name or company name, case-insensitively.
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

const (
	DefaultDealLimit = 25
	MaxDealLimit     = 100
)

// Normalize fills defaults and clamps paging values.
func (f DealFilter) Normalize() DealFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultDealLimit
	}
	if f.Limit > MaxDealLimit {
		f.Limit = MaxDealLimit
	}
	switch f.SortBy {
	case SortByName, SortByAmount, SortByCloseDate, SortByUpdatedAt:
	default:
		f.SortBy = SortByUpdatedAt
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	return f
}

// Offset returns the row offset of the filter's page.
func (f DealFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// DealPage is one page of persisted deals.
type DealPage struct {
	Deals      []Deal `json:"deals"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalPages int    `json:"total_pages"`
}

// NewDealPage builds a page, computing TotalPages from total and f.Limit.
func NewDealPage(deals []Deal, total int, f DealFilter) DealPage {
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	if deals == nil {
		deals = []Deal{}
	}
	return DealPage{Deals: deals, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: pages}
}

// DealStats summarizes persisted deals.
type DealStats struct {
	Total      int               `json:"total"`
	ByStage    map[DealStage]int `json:"by_stage"`
	TotalValue float64           `json:"total_value"`
}

// NewDealStats returns stats with every canonical stage present at zero.
func NewDealStats() DealStats {
	by := make(map[DealStage]int, len(AllStages))
	for _, s := range AllStages {
		by[s] = 0
	}
	return DealStats{ByStage: by}
}

// PipelineRef names a pipeline seen among persisted deals.
type PipelineRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
