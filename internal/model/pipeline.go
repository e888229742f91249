package model

// Pipeline is a CRM deal pipeline with its stages mapped onto canonical
// stages.
type Pipeline struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	DisplayOrder int             `json:"display_order"`
	Stages       []PipelineStage `json:"stages"`
}

// PipelineStage is one CRM stage and the canonical stage it maps to.
type PipelineStage struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	DisplayOrder   int       `json:"display_order"`
	CanonicalStage DealStage `json:"canonical_stage"`
}

// HubSpotConfig is the persisted portal/pipeline selection.
type HubSpotConfig struct {
	PortalID     int64  `json:"portal_id"`
	PipelineID   string `json:"pipeline_id"`
	PipelineName string `json:"pipeline_name"`
}
