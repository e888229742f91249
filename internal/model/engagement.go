package model

import "time"

// EngagementType discriminates activity records.
type EngagementType string

const (
	EngagementEmail   EngagementType = "email"
	EngagementCall    EngagementType = "call"
	EngagementMeeting EngagementType = "meeting"
	EngagementNote    EngagementType = "note"
	EngagementTask    EngagementType = "task"
)

// EngagementTypes lists every engagement type.
var EngagementTypes = []EngagementType{
	EngagementEmail,
	EngagementCall,
	EngagementMeeting,
	EngagementNote,
	EngagementTask,
}

// Engagement is one normalized activity on a deal's timeline. Fields that do
// not apply to the engagement's type are nil.
type Engagement struct {
	ID        string         `json:"id"`
	Type      EngagementType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   *string        `json:"subject,omitempty"`
	Body      *string        `json:"body,omitempty"`
	Direction *string        `json:"direction,omitempty"`
	Status    *string        `json:"status,omitempty"`
	// Duration is in seconds.
	Duration *int64  `json:"duration,omitempty"`
	Outcome  *string `json:"outcome,omitempty"`
}
