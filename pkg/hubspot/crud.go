package hubspot

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// HubSpot-defined association type ids for engagements created from the
// sales platform.
var (
	taskAssociationTypes = map[string]int{"deal": 216, "contact": 204, "company": 192}
	noteAssociationTypes = map[string]int{"deal": 214, "contact": 202, "company": 190}
)

// Task priorities accepted by HubSpot.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// TaskInput describes a task to create against a deal, contact or company.
type TaskInput struct {
	Subject string
	Body    string
	// DueDate defaults to now when zero.
	DueDate  time.Time
	Priority string
	// AssociatedObjectType is "deal", "contact" or "company".
	AssociatedObjectType string
	AssociatedObjectID   string
}

// NoteInput describes a note to attach to a deal, contact or company.
type NoteInput struct {
	Body                 string
	AssociatedObjectType string
	AssociatedObjectID   string
	// Timestamp defaults to now when zero.
	Timestamp time.Time
}

// CreateTask creates a task and returns its id.
func CreateTask(ctx context.Context, c Client, in TaskInput) (string, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return "", eris.New("hubspot: task subject is required")
	}
	assoc, err := engagementAssociation(taskAssociationTypes, in.AssociatedObjectType, in.AssociatedObjectID)
	if err != nil {
		return "", err
	}

	due := in.DueDate
	if due.IsZero() {
		due = time.Now()
	}
	priority := strings.ToUpper(in.Priority)
	if priority == "" {
		priority = PriorityMedium
	}
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return "", eris.Errorf("hubspot: invalid task priority %q", in.Priority)
	}

	props := map[string]string{
		"hs_task_subject":  in.Subject,
		"hs_task_status":   "NOT_STARTED",
		"hs_task_priority": priority,
		"hs_timestamp":     FormatEpochMillis(due),
	}
	if in.Body != "" {
		props["hs_task_body"] = in.Body
	}

	obj, err := c.CreateObject(ctx, ObjectTasks, CreateRequest{
		Properties:   props,
		Associations: []CreateAssociation{assoc},
	})
	if err != nil {
		return "", eris.Wrap(err, "hubspot: create task")
	}
	return obj.ID, nil
}

// CreateNote creates a note and returns its id.
func CreateNote(ctx context.Context, c Client, in NoteInput) (string, error) {
	if strings.TrimSpace(in.Body) == "" {
		return "", eris.New("hubspot: note body is required")
	}
	assoc, err := engagementAssociation(noteAssociationTypes, in.AssociatedObjectType, in.AssociatedObjectID)
	if err != nil {
		return "", err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	obj, err := c.CreateObject(ctx, ObjectNotes, CreateRequest{
		Properties: map[string]string{
			"hs_note_body": in.Body,
			"hs_timestamp": FormatEpochMillis(ts),
		},
		Associations: []CreateAssociation{assoc},
	})
	if err != nil {
		return "", eris.Wrap(err, "hubspot: create note")
	}
	return obj.ID, nil
}

func engagementAssociation(types map[string]int, objectType, objectID string) (CreateAssociation, error) {
	typeID, ok := types[strings.ToLower(objectType)]
	if !ok {
		return CreateAssociation{}, eris.Errorf("hubspot: unsupported association object type %q", objectType)
	}
	if objectID == "" {
		return CreateAssociation{}, eris.New("hubspot: associated object id is required")
	}
	return CreateAssociation{
		To:    AssociationTarget{ID: objectID},
		Types: []AssociationSpec{{Category: "HUBSPOT_DEFINED", TypeID: typeID}},
	}, nil
}
