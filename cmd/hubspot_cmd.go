package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-sync/pkg/hubspot"
)

var hubspotCmd = &cobra.Command{
	Use:   "hubspot",
	Short: "Look up and annotate HubSpot records",
}

var hubspotContactCmd = &cobra.Command{
	Use:   "contact <hubspot-id>",
	Short: "Show a contact and its synced deal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := initHubSpot()
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		v, err := lookupContact(ctx, client, st, args[0])
		if err != nil {
			return eris.Wrap(err, "hubspot contact")
		}
		return writeJSON(cmd.OutOrStdout(), v)
	},
}

var hubspotCompanyCmd = &cobra.Command{
	Use:   "company <hubspot-id>",
	Short: "Show a company and its synced deal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := initHubSpot()
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		v, err := lookupCompany(ctx, client, st, args[0])
		if err != nil {
			return eris.Wrap(err, "hubspot company")
		}
		return writeJSON(cmd.OutOrStdout(), v)
	},
}

var hubspotTaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create a task on a deal, contact or company",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		objType, _ := cmd.Flags().GetString("type")
		objID, _ := cmd.Flags().GetString("id")
		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")
		due, _ := cmd.Flags().GetString("due")
		priority, _ := cmd.Flags().GetString("priority")

		in := hubspot.TaskInput{
			Subject:              subject,
			Body:                 body,
			Priority:             priority,
			AssociatedObjectType: objType,
			AssociatedObjectID:   objID,
		}
		if due != "" {
			t, err := parseDueDate(due)
			if err != nil {
				return err
			}
			in.DueDate = t
		}

		client, err := initHubSpot()
		if err != nil {
			return err
		}
		id, err := hubspot.CreateTask(ctx, client, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", id)
		return nil
	},
}

var hubspotNoteCmd = &cobra.Command{
	Use:   "note",
	Short: "Attach a note to a deal, contact or company",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		objType, _ := cmd.Flags().GetString("type")
		objID, _ := cmd.Flags().GetString("id")
		body, _ := cmd.Flags().GetString("body")

		client, err := initHubSpot()
		if err != nil {
			return err
		}
		id, err := hubspot.CreateNote(ctx, client, hubspot.NoteInput{
			Body:                 body,
			AssociatedObjectType: objType,
			AssociatedObjectID:   objID,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created note %s\n", id)
		return nil
	},
}

// parseDueDate accepts RFC 3339 or a bare date.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, eris.Errorf("invalid due date %q (want RFC 3339 or YYYY-MM-DD)", s)
}

func init() {
	for _, c := range []*cobra.Command{hubspotTaskCmd, hubspotNoteCmd} {
		c.Flags().String("type", "deal", "associated object type: deal, contact or company")
		c.Flags().String("id", "", "associated object HubSpot id")
		_ = c.MarkFlagRequired("id")
	}
	hubspotTaskCmd.Flags().String("subject", "", "task subject")
	hubspotTaskCmd.Flags().String("body", "", "task body")
	hubspotTaskCmd.Flags().String("due", "", "due date (RFC 3339 or YYYY-MM-DD, default now)")
	hubspotTaskCmd.Flags().String("priority", hubspot.PriorityMedium, "LOW, MEDIUM or HIGH")
	_ = hubspotTaskCmd.MarkFlagRequired("subject")
	hubspotNoteCmd.Flags().String("body", "", "note body")
	_ = hubspotNoteCmd.MarkFlagRequired("body")

	hubspotCmd.AddCommand(hubspotContactCmd, hubspotCompanyCmd, hubspotTaskCmd, hubspotNoteCmd)
	rootCmd.AddCommand(hubspotCmd)
}
