package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-sync/internal/model"
)

// pipelinesView is the pipelines listing with the owning portal.
type pipelinesView struct {
	PortalID  int64            `json:"portal_id"`
	Pipelines []model.Pipeline `json:"pipelines"`
}

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List HubSpot deal pipelines and their stage mapping",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := initHubSpot()
		if err != nil {
			return err
		}
		syncer, err := initSyncer(client, nil)
		if err != nil {
			return err
		}

		pipelines, err := syncer.Pipelines(ctx)
		if err != nil {
			return eris.Wrap(err, "pipelines")
		}
		portalID, err := syncer.PortalID(ctx)
		if err != nil {
			return eris.Wrap(err, "pipelines")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), pipelinesView{PortalID: portalID, Pipelines: pipelines})
		}
		formatPipelines(cmd.OutOrStdout(), portalID, pipelines)
		return nil
	},
}

var engagementsCmd = &cobra.Command{
	Use:   "engagements <deal-id>",
	Short: "Show a deal's activity timeline from HubSpot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := initHubSpot()
		if err != nil {
			return err
		}
		syncer, err := initSyncer(client, nil)
		if err != nil {
			return err
		}

		engagements, err := syncer.DealEngagements(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "engagements")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), engagements)
		}
		formatEngagements(cmd.OutOrStdout(), engagements)
		return nil
	},
}

func init() {
	pipelinesCmd.Flags().Bool("json", false, "print JSON")
	engagementsCmd.Flags().Bool("json", false, "print JSON")

	rootCmd.AddCommand(pipelinesCmd, engagementsCmd)
}
