package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a HubSpot deal pipeline into the store",
	Long:  "Fetches every deal in the pipeline, resolves companies, contacts and owners, and upserts the normalized deals keyed by HubSpot id. Without --pipeline the saved pipeline is used, falling back to the portal's first pipeline.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		pipelineID, _ := cmd.Flags().GetString("pipeline")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if pipelineID == "" {
			pipelineID = cfg.Sync.PipelineID
		}

		client, err := initHubSpot()
		if err != nil {
			return err
		}

		var progress func(pages, kept int)
		if !quiet {
			progress = func(pages, kept int) {
				fmt.Fprintf(os.Stderr, "\rpage %d: %d deals", pages, kept)
			}
		}
		syncer, err := initSyncer(client, progress)
		if err != nil {
			return err
		}

		if dryRun {
			if pipelineID == "" {
				return eris.New("sync: --dry-run requires --pipeline or sync.pipeline_id")
			}
			deals, err := syncer.SyncDeals(ctx, pipelineID)
			if err != nil {
				return eris.Wrap(err, "sync")
			}
			if !quiet {
				fmt.Fprintln(os.Stderr)
			}
			formatDealsList(cmd.OutOrStdout(), deals)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d deals (dry run, nothing stored)\n", len(deals))
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := syncer.Run(ctx, st, pipelineID)
		if !quiet {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		r := report.Result
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s: %d fetched, %d created, %d updated, %d failed (run %s)\n",
			report.PipelineID, r.Fetched, r.Created, r.Updated, r.Failed, truncateID(report.RunID))
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListSyncRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No sync runs found.")
			return nil
		}
		formatSyncRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("pipeline", "", "HubSpot pipeline id (default: saved or first pipeline)")
	syncCmd.Flags().Bool("dry-run", false, "fetch and normalize without writing to the store")
	syncCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")

	runsCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsCmd.Flags().Bool("json", false, "print JSON")

	rootCmd.AddCommand(syncCmd, runsCmd)
}
