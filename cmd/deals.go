package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-sync/internal/export"
	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/internal/store"
)

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "Inspect synced deals",
	Long:  "Commands for listing, summarizing, exporting and clearing the deals stored by sync.",
}

// -- deals list --

var dealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List synced deals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		filter, err := dealFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		page, err := st.ListDeals(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "deals list")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), page)
		}
		if len(page.Deals) == 0 {
			fmt.Fprintln(os.Stderr, "No deals found.")
			return nil
		}
		formatDealsList(cmd.OutOrStdout(), page.Deals)
		fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d of %d (%d deals)\n", page.Page, page.TotalPages, page.Total)
		return nil
	},
}

func dealFilterFromFlags(cmd *cobra.Command) (model.DealFilter, error) {
	stage, _ := cmd.Flags().GetString("stage")
	pipeline, _ := cmd.Flags().GetString("pipeline")
	search, _ := cmd.Flags().GetString("search")
	sortBy, _ := cmd.Flags().GetString("sort")
	order, _ := cmd.Flags().GetString("order")
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")

	if stage != "" && !model.DealStage(stage).Valid() {
		return model.DealFilter{}, eris.Errorf("deals list: unknown stage %q", stage)
	}
	return model.DealFilter{
		Stage:      model.DealStage(stage),
		PipelineID: pipeline,
		Search:     search,
		SortBy:     sortBy,
		SortOrder:  order,
		Page:       page,
		Limit:      limit,
	}.Normalize(), nil
}

// -- deals stats --

var dealsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show deal counts per stage and total value",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.DealStats(ctx)
		if err != nil {
			return eris.Wrap(err, "deals stats")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		formatStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

// -- deals export --

var dealsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export synced deals to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out, _ := cmd.Flags().GetString("out")

		filter, err := dealFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deals, err := allDeals(ctx, st, filter)
		if err != nil {
			return eris.Wrap(err, "deals export")
		}

		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return eris.Wrap(err, "deals export: create output dir")
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "deals export: create file")
		}
		if err := export.WriteDealsXLSX(f, deals); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "deals export: close file")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d deals to %s\n", len(deals), out)
		return nil
	},
}

// -- deals clear --

var dealsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every synced deal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return eris.New("deals clear: refusing to delete without --yes")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteAllDeals(ctx)
		if err != nil {
			return eris.Wrap(err, "deals clear")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d deals\n", n)
		return nil
	},
}

// allDeals pages through every deal matching filter.
func allDeals(ctx context.Context, st store.Store, filter model.DealFilter) ([]model.Deal, error) {
	filter.Limit = model.MaxDealLimit
	filter.Page = 1

	var deals []model.Deal
	for {
		page, err := st.ListDeals(ctx, filter)
		if err != nil {
			return nil, err
		}
		deals = append(deals, page.Deals...)
		if filter.Page >= page.TotalPages {
			return deals, nil
		}
		filter.Page++
	}
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("stage", "", "canonical stage (qualified, discovery, demo, proposal, negotiation, closed_won, closed_lost)")
	cmd.Flags().String("pipeline", "", "HubSpot pipeline id")
	cmd.Flags().String("search", "", "match deal or company name")
	cmd.Flags().String("sort", model.SortByUpdatedAt, "sort by name, amount, close_date or updated_at")
	cmd.Flags().String("order", "desc", "asc or desc")
}

func init() {
	addFilterFlags(dealsListCmd)
	dealsListCmd.Flags().Int("page", 1, "page number")
	dealsListCmd.Flags().Int("limit", model.DefaultDealLimit, "deals per page (max 100)")
	dealsListCmd.Flags().Bool("json", false, "print JSON")

	addFilterFlags(dealsExportCmd)
	dealsExportCmd.Flags().String("out", "deals.xlsx", "output xlsx path")

	dealsStatsCmd.Flags().Bool("json", false, "print JSON")
	dealsClearCmd.Flags().Bool("yes", false, "confirm deletion")

	dealsCmd.AddCommand(dealsListCmd, dealsStatsCmd, dealsExportCmd, dealsClearCmd)
	rootCmd.AddCommand(dealsCmd)
}
