package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/sells-group/deal-sync/internal/model"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDealsList(out io.Writer, deals []model.Deal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "HUBSPOT_ID\tNAME\tSTAGE\tAMOUNT\tCLOSE\tCOMPANY\tOWNER")
	_, _ = fmt.Fprintln(w, "----------\t----\t-----\t------\t-----\t-------\t-----")

	for _, d := range deals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.HubSpotID,
			truncate(d.Name, 40),
			d.Stage,
			formatAmount(d.Amount),
			orDash(d.CloseDate),
			truncate(derefOr(d.CompanyName, "-"), 30),
			derefOr(d.OwnerName, "-"),
		)
	}
	_ = w.Flush()
}

func formatStats(out io.Writer, stats model.DealStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tDEALS")
	_, _ = fmt.Fprintln(w, "-----\t-----")
	for _, s := range model.AllStages {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, stats.ByStage[s])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", stats.Total)
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nTotal value: %s\n", strconv.FormatFloat(stats.TotalValue, 'f', 2, 64))
}

func formatPipelines(out io.Writer, portalID int64, pipelines []model.Pipeline) {
	_, _ = fmt.Fprintf(out, "Portal: %d\n\n", portalID)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PIPELINE\tSTAGE_ID\tLABEL\tMAPS_TO")
	_, _ = fmt.Fprintln(w, "--------\t--------\t-----\t-------")
	for _, p := range pipelines {
		for _, s := range p.Stages {
			_, _ = fmt.Fprintf(w, "%s (%s)\t%s\t%s\t%s\n", p.Label, p.ID, s.ID, s.Label, s.CanonicalStage)
		}
	}
	_ = w.Flush()
}

func formatEngagements(out io.Writer, engagements []model.Engagement) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tTYPE\tSUBJECT\tSTATUS")
	_, _ = fmt.Fprintln(w, "----\t----\t-------\t------")
	for _, e := range engagements {
		subject := derefOr(e.Subject, "")
		if subject == "" {
			subject = derefOr(e.Body, "-")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04"),
			e.Type,
			truncate(subject, 60),
			derefOr(e.Status, "-"),
		)
	}
	_ = w.Flush()
}

func formatSyncRuns(out io.Writer, runs []model.SyncRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tRESULT")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-------\t--------\t------")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		result := r.Error
		if r.Result != nil {
			result = fmt.Sprintf("%d fetched, %d created, %d updated, %d failed",
				r.Result.Fetched, r.Result.Created, r.Result.Updated, r.Result.Failed)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.PipelineID,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(result, 60),
		)
	}
	_ = w.Flush()
}

func formatAmount(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func orDash(s *string) string {
	return derefOr(s, "-")
}

func derefOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
