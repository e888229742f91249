// Package export renders persisted deals as spreadsheets.
package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/deal-sync/internal/model"
)

// SheetName is the name of the worksheet written by WriteDealsXLSX.
const SheetName = "Deals"

// DealColumns is the header row of the deals sheet.
var DealColumns = []string{
	"HubSpot ID", "Name", "Stage", "Stage Label", "Pipeline", "Amount",
	"Close Date", "Owner", "Company", "Contacts", "Last Engagement",
}

// WriteDealsXLSX writes deals as a single-sheet workbook to w, one row per
// deal after the header.
func WriteDealsXLSX(w io.Writer, deals []model.Deal) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range DealColumns {
		header.AddCell().SetString(col)
	}

	for i := range deals {
		writeDealRow(sheet.AddRow(), &deals[i])
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

func writeDealRow(row *xlsx.Row, d *model.Deal) {
	row.AddCell().SetString(d.HubSpotID)
	row.AddCell().SetString(d.Name)
	row.AddCell().SetString(string(d.Stage))
	row.AddCell().SetString(d.StageLabel)
	row.AddCell().SetString(pipelineLabel(d))

	amount := row.AddCell()
	if d.Amount != nil {
		amount.SetFloat(*d.Amount)
	}

	row.AddCell().SetString(deref(d.CloseDate))
	row.AddCell().SetString(deref(d.OwnerName))
	row.AddCell().SetString(deref(d.CompanyName))

	names := make([]string, 0, len(d.Contacts))
	for _, c := range d.Contacts {
		names = append(names, c.Name)
	}
	row.AddCell().SetString(strings.Join(names, ", "))

	row.AddCell().SetString(deref(d.LastEngagementDate))
}

func pipelineLabel(d *model.Deal) string {
	if d.PipelineName != "" {
		return d.PipelineName
	}
	return d.PipelineID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
