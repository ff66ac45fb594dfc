// Package report renders the outcome of a mailing run as an xlsx workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	automailer "github.com/oscmail/automailer/sdk/go"
)

// Sheet names
const (
	OutcomesSheet = "Outcomes"
	SummarySheet  = "Summary"
)

var header = []interface{}{"#", "Row", "Name", "Email", "Status", "Code", "Error", "Timestamp"}

// Build creates a workbook with one line per outcome plus a summary sheet.
// The caller must Close the returned file.
func Build(res *automailer.SendResult) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", OutcomesSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name outcomes sheet: %w", err)
	}
	if err := writeOutcomes(f, res.Results); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Total", res.Total},
		{"Successful", res.Successful},
		{"Failed", res.Failed},
	}
	for i, line := range summary {
		if err := f.SetSheetRow(SummarySheet, cell(1, i+1), &line); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write summary: %w", err)
		}
	}

	return f, nil
}

// Write builds the workbook and streams it to w.
func Write(w io.Writer, res *automailer.SendResult) error {
	f, err := Build(res)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func writeOutcomes(f *excelize.File, outcomes []automailer.Outcome) error {
	if err := f.SetSheetRow(OutcomesSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(OutcomesSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, o := range outcomes {
		var row interface{} = ""
		if o.Row > 0 {
			row = o.Row
		}
		line := []interface{}{o.Sequence, row, o.Name, o.Email, o.Status, o.Code, o.Error, o.Timestamp}
		if err := f.SetSheetRow(OutcomesSheet, cell(1, i+2), &line); err != nil {
			return fmt.Errorf("failed to write outcome %d: %w", o.Sequence, err)
		}
	}

	if err := f.SetPanes(OutcomesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
