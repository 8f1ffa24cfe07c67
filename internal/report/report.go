// Package report turns batch outcomes into tabular rows for the xlsx
// report and the Google Sheets run ledger.
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"billextract/internal/money"
	"billextract/internal/pipeline"
	"billextract/pkg/models"
)

const (
	documentsSheet = "Documents"
	issuesSheet    = "Issues"
)

// Headers are the column titles of a Row, in Values order.
var Headers = []string{
	"Document", "Run ID", "Status", "Bill Type", "Account", "Invoice Date",
	"Due Date", "Vendor", "Total Due", "Sub-Accounts", "Valid", "Errors",
	"Notes", "Stage", "Detail", "Processed At",
}

// Row is the summary of one processed document.
type Row struct {
	Document      string
	RunID         string
	Status        string
	BillType      string
	AccountNumber string
	InvoiceDate   string
	DueDate       string
	Vendor        string
	TotalDue      string
	SubAccounts   int
	Valid         string
	Errors        int
	Notes         int
	Stage         string
	Detail        string
	ProcessedAt   string
}

// Values returns the row cells in Headers order.
func (r Row) Values() []interface{} {
	return []interface{}{
		r.Document,
		r.RunID,
		r.Status,
		r.BillType,
		r.AccountNumber,
		r.InvoiceDate,
		r.DueDate,
		r.Vendor,
		r.TotalDue,
		r.SubAccounts,
		r.Valid,
		r.Errors,
		r.Notes,
		r.Stage,
		r.Detail,
		r.ProcessedAt,
	}
}

// Issue is one validation error or note of a document.
type Issue struct {
	Document string
	Kind     string
	Field    string
	Message  string
}

// FromOutcomes converts outcomes to rows. Nil outcomes are skipped.
func FromOutcomes(outcomes []*pipeline.Outcome) []Row {
	rows := make([]Row, 0, len(outcomes))
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		row := Row{
			Document:    out.Document,
			RunID:       out.RunID,
			Status:      string(out.Status),
			BillType:    string(out.BillType),
			Stage:       string(out.Stage),
			Detail:      out.Error,
			ProcessedAt: out.StartedAt.Format(time.DateTime),
		}

		if out.Record != nil {
			master := out.Record.Master()
			row.AccountNumber = master.AccountNumber
			row.InvoiceDate = master.InvoiceDate
			row.DueDate = master.DueDate
			row.Vendor = master.VendorName
			row.TotalDue = master.TotalDue
			if mlb, ok := out.Record.(*models.MasterSubAccountRecord); ok {
				row.SubAccounts = len(mlb.SubAccounts)
			}
		}

		if v := out.Validation; v != nil {
			row.Valid = strconv.FormatBool(v.Valid)
			row.Errors = len(v.Errors)
			row.Notes = len(v.Notes)
			if row.Detail == "" && len(v.Errors) > 0 {
				row.Detail = fmt.Sprintf("%s: %s", v.Errors[0].Field, v.Errors[0].Error)
			}
		}

		rows = append(rows, row)
	}
	return rows
}

// IssuesFromOutcomes lists every validation error and note, errors first.
func IssuesFromOutcomes(outcomes []*pipeline.Outcome) []Issue {
	var issues []Issue
	for _, out := range outcomes {
		if out == nil || out.Validation == nil {
			continue
		}
		for _, e := range out.Validation.Errors {
			issues = append(issues, Issue{Document: out.Document, Kind: "error", Field: e.Field, Message: e.Error})
		}
		for _, n := range out.Validation.Notes {
			issues = append(issues, Issue{Document: out.Document, Kind: "note", Field: n.Field, Message: n.Note})
		}
	}
	return issues
}

// WriteWorkbook writes an xlsx report with a Documents sheet holding one
// row per outcome and an Issues sheet holding every error and note.
func WriteWorkbook(path string, outcomes []*pipeline.Outcome) error {
	const op = "WriteWorkbook"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return fmt.Errorf("%s: failed to rename sheet: %w", op, err)
	}
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return fmt.Errorf("%s: failed to add sheet: %w", op, err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E6E6E6"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("%s: failed to create header style: %w", op, err)
	}

	docs := [][]interface{}{toInterfaces(Headers)}
	for _, row := range FromOutcomes(outcomes) {
		docs = append(docs, row.Values())
	}
	if err := writeSheet(f, documentsSheet, docs, headerStyle); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	issues := [][]interface{}{{"Document", "Kind", "Field", "Message"}}
	for _, is := range IssuesFromOutcomes(outcomes) {
		issues = append(issues, []interface{}{is.Document, is.Kind, is.Field, is.Message})
	}
	if err := writeSheet(f, issuesSheet, issues, headerStyle); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.SetColWidth(documentsSheet, "A", "A", 32); err != nil {
		return fmt.Errorf("%s: failed to size columns: %w", op, err)
	}
	if err := f.SetColWidth(issuesSheet, "D", "D", 80); err != nil {
		return fmt.Errorf("%s: failed to size columns: %w", op, err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%s: failed to save %s: %w", op, path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, headerStyle)
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// TotalCents sums the parseable total due of every archived or audited
// outcome.
func TotalCents(outcomes []*pipeline.Outcome) int64 {
	var sum int64
	for _, out := range outcomes {
		if out == nil || out.Record == nil {
			continue
		}
		if cents, err := money.ParseCents(out.Record.Master().TotalDue); err == nil {
			sum += cents
		}
	}
	return sum
}
