package validate

import (
	"fmt"
	"strings"
	"time"

	"billextract/internal/money"
	"billextract/pkg/models"
)

// Tolerance is the largest master/sub-account difference, in cents, that
// still counts as reconciled.
const Tolerance int64 = 2

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"1-2-2006",
	"2006-01-02",
	"2006/01/02",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
	"20060102",
}

// ParseDate parses a printed bill date using the common layouts.
func ParseDate(s string) (time.Time, error) {
	v := strings.Join(strings.Fields(s), " ")
	v = strings.ReplaceAll(v, ". ", " ")
	v = strings.Replace(v, "Sept ", "Sep ", 1)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// CheckRecord applies the local rules to record. These rules alone decide
// validity: a missing required field, an unreadable amount or date, or an
// MLB without sub-accounts is an error; everything else is a note.
func CheckRecord(record models.Record) *models.ValidationResult {
	result := models.NewValidationResult()

	switch r := record.(type) {
	case *models.SingleAccountRecord:
		checkAccount(result, "account", r.Account)
		if len(r.LineItems) == 0 {
			result.AddNote("line_items", "no line items extracted")
		}
	case *models.MasterSubAccountRecord:
		checkAccount(result, "master_account", r.MasterAccount)
		checkSubAccounts(result, r.SubAccounts)
		reconcile(result, r)
	default:
		result.AddError("record", fmt.Sprintf("unsupported record type %T", record))
	}

	return result
}

func checkAccount(result *models.ValidationResult, prefix string, acc models.Account) {
	if strings.TrimSpace(acc.AccountNumber) == "" {
		result.AddError(prefix+".account_number", "missing required field: account number")
	}
	checkAmount(result, prefix+".total_due", acc.TotalDue, true)
	checkDate(result, prefix+".due_date", acc.DueDate, true)
	if strings.TrimSpace(acc.VendorName) == "" {
		result.AddError(prefix+".vendor_name", "missing required field: vendor name")
	}
	checkDate(result, prefix+".invoice_date", acc.InvoiceDate, false)
}

func checkSubAccounts(result *models.ValidationResult, subs []models.SubAccount) {
	if len(subs) == 0 {
		result.AddError("sub_accounts", "no sub-accounts found")
		return
	}

	seen := make(map[string]int, len(subs))
	for i, sub := range subs {
		path := fmt.Sprintf("sub_accounts[%d]", i)
		number := strings.TrimSpace(sub.SubAccountNumber)

		switch {
		case number == "":
			result.AddError(path+".sub_account_number", "missing required field: sub-account number")
		case number == models.UnknownSubAccount:
			result.AddNote(path+".sub_account_number", "no reliable sub-account number found")
		default:
			if first, ok := seen[number]; ok {
				result.AddNote(path+".sub_account_number", fmt.Sprintf("duplicate of sub_accounts[%d]", first))
			} else {
				seen[number] = i
			}
		}

		checkAmount(result, path+".total_due", sub.TotalDue, true)
		if strings.TrimSpace(sub.Location) == "" {
			result.AddNote(path+".location", "optional field is missing: location")
		}
		if len(sub.LineItems) == 0 {
			result.AddNote(path+".line_items", "no line items extracted")
		}
	}
}

func checkAmount(result *models.ValidationResult, field, value string, required bool) {
	if strings.TrimSpace(value) == "" {
		if required {
			result.AddError(field, "missing required field")
		}
		return
	}
	cents, err := money.ParseCents(value)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid amount format: %s", value))
		return
	}
	if cents < 0 {
		result.AddNote(field, fmt.Sprintf("negative amount: %s", value))
	}
}

func checkDate(result *models.ValidationResult, field, value string, required bool) {
	if strings.TrimSpace(value) == "" {
		if required {
			result.AddError(field, "missing required field")
		} else {
			result.AddNote(field, "optional field is missing")
		}
		return
	}
	if _, err := ParseDate(value); err != nil {
		result.AddError(field, fmt.Sprintf("invalid date format: %s", value))
	}
}

// reconcile compares the master total with the sum of the non-empty
// sub-account totals. The outcome is always a note.
func reconcile(result *models.ValidationResult, r *models.MasterSubAccountRecord) {
	master, err := money.ParseCents(r.MasterAccount.TotalDue)
	if err != nil {
		return
	}

	var sum int64
	counted := 0
	for _, sub := range r.SubAccounts {
		if strings.TrimSpace(sub.TotalDue) == "" {
			continue
		}
		cents, err := money.ParseCents(sub.TotalDue)
		if err != nil {
			continue
		}
		sum += cents
		counted++
	}
	if counted == 0 {
		return
	}

	diff := master - sum
	if diff < 0 {
		diff = -diff
	}

	if diff <= Tolerance {
		result.AddNote("master_account.total_due", fmt.Sprintf("totals reconcile: master %s, sub-accounts %s",
			money.Format(master), money.Format(sum)))
		return
	}
	result.AddNote("master_account.total_due", fmt.Sprintf("discrepancy of %s between master total %s and sub-account sum %s",
		money.Format(diff), money.Format(master), money.Format(sum)))
}
