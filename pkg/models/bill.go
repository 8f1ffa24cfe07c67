package models

import "encoding/json"

// BillType distinguishes single-location from multi-location bills.
type BillType string

const (
	// BillTypeSLB is a single-location bill: one account, one list of line items.
	BillTypeSLB BillType = "SLB"

	// BillTypeMLB is a multi-location bill: a master account with per-location sub-accounts.
	BillTypeMLB BillType = "MLB"
)

// Valid reports whether t is one of the known bill types.
func (t BillType) Valid() bool {
	return t == BillTypeSLB || t == BillTypeMLB
}

// UnknownSubAccount is the sentinel used when no reliable sub-account number exists.
const UnknownSubAccount = "Unknown"

// Account is the billing account block. For an SLB it is the account itself,
// for an MLB it is the master account.
type Account struct {
	AccountNumber string `json:"account_number"`
	InvoiceDate   string `json:"invoice_date"`
	TotalDue      string `json:"total_due"`

	// DueDate and VendorName are passed through when the model or the
	// analysis service provides them.
	DueDate    string `json:"due_date,omitempty"`
	VendorName string `json:"vendor_name,omitempty"`
}

// LineItem is a single charge row. Every field is serialized, absent values as "".
type LineItem struct {
	Description              string `json:"description"`
	DateRange                string `json:"date_range"`
	ProratedCharges          string `json:"prorated_charges"`
	RecurringCharges         string `json:"recurring_charges"`
	OneTimeCharges           string `json:"one_time_charges"`
	AdjustmentsAndSurcharges string `json:"adjustments_and_surcharges"`
	TaxesFees                string `json:"taxes_fees"`
	Total                    string `json:"total"`
}

// SubAccount is one service location of a multi-location bill.
type SubAccount struct {
	SubAccountNumber string     `json:"sub_account_number"`
	Location         string     `json:"location"`
	LineItems        []LineItem `json:"line_items"`
	TotalDue         string     `json:"total_due"`
}

// MarshalJSON keeps line_items an array even when no items were extracted.
func (s SubAccount) MarshalJSON() ([]byte, error) {
	type alias SubAccount
	a := alias(s)
	if a.LineItems == nil {
		a.LineItems = []LineItem{}
	}
	return json.Marshal(a)
}

// Record is the extraction result of one document, either a
// *SingleAccountRecord or a *MasterSubAccountRecord.
type Record interface {
	BillType() BillType
	Master() Account
}

// SingleAccountRecord is the extraction result of an SLB.
type SingleAccountRecord struct {
	Account   Account    `json:"account"`
	LineItems []LineItem `json:"line_items"`
}

// BillType implements Record.
func (r *SingleAccountRecord) BillType() BillType { return BillTypeSLB }

// Master implements Record.
func (r *SingleAccountRecord) Master() Account { return r.Account }

// MarshalJSON keeps line_items an array even when no items were extracted.
func (r SingleAccountRecord) MarshalJSON() ([]byte, error) {
	type alias SingleAccountRecord
	a := alias(r)
	if a.LineItems == nil {
		a.LineItems = []LineItem{}
	}
	return json.Marshal(a)
}

// MasterSubAccountRecord is the extraction result of an MLB.
type MasterSubAccountRecord struct {
	MasterAccount Account      `json:"master_account"`
	SubAccounts   []SubAccount `json:"sub_accounts"`
}

// BillType implements Record.
func (r *MasterSubAccountRecord) BillType() BillType { return BillTypeMLB }

// Master implements Record.
func (r *MasterSubAccountRecord) Master() Account { return r.MasterAccount }

// MarshalJSON keeps sub_accounts an array even when no locations were extracted.
func (r MasterSubAccountRecord) MarshalJSON() ([]byte, error) {
	type alias MasterSubAccountRecord
	a := alias(r)
	if a.SubAccounts == nil {
		a.SubAccounts = []SubAccount{}
	}
	return json.Marshal(a)
}
