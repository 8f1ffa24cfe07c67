package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"billextract/internal/billerr"
	"billextract/internal/chunk"
	"billextract/internal/llm"
	"billextract/pkg/models"
)

// ParseSingle strictly decodes a single-location reply. Both "account" and
// "line_items" must be present; any other shape is an ErrExtractionFormat
// carrying the raw reply.
func ParseSingle(raw string) (*models.SingleAccountRecord, error) {
	const op = "ParseSingle"

	top, err := decodeTop(op, raw, "account", "line_items")
	if err != nil {
		return nil, err
	}

	account, err := decodeAccount(top["account"], "account")
	if err != nil {
		return nil, billerr.Format(op, raw, err.Error())
	}
	items, err := decodeLineItems(top["line_items"], "line_items")
	if err != nil {
		return nil, billerr.Format(op, raw, err.Error())
	}

	return &models.SingleAccountRecord{Account: account, LineItems: items}, nil
}

// ParseMulti strictly decodes a multi-location reply for one chunk and
// sanitizes its sub-account numbers against chunkText.
func ParseMulti(raw string, chunkText string) (*models.MasterSubAccountRecord, error) {
	const op = "ParseMulti"

	top, err := decodeTop(op, raw, "master_account", "sub_accounts")
	if err != nil {
		return nil, err
	}

	master, err := decodeAccount(top["master_account"], "master_account")
	if err != nil {
		return nil, billerr.Format(op, raw, err.Error())
	}

	var subs []json.RawMessage
	if err := decodeArray(top["sub_accounts"], "sub_accounts", &subs); err != nil {
		return nil, billerr.Format(op, raw, err.Error())
	}

	record := &models.MasterSubAccountRecord{
		MasterAccount: master,
		SubAccounts:   make([]models.SubAccount, 0, len(subs)),
	}
	for i, sub := range subs {
		path := fmt.Sprintf("sub_accounts[%d]", i)
		s, err := decodeSubAccount(sub, path)
		if err != nil {
			return nil, billerr.Format(op, raw, err.Error())
		}
		s.Location = SanitizeLocation(s.Location)
		s.SubAccountNumber = SanitizeSubAccountNumber(s.SubAccountNumber, s.Location, chunkText)
		record.SubAccounts = append(record.SubAccounts, s)
	}

	return record, nil
}

func decodeTop(op, raw string, required ...string) (map[string]json.RawMessage, error) {
	clean := llm.CleanJSON(raw)

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &top); err != nil {
		return nil, billerr.Format(op, raw, fmt.Sprintf("invalid JSON: %v", err))
	}
	if top == nil {
		return nil, billerr.Format(op, raw, "top-level value is not an object")
	}

	var missing []string
	for _, key := range required {
		if v, ok := top[key]; !ok || isNull(v) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, billerr.Format(op, raw, "missing required keys: "+strings.Join(missing, ", "))
	}
	return top, nil
}

func decodeAccount(data json.RawMessage, path string) (models.Account, error) {
	obj, err := decodeObject(data, path)
	if err != nil {
		return models.Account{}, err
	}

	var a models.Account
	for key, dst := range map[string]*string{
		"account_number": &a.AccountNumber,
		"invoice_date":   &a.InvoiceDate,
		"total_due":      &a.TotalDue,
		"due_date":       &a.DueDate,
		"vendor_name":    &a.VendorName,
	} {
		if *dst, err = stringField(obj, key, path); err != nil {
			return models.Account{}, err
		}
	}
	return a, nil
}

func decodeSubAccount(data json.RawMessage, path string) (models.SubAccount, error) {
	obj, err := decodeObject(data, path)
	if err != nil {
		return models.SubAccount{}, err
	}

	var s models.SubAccount
	for key, dst := range map[string]*string{
		"sub_account_number": &s.SubAccountNumber,
		"location":           &s.Location,
		"total_due":          &s.TotalDue,
	} {
		if *dst, err = stringField(obj, key, path); err != nil {
			return models.SubAccount{}, err
		}
	}

	s.LineItems = []models.LineItem{}
	if items, ok := obj["line_items"]; ok && !isNull(items) {
		if s.LineItems, err = decodeLineItems(items, path+".line_items"); err != nil {
			return models.SubAccount{}, err
		}
	}
	return s, nil
}

func decodeLineItems(data json.RawMessage, path string) ([]models.LineItem, error) {
	var rows []json.RawMessage
	if err := decodeArray(data, path, &rows); err != nil {
		return nil, err
	}

	items := make([]models.LineItem, 0, len(rows))
	for i, row := range rows {
		rowPath := fmt.Sprintf("%s[%d]", path, i)
		obj, err := decodeObject(row, rowPath)
		if err != nil {
			return nil, err
		}

		var item models.LineItem
		for key, dst := range map[string]*string{
			"description":                &item.Description,
			"date_range":                 &item.DateRange,
			"prorated_charges":           &item.ProratedCharges,
			"recurring_charges":          &item.RecurringCharges,
			"one_time_charges":           &item.OneTimeCharges,
			"adjustments_and_surcharges": &item.AdjustmentsAndSurcharges,
			"taxes_fees":                 &item.TaxesFees,
			"total":                      &item.Total,
		} {
			if *dst, err = stringField(obj, key, rowPath); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeObject(data json.RawMessage, path string) (map[string]json.RawMessage, error) {
	if firstByte(data) != '{' {
		return nil, fmt.Errorf("%s must be an object", path)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return obj, nil
}

func decodeArray(data json.RawMessage, path string, dst *[]json.RawMessage) error {
	if firstByte(data) != '[' {
		return fmt.Errorf("%s must be an array", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	return nil
}

// stringField reads obj[key] as a string. Missing keys and null read as "".
func stringField(obj map[string]json.RawMessage, key, path string) (string, error) {
	v, ok := obj[key]
	if !ok || isNull(v) {
		return "", nil
	}
	if firstByte(v) != '"' {
		return "", fmt.Errorf("%s.%s must be a string, got %s", path, key, string(v))
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%s.%s: %v", path, key, err)
	}
	return strings.TrimSpace(s), nil
}

func firstByte(data json.RawMessage) byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

var (
	tagRe = regexp.MustCompile(`</?b>`)

	streetRe = regexp.MustCompile(`(?i)\b\d+[a-z]?\s+(?:[nsew]\.?\s+)?(?:[a-z0-9.'-]+\s+){0,4}` +
		`(?:st|street|ave|avenue|rd|road|blvd|boulevard|dr|drive|ln|lane|way|ct|court|pl|place|` +
		`pkwy|parkway|hwy|highway|cir|circle|ter|terrace|trl|trail|sq|square|pike|loop|row)\b`)
	poBoxRe    = regexp.MustCompile(`(?i)\bp\.?\s*o\.?\s*box\b`)
	stateZipRe = regexp.MustCompile(`\b[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`)
	suiteRe    = regexp.MustCompile(`(?i)\b(?:suite|ste|apt|unit|floor|fl)\b\.?\s*#?\s*\w+`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// IsAddressLike reports whether v reads like a street address.
func IsAddressLike(v string) bool {
	return streetRe.MatchString(v) || poBoxRe.MatchString(v) || stateZipRe.MatchString(v) ||
		(suiteRe.MatchString(v) && strings.ContainsAny(v, "0123456789") && strings.Contains(v, " "))
}

// SanitizeLocation clears a location the model filled with the unknown
// sub-account placeholder, so a missing location never equals the number.
func SanitizeLocation(location string) string {
	if strings.EqualFold(strings.TrimSpace(location), models.UnknownSubAccount) {
		return ""
	}
	return location
}

// SanitizeSubAccountNumber replaces empty, address-like or location-equal
// numbers with the first 9-digit number in chunkText, or models.UnknownSubAccount.
func SanitizeSubAccountNumber(number, location, chunkText string) string {
	number = strings.TrimSpace(tagRe.ReplaceAllString(number, ""))
	if acceptableNumber(number, location) {
		return number
	}
	if fallback := chunk.FirstNineDigit(chunkText); fallback != "" && acceptableNumber(fallback, location) {
		return fallback
	}
	return models.UnknownSubAccount
}

func acceptableNumber(number, location string) bool {
	if number == "" || strings.EqualFold(number, models.UnknownSubAccount) {
		return false
	}
	if IsAddressLike(number) {
		return false
	}
	return normalize(number) != normalize(location)
}

func normalize(s string) string {
	return strings.ToLower(spacesRe.ReplaceAllString(strings.TrimSpace(s), " "))
}
