// Package extract turns document text into structured bill records using a
// language model.
//
// Single-location bills are extracted in one call. Multi-location bills are
// extracted once per location chunk with the same template; the master
// account comes from the first chunk and sub-accounts are concatenated in
// chunk order. Model replies are parsed strictly: a reply that is not JSON
// of the expected shape is an ErrExtractionFormat and is retried a bounded
// number of times. Totals are copied as printed and never computed.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/chunk"
	"billextract/internal/classify"
	"billextract/internal/llm"
	"billextract/internal/logger"
	"billextract/internal/money"
	"billextract/pkg/models"
)

// Extraction is the result of extracting one document.
type Extraction struct {
	// Record is a *models.SingleAccountRecord or *models.MasterSubAccountRecord.
	Record models.Record

	// Notes describe merge decisions and disagreements found while extracting.
	Notes []models.FieldNote

	// Raw holds the accepted model reply per call, in order.
	Raw []string
}

// Options configures an Extractor.
type Options struct {
	// FormatRetries is the number of extra attempts after a format failure.
	FormatRetries int

	// Highlight marks account-like numbers in chunk text before prompting.
	Highlight bool
}

// Extractor runs extraction prompts against a Completer.
type Extractor struct {
	completer llm.Completer
	prompts   Prompts
	opts      Options
	log       zerolog.Logger
}

// New returns an Extractor.
func New(completer llm.Completer, prompts Prompts, opts Options) *Extractor {
	if opts.FormatRetries < 0 {
		opts.FormatRetries = 0
	}
	return &Extractor{
		completer: completer,
		prompts:   prompts,
		opts:      opts,
		log:       logger.WithComponent("extract"),
	}
}

// WithLogger returns a copy of e that logs to log.
func (e *Extractor) WithLogger(log zerolog.Logger) *Extractor {
	c := *e
	c.log = log
	return &c
}

// ExtractSingle extracts a single-location bill from the whole document text.
// Empty master fields are filled from the analysis fields.
func (e *Extractor) ExtractSingle(ctx context.Context, content string, fields map[string]string) (*Extraction, error) {
	const op = "ExtractSingle"

	var record *models.SingleAccountRecord
	raw, err := e.completeParsed(ctx, op, e.prompts.SinglePrompt(content), func(reply string) error {
		var err error
		record, err = ParseSingle(reply)
		return err
	})
	if err != nil {
		return nil, err
	}

	var notes []models.FieldNote
	record.Account, notes = reconcileWithAnalysis(record.Account, fields, "account", notes)

	e.log.Info().
		Str("account_number", record.Account.AccountNumber).
		Str("total_due", record.Account.TotalDue).
		Int("line_items", len(record.LineItems)).
		Msg("Single-location extraction completed")

	return &Extraction{Record: record, Notes: notes, Raw: []string{raw}}, nil
}

// ExtractMulti extracts a multi-location bill chunk by chunk.
func (e *Extractor) ExtractMulti(ctx context.Context, chunks *chunk.Sequence, fields map[string]string) (*Extraction, error) {
	const op = "ExtractMulti"

	result := &models.MasterSubAccountRecord{SubAccounts: []models.SubAccount{}}
	var notes []models.FieldNote
	var raws []string

	for i, c := range chunks.All() {
		text := c.Raw()
		if e.opts.Highlight {
			text = chunk.Highlight(text)
		}

		var part *models.MasterSubAccountRecord
		raw, err := e.completeParsed(ctx, op, e.prompts.ChunkPrompt(text), func(reply string) error {
			var err error
			part, err = ParseMulti(reply, c.Text)
			return err
		})
		if err != nil {
			var pe *billerr.ProcessingError
			if errors.As(err, &pe) && pe.Details != "" {
				pe.Details = fmt.Sprintf("chunk %d of %d: %s", i+1, chunks.Len(), pe.Details)
			}
			return nil, err
		}
		raws = append(raws, raw)

		if i == 0 {
			result.MasterAccount = part.MasterAccount
		} else {
			result.MasterAccount, notes = mergeMaster(result.MasterAccount, part.MasterAccount, i, notes)
		}
		result.SubAccounts = append(result.SubAccounts, part.SubAccounts...)

		e.log.Debug().
			Int("chunk", i+1).
			Int("chunks", chunks.Len()).
			Int("sub_accounts", len(part.SubAccounts)).
			Msg("Chunk extracted")
	}

	result.MasterAccount, notes = reconcileWithAnalysis(result.MasterAccount, fields, "master_account", notes)

	e.log.Info().
		Str("account_number", result.MasterAccount.AccountNumber).
		Str("total_due", result.MasterAccount.TotalDue).
		Int("chunks", chunks.Len()).
		Int("sub_accounts", len(result.SubAccounts)).
		Msg("Multi-location extraction completed")

	return &Extraction{Record: result, Notes: notes, Raw: raws}, nil
}

// completeParsed sends prompt and passes the reply to parse, retrying format
// failures up to FormatRetries times. It returns the accepted reply.
func (e *Extractor) completeParsed(ctx context.Context, op, prompt string, parse func(reply string) error) (string, error) {
	attempts := e.opts.FormatRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reply, err := e.completer.Complete(ctx, prompt)
		if err != nil {
			return "", billerr.Wrap(op, err, "model call failed")
		}

		err = parse(reply)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, billerr.ErrExtractionFormat) {
			return "", err
		}

		lastErr = err
		e.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", attempts).
			Int("response_length", len(reply)).
			Msg("Model reply did not match the schema")
	}
	return "", lastErr
}

// mergeMaster keeps the first chunk's master block, fills its empty fields
// from a later chunk and notes any disagreement.
func mergeMaster(master, later models.Account, chunkIndex int, notes []models.FieldNote) (models.Account, []models.FieldNote) {
	for _, f := range accountFields(&master, &later) {
		field := "master_account." + f.name
		switch {
		case *f.later == "" || sameValue(f.name, *f.have, *f.later):
		case *f.have == "":
			*f.have = *f.later
			notes = append(notes, models.FieldNote{Field: field, Note: fmt.Sprintf("taken from chunk %d", chunkIndex+1)})
		default:
			notes = append(notes, models.FieldNote{
				Field: field,
				Note:  fmt.Sprintf("chunk %d reports %q, keeping %q from chunk 1", chunkIndex+1, *f.later, *f.have),
			})
		}
	}
	return master, notes
}

// reconcileWithAnalysis fills empty master fields from the analysis service
// and notes disagreements. Extracted values always win.
func reconcileWithAnalysis(acc models.Account, fields map[string]string, prefix string, notes []models.FieldNote) (models.Account, []models.FieldNote) {
	if len(fields) == 0 {
		return acc, notes
	}

	analysis := models.Account{
		AccountNumber: fields["account_number"],
		InvoiceDate:   fields["invoice_date"],
		TotalDue:      fields["amount_due"],
		DueDate:       fields["due_date"],
		VendorName:    fields["vendor_name"],
	}

	for _, f := range accountFields(&acc, &analysis) {
		field := prefix + "." + f.name
		found := strings.TrimSpace(*f.later)
		switch {
		case found == "" || sameValue(f.name, *f.have, found):
		case *f.have == "":
			*f.have = found
			notes = append(notes, models.FieldNote{Field: field, Note: "taken from document analysis"})
		default:
			notes = append(notes, models.FieldNote{
				Field: field,
				Note:  fmt.Sprintf("document analysis reports %q, extracted %q", found, *f.have),
			})
		}
	}
	return acc, notes
}

type fieldPair struct {
	name  string
	have  *string
	later *string
}

func accountFields(a, b *models.Account) []fieldPair {
	return []fieldPair{
		{"account_number", &a.AccountNumber, &b.AccountNumber},
		{"invoice_date", &a.InvoiceDate, &b.InvoiceDate},
		{"total_due", &a.TotalDue, &b.TotalDue},
		{"due_date", &a.DueDate, &b.DueDate},
		{"vendor_name", &a.VendorName, &b.VendorName},
	}
}

// sameValue compares two printed values of a field, ignoring formatting.
func sameValue(field, a, b string) bool {
	switch field {
	case "account_number":
		return strings.EqualFold(classify.CleanIdentifier(a), classify.CleanIdentifier(b))
	case "total_due":
		x, errX := money.ParseCents(a)
		y, errY := money.ParseCents(b)
		if errX == nil && errY == nil {
			return x == y
		}
	}
	return strings.EqualFold(normalize(a), normalize(b))
}
