// Package classify decides whether a bill is single-location (SLB) or
// multi-location (MLB) from its account identifier.
//
// The identifier is cleaned of every non-alphanumeric character and looked
// up by exact match in a Registry. An identifier that is missing from the
// registry is never guessed: it is reported with StatusAudit.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/logger"
	"billextract/pkg/models"
)

// Status is the classification outcome.
type Status string

const (
	// StatusOK means the identifier was found and the bill type is known.
	StatusOK Status = "ok"

	// StatusAudit means the identifier is unknown and the document needs human review.
	StatusAudit Status = "audit"
)

// Classification is the result of classifying one identifier.
type Classification struct {
	BillType   models.BillType `json:"bill_type"`
	Status     Status          `json:"status"`
	Identifier string          `json:"identifier"`
}

// Registry maps cleaned account identifiers to bill types.
type Registry interface {
	// Lookup returns the bill type for id and whether it was found.
	Lookup(ctx context.Context, id string) (models.BillType, bool, error)
}

// Classifier cleans identifiers and applies the audit policy on top of a Registry.
type Classifier struct {
	registry Registry
	log      zerolog.Logger
}

// New returns a Classifier backed by registry.
func New(registry Registry) *Classifier {
	return &Classifier{
		registry: registry,
		log:      logger.WithComponent("classify"),
	}
}

var nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// CleanIdentifier removes every character that is not an ASCII letter or digit.
func CleanIdentifier(id string) string {
	return nonAlnumRe.ReplaceAllString(id, "")
}

// Classify looks up the cleaned identifier. Unknown and empty identifiers
// yield StatusAudit with an empty bill type and no error.
func (c *Classifier) Classify(ctx context.Context, identifier string) (Classification, error) {
	const op = "Classify"

	cleaned := CleanIdentifier(identifier)
	result := Classification{Status: StatusAudit, Identifier: cleaned}

	if cleaned == "" {
		c.log.Warn().Str("raw_identifier", identifier).Msg("No usable account identifier, flagging for audit")
		return result, nil
	}

	billType, found, err := c.registry.Lookup(ctx, cleaned)
	if err != nil {
		return result, billerr.Wrap(op, err, fmt.Sprintf("registry lookup for %s", cleaned))
	}
	if !found {
		c.log.Warn().Str("identifier", cleaned).Msg("Account not found in registry, flagging for audit")
		return result, nil
	}
	if !billType.Valid() {
		return result, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("registry returned unknown bill type %q for %s", billType, cleaned))
	}

	c.log.Info().
		Str("identifier", cleaned).
		Str("bill_type", string(billType)).
		Msg("Bill type determined")

	result.BillType = billType
	result.Status = StatusOK
	return result, nil
}

var labeledAccountRe = regexp.MustCompile(`(?i)Account\s*(?:#|Number|No\.?)\s*[:\s]?\s*([a-zA-Z0-9\s\-]+)`)

// FindIdentifier picks the account identifier for a document: the analysis
// account number first, then the invoice id, then the first labeled
// account number in the text. Only the first line of a text match is kept.
func FindIdentifier(fields map[string]string, content string) string {
	for _, key := range []string{"account_number", "invoice_id"} {
		if v := strings.TrimSpace(fields[key]); v != "" {
			return v
		}
	}

	m := labeledAccountRe.FindStringSubmatch(content)
	if len(m) < 2 {
		return ""
	}
	value := m[1]
	if i := strings.IndexAny(value, "\r\n"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}
