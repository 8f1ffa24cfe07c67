// Package analyzer turns a bill PDF into layout text plus key fields using
// Google Cloud document services.
//
// Backends:
//   - documentai: Document AI processor (text, pages and entity fields)
//   - vision:     Cloud Vision document text detection (text only)
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION, DOCUMENT_AI_PROCESSOR_ID (documentai)
//
// Limitations:
//   - Maximum file size: 20MB for synchronous processing
//   - Vision processes at most 5 pages per request; longer files are read in batches
package analyzer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/logger"
	"billextract/internal/retry"
)

const (
	// MaxDocumentSizeBytes is the maximum document size for synchronous processing (20MB)
	MaxDocumentSizeBytes = 20 * 1024 * 1024

	pdfMimeType = "application/pdf"
)

// Field names reported in Result.Fields.
const (
	FieldAccountNumber = "account_number"
	FieldInvoiceID     = "invoice_id"
	FieldAmountDue     = "amount_due"
	FieldDueDate       = "due_date"
	FieldVendorName    = "vendor_name"
	FieldInvoiceDate   = "invoice_date"
)

// Analyzer extracts text and key fields from a PDF.
type Analyzer interface {
	// Analyze reads the PDF at path. Missing, non-PDF, empty or oversized
	// files fail with billerr.ErrInput before any service call.
	Analyze(ctx context.Context, path string) (*Result, error)
}

// Result is the outcome of document analysis.
type Result struct {
	// Content is the full document text in reading order.
	Content string `json:"content"`

	// Fields holds key values found by the service, keyed by the Field* names.
	// Values are the literal text printed on the document.
	Fields map[string]string `json:"fields"`

	// Confidence holds the service confidence per field (0.0-1.0).
	Confidence map[string]float32 `json:"confidence,omitempty"`

	// PageCount is the number of pages processed.
	PageCount int `json:"page_count"`

	// Backend names the service that produced the result.
	Backend string `json:"backend"`

	// ProcessingDuration is how long the service call took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// ValidateDocument checks path before any service is called and returns its bytes.
func ValidateDocument(path string) ([]byte, error) {
	const op = "ValidateDocument"

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("file not found: %s", path))
		}
		if os.IsPermission(err) {
			return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("permission denied: %s", path))
		}
		return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("cannot access %s: %v", path, err))
	}

	if !info.Mode().IsRegular() {
		return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("not a regular file: %s", path))
	}
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("not a PDF file: %s", path))
	}
	if info.Size() == 0 {
		return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("file is empty: %s", path))
	}
	if info.Size() > MaxDocumentSizeBytes {
		return nil, billerr.New(op, billerr.ErrInput,
			fmt.Sprintf("file too large (%d bytes), maximum is %d bytes", info.Size(), MaxDocumentSizeBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, billerr.New(op, billerr.ErrInput, fmt.Sprintf("failed to read %s: %v", path, err))
	}
	if len(data) < 4 || string(data[:4]) != "%PDF" {
		return nil, billerr.New(op, billerr.ErrInput, "missing PDF header")
	}

	return data, nil
}

type retrying struct {
	next   Analyzer
	policy retry.Policy
	log    zerolog.Logger
}

// WithRetry retries transient failures of next with exponential backoff.
func WithRetry(next Analyzer, policy retry.Policy) Analyzer {
	return &retrying{
		next:   next,
		policy: policy,
		log:    logger.WithComponent("analyzer"),
	}
}

// Analyze implements Analyzer.
func (r *retrying) Analyze(ctx context.Context, path string) (*Result, error) {
	var result *Result
	err := retry.Do(ctx, r.policy, r.log, "Analyze", func(ctx context.Context) error {
		var err error
		result, err = r.next.Analyze(ctx, path)
		return err
	})
	return result, err
}
