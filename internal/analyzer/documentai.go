package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"billextract/internal/billerr"
	"billextract/internal/logger"
)

// GoogleConfig holds configuration for the Google Cloud analyzers.
type GoogleConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	Location string

	// ProcessorID is the Document AI processor ID.
	ProcessorID string

	// ProcessorVersion pins a processor version. Empty uses the default version.
	ProcessorVersion string

	// CredentialsJSON is an inline service account key. Takes precedence over CredentialsFile.
	CredentialsJSON string

	// CredentialsFile is the path to a service account key.
	CredentialsFile string

	// Timeout bounds a single service call. Default: 60 seconds.
	Timeout time.Duration
}

func (c GoogleConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	} else if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

func (c GoogleConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

// processClient is the part of *documentai.DocumentProcessorClient the analyzer needs.
type processClient interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
}

// DocumentAI analyzes bills with a Google Document AI processor.
type DocumentAI struct {
	client processClient
	closer func() error
	config GoogleConfig
	log    zerolog.Logger
}

// entityFields maps Document AI entity types to Result field names.
var entityFields = map[string]string{
	"customer_id":             FieldAccountNumber,
	"account_number":          FieldAccountNumber,
	"customer_account_number": FieldAccountNumber,
	"invoice_id":              FieldInvoiceID,
	"invoice_number":          FieldInvoiceID,
	"amount_due":              FieldAmountDue,
	"total_amount":            FieldAmountDue,
	"due_date":                FieldDueDate,
	"supplier_name":           FieldVendorName,
	"vendor_name":             FieldVendorName,
	"invoice_date":            FieldInvoiceDate,
}

// entityPriority ranks competing entity types for the same field, lower
// first. Ties go to the higher confidence.
var entityPriority = map[string]int{
	"customer_id":  0,
	"amount_due":   0,
	"total_amount": 1,
}

// NewDocumentAI creates a Document AI analyzer with a regional endpoint.
func NewDocumentAI(ctx context.Context, config GoogleConfig) (*DocumentAI, error) {
	const op = "NewDocumentAI"

	if config.ProjectID == "" {
		return nil, billerr.New(op, billerr.ErrConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, billerr.New(op, billerr.ErrConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	clientOptions := config.clientOptions()
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
	clientOptions = append(clientOptions, option.WithEndpoint(endpoint))

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, billerr.New(op, billerr.ErrConfiguration,
			fmt.Sprintf("failed to create Document AI client for location %s: %v", config.Location, err))
	}

	a := NewDocumentAIWithClient(client, config)
	a.closer = client.Close
	return a, nil
}

// NewDocumentAIWithClient creates an analyzer with an explicit client (for testing).
func NewDocumentAIWithClient(client processClient, config GoogleConfig) *DocumentAI {
	return &DocumentAI{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// Analyze implements Analyzer.
func (d *DocumentAI) Analyze(ctx context.Context, path string) (*Result, error) {
	const op = "DocumentAI.Analyze"

	pdfBytes, err := ValidateDocument(path)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.timeout())
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdfBytes,
				MimeType: pdfMimeType,
			},
		},
	}

	d.log.Debug().
		Str("file", path).
		Int("size", len(pdfBytes)).
		Str("processor", req.Name).
		Msg("Sending document to Document AI")

	start := time.Now()
	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, d.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, billerr.Transient(op, fmt.Errorf("no document in response"), "empty Document AI response")
	}

	result := d.toResult(resp.GetDocument())
	result.ProcessingDuration = time.Since(start)

	d.log.Info().
		Int("pages", result.PageCount).
		Int("content_length", len(result.Content)).
		Int("fields", len(result.Fields)).
		Dur("duration", result.ProcessingDuration).
		Msg("Document AI analysis completed")

	return result, nil
}

func (d *DocumentAI) processorName() string {
	if d.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			d.config.ProjectID, d.config.Location, d.config.ProcessorID, d.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// toResult collects the document text and the best-ranked entity per field.
func (d *DocumentAI) toResult(doc *documentaipb.Document) *Result {
	result := &Result{
		Content:    doc.GetText(),
		Fields:     make(map[string]string),
		Confidence: make(map[string]float32),
		PageCount:  len(doc.GetPages()),
		Backend:    "documentai",
	}

	rank := make(map[string]int)
	for _, entity := range doc.GetEntities() {
		field, ok := entityFields[entity.GetType()]
		if !ok {
			continue
		}
		value := strings.TrimSpace(entity.GetMentionText())
		if value == "" {
			continue
		}

		p := entityPriority[entity.GetType()]
		if prev, seen := rank[field]; seen {
			if p > prev || (p == prev && entity.GetConfidence() <= result.Confidence[field]) {
				continue
			}
		}

		d.log.Debug().
			Str("entity_type", entity.GetType()).
			Str("field", field).
			Str("value", value).
			Float32("confidence", entity.GetConfidence()).
			Msg("Processing Document AI entity")

		rank[field] = p
		result.Fields[field] = value
		result.Confidence[field] = entity.GetConfidence()
	}

	return result
}

// handleProcessingError maps gRPC status codes to the error taxonomy.
func (d *DocumentAI) handleProcessingError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return billerr.Transient(op, err, "Document AI temporarily unavailable")
	case codes.InvalidArgument:
		return billerr.New(op, fmt.Errorf("%w: %w", billerr.ErrInput, err), "document format not supported or corrupted")
	case codes.PermissionDenied, codes.Unauthenticated:
		return billerr.New(op, fmt.Errorf("%w: %w", billerr.ErrConfiguration, err), "insufficient permissions for Document AI")
	case codes.NotFound:
		return billerr.New(op, fmt.Errorf("%w: %w", billerr.ErrConfiguration, err), fmt.Sprintf("processor not found: %s", d.config.ProcessorID))
	case codes.Canceled:
		return billerr.New(op, err, "processing was canceled")
	}

	if isContextTimeout(err) {
		return billerr.Transient(op, err, "processing timeout")
	}
	return billerr.New(op, err, "Document AI error")
}

// Close closes the underlying Document AI client.
func (d *DocumentAI) Close() error {
	if d.closer != nil {
		return d.closer()
	}
	return nil
}

func isContextTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "context deadline exceeded")
}
