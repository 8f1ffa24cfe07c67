// Package pipeline runs a bill PDF through analysis, classification,
// chunking, extraction, validation and archiving.
//
// A document is processed linearly. Every failure is annotated with the
// document name and the stage it happened in, and never affects other
// documents of a batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"billextract/internal/analyzer"
	"billextract/internal/archive"
	"billextract/internal/billerr"
	"billextract/internal/chunk"
	"billextract/internal/classify"
	"billextract/internal/extract"
	"billextract/internal/logger"
	"billextract/pkg/models"
)

// BillClassifier decides the bill type for an account identifier.
type BillClassifier interface {
	Classify(ctx context.Context, identifier string) (classify.Classification, error)
}

// Extractor turns document text into a record.
type Extractor interface {
	ExtractSingle(ctx context.Context, content string, fields map[string]string) (*extract.Extraction, error)
	ExtractMulti(ctx context.Context, chunks *chunk.Sequence, fields map[string]string) (*extract.Extraction, error)
}

// Validator checks an extracted record.
type Validator interface {
	Validate(ctx context.Context, record models.Record, notes []models.FieldNote) (*models.ValidationResult, error)
}

// Archiver persists the outcome of a document.
type Archiver interface {
	Archive(ctx context.Context, source string, record models.Record, valid bool) (*archive.Result, error)
	Quarantine(ctx context.Context, source string) (*archive.Result, error)
}

// UnmappedPolicy decides what happens to documents whose identifier is not
// in the registry.
type UnmappedPolicy string

const (
	// PolicyHalt moves the document to audit without extracting it.
	PolicyHalt UnmappedPolicy = "halt"

	// PolicyBestEffort guesses the bill type, extracts and validates the
	// document, and always archives it to audit.
	PolicyBestEffort UnmappedPolicy = "best-effort"
)

// ParseUnmappedPolicy parses a policy name. An empty name means PolicyHalt.
func ParseUnmappedPolicy(s string) (UnmappedPolicy, error) {
	switch UnmappedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyHalt:
		return PolicyHalt, nil
	case PolicyBestEffort, "best_effort", "besteffort":
		return PolicyBestEffort, nil
	}
	return "", fmt.Errorf("%w: unknown unmapped policy %q (use halt or best-effort)", billerr.ErrConfiguration, s)
}

// Status is the final state of a processed document.
type Status string

const (
	StatusArchived    Status = "archived"
	StatusAudit       Status = "audit"
	StatusQuarantined Status = "quarantined"
	StatusFailed      Status = "failed"
)

// Outcome reports what happened to one document.
type Outcome struct {
	RunID          string                   `json:"run_id"`
	Document       string                   `json:"document"`
	Path           string                   `json:"path"`
	Status         Status                   `json:"status"`
	Classification classify.Classification  `json:"classification"`
	BillType       models.BillType          `json:"bill_type,omitempty"`
	Chunks         int                      `json:"chunks,omitempty"`
	Record         models.Record            `json:"record,omitempty"`
	Validation     *models.ValidationResult `json:"validation,omitempty"`
	Archive        *archive.Result          `json:"archive,omitempty"`
	Stage          billerr.Stage            `json:"stage,omitempty"`
	Error          string                   `json:"error,omitempty"`
	RawResponse    string                   `json:"raw_response,omitempty"`
	StartedAt      time.Time                `json:"started_at"`
	Duration       time.Duration            `json:"duration"`

	// Err is the annotated failure, if any.
	Err error `json:"-"`
}

// ProgressFunc receives a human readable message as each stage starts.
type ProgressFunc func(document string, step int, message string)

// Processor runs the pipeline for single documents and batches.
type Processor struct {
	analyzer   analyzer.Analyzer
	classifier BillClassifier
	extractor  Extractor
	validator  Validator
	archiver   Archiver

	marker     *regexp.Regexp
	policy     UnmappedPolicy
	debugDir   string
	progress   ProgressFunc
	completion CompletionFunc
}

// Option configures a Processor.
type Option func(*Processor)

// WithMarker sets the location marker used for chunking.
func WithMarker(marker *regexp.Regexp) Option {
	return func(p *Processor) {
		if marker != nil {
			p.marker = marker
		}
	}
}

// WithUnmappedPolicy sets the policy for identifiers missing from the registry.
func WithUnmappedPolicy(policy UnmappedPolicy) Option {
	return func(p *Processor) {
		p.policy = policy
	}
}

// WithDebugDir enables raw dumps of every intermediate result into dir.
func WithDebugDir(dir string) Option {
	return func(p *Processor) {
		p.debugDir = dir
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Processor) {
		p.progress = fn
	}
}

// New returns a Processor.
func New(a analyzer.Analyzer, c BillClassifier, e Extractor, v Validator, ar Archiver, opts ...Option) *Processor {
	p := &Processor{
		analyzer:   a,
		classifier: c,
		extractor:  e,
		validator:  v,
		archiver:   ar,
		marker:     chunk.DefaultMarker,
		policy:     PolicyHalt,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one document through the pipeline. The returned Outcome is
// never nil; the error is the annotated failure for failed documents.
func (p *Processor) Process(ctx context.Context, path string) (*Outcome, error) {
	const op = "Process"

	document := filepath.Base(path)
	out := &Outcome{
		RunID:     uuid.NewString(),
		Document:  document,
		Path:      path,
		StartedAt: time.Now(),
	}
	log := logger.WithDocument("pipeline", out.RunID, document)
	dbg := p.newDebug(document, log)

	fail := func(err error, stage billerr.Stage) (*Outcome, error) {
		err = billerr.Annotate(err, document, stage)
		out.Status = StatusFailed
		out.Stage = billerr.StageOf(err)
		out.Error = err.Error()
		out.Err = err
		out.Duration = time.Since(out.StartedAt)
		out.RawResponse = billerr.RawTextOf(err)
		entry := log.Error().Err(err).Str("stage", string(out.Stage))
		if out.RawResponse != "" {
			dbg.text("format_error.txt", out.RawResponse)
			entry = entry.Str("raw_response", out.RawResponse)
		}
		entry.Msg("Document processing failed")
		return out, err
	}

	log.Info().Str("path", path).Msg("Processing document")

	// Step 1: analysis
	p.report(document, 1, "Analyzing document")
	analysis, err := p.analyzer.Analyze(ctx, path)
	if err != nil {
		if errors.Is(err, billerr.ErrInput) {
			return fail(err, billerr.StageInput)
		}
		return fail(err, billerr.StageAnalyze)
	}
	dbg.json("analysis.json", analysis)
	if strings.TrimSpace(analysis.Content) == "" {
		return fail(billerr.New(op, billerr.ErrInput, "document analysis returned no text"), billerr.StageInput)
	}

	// Step 2: classification
	p.report(document, 2, "Classifying bill")
	identifier := classify.FindIdentifier(analysis.Fields, analysis.Content)
	cls, err := p.classifier.Classify(ctx, identifier)
	if err != nil {
		return fail(err, billerr.StageClassify)
	}
	out.Classification = cls
	out.BillType = cls.BillType

	var notes []models.FieldNote
	forceAudit := false

	if cls.Status != classify.StatusOK {
		note := fmt.Sprintf("%v: identifier %q is not in the account registry", billerr.ErrClassificationAmbiguous, cls.Identifier)
		if cls.Identifier == "" {
			note = fmt.Sprintf("%v: no account identifier found", billerr.ErrClassificationAmbiguous)
		}

		if p.policy != PolicyBestEffort {
			res, err := p.archiver.Quarantine(ctx, path)
			if err != nil {
				return fail(err, billerr.StageArchive)
			}
			out.Status = StatusQuarantined
			out.Archive = res
			out.Validation = models.NewValidationResult()
			out.Validation.Valid = false
			out.Validation.AddNote("classification", note)
			out.Duration = time.Since(out.StartedAt)
			log.Warn().Str("identifier", cls.Identifier).Msg("Unmapped account, document quarantined")
			return out, nil
		}

		out.BillType = models.BillTypeSLB
		if chunk.HasMarker(analysis.Content, p.marker) {
			out.BillType = models.BillTypeMLB
		}
		forceAudit = true
		notes = append(notes, models.FieldNote{
			Field: "classification",
			Note:  fmt.Sprintf("%s; bill type guessed as %s", note, out.BillType),
		})
		log.Warn().Str("identifier", cls.Identifier).Str("guess", string(out.BillType)).Msg("Unmapped account, extracting with guessed bill type")
	}

	// Step 3: chunking and extraction
	var extraction *extract.Extraction
	if out.BillType == models.BillTypeMLB {
		seq, err := chunk.Split(analysis.Content, p.marker)
		if err != nil {
			return fail(err, billerr.StageChunk)
		}
		out.Chunks = seq.Len()
		if preamble := seq.Preamble(); strings.TrimSpace(preamble) != "" {
			dbg.text("preamble.txt", preamble)
		}
		for i, c := range seq.All() {
			dbg.text(fmt.Sprintf("chunk_%02d.txt", i+1), c.Raw())
		}

		p.report(document, 3, fmt.Sprintf("Extracting %d service locations", seq.Len()))
		extraction, err = p.extractor.ExtractMulti(ctx, seq, analysis.Fields)
		if err != nil {
			return fail(err, billerr.StageExtract)
		}
	} else {
		p.report(document, 3, "Extracting single-location bill")
		extraction, err = p.extractor.ExtractSingle(ctx, analysis.Content, analysis.Fields)
		if err != nil {
			return fail(err, billerr.StageExtract)
		}
	}
	for i, raw := range extraction.Raw {
		dbg.text(fmt.Sprintf("extraction_raw_%02d.txt", i+1), raw)
	}
	dbg.json("extraction.json", extraction.Record)
	out.Record = extraction.Record
	notes = append(notes, extraction.Notes...)

	// Step 4: validation
	p.report(document, 4, "Validating extracted data")
	validation, err := p.validator.Validate(ctx, extraction.Record, notes)
	if err != nil {
		return fail(err, billerr.StageValidate)
	}
	dbg.json("validation.json", validation)
	out.Validation = validation
	if !validation.Valid {
		log.Warn().
			Err(billerr.ErrValidationFailure).
			Int("errors", len(validation.Errors)).
			Msg("Record routed to audit")
	}

	// Step 5: archive
	valid := validation.Valid && !forceAudit
	p.report(document, 5, "Archiving document")
	res, err := p.archiver.Archive(ctx, path, extraction.Record, valid)
	if err != nil {
		return fail(err, billerr.StageArchive)
	}
	out.Archive = res
	out.Status = StatusArchived
	if res.Audit {
		out.Status = StatusAudit
	}
	out.Duration = time.Since(out.StartedAt)

	log.Info().
		Str("status", string(out.Status)).
		Str("bill_type", string(out.BillType)).
		Bool("valid", validation.Valid).
		Int("errors", len(validation.Errors)).
		Int("notes", len(validation.Notes)).
		Dur("duration", out.Duration).
		Msg("Document processed")

	return out, nil
}

func (p *Processor) report(document string, step int, message string) {
	if p.progress != nil {
		p.progress(document, step, message)
	}
}
