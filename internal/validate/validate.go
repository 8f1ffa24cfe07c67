// Package validate decides whether an extracted record is complete enough to
// archive.
//
// Local rules (CheckRecord) are authoritative. An optional model review adds
// notes prefixed "model:" and never changes the verdict.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/extract"
	"billextract/internal/llm"
	"billextract/internal/logger"
	"billextract/pkg/models"
)

// ModelPrefix starts every note that came from the model review.
const ModelPrefix = "model: "

// Validator validates records with the local rules and, when a Completer
// is set, a model review.
type Validator struct {
	completer     llm.Completer
	prompts       extract.Prompts
	formatRetries int
	log           zerolog.Logger
}

// New returns a Validator. A nil completer disables the model review.
func New(completer llm.Completer, prompts extract.Prompts, formatRetries int) *Validator {
	if formatRetries < 0 {
		formatRetries = 0
	}
	return &Validator{
		completer:     completer,
		prompts:       prompts,
		formatRetries: formatRetries,
		log:           logger.WithComponent("validate"),
	}
}

// WithLogger returns a copy of v that logs to log.
func (v *Validator) WithLogger(log zerolog.Logger) *Validator {
	c := *v
	c.log = log
	return &c
}

// Validate checks record. Notes from extraction come first in the result,
// followed by the local rule notes and the model review notes.
//
// A failing model review is recorded as a note; only a canceled context is
// returned as an error.
func (v *Validator) Validate(ctx context.Context, record models.Record, notes []models.FieldNote) (*models.ValidationResult, error) {
	const op = "Validate"

	local := CheckRecord(record)

	result := models.NewValidationResult()
	result.Valid = local.Valid
	result.Errors = append(result.Errors, local.Errors...)
	result.Notes = append(result.Notes, notes...)
	result.Notes = append(result.Notes, local.Notes...)

	if v.completer != nil {
		review, err := v.review(ctx, record)
		switch {
		case err == nil:
			result.Notes = append(result.Notes, review...)
		case ctx.Err() != nil:
			return nil, billerr.New(op, ctx.Err(), "validation canceled")
		default:
			v.log.Warn().Err(err).Msg("Model validation failed, keeping local result")
			result.AddNote("model", ModelPrefix+"review unavailable: "+errorSummary(err))
		}
	}

	v.log.Info().
		Bool("valid", result.Valid).
		Int("errors", len(result.Errors)).
		Int("notes", len(result.Notes)).
		Msg("Validation completed")

	return result, nil
}

// review asks the model to check record and turns its findings into notes.
func (v *Validator) review(ctx context.Context, record models.Record) ([]models.FieldNote, error) {
	const op = "review"

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	prompt := v.prompts.ValidationPrompt(string(data))

	var reply *models.ValidationResult
	for attempt := 1; attempt <= v.formatRetries+1; attempt++ {
		raw, err := v.completer.Complete(ctx, prompt)
		if err != nil {
			return nil, billerr.Wrap(op, err, "model call failed")
		}

		reply, err = ParseValidationReply(raw)
		if err == nil {
			break
		}
		if attempt > v.formatRetries {
			return nil, err
		}
		v.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", v.formatRetries+1).
			Msg("Validation reply did not match the schema")
	}

	notes := make([]models.FieldNote, 0, len(reply.Errors)+len(reply.Notes)+1)
	for _, e := range reply.Errors {
		notes = append(notes, models.FieldNote{Field: e.Field, Note: ModelPrefix + e.Error})
	}
	for _, n := range reply.Notes {
		notes = append(notes, models.FieldNote{Field: n.Field, Note: ModelPrefix + n.Note})
	}
	if !reply.Valid && len(reply.Errors) == 0 {
		notes = append(notes, models.FieldNote{Field: "record", Note: ModelPrefix + "reported the record as invalid"})
	}
	return notes, nil
}

// ParseValidationReply strictly decodes a model validation reply. "valid"
// must be a boolean; "errors" and "notes" may be absent.
func ParseValidationReply(raw string) (*models.ValidationResult, error) {
	const op = "ParseValidationReply"

	var reply struct {
		Valid  *bool               `json:"valid"`
		Errors []models.FieldError `json:"errors"`
		Notes  []models.FieldNote  `json:"notes"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &reply); err != nil {
		return nil, billerr.Format(op, raw, fmt.Sprintf("invalid validation reply: %v", err))
	}
	if reply.Valid == nil {
		return nil, billerr.Format(op, raw, "missing required key: valid")
	}

	result := models.NewValidationResult()
	result.Valid = *reply.Valid
	for _, e := range reply.Errors {
		if e.Field != "" || e.Error != "" {
			result.Errors = append(result.Errors, e)
		}
	}
	for _, n := range reply.Notes {
		if n.Field != "" || n.Note != "" {
			result.Notes = append(result.Notes, n)
		}
	}
	return result, nil
}

func errorSummary(err error) string {
	switch {
	case errors.Is(err, billerr.ErrExtractionFormat):
		return "reply was not a validation result"
	case errors.Is(err, billerr.ErrTransientService):
		return "service unavailable"
	}
	return err.Error()
}
