package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billextract/internal/analyzer"
	"billextract/internal/archive"
	"billextract/internal/billerr"
	"billextract/internal/classify"
	"billextract/internal/extract"
	"billextract/internal/validate"
	"billextract/pkg/models"
)

type stubAnalyzer map[string]*analyzer.Result

func (s stubAnalyzer) Analyze(_ context.Context, path string) (*analyzer.Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, billerr.New("Analyze", billerr.ErrInput, "file not found")
	}
	r, ok := s[filepath.Base(path)]
	if !ok {
		return nil, billerr.Transient("Analyze", errors.New("503"), "no canned result")
	}
	return r, nil
}

const (
	slbContent = "Verizon Wireless\nAccount Number: 12345\nData Plan $45.00\nTotal Due $45.00"

	mlbContent = "Spectrum Business\nAccount Number: 8260-1234\nTotal Due $150.50\n" +
		"Service Location 1 of 2\nAcct 111111111\n100 Main St\nSubtotal $100.00\n" +
		"Service Location 2 of 2\nAcct 222222222\n200 Oak Ave\nSubtotal $50.00\n"

	slbReply = `{"account": {"account_number": "12345", "invoice_date": "01/05/2024", "total_due": "$45.00"},
		"line_items": [{"description": "Data Plan", "date_range": "", "prorated_charges": "", "recurring_charges": "$45.00",
		"one_time_charges": "", "adjustments_and_surcharges": "", "taxes_fees": "", "total": "$45.00"}]}`

	chunk1Reply = `{"master_account": {"account_number": "8260-1234", "invoice_date": "01/05/2024", "total_due": "$150.50"},
		"sub_accounts": [{"sub_account_number": "111111111", "location": "100 Main St",
		"line_items": [{"description": "Internet", "total": "$100.00"}], "total_due": "$100.00"}]}`

	chunk2Reply = `{"master_account": {"account_number": "8260-1234", "invoice_date": "01/05/2024", "total_due": "$150.50"},
		"sub_accounts": [{"sub_account_number": "200 Oak Ave", "location": "200 Oak Ave",
		"line_items": [{"description": "Voice", "total": "$50.00"}], "total_due": "$50.00"}]}`

	validationReply = `{"valid": true, "errors": [], "notes": []}`
)

// routingCompleter answers by prompt content and is safe for concurrent use.
type routingCompleter struct {
	prompts extract.Prompts
	calls   atomic.Int32
	garbage bool
}

func (c *routingCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.calls.Add(1)
	switch {
	case strings.HasPrefix(prompt, c.prompts.Validation):
		return validationReply, nil
	case c.garbage:
		return "I'm sorry, I can't read this bill.", nil
	case strings.Contains(prompt, "Service Location 1 of 2"):
		return chunk1Reply, nil
	case strings.Contains(prompt, "Service Location 2 of 2"):
		return chunk2Reply, nil
	case strings.Contains(prompt, "Account Number: 12345"):
		return slbReply, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

type harness struct {
	processor *Processor
	completer *routingCompleter
	docs      string
	output    string
	archive   string
	audit     string
	debug     string
}

func newHarness(t *testing.T, registry classify.StaticMapping, analyses stubAnalyzer, opts ...Option) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		docs:    filepath.Join(root, "documents"),
		output:  filepath.Join(root, "output"),
		archive: filepath.Join(root, "archive"),
		audit:   filepath.Join(root, "audit"),
		debug:   filepath.Join(root, "debug"),
	}
	require.NoError(t, os.MkdirAll(h.docs, 0755))
	for name := range analyses {
		require.NoError(t, os.WriteFile(filepath.Join(h.docs, name), []byte("%PDF-1.7"), 0644))
	}

	prompts := extract.DefaultPrompts()
	h.completer = &routingCompleter{prompts: prompts}

	h.processor = New(
		analyses,
		classify.New(registry),
		extract.New(h.completer, prompts, extract.Options{FormatRetries: 1, Highlight: true}),
		validate.New(h.completer, prompts, 0),
		archive.New(archive.Options{
			OutputDir:  h.output,
			ArchiveDir: h.archive,
			AuditDir:   h.audit,
			WriteDelay: time.Millisecond,
		}),
		append([]Option{WithDebugDir(h.debug)}, opts...)...,
	)
	return h
}

func (h *harness) path(name string) string {
	return filepath.Join(h.docs, name)
}

func noteContaining(result *models.ValidationResult, substr string) bool {
	for _, n := range result.Notes {
		if strings.Contains(n.Note, substr) {
			return true
		}
	}
	return false
}

func TestProcess_EmptyContentMakesNoModelCalls(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB}, stubAnalyzer{
		"blank.pdf": {Content: "  \n\t", Fields: map[string]string{"account_number": "12345"}},
	})

	out, err := h.processor.Process(context.Background(), h.path("blank.pdf"))

	require.ErrorIs(t, err, billerr.ErrInput)
	assert.Equal(t, int32(0), h.completer.calls.Load())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, billerr.StageInput, out.Stage)
	assert.Contains(t, out.Error, "blank.pdf")
	assert.FileExists(t, h.path("blank.pdf"), "failed documents stay in place")
}

func TestProcess_SingleLocation(t *testing.T) {
	var steps []int
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB}, stubAnalyzer{
		"verizon.pdf": {Content: slbContent, Fields: map[string]string{"vendor_name": "Verizon", "due_date": "02/01/2024"}},
	}, WithProgress(func(_ string, step int, _ string) { steps = append(steps, step) }))

	out, err := h.processor.Process(context.Background(), h.path("verizon.pdf"))
	require.NoError(t, err)

	assert.Equal(t, StatusArchived, out.Status)
	assert.Equal(t, models.BillTypeSLB, out.BillType)
	assert.Equal(t, classify.StatusOK, out.Classification.Status)
	assert.True(t, out.Validation.Valid, "%v", out.Validation.Errors)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, steps)
	assert.Equal(t, int32(2), h.completer.calls.Load(), "one extraction call and one validation call")
	assert.NotEmpty(t, out.RunID)

	assert.FileExists(t, filepath.Join(h.archive, "verizon.pdf"))
	data, err := os.ReadFile(filepath.Join(h.output, "verizon_output.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_due": "$45.00"`)
	assert.NotContains(t, string(data), `"valid"`, "output holds the record only")

	assert.FileExists(t, filepath.Join(h.debug, "verizon", "analysis.json"))
	assert.FileExists(t, filepath.Join(h.debug, "verizon", "validation.json"))
}

func TestProcess_MultiLocation(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"82601234": models.BillTypeMLB}, stubAnalyzer{
		"spectrum.pdf": {Content: mlbContent, Fields: map[string]string{
			"account_number": "8260-1234",
			"vendor_name":    "Spectrum",
			"due_date":       "02/01/2024",
			"amount_due":     "$150.50",
		}},
	})

	out, err := h.processor.Process(context.Background(), h.path("spectrum.pdf"))
	require.NoError(t, err)

	assert.Equal(t, StatusArchived, out.Status)
	assert.Equal(t, 2, out.Chunks)
	assert.Equal(t, int32(3), h.completer.calls.Load())
	assert.True(t, out.Validation.Valid, "%v", out.Validation.Errors)
	assert.True(t, noteContaining(out.Validation, "discrepancy of $0.50"))

	record, ok := out.Record.(*models.MasterSubAccountRecord)
	require.True(t, ok)
	require.Len(t, record.SubAccounts, 2)
	assert.Equal(t, "111111111", record.SubAccounts[0].SubAccountNumber)
	assert.Equal(t, "222222222", record.SubAccounts[1].SubAccountNumber, "address replaced by the chunk's account number")
	assert.Equal(t, "$150.50", record.MasterAccount.TotalDue)

	assert.FileExists(t, filepath.Join(h.debug, "spectrum", "preamble.txt"))
	assert.FileExists(t, filepath.Join(h.debug, "spectrum", "chunk_01.txt"))
	assert.FileExists(t, filepath.Join(h.debug, "spectrum", "chunk_02.txt"))
	assert.FileExists(t, filepath.Join(h.output, "spectrum_output.json"))
}

func TestProcess_UnmappedHalt(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{}, stubAnalyzer{
		"unknown.pdf": {Content: mlbContent},
	})

	out, err := h.processor.Process(context.Background(), h.path("unknown.pdf"))
	require.NoError(t, err)

	assert.Equal(t, StatusQuarantined, out.Status)
	assert.Equal(t, classify.StatusAudit, out.Classification.Status)
	assert.Equal(t, int32(0), h.completer.calls.Load())
	assert.FileExists(t, filepath.Join(h.audit, "unknown.pdf"))
	assert.NoDirExists(t, h.output)
	assert.True(t, noteContaining(out.Validation, "82601234"))
}

func TestProcess_UnmappedBestEffort(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{}, stubAnalyzer{
		"guess.pdf": {Content: mlbContent, Fields: map[string]string{"vendor_name": "Spectrum", "due_date": "02/01/2024"}},
	}, WithUnmappedPolicy(PolicyBestEffort))

	out, err := h.processor.Process(context.Background(), h.path("guess.pdf"))
	require.NoError(t, err)

	assert.Equal(t, models.BillTypeMLB, out.BillType, "marker present means MLB")
	assert.True(t, out.Validation.Valid)
	assert.Equal(t, StatusAudit, out.Status, "unmapped documents always go to audit")
	assert.FileExists(t, filepath.Join(h.audit, "guess.pdf"))
	assert.FileExists(t, filepath.Join(h.output, "guess_output.json"))

	require.NotEmpty(t, out.Validation.Notes)
	assert.Equal(t, "classification", out.Validation.Notes[0].Field)
	assert.Contains(t, out.Validation.Notes[0].Note, "guessed as MLB")
}

func TestProcess_ChunkingError(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeMLB}, stubAnalyzer{
		"nomarkers.pdf": {Content: slbContent},
	})

	out, err := h.processor.Process(context.Background(), h.path("nomarkers.pdf"))

	require.ErrorIs(t, err, billerr.ErrChunking)
	assert.Equal(t, billerr.StageChunk, out.Stage)
	assert.Equal(t, int32(0), h.completer.calls.Load(), "never falls back to single-location extraction")
	assert.FileExists(t, h.path("nomarkers.pdf"))
}

func TestProcess_FormatErrorCarriesRawText(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB}, stubAnalyzer{
		"garbled.pdf": {Content: slbContent},
	})
	h.completer.garbage = true

	out, err := h.processor.Process(context.Background(), h.path("garbled.pdf"))

	require.ErrorIs(t, err, billerr.ErrExtractionFormat)
	assert.Equal(t, int32(2), h.completer.calls.Load(), "one format retry")
	assert.Equal(t, billerr.StageExtract, out.Stage)
	assert.Contains(t, out.Error, "garbled.pdf: [extract]")
	assert.Equal(t, "I'm sorry, I can't read this bill.", billerr.RawTextOf(err))

	raw, readErr := os.ReadFile(filepath.Join(h.debug, "garbled", "format_error.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "I'm sorry, I can't read this bill.", string(raw))
	assert.FileExists(t, h.path("garbled.pdf"))
}

func TestProcess_FormatErrorRawTextInOutcome(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB}, stubAnalyzer{
		"garbled.pdf": {Content: slbContent},
	}, WithDebugDir(""))
	h.completer.garbage = true

	out, err := h.processor.Process(context.Background(), h.path("garbled.pdf"))

	require.ErrorIs(t, err, billerr.ErrExtractionFormat)
	assert.Equal(t, "I'm sorry, I can't read this bill.", out.RawResponse)
	assert.NoDirExists(t, h.debug)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"raw_response":"I'm sorry, I can't read this bill."`)
}

func TestProcess_InvalidRecordGoesToAudit(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB}, stubAnalyzer{
		"verizon.pdf": {Content: slbContent},
	})

	out, err := h.processor.Process(context.Background(), h.path("verizon.pdf"))
	require.NoError(t, err, "a failed validation is an outcome")

	assert.Equal(t, StatusAudit, out.Status)
	assert.False(t, out.Validation.Valid)
	assert.NotEmpty(t, out.Validation.Errors)
	assert.Empty(t, out.Error)
	assert.FileExists(t, filepath.Join(h.audit, "verizon.pdf"))
}

func TestProcess_SuccessHasNoRawResponse(t *testing.T) {
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB}, stubAnalyzer{
		"verizon.pdf": {Content: slbContent, Fields: map[string]string{"vendor_name": "Verizon", "due_date": "02/01/2024"}},
	})

	out, err := h.processor.Process(context.Background(), h.path("verizon.pdf"))
	require.NoError(t, err)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "raw_response")
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	var done atomic.Int32
	h := newHarness(t, classify.StaticMapping{"12345": models.BillTypeSLB, "82601234": models.BillTypeMLB}, stubAnalyzer{
		"a-verizon.pdf":  {Content: slbContent, Fields: map[string]string{"vendor_name": "Verizon", "due_date": "02/01/2024"}},
		"b-blank.pdf":    {Content: ""},
		"c-unmapped.pdf": {Content: "Account Number: 999\nsomething"},
		"d-spectrum.pdf": {Content: mlbContent, Fields: map[string]string{"vendor_name": "Spectrum", "due_date": "02/01/2024"}},
	}, WithCompletion(func(_, total int, _ *Outcome) {
		done.Add(1)
		assert.Equal(t, 5, total)
	}))

	paths := []string{
		h.path("a-verizon.pdf"),
		h.path("b-blank.pdf"),
		h.path("c-unmapped.pdf"),
		h.path("d-spectrum.pdf"),
		h.path("e-missing.pdf"),
	}
	outcomes := h.processor.ProcessBatch(context.Background(), paths, 3)

	require.Len(t, outcomes, 5)
	for i, out := range outcomes {
		assert.Equal(t, filepath.Base(paths[i]), out.Document, "outcomes keep input order")
	}
	assert.Equal(t, StatusArchived, outcomes[0].Status)
	assert.Equal(t, StatusFailed, outcomes[1].Status)
	assert.Equal(t, StatusQuarantined, outcomes[2].Status)
	assert.Equal(t, StatusArchived, outcomes[3].Status)
	assert.Equal(t, StatusFailed, outcomes[4].Status)
	assert.ErrorIs(t, outcomes[4].Err, billerr.ErrInput)
	assert.Equal(t, int32(5), done.Load())

	assert.Equal(t, Summary{Total: 5, Archived: 2, Quarantined: 1, Failed: 2}, Summarize(outcomes))
}

func TestParseUnmappedPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    UnmappedPolicy
		wantErr bool
	}{
		{"", PolicyHalt, false},
		{"HALT", PolicyHalt, false},
		{"best-effort", PolicyBestEffort, false},
		{"best_effort", PolicyBestEffort, false},
		{"guess", "", true},
	}
	for _, tt := range tests {
		got, err := ParseUnmappedPolicy(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, billerr.ErrConfiguration)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFindDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pdf"), 0755))

	docs, err := FindDocuments(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PDF"), filepath.Join(dir, "b.pdf")}, docs)

	_, err = FindDocuments(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
