package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"billextract/internal/logger"
	"billextract/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process [pdf-file]",
	Short: "Extract, validate and archive a single bill PDF",
	Long: `Run one bill PDF through the full pipeline:

  Step 1  document analysis (Document AI, Cloud Vision as fallback)
  Step 2  classification as SLB or MLB through the account registry
  Step 3  chunking by service location (MLB only) and model extraction
  Step 4  validation (local rules, then model review)
  Step 5  output JSON and archive or audit move

Without an argument the PDFs in DOCUMENTS_DIR are listed and one can be
picked interactively. The outcome is printed as JSON.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT - Your Google Cloud project ID
  DOCUMENT_AI_PROCESSOR_ID - Your Document AI processor ID
  OPENAI_API_KEY - OpenAI API key (or the Azure/Gemini settings)`,
	Example: `  # Process a bill and print the outcome
  billextract process data/documents/spectrum-2024-01.pdf

  # Pick a document from DOCUMENTS_DIR
  billextract process

  # Keep every intermediate result for inspection
  billextract process bill.pdf --debug-dir data/debug -o outcome.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("output", "o", "", "Write the outcome JSON to this file (default: stdout)")
	processCmd.Flags().Int("timeout", 600, "Processing timeout in seconds")
	processCmd.Flags().String("debug-dir", "", "Dump intermediate results into this directory")
	processCmd.Flags().String("unmapped", "", "Policy for accounts missing from the registry (halt, best-effort)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	debugDir, _ := cmd.Flags().GetString("debug-dir")
	unmapped, _ := cmd.Flags().GetString("unmapped")

	pdfPath := ""
	if len(args) == 1 {
		pdfPath = args[0]
	} else {
		selected, err := selectDocument(cfg.DocumentsDir, os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		pdfPath = selected
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	opts := []pipeline.Option{
		pipeline.WithProgress(func(document string, step int, message string) {
			fmt.Fprintf(os.Stderr, "Step %d/5: %s...\n", step, message)
		}),
	}
	if debugDir != "" {
		opts = append(opts, pipeline.WithDebugDir(debugDir))
	}
	if unmapped != "" {
		policy, err := pipeline.ParseUnmappedPolicy(unmapped)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithUnmappedPolicy(policy))
	}

	var c closers
	defer c.close()

	processor, err := buildProcessor(ctx, &c, opts...)
	if err != nil {
		return fmt.Errorf("failed to set up pipeline: %s", describeError(err))
	}

	log.Info().
		Str("file", pdfPath).
		Str("output", outputPath).
		Int("timeout", timeoutSecs).
		Msg("Starting bill processing")

	out, procErr := processor.Process(ctx, pdfPath)

	fmt.Fprintf(os.Stderr, "\n%s %s: %s\n", statusEmoji(out.Status), out.Document, out.Status)
	if out.Validation != nil {
		for _, e := range out.Validation.Errors {
			fmt.Fprintf(os.Stderr, "  error %s: %s\n", e.Field, e.Error)
		}
		for _, n := range out.Validation.Notes {
			fmt.Fprintf(os.Stderr, "  note  %s: %s\n", n.Field, n.Note)
		}
	}
	if out.Archive != nil {
		fmt.Fprintf(os.Stderr, "  moved to %s\n", out.Archive.DestinationPath)
	}
	if out.RawResponse != "" {
		fmt.Fprintf(os.Stderr, "  model response: %s\n", truncate(out.RawResponse, rawResponseLimit))
	}

	if err := writeOutcome(out, outputPath, log); err != nil {
		return err
	}

	if procErr != nil {
		return fmt.Errorf("%s", describeError(procErr))
	}
	return nil
}

// selectDocument lists the PDFs in dir on w and reads a choice from r.
func selectDocument(dir string, r io.Reader, w io.Writer) (string, error) {
	docs, err := pipeline.FindDocuments(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("no PDF documents found in %s", dir)
	}

	fmt.Fprintf(w, "Documents in %s:\n", dir)
	for i, doc := range docs {
		fmt.Fprintf(w, "  %2d) %s\n", i+1, filepath.Base(doc))
	}
	fmt.Fprintf(w, "Select a document [1-%d]: ", len(docs))

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no document selected")
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(docs) {
		return "", fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return docs[choice-1], nil
}

// writeOutcome prints the outcome as JSON to outputPath or stdout.
func writeOutcome(out *pipeline.Outcome, outputPath string, log zerolog.Logger) error {
	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal outcome to JSON")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	if outputPath == "" {
		if _, err := os.Stdout.Write(append(jsonData, '\n')); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(jsonData)).
		Msg("Outcome written to file")
	return nil
}

// rawResponseLimit caps how much of an unparseable model reply is printed.
const rawResponseLimit = 500

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + fmt.Sprintf("... (%d more characters)", len(r)-n)
}

// statusEmoji returns an emoji for a document status
func statusEmoji(status pipeline.Status) string {
	switch status {
	case pipeline.StatusArchived:
		return "✅"
	case pipeline.StatusAudit:
		return "⚠️"
	case pipeline.StatusQuarantined:
		return "🔍"
	case pipeline.StatusFailed:
		return "❌"
	default:
		return "❓"
	}
}
