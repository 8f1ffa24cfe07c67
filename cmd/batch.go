package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"billextract/internal/logger"
	"billextract/internal/money"
	"billextract/internal/pipeline"
	"billextract/internal/report"
	"billextract/internal/sheets"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Process every bill PDF in a folder",
	Long: `Process all bill PDFs in a folder (DOCUMENTS_DIR by default) in parallel.

Every document runs through the full pipeline independently: a failing
document is reported and left in place, the others continue. Results can be
written to an xlsx report and appended to a Google Sheets run ledger.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: 4)
  RESULTS_SHEET_URL - Google Sheet for the run ledger
  RESULTS_SHEET_NAME - Worksheet of the run ledger (default: Runs)`,
	Example: `  # Process everything in DOCUMENTS_DIR
  billextract batch

  # Process a folder with 8 workers and write an xlsx report
  billextract batch ./bills --workers 8 --report run.xlsx

  # Append the outcomes to the run ledger sheet
  billextract batch ./bills --sheet`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS)")
	batchCmd.Flags().String("report", "", "Write an xlsx report to this path")
	batchCmd.Flags().Bool("sheet", false, "Append outcomes to the RESULTS_SHEET_URL run ledger")
	batchCmd.Flags().Bool("verbose", false, "Show validation notes for every document")
	batchCmd.Flags().Int("timeout", 1800, "Batch timeout in seconds")
	batchCmd.Flags().String("debug-dir", "", "Dump intermediate results into this directory")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	folderPath := cfg.DocumentsDir
	if len(args) == 1 {
		folderPath = args[0]
	}
	workers, _ := cmd.Flags().GetInt("workers")
	reportPath, _ := cmd.Flags().GetString("report")
	toSheet, _ := cmd.Flags().GetBool("sheet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	debugDir, _ := cmd.Flags().GetString("debug-dir")

	if workers <= 0 {
		workers = cfg.BatchWorkers
	}
	if toSheet && cfg.ResultsSheetURL == "" {
		return fmt.Errorf("RESULTS_SHEET_URL is required with --sheet")
	}

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	pdfFiles, err := pipeline.FindDocuments(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find PDF files: %w", err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                         BILL BATCH PROCESSING")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Folder: %s\n", folderPath)
	fmt.Printf("Unmapped accounts: %s\n", cfg.Policy())
	fmt.Println()

	if len(pdfFiles) == 0 {
		fmt.Println("No PDF files found in folder.")
		return nil
	}

	log.Info().
		Str("folder", folderPath).
		Int("documents", len(pdfFiles)).
		Int("workers", workers).
		Msg("Starting batch processing")

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	opts := []pipeline.Option{
		pipeline.WithCompletion(func(done, total int, out *pipeline.Outcome) {
			printProgress(done, total, out, verbose)
		}),
	}
	if debugDir != "" {
		opts = append(opts, pipeline.WithDebugDir(debugDir))
	}

	var c closers
	defer c.close()

	processor, err := buildProcessor(ctx, &c, opts...)
	if err != nil {
		return fmt.Errorf("failed to set up pipeline: %s", describeError(err))
	}

	fmt.Printf("Processing %d PDFs with %d parallel workers...\n", len(pdfFiles), workers)
	fmt.Println()

	start := time.Now()
	outcomes := processor.ProcessBatch(ctx, pdfFiles, workers)
	summary := pipeline.Summarize(outcomes)

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RESULT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Archived:    %d\n", summary.Archived)
	if summary.Audit > 0 {
		fmt.Printf("Audit:       %d\n", summary.Audit)
	}
	if summary.Quarantined > 0 {
		fmt.Printf("Quarantined: %d\n", summary.Quarantined)
	}
	if summary.Failed > 0 {
		fmt.Printf("Failed:      %d\n", summary.Failed)
	}
	fmt.Printf("Billed total: %s\n", money.Format(report.TotalCents(outcomes)))
	fmt.Printf("Duration:    %s\n", time.Since(start).Round(time.Second))
	fmt.Println()

	if reportPath != "" {
		if err := report.WriteWorkbook(reportPath, outcomes); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report: %s\n", reportPath)
	}

	if toSheet {
		fmt.Println("Writing outcomes to Google Sheet...")

		creds, err := cfg.GoogleCredentialsJSON()
		if err != nil {
			return err
		}
		sheetsService, err := sheets.NewSheetsService(ctx, cfg.ResultsSheetURL, creds)
		if err != nil {
			return fmt.Errorf("failed to create Google Sheets service: %w", err)
		}
		rows := report.FromOutcomes(outcomes)
		if err := sheetsService.AppendOutcomes(ctx, rows, cfg.ResultsSheetName); err != nil {
			return fmt.Errorf("failed to write to Google Sheet: %w", err)
		}

		fmt.Printf("Sheet: %s\n", cfg.ResultsSheetName)
		fmt.Printf("Rows added: %d\n", len(rows))
		fmt.Printf("URL: %s\n", cfg.ResultsSheetURL)
	}

	fmt.Println(strings.Repeat("=", 80))

	log.Info().
		Int("total", summary.Total).
		Int("archived", summary.Archived).
		Int("audit", summary.Audit).
		Int("quarantined", summary.Quarantined).
		Int("failed", summary.Failed).
		Msg("Batch processing completed")

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Total)
	}
	return nil
}

// printProgress prints one "[done/total] file - status (detail)" line.
func printProgress(done, total int, out *pipeline.Outcome, verbose bool) {
	fmt.Printf("[%d/%d] %s - %s", done, total, filepath.Base(out.Path), statusEmoji(out.Status))

	switch {
	case out.Err != nil:
		fmt.Printf(" (%s)", describeError(out.Err))
	case out.Record != nil:
		fmt.Printf(" (%s %s", out.BillType, out.Record.Master().TotalDue)
		if out.Chunks > 0 {
			fmt.Printf(", %d locations", out.Chunks)
		}
		fmt.Print(")")
	case out.Status == pipeline.StatusQuarantined:
		fmt.Printf(" (account %q not in registry)", out.Classification.Identifier)
	}
	fmt.Println()

	if verbose && out.RawResponse != "" {
		fmt.Printf("    model response: %s\n", truncate(out.RawResponse, rawResponseLimit))
	}
	if verbose && out.Validation != nil {
		for _, e := range out.Validation.Errors {
			fmt.Printf("    error %s: %s\n", e.Field, e.Error)
		}
		for _, n := range out.Validation.Notes {
			fmt.Printf("    note  %s: %s\n", n.Field, n.Note)
		}
	}
}
