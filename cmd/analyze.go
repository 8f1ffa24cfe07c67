package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"billextract/internal/chunk"
	"billextract/internal/classify"
	"billextract/internal/logger"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [pdf-file]",
	Short: "Run document analysis only and print the text and fields",
	Long: `Analyze a bill PDF with Google Document AI (or Cloud Vision) without calling
the language model. Prints the extracted text, or with --json the full
analysis result including key fields and confidences, the account identifier
classification would use, and the number of service location markers.

Useful for checking why a document is classified or chunked the way it is.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT - Your Google Cloud project ID
  DOCUMENT_AI_PROCESSOR_ID - Your Document AI processor ID`,
	Example: `  # Print the document text
  billextract analyze bill.pdf

  # Full analysis result as JSON
  billextract analyze bill.pdf --json -o analysis.json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

// AnalyzeOutput is the JSON output of the analyze command.
type AnalyzeOutput struct {
	FileName           string             `json:"file_name"`
	Backend            string             `json:"backend"`
	PageCount          int                `json:"page_count"`
	Identifier         string             `json:"identifier"`
	LocationMarkers    int                `json:"location_markers"`
	Fields             map[string]string  `json:"fields"`
	Confidence         map[string]float32 `json:"confidence,omitempty"`
	Text               string             `json:"text"`
	ProcessedAt        time.Time          `json:"processed_at"`
	ProcessingDuration string             `json:"processing_duration"`
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	analyzeCmd.Flags().Bool("json", false, "Output as JSON")
	analyzeCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("analyze")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	pdfPath := args[0]

	if cfg.GoogleCloudProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
	}

	ctx, cancel := createContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	var c closers
	defer c.close()

	a, err := buildAnalyzer(ctx, &c)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %s", describeError(err))
	}

	log.Info().
		Str("file", pdfPath).
		Str("backend", cfg.AnalyzerBackend).
		Msg("Starting document analysis")

	startTime := time.Now()
	result, err := a.Analyze(ctx, pdfPath)
	if err != nil {
		return fmt.Errorf("%s", describeError(err))
	}

	marker, err := chunk.Compile(cfg.ChunkMarker)
	if err != nil {
		return err
	}
	markers := 0
	if seq, err := chunk.Split(result.Content, marker); err == nil {
		markers = seq.Len()
	}

	log.Info().
		Int("page_count", result.PageCount).
		Int("text_length", len(result.Content)).
		Int("fields", len(result.Fields)).
		Dur("duration", time.Since(startTime)).
		Msg("Document analysis completed")

	var data []byte
	if jsonOutput {
		data, err = json.MarshalIndent(AnalyzeOutput{
			FileName:           pdfPath,
			Backend:            result.Backend,
			PageCount:          result.PageCount,
			Identifier:         classify.CleanIdentifier(classify.FindIdentifier(result.Fields, result.Content)),
			LocationMarkers:    markers,
			Fields:             result.Fields,
			Confidence:         result.Confidence,
			Text:               result.Content,
			ProcessedAt:        time.Now(),
			ProcessingDuration: result.ProcessingDuration.String(),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		data = []byte(result.Content)
	}

	if outputPath == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().Str("output_file", outputPath).Int("bytes", len(data)).Msg("Analysis written to file")
	return nil
}
