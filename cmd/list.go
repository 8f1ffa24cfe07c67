package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"billextract/internal/classify"
	"billextract/internal/logger"
	"billextract/internal/pipeline"
)

var listCmd = &cobra.Command{
	Use:   "list [folder-path]",
	Short: "List the bill PDFs waiting in the documents folder",
	Example: `  billextract list
  billextract list ./bills`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [account-number]",
	Short: "Look up the bill type of an account in the registry",
	Long: `Look up an account number in the configured account registry
(CLASSIFIER_BACKEND: file, postgres or sheets) and print whether it is a
single-location (SLB) or multi-location (MLB) bill. The number may be given
in its printed form, e.g. 8260-1234-5678.`,
	Example: `  billextract classify 8260-1234-5678`,
	Args:    cobra.ExactArgs(1),
	RunE:    runClassify,
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(classifyCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	dir := cfg.DocumentsDir
	if len(args) == 1 {
		dir = args[0]
	}

	docs, err := pipeline.FindDocuments(dir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Printf("No PDF files found in %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDOCUMENT\tSIZE\tMODIFIED")
	for i, doc := range docs {
		info, err := os.Stat(doc)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d KB\t%s\n", i+1, filepath.Base(doc), (info.Size()+1023)/1024, info.ModTime().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d documents in %s\n", len(docs), dir)
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("classify")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var c closers
	defer c.close()

	registry, err := buildRegistry(ctx, &c)
	if err != nil {
		return fmt.Errorf("failed to load account registry: %s", describeError(err))
	}

	result, err := classify.New(registry).Classify(ctx, args[0])
	if err != nil {
		return err
	}

	log.Debug().Str("identifier", result.Identifier).Str("status", string(result.Status)).Msg("Classified account")

	if result.Status != classify.StatusOK {
		fmt.Printf("%s: not in the account registry (unmapped policy: %s)\n", result.Identifier, cfg.Policy())
		return nil
	}
	fmt.Printf("%s: %s\n", result.Identifier, result.BillType)
	return nil
}
