package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"billextract/internal/analyzer"
	"billextract/internal/archive"
	"billextract/internal/billerr"
	"billextract/internal/chunk"
	"billextract/internal/classify"
	"billextract/internal/extract"
	"billextract/internal/llm"
	"billextract/internal/pipeline"
	"billextract/internal/sheets"
	"billextract/internal/validate"
)

// closers collects cleanup functions of the components built for a command.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// createContext creates a context with timeout and signal handling
func createContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// buildAnalyzer creates the configured analyzer, with Cloud Vision as a
// fallback behind Document AI when ANALYZER_FALLBACK is set.
func buildAnalyzer(ctx context.Context, c *closers) (analyzer.Analyzer, error) {
	google := cfg.GoogleConfig()
	policy := cfg.RetryPolicy()

	if cfg.AnalyzerBackend == "vision" {
		v, err := analyzer.NewVision(ctx, google)
		if err != nil {
			return nil, err
		}
		c.add(func() { _ = v.Close() })
		return analyzer.WithRetry(v, policy), nil
	}

	d, err := analyzer.NewDocumentAI(ctx, google)
	if err != nil {
		return nil, err
	}
	c.add(func() { _ = d.Close() })
	primary := analyzer.WithRetry(d, policy)

	if !cfg.AnalyzerFallback {
		return primary, nil
	}

	v, err := analyzer.NewVision(ctx, google)
	if err != nil {
		return nil, err
	}
	c.add(func() { _ = v.Close() })
	return analyzer.NewFallback(primary, analyzer.WithRetry(v, policy)), nil
}

// buildCompleter creates the model client with transient-failure retries.
func buildCompleter(ctx context.Context) (llm.Completer, error) {
	completer, err := llm.New(ctx, cfg.LLMOptions())
	if err != nil {
		return nil, err
	}
	return llm.WithRetry(completer, cfg.RetryPolicy()), nil
}

// buildRegistry creates the account registry selected by CLASSIFIER_BACKEND.
func buildRegistry(ctx context.Context, c *closers) (classify.Registry, error) {
	switch cfg.ClassifierBackend {
	case "postgres":
		r, err := classify.NewPostgresRegistry(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.add(r.Close)
		return r, nil

	case "sheets":
		creds, err := cfg.GoogleCredentialsJSON()
		if err != nil {
			return nil, err
		}
		svc, err := sheets.NewSheetsService(ctx, cfg.RegistrySheetURL, creds)
		if err != nil {
			return nil, err
		}
		return classify.LoadSheetMapping(ctx, svc, cfg.RegistrySheetRange)

	default:
		return classify.LoadMappingFile(cfg.AccountMappingFile)
	}
}

// buildMirror creates the optional object storage mirror.
func buildMirror(ctx context.Context, c *closers) (archive.ObjectStore, error) {
	switch cfg.MirrorBackend {
	case "gcs":
		var opts []option.ClientOption
		if cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentials)))
		} else if cfg.GoogleApplicationCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleApplicationCredentials))
		}
		m, err := archive.NewGCSMirror(ctx, cfg.MirrorBucket, cfg.MirrorPrefix, opts...)
		if err != nil {
			return nil, err
		}
		c.add(func() { _ = m.Close() })
		return m, nil
	case "s3":
		return archive.NewS3Mirror(ctx, cfg.S3Config())
	default:
		return nil, nil
	}
}

// buildProcessor wires every pipeline component from the configuration.
func buildProcessor(ctx context.Context, c *closers, opts ...pipeline.Option) (*pipeline.Processor, error) {
	if err := cfg.RequireServices(); err != nil {
		return nil, err
	}

	marker, err := chunk.Compile(cfg.ChunkMarker)
	if err != nil {
		return nil, err
	}
	prompts, err := extract.LoadPrompts(cfg.PromptDir)
	if err != nil {
		return nil, err
	}

	a, err := buildAnalyzer(ctx, c)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(ctx, c)
	if err != nil {
		return nil, err
	}
	completer, err := buildCompleter(ctx)
	if err != nil {
		return nil, err
	}
	mirror, err := buildMirror(ctx, c)
	if err != nil {
		return nil, err
	}

	var reviewer llm.Completer
	if cfg.ModelValidation {
		reviewer = completer
	}

	archiveOpts := cfg.ArchiveOptions()
	archiveOpts.Mirror = mirror

	opts = append([]pipeline.Option{
		pipeline.WithMarker(marker),
		pipeline.WithUnmappedPolicy(cfg.Policy()),
		pipeline.WithDebugDir(cfg.DebugDir),
	}, opts...)

	return pipeline.New(
		a,
		classify.New(registry),
		extract.New(completer, prompts, extract.Options{FormatRetries: cfg.FormatRetries, Highlight: cfg.ChunkHighlight}),
		validate.New(reviewer, prompts, cfg.FormatRetries),
		archive.New(archiveOpts),
		opts...,
	), nil
}

// describeError turns a processing failure into a message for the terminal.
func describeError(err error) string {
	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing timed out. Try increasing --timeout"
	case errors.Is(err, context.Canceled):
		return "processing was canceled"
	case errors.Is(err, billerr.ErrConfiguration):
		return fmt.Sprintf("configuration problem, check your .env file: %v", err)
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "credentials"):
		return fmt.Sprintf("Google Cloud authentication failed. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return "permission denied. Ensure the service account has the 'Document AI API User' role"
	default:
		return errStr
	}
}
