package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/logger"
)

// Fallback tries each analyzer in order until one succeeds. Input errors
// stop the chain because every backend would reject the same file.
type Fallback struct {
	analyzers []Analyzer
	log       zerolog.Logger
}

// NewFallback returns an analyzer chain. It needs at least one analyzer.
func NewFallback(analyzers ...Analyzer) *Fallback {
	return &Fallback{
		analyzers: analyzers,
		log:       logger.WithComponent("analyzer-fallback"),
	}
}

// Analyze implements Analyzer.
func (f *Fallback) Analyze(ctx context.Context, path string) (*Result, error) {
	const op = "Fallback.Analyze"

	if len(f.analyzers) == 0 {
		return nil, billerr.New(op, billerr.ErrConfiguration, "no analyzers configured")
	}

	var errs []error
	for i, a := range f.analyzers {
		result, err := a.Analyze(ctx, path)
		if err == nil {
			if i > 0 {
				f.log.Info().Int("analyzer_index", i).Str("backend", result.Backend).Msg("Fallback analyzer succeeded")
			}
			return result, nil
		}
		if errors.Is(err, billerr.ErrInput) || ctx.Err() != nil {
			return nil, err
		}

		f.log.Warn().Err(err).Int("analyzer_index", i).Msg("Analyzer failed, trying next")
		errs = append(errs, err)
	}

	joined := errors.Join(errs...)
	if billerr.IsRetryable(joined) {
		return nil, billerr.Transient(op, joined, fmt.Sprintf("all %d analyzers failed", len(f.analyzers)))
	}
	return nil, billerr.New(op, joined, fmt.Sprintf("all %d analyzers failed", len(f.analyzers)))
}
